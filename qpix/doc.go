/*------------------------------------------------------------------
 *
 * Purpose:	Discrete-event simulator core for a mesh of Q-Pix style
 *		front-end readout ASICs feeding a single DAQ aggregator.
 *
 * Description:	Package qpix models four tightly coupled pieces: the
 *		per-ASIC routing FSM (asic.go), the local/remote FIFO pair
 *		(fifo.go), the time-ordered event queue that drives the
 *		whole mesh forward (eventqueue.go), and the Array
 *		controller that builds the mesh, picks a routing topology,
 *		and walks everything forward to a target simulated time
 *		(array.go).
 *
 *---------------------------------------------------------------*/

package qpix
