package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	The mesh arena: construction, wiring, and the driver loop
 *		that advances every node and the DAQ sink toward a target
 *		time.
 *
 * Description:	Nodes are addressed by (row, col) through NodeID rather than
 *		held via cyclic pointers, so the whole mesh — and the DAQ
 *		sink attached to it — lives in one arena owned by the
 *		Array, and multiple simulations can coexist in a process.
 *		The driver loop steps the master clock forward by DeltaT;
 *		within each step every node acts up to the step time and
 *		the event queue is drained to exhaustion, receives
 *		interleaved with catch-up processing at
 *		event-time ± TimeEpsilon.
 *
 *---------------------------------------------------------------*/

import (
	"math/rand"

	"github.com/charmbracelet/log"
)

// Array is one fully wired mesh simulation: its nodes, its DAQ sink, the
// shared event queue, and the routing/push/send-remote state most recently
// applied across every ASIC.
type Array struct {
	Rows, Cols int
	Nodes      [][]*ASIC
	DAQ        *DAQSink
	daqAttach  NodeID // the mesh node the DAQ's single link attaches to

	Queue *EventQueue

	TimeNow     float64
	DeltaT      float64
	TimeEpsilon float64

	RouteName       RouteName
	TrunkPos        int
	PushState       bool
	SendRemoteState bool

	Alert     bool
	Anomalies []string

	Rand *rand.Rand

	TotalInjectedHits int

	// RunMeta is whatever physics metadata the injected tile carried; it
	// passes through to the result record untouched.
	RunMeta RunMetadata

	// procList is the subset of nodes worth asking to act at the top of a
	// DeltaT step. Narrowing it is purely a throughput optimization; every
	// node still participates in the catch-up passes around deliveries.
	procList []*ASIC

	loggers loggers
	metrics *metrics
}

// ArrayOptions configures NewArray.
type ArrayOptions struct {
	Rows, Cols   int
	FreqHz       float64
	FreqSigmaPct float64 // Gaussian spread of each ASIC's oscillator, as a fraction of FreqHz
	Timeout      int
	PushTimeout  int
	Route        RouteName
	TrunkPos     int
	Seed         int64
	DeltaT       float64
	TimeEpsilon  float64
	LogLevel     log.Level
}

const (
	defaultDeltaT      = 1e-5
	defaultTimeEpsilon = 1e-6
)

// NewArray builds and wires a Rows x Cols mesh per opts, drawing each
// ASIC's oscillator frequency Gaussian around the nominal and attaching
// the DAQ sink to whichever row-0 node the chosen routing points off-grid:
// (0, 0) for left/snake, (0, TrunkPos) for trunk. The DAQ
// itself runs at the nominal frequency with zero phase.
func NewArray(opts ArrayOptions) (*Array, error) {
	routeFn, err := ResolveRouting(opts.Route, opts.TrunkPos, opts.Rows, opts.Cols)
	if err != nil {
		return nil, err
	}

	if opts.DeltaT <= 0 {
		opts.DeltaT = defaultDeltaT
	}
	if opts.TimeEpsilon <= 0 {
		opts.TimeEpsilon = defaultTimeEpsilon
	}

	manual := opts.Route == RouteTrunk
	daqCol := 0
	if opts.Route == RouteTrunk {
		daqCol = opts.TrunkPos
	}

	arr := &Array{
		Rows:            opts.Rows,
		Cols:            opts.Cols,
		Queue:           NewEventQueue(),
		DeltaT:          opts.DeltaT,
		TimeEpsilon:     opts.TimeEpsilon,
		RouteName:       opts.Route,
		TrunkPos:        opts.TrunkPos,
		SendRemoteState: true,
		Rand:            rand.New(rand.NewSource(opts.Seed)),
		loggers:         newLoggers(nil, opts.LogLevel),
		daqAttach:       NodeID{Row: 0, Col: daqCol},
	}
	arr.metrics = newMetrics()

	arr.Nodes = make([][]*ASIC, opts.Rows)
	for r := 0; r < opts.Rows; r++ {
		arr.Nodes[r] = make([]*ASIC, opts.Cols)
		for c := 0; c < opts.Cols; c++ {
			dir := routeFn(r, c)
			cfg := DefaultConfig(dir, opts.Timeout, opts.PushTimeout)
			cfg.ManualRoute = manual
			freq := opts.FreqHz
			if opts.FreqSigmaPct > 0 {
				freq = opts.FreqHz + arr.Rand.NormFloat64()*opts.FreqHz*opts.FreqSigmaPct
			}
			phase := arr.Rand.Float64()
			arr.Nodes[r][c] = NewASIC(r, c, freq, phase, cfg)
			arr.Nodes[r][c].onAnomaly = arr.recordAnomaly
		}
	}

	arr.wireLinks()

	daqNode := arr.Nodes[arr.daqAttach.Row][arr.daqAttach.Col]
	arr.DAQ = NewDAQSink(1.0/opts.FreqHz, 0)
	daqNode.Links[daqNode.Config.DirMask] = Link{Connected: true, To: NodeID{IsDAQ: true}}
	arr.DAQ.Link = Link{Connected: true, To: arr.daqAttach}

	return arr, nil
}

func (arr *Array) recordAnomaly(row, col int, msg string) {
	arr.Alert = true
	arr.Anomalies = append(arr.Anomalies, msg)
	arr.loggers.sim.Warn("anomaly", "row", row, "col", col, "msg", msg)
	arr.metrics.anomalies.Inc()
}

// wireLinks connects every ASIC to its N/E/S/W grid neighbor, leaving edge
// links Connected=false. The node the DAQ attaches to gets that one link
// overwritten afterward in NewArray.
func (arr *Array) wireLinks() {
	deltas := [4]struct{ dr, dc int }{
		North: {-1, 0},
		East:  {0, 1},
		South: {1, 0},
		West:  {0, -1},
	}
	for r := 0; r < arr.Rows; r++ {
		for c := 0; c < arr.Cols; c++ {
			node := arr.Nodes[r][c]
			for dir := North; dir <= West; dir++ {
				nr, nc := r+deltas[dir].dr, c+deltas[dir].dc
				if nr < 0 || nr >= arr.Rows || nc < 0 || nc >= arr.Cols {
					continue
				}
				node.Links[dir] = Link{Connected: true, To: NodeID{Row: nr, Col: nc}}
			}
		}
	}
}

func (arr *Array) node(id NodeID) *ASIC {
	if id.IsDAQ {
		return nil
	}
	return arr.Nodes[id.Row][id.Col]
}

// daqLinkDir locates the one link on the attached node that references the
// DAQ sink. Exactly one such link exists on exactly one mesh ASIC; its
// absence means the wiring invariant has been broken.
func (arr *Array) daqLinkDir() Direction {
	node := arr.Nodes[arr.daqAttach.Row][arr.daqAttach.Col]
	for dir := North; dir <= West; dir++ {
		if node.Links[dir].Connected && node.Links[dir].To.IsDAQ {
			return dir
		}
	}
	panic(&ProgrammerError{Row: arr.daqAttach.Row, Col: arr.daqAttach.Col, Msg: "DAQ attachment link missing"})
}

func (arr *Array) deliver(ev Event) {
	if ev.Target.IsDAQ {
		arr.DAQ.Receive(ev)
		return
	}
	target := arr.node(ev.Target)
	out := target.Receive(ev)
	for _, next := range out {
		arr.Queue.Insert(next)
	}
	arr.metrics.queueDepth.Set(float64(arr.Queue.Len()))
}

// processArray asks every node to act up to nextTime, feeding whatever
// events that produces back into the queue, and repeats until a full pass
// produces nothing new.
func (arr *Array) processArray(nextTime float64) {
	for {
		somethingToDo := false
		for r := 0; r < arr.Rows; r++ {
			for c := 0; c < arr.Cols; c++ {
				events := arr.Nodes[r][c].Process(nextTime)
				for _, ev := range events {
					somethingToDo = true
					arr.Queue.Insert(ev)
				}
			}
		}
		if !somethingToDo {
			return
		}
	}
}

// narrowProcList recomputes which nodes the top-of-step pass needs to
// visit: anything not in IDLE, anything with a non-empty remote FIFO and
// send-remote enabled, and — in push mode — anything with injected hits or
// local bytes still pending. Purely a throughput optimization.
func (arr *Array) narrowProcList() {
	arr.procList = arr.procList[:0]
	for r := 0; r < arr.Rows; r++ {
		for c := 0; c < arr.Cols; c++ {
			node := arr.Nodes[r][c]
			eligible := node.State != Idle ||
				(node.Config.SendRemote && node.Remote.Len() > 0) ||
				(node.Config.PushEnable && (len(node.PendingHits) > 0 || node.Local.Len() > 0))
			if eligible {
				arr.procList = append(arr.procList, node)
			}
		}
	}
}

// run is the main driver loop: step the master clock forward by
// DeltaT; in each step let the eligible nodes act just shy of the current
// clock, then drain the event queue to exhaustion, catching every node up
// to each delivery time as it happens.
func (arr *Array) run(target float64) {
	arr.procList = arr.procList[:0]
	for r := 0; r < arr.Rows; r++ {
		for c := 0; c < arr.Cols; c++ {
			arr.procList = append(arr.procList, arr.Nodes[r][c])
		}
	}

	for arr.TimeNow < target {
		dT := arr.TimeNow - arr.TimeEpsilon
		for _, node := range arr.procList {
			wasIdle := node.State == Idle
			events := node.Process(dT)
			if len(events) > 0 {
				// A node still mid-cascade, or transmitting on its own in
				// push mode, is expected to emit at a step boundary. A node
				// that was sitting in IDLE outside push mode is not: data
				// surfacing there means the previous cascade never settled.
				if wasIdle && !node.Config.PushEnable {
					arr.Alert = true
				}
				for _, ev := range events {
					arr.Queue.Insert(ev)
				}
			}
		}

		for arr.Queue.Len() > 0 {
			ev, _ := arr.Queue.Pop()
			arr.processArray(ev.Time - arr.TimeEpsilon)
			arr.deliver(ev)
			arr.processArray(ev.Time)

			if arr.Queue.Len() == 0 {
				arr.narrowProcList()
			}
		}

		arr.TimeNow += arr.DeltaT
	}
}

// Interrogate issues a broadcast REGREQ from the DAQ sink to the attached
// node at the current time, then drives the mesh forward by interval —
// long enough, in any sane configuration, for the full readout cascade to
// complete. hard forces every ASIC through TRANSMIT_LOCAL even
// with nothing pending.
func (arr *Array) Interrogate(interval float64, hard bool) {
	arr.Alert = false
	b, _, cmd := NewInterrogate(hard)
	arr.Queue.Insert(Event{Target: arr.daqAttach, FromDir: arr.daqLinkDir(), Byte: b, Time: arr.TimeNow, Command: cmd})
	arr.run(arr.TimeNow + interval)
}

// IdleFor advances the whole mesh by interval without injecting any
// traffic: push-mode ASICs transmit whatever comes due, everything else
// just runs its clock forward.
func (arr *Array) IdleFor(interval float64) {
	arr.run(arr.TimeNow + interval)
}

// SetPushState toggles PushEnable on every ASIC in the mesh.
// transact writes each node's change through an addressed REGREQ via
// WriteRegister (see its doc comment for why only the DAQ-attached node's
// write actually lands); otherwise it is applied directly. A pushed ASIC
// is expected to also be in the send-remote state, so SendRemote follows.
func (arr *Array) SetPushState(on bool, transact bool) {
	arr.PushState = on
	for r := range arr.Nodes {
		for c, node := range arr.Nodes[r] {
			cfg := node.Config
			cfg.PushEnable = on
			if transact {
				arr.WriteRegister(r, c, cfg)
			} else {
				node.Config = cfg
			}
		}
	}
	arr.SetSendRemote(on, transact)
}

// SetSendRemote toggles SendRemote on every ASIC. transact has
// the same meaning as in SetPushState.
func (arr *Array) SetSendRemote(on bool, transact bool) {
	arr.SendRemoteState = on
	for r := range arr.Nodes {
		for c, node := range arr.Nodes[r] {
			cfg := node.Config
			cfg.SendRemote = on
			if transact {
				arr.WriteRegister(r, c, cfg)
			} else {
				node.Config = cfg
			}
		}
	}
}

// writeRegisterWindow is how far the array runs forward after issuing an
// addressed register write.
const writeRegisterWindow = 1e-3

// WriteRegister transacts a configuration write to (row, col) through an
// addressed REGREQ. An addressed REGREQ is never re-forwarded hop by hop
// the way a broadcast is, so the write only takes effect when (row, col)
// is the node directly attached to the DAQ.
func (arr *Array) WriteRegister(row, col int, cfg Config) {
	b, _ := NewRegisterWrite(row, col, cfg)
	arr.injectFromDAQ(b)
}

// Configure writes cfg directly to (row, col), bypassing the REGREQ
// transaction entirely. Intended for initial setup and for tests that
// need a node configured without spending simulated time.
func (arr *Array) Configure(row, col int, cfg Config) {
	arr.Nodes[row][col].Config = cfg
}

// Route re-applies a named topology across every ASIC. transact
// issues each node's new configuration as an addressed REGREQ through
// Array.WriteRegister; non-transact applies it directly via Array.Configure.
// trunk relocates the DAQ sink itself and so can only ever be applied
// directly; requesting it with transact=true is an input error, reported
// before any simulation step runs.
func (arr *Array) Route(name RouteName, timeout int, transact bool, pos int) error {
	if name == RouteTrunk {
		if transact {
			return &InputError{Msg: "trunk routing relocates the DAQ sink and cannot be transacted"}
		}
		return arr.relocateTrunk(pos, timeout)
	}

	routeFn, err := ResolveRouting(name, pos, arr.Rows, arr.Cols)
	if err != nil {
		return err
	}

	for r := 0; r < arr.Rows; r++ {
		for c := 0; c < arr.Cols; c++ {
			cfg := arr.Nodes[r][c].Config
			cfg.DirMask = routeFn(r, c)
			cfg.Timeout = timeout
			cfg.ManualRoute = true
			if transact {
				arr.WriteRegister(r, c, cfg)
			} else {
				arr.Configure(r, c, cfg)
			}
		}
	}
	arr.RouteName = name
	arr.loggers.route.Info("routing applied", "route", name, "transact", transact)
	return nil
}

// relocateTrunk rewires every ASIC's DirMask for the trunk topology and
// moves the DAQ sink's single attachment point to (0, pos)'s North link,
// detaching it from wherever it was previously attached.
func (arr *Array) relocateTrunk(pos, timeout int) error {
	// The trunk column needs at least one column east of it; the last
	// column can never host the DAQ sink.
	if pos < 0 || pos >= arr.Cols-1 {
		return &InputError{Msg: "trunk routing position out of range"}
	}

	oldNode := arr.Nodes[arr.daqAttach.Row][arr.daqAttach.Col]
	for dir := North; dir <= West; dir++ {
		if oldNode.Links[dir].Connected && oldNode.Links[dir].To.IsDAQ {
			oldNode.Links[dir] = Link{}
			break
		}
	}

	for r := 0; r < arr.Rows; r++ {
		for c := 0; c < arr.Cols; c++ {
			cfg := arr.Nodes[r][c].Config
			cfg.DirMask = trunkRouting(r, c, pos)
			cfg.Timeout = timeout
			cfg.ManualRoute = true
			arr.Nodes[r][c].Config = cfg
		}
	}

	newAttach := NodeID{Row: 0, Col: pos}
	newNode := arr.Nodes[0][pos]
	newNode.Links[North] = Link{Connected: true, To: NodeID{IsDAQ: true}}
	arr.daqAttach = newAttach
	arr.DAQ.Link = Link{Connected: true, To: newAttach}
	arr.TrunkPos = pos
	arr.RouteName = RouteTrunk
	arr.loggers.route.Info("trunk routing applied", "pos", pos)
	return nil
}

func (arr *Array) injectFromDAQ(b Byte) {
	arr.Queue.Insert(Event{Target: arr.daqAttach, FromDir: arr.daqLinkDir(), Byte: b, Time: arr.TimeNow, Command: CommandNone})
	arr.run(arr.TimeNow + writeRegisterWindow)
}

// InjectHits delivers a tile's worth of (row, col, time, channels) hits to
// their respective ASICs' pending-hit stores.
func (arr *Array) InjectHits(row, col int, times []float64, channels [][]int) error {
	if err := arr.Nodes[row][col].InjectHits(times, channels); err != nil {
		return err
	}
	arr.TotalInjectedHits += len(times)
	return nil
}
