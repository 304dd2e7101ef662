package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	The DAQ aggregator: the distinguished sink every topology
 *		ultimately routes into, and the one node that originates
 *		REGREQ traffic.
 *
 * Description:	Unlike a mesh ASIC, the DAQ node has no clock phase of its
 *		own and only one outbound link, toward whichever ASIC the
 *		chosen routing attaches to it. Every byte it receives
 *		is stamped with the DAQ's own tick count (derived from the
 *		mesh's nominal period, since the DAQ has no oscillator) and
 *		appended to the DAQFIFO for later inspection.
 *
 *---------------------------------------------------------------*/

import "github.com/rs/xid"

// DAQSink is the mesh's single aggregation point. It owns the DAQFIFO that
// accumulates every byte delivered to it and issues REGREQ broadcasts and
// addressed register writes on the Array's behalf.
type DAQSink struct {
	Link Link

	FIFO *DAQFIFO

	period     float64
	startPhase float64
}

// NewDAQSink builds a sink whose tick accounting is driven off the supplied
// period/start-phase — the mesh's nominal clock, since the sink carries no
// oscillator of its own.
func NewDAQSink(period, startPhase float64) *DAQSink {
	return &DAQSink{FIFO: NewDAQFIFO(), period: period, startPhase: startPhase}
}

func (d *DAQSink) calcTicks(absTime float64) uint32 {
	if d.period <= 0 {
		return 0
	}
	return calcTicksRaw(absTime, d.startPhase, d.period)
}

// Receive wraps an arriving byte with the DAQ's own tick and the byte's
// origin, then appends it to the DAQFIFO.
func (d *DAQSink) Receive(ev Event) {
	b := ev.Byte
	entry := DAQEntry{
		WordType:       b.WordType,
		DAQTick:        d.calcTicks(ev.Time),
		SourceTick:     b.Timestamp,
		SourceWallTime: ev.Time,
		ChannelMask:    b.ChannelMask,
	}
	if b.OriginRow != nil {
		entry.SourceRow = *b.OriginRow
	}
	if b.OriginCol != nil {
		entry.SourceCol = *b.OriginCol
	}
	d.FIFO.Write(entry)
}

// NewInterrogate builds the broadcast REGREQ the DAQ issues to ask every
// ASIC to pull its injected hits due by the receive time into its local
// FIFO and drain that FIFO. hard forces
// every ASIC through TRANSMIT_LOCAL even if it currently holds nothing.
func NewInterrogate(hard bool) (Byte, xid.ID, Command) {
	id := xid.New()
	cmd := CommandInterrogate
	if hard {
		cmd = CommandHardInterrogate
	}
	b := NewRegReqByte(id, true, 0, 0, false, false, Config{})
	return b, id, cmd
}

// NewRegisterWrite builds an addressed (non-broadcast) REGREQ that installs
// cfg at (row, col). An addressed REGREQ only takes effect at the node
// directly attached to the DAQ: it is never re-forwarded hop by hop the
// way a broadcast is.
func NewRegisterWrite(row, col int, cfg Config) (Byte, xid.ID) {
	id := xid.New()
	b := NewRegReqByte(id, false, row, col, false, true, cfg)
	return b, id
}

// NewRegisterRead builds an addressed REGREQ that asks (row, col) to report
// its current configuration back as a REGRESP.
func NewRegisterRead(row, col int) (Byte, xid.ID) {
	id := xid.New()
	b := NewRegReqByte(id, false, row, col, true, false, Config{})
	return b, id
}
