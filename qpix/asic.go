package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	Per-ASIC routing FSM: clock phase, FIFOs, neighbor links,
 *		injected-hit store, and the routing state machine of
 *		QpixRoute.vhd.
 *
 * Description:	process() performs exactly one action dictated by the
 *		node's current state and never loops over states itself —
 *		except that a state entered via an IDLE-time transition is
 *		acted upon immediately within the same call (IDLE ->
 *		TRANSMIT_LOCAL falls straight through into the
 *		transmit-local action rather than waiting for the next
 *		process() call).
 *
 *---------------------------------------------------------------*/

import (
	"math"
	"sort"

	"github.com/rs/xid"
)

// Hit is one (time, channel mask) entry in an ASIC's injected-hit store,
// already coalesced per-tick by InjectHits.
type Hit struct {
	Time        float64
	ChannelMask uint16
}

// ASIC is one mesh node: its clock, FIFOs, neighbor links, and FSM state.
type ASIC struct {
	Row, Col int

	FreqHz     float64
	Period     float64
	StartPhase float64

	AbsTime float64
	RelTick uint32

	Local  *FIFO
	Remote *FIFO

	Links [4]Link

	LastReqID    xid.ID
	hasLastReqID bool

	State   State
	History []Transition

	PendingHits []Hit

	Config       Config
	TimeoutStart float64

	IntReqID   xid.ID
	IntTick    uint32
	intPending bool

	// LocalDwellTicks accumulates, per write, how long a byte sat in the
	// local FIFO before being drained. A push-mode diagnostic.
	localWriteTimes []float64
	LocalDwellTicks uint64

	onAnomaly func(row, col int, msg string)
}

// NewASIC builds a node at (row, col) with the given oscillator frequency,
// a random start phase in [-period/2, +period/2), and the supplied initial
// configuration.
func NewASIC(row, col int, freqHz float64, startPhaseFrac float64, cfg Config) *ASIC {
	period := 1.0 / freqHz
	startPhase := (startPhaseFrac - 0.5) * period
	a := &ASIC{
		Row:          row,
		Col:          col,
		FreqHz:       freqHz,
		Period:       period,
		StartPhase:   startPhase,
		AbsTime:      startPhase,
		Local:        NewFIFO(asicFIFODepth),
		Remote:       NewFIFO(asicFIFODepth),
		State:        Idle,
		Config:       cfg,
		TimeoutStart: startPhase,
	}
	a.RelTick = a.calcTicks(a.AbsTime)
	a.History = append(a.History, Transition{State: a.State, RelTime: a.relTime(), AbsTime: a.AbsTime})
	return a
}

func (a *ASIC) relTime() float64 {
	return float64(a.RelTick)*a.Period + a.StartPhase
}

// calcTicks is rel_tick = floor((abs_time - start_phase)/period) + 1.
func (a *ASIC) calcTicks(absTime float64) uint32 {
	return calcTicksRaw(absTime, a.StartPhase, a.Period)
}

// calcTicksRaw is the tick-conversion formula shared by every clocked
// entity in the mesh, including the DAQ sink which has no FSM of its own.
func calcTicksRaw(absTime, startPhase, period float64) uint32 {
	cycles := int64(math.Floor((absTime-startPhase)/period)) + 1
	if cycles < 0 {
		cycles = 0
	}
	return uint32(cycles)
}

func (a *ASIC) warn(msg string) {
	if a.onAnomaly != nil {
		a.onAnomaly(a.Row, a.Col, msg)
	}
}

// changeState implements the timeout-latching rule of REP_REMOTE_S: the
// dwell clock for TRANSMIT_REMOTE only resets on entry from FINISH or IDLE
// with SendRemote disabled. Looping back into TRANSMIT_REMOTE from
// TRANSMIT_REMOTE itself (FIFO refilled mid-dwell) must never reset it.
func (a *ASIC) changeState(newState State) {
	if newState == TransmitRemote && (a.State == Finish || a.State == Idle) {
		if !a.Config.SendRemote {
			a.TimeoutStart = a.relTime()
		}
	}
	if a.State != newState {
		a.State = newState
		a.History = append(a.History, Transition{State: newState, RelTime: a.relTime(), AbsTime: a.AbsTime})
	}
}

// advanceAbsTime moves the node's clock forward, never backward, pulling
// in any now-due injected hits along the way when push mode is enabled.
func (a *ASIC) advanceAbsTime(t float64) {
	if a.Config.PushEnable {
		a.readHits(t)
	}
	if t > a.AbsTime {
		a.AbsTime = t
		a.RelTick = a.calcTicks(a.AbsTime)
	}
}

// updateLink marks a link busy and returns the actual completion time.
// When the tx side is still busy, the completion time is pushed to the
// busy-until time plus the transfer time plus one period.
func (a *ASIC) updateLink(dir Direction, targetAbsTime, transferTime float64, isTx bool) float64 {
	link := &a.Links[dir]
	sendT := targetAbsTime
	if isTx {
		if link.TxBusyUntil > targetAbsTime-transferTime {
			sendT = link.TxBusyUntil + transferTime + a.Period
		}
		link.TxBusyUntil = sendT
	} else {
		if link.RxBusyUntil > targetAbsTime {
			a.warn("receive on busy rx link")
		}
		link.RxBusyUntil = targetAbsTime
	}
	a.advanceAbsTime(sendT)
	return sendT
}

// sendOut schedules b for transmission out dir, starting at atTime, and
// returns the actual completion time after link contention.
func (a *ASIC) sendOut(dir Direction, b Byte, atTime float64) float64 {
	transferTime := float64(b.TransferTicks) * a.Period
	return a.updateLink(dir, atTime+transferTime, transferTime, true)
}

func (a *ASIC) outEvent(dir Direction, b Byte, sendT float64, cmd Command) Event {
	if !a.Links[dir].Connected {
		panic(&ProgrammerError{Row: a.Row, Col: a.Col, Msg: "send toward non-existent neighbor " + dir.String()})
	}
	return Event{Target: a.Links[dir].To, FromDir: dir.Opposite(), Byte: b, Time: sendT, Command: cmd}
}

// Process performs the FSM action dictated by the node's current state.
// It returns zero or more outbound events.
func (a *ASIC) Process(target float64) []Event {
	if a.AbsTime >= target {
		return nil
	}

	if a.State == Idle {
		switch {
		case a.Config.PushEnable && a.Local.Len() > 0:
			a.changeState(TransmitLocal)
		case a.Config.SendRemote && a.Remote.Len() > 0:
			a.changeState(TransmitRemote)
		default:
			a.advanceAbsTime(target)
			return nil
		}
	}

	switch a.State {
	case TransmitLocal:
		return a.processTransmitLocal(target)
	case Finish:
		return a.processFinish()
	case TransmitRemote:
		return a.processTransmitRemote(target)
	case TransmitReg:
		return a.processTransmitReg()
	default:
		panic(&ProgrammerError{Row: a.Row, Col: a.Col, Msg: "process() reached undefined state " + a.State.String()})
	}
}

func (a *ASIC) processTransmitLocal(target float64) []Event {
	var out []Event
	for a.AbsTime < target && a.Local.Len() > 0 {
		b, _ := a.Local.Read()
		if len(a.localWriteTimes) > 0 {
			wroteAt := a.localWriteTimes[0]
			a.localWriteTimes = a.localWriteTimes[1:]
			if a.AbsTime > wroteAt {
				a.LocalDwellTicks += uint64(a.calcTicks(a.AbsTime) - a.calcTicks(wroteAt))
			}
		}
		dir := a.Config.DirMask
		sendT := a.sendOut(dir, b, a.AbsTime)
		out = append(out, a.outEvent(dir, b, sendT, CommandNone))
	}
	if a.Local.Len() == 0 {
		// Only an interrogate-triggered drain closes with an EVTEND; a
		// push-mode drain has no request to answer and returns to IDLE.
		if a.intPending {
			a.changeState(Finish)
		} else {
			a.changeState(Idle)
		}
	}
	return out
}

func (a *ASIC) processFinish() []Event {
	b := NewEvtEndByte(a.Row, a.Col, a.IntTick, a.IntReqID)
	dir := a.Config.DirMask
	sendT := a.sendOut(dir, b, a.AbsTime)
	a.intPending = false
	a.changeState(TransmitRemote)
	return []Event{a.outEvent(dir, b, sendT, CommandNone)}
}

func (a *ASIC) timedOut() bool {
	if a.Config.SendRemote {
		return a.Remote.Len() == 0
	}
	return a.relTime()-a.TimeoutStart > float64(a.Config.Timeout)*a.Period
}

func (a *ASIC) processTransmitRemote(target float64) []Event {
	if a.timedOut() {
		a.changeState(Idle)
		a.advanceAbsTime(target)
		return nil
	}

	if a.Remote.Len() == 0 {
		deadline := a.TimeoutStart + float64(a.Config.Timeout)*a.Period
		if target > deadline {
			a.advanceAbsTime(deadline)
			a.changeState(Idle)
			if a.Config.SendRemote {
				panic(&ProgrammerError{Row: a.Row, Col: a.Col, Msg: "remote dwell timed out while SendRemote is set"})
			}
		} else {
			a.advanceAbsTime(target)
		}
		return nil
	}

	var out []Event
	for a.Remote.Len() > 0 && !a.timedOut() && a.AbsTime < target {
		b, _ := a.Remote.Read()
		dir := a.Config.DirMask
		sendT := a.sendOut(dir, b, a.AbsTime)
		out = append(out, a.outEvent(dir, b, sendT, CommandNone))
	}

	if a.timedOut() {
		a.changeState(Idle)
	} else {
		a.changeState(TransmitRemote)
	}
	return out
}

func (a *ASIC) processTransmitReg() []Event {
	b, ok := a.Remote.Read()
	if !ok {
		a.changeState(Idle)
		return nil
	}
	dir := a.Config.DirMask
	sendT := a.sendOut(dir, b, a.AbsTime)
	a.changeState(Idle)
	return []Event{a.outEvent(dir, b, sendT, CommandNone)}
}

// Receive is the FSM's transition function for an arriving byte,
// modeling the receive path of QpixParser.vhd.
func (a *ASIC) Receive(ev Event) []Event {
	if !a.Links[ev.FromDir].Connected {
		a.warn("receiving from non-existent connection " + ev.FromDir.String())
		return nil
	}

	b := ev.Byte
	if b.WordType != RegReq {
		a.Remote.Write(b)
		a.updateLink(ev.FromDir, ev.Time, 0, false)
		return nil
	}

	if a.hasLastReqID && a.LastReqID == b.ReqID {
		return nil // loop prevention: already seen this request-id
	}
	a.LastReqID = b.ReqID
	a.hasLastReqID = true

	if !a.Config.ManualRoute {
		a.Config.DirMask = ev.FromDir
	}

	var out []Event
	if b.Broadcast {
		out = a.broadcast(ev)
	}

	toThisASIC := !b.Broadcast && b.DestRow == a.Row && b.DestCol == a.Col
	if toThisASIC || b.Broadcast {
		switch {
		case b.OpWrite:
			a.Config = b.Config
		case b.OpRead:
			resp := NewRegRespByte(a.Row, a.Col, a.Config)
			a.Remote.Write(resp)
			a.changeState(TransmitReg)
		default:
			if ev.Command == CommandInterrogate || ev.Command == CommandHardInterrogate {
				a.readHits(ev.Time)
				a.IntReqID = b.ReqID
				a.IntTick = a.calcTicks(ev.Time)
				if a.Local.Len() > 0 || ev.Command == CommandHardInterrogate {
					a.intPending = true
					a.changeState(TransmitLocal)
				}
			} else if a.Local.Len() > 0 {
				a.changeState(TransmitLocal)
			}
		}
	}

	a.updateLink(ev.FromDir, ev.Time, 0, false)
	return out
}

// broadcast immediately re-transmits a broadcast REGREQ out of every
// connected neighbor other than the one it arrived from, scheduling each
// send to complete relative to the event's own time. Ordering is
// monotonic per outbound direction, with no cross-direction sync.
func (a *ASIC) broadcast(ev Event) []Event {
	var out []Event
	for dir := North; dir <= West; dir++ {
		if dir == ev.FromDir || !a.Links[dir].Connected {
			continue
		}
		sendT := a.sendOut(dir, ev.Byte, ev.Time)
		out = append(out, a.outEvent(dir, ev.Byte, sendT, ev.Command))
	}
	return out
}

// readHits pulls every pending hit at or before target into the local
// FIFO as an individual DATA byte, for the "Interrogate" pull and the
// push-mode pull in advanceAbsTime.
func (a *ASIC) readHits(target float64) {
	if len(a.PendingHits) == 0 || target < a.PendingHits[0].Time {
		return
	}
	i := 0
	for i < len(a.PendingHits) && a.PendingHits[i].Time <= target {
		i++
	}
	for _, h := range a.PendingHits[:i] {
		tick := a.calcTicks(h.Time)
		a.Local.Write(NewDataByte(a.Row, a.Col, tick, h.ChannelMask))
		a.localWriteTimes = append(a.localWriteTimes, h.Time)
	}
	a.PendingHits = a.PendingHits[i:]
}

// maxCoalesceIterations bounds the channel-coalescing loop in InjectHits,
// which re-scans until a pass changes nothing; the cap turns a
// non-converging schedule into a ProgrammerError instead of a hang.
const maxCoalesceIterations = 10000

// InjectHits merges times/channels into this ASIC's pending
// hit store, coalescing any two hits that land on the same source-clock
// tick. If they share no channel, they merge into one hit. If they share
// at least one channel, the union stays at the earlier tick and the
// intersection is bumped one period later, repeating until no collisions
// remain.
func (a *ASIC) InjectHits(times []float64, channels [][]int) error {
	if len(times) == 0 {
		return nil
	}
	if len(channels) != len(times) {
		return &ProgrammerError{Row: a.Row, Col: a.Col, Msg: "InjectHits: times and channels length mismatch"}
	}

	entries := make([]Hit, 0, len(a.PendingHits)+len(times))
	entries = append(entries, a.PendingHits...)
	for i, t := range times {
		var mask uint16
		for _, ch := range channels[i] {
			mask |= 1 << uint(ch)
		}
		entries = append(entries, Hit{Time: t, ChannelMask: mask})
	}
	sortHits(entries)

	for iter := 0; ; iter++ {
		if iter > maxCoalesceIterations {
			return &ProgrammerError{Row: a.Row, Col: a.Col, Msg: "InjectHits: coalescing did not converge"}
		}
		changed := false
		for i := 1; i < len(entries); i++ {
			if a.calcTicks(entries[i].Time) != a.calcTicks(entries[i-1].Time) {
				continue
			}
			shared := entries[i-1].ChannelMask & entries[i].ChannelMask
			if shared == 0 {
				entries[i-1].ChannelMask |= entries[i].ChannelMask
				entries = append(entries[:i], entries[i+1:]...)
			} else {
				union := entries[i-1].ChannelMask | entries[i].ChannelMask
				entries[i-1].ChannelMask = union
				entries[i].ChannelMask = shared
				entries[i].Time += a.Period
			}
			changed = true
			sortHits(entries)
			break
		}
		if !changed {
			break
		}
	}

	a.PendingHits = entries
	return nil
}

// InjectHitIndices is the single-channel-per-hit form of InjectHits: each
// hit lights exactly one channel index.
func (a *ASIC) InjectHitIndices(times []float64, channels []int) error {
	lists := make([][]int, len(channels))
	for i, ch := range channels {
		lists[i] = []int{ch}
	}
	return a.InjectHits(times, lists)
}

func sortHits(h []Hit) {
	sort.SliceStable(h, func(i, j int) bool { return h[i].Time < h[j].Time })
}
