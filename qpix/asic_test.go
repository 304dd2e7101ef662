package qpix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestASIC() *ASIC {
	cfg := DefaultConfig(West, 1000, 0)
	return NewASIC(0, 0, 50_000_000, 0.5, cfg)
}

func TestNewASIC_StartsIdleWithOneHistoryEntry(t *testing.T) {
	a := newTestASIC()
	assert.Equal(t, Idle, a.State)
	assert.Len(t, a.History, 1)
}

func TestChangeState_RecordsTransitionOnlyWhenStateDiffers(t *testing.T) {
	a := newTestASIC()
	a.changeState(Idle)
	assert.Len(t, a.History, 1)

	a.changeState(TransmitLocal)
	assert.Len(t, a.History, 2)
}

func TestChangeState_LatchesTimeoutOnlyFromFinishOrIdle(t *testing.T) {
	a := newTestASIC()
	a.Config.SendRemote = false

	a.changeState(TransmitRemote)
	latched := a.TimeoutStart

	a.advanceAbsTime(a.AbsTime + a.Period*10)
	a.changeState(TransmitRemote) // re-entering from TransmitRemote itself
	assert.Equal(t, latched, a.TimeoutStart)
}

func TestInjectHits_NonOverlappingChannelsOnSameTickMerge(t *testing.T) {
	a := newTestASIC()
	tick0 := a.StartPhase + a.Period/2

	err := a.InjectHits([]float64{tick0, tick0}, [][]int{{3}, {7}})
	assert.NoError(t, err)
	assert.Len(t, a.PendingHits, 1)
	assert.Equal(t, uint16(1<<3|1<<7), a.PendingHits[0].ChannelMask)
}

func TestInjectHits_OverlappingChannelsSplitUnionAndIntersection(t *testing.T) {
	a := newTestASIC()
	tick0 := a.StartPhase + a.Period/2

	err := a.InjectHits([]float64{tick0, tick0}, [][]int{{3}, {3, 7}})
	assert.NoError(t, err)
	assert.Len(t, a.PendingHits, 2)

	assert.Equal(t, uint16(1<<3|1<<7), a.PendingHits[0].ChannelMask)
	assert.Equal(t, uint16(1<<3), a.PendingHits[1].ChannelMask)
	assert.InDelta(t, tick0+a.Period, a.PendingHits[1].Time, 1e-12)
}

func TestReadHits_DrainsDueHitsIntoLocalFIFO(t *testing.T) {
	a := newTestASIC()
	due := a.StartPhase + a.Period/2
	assert.NoError(t, a.InjectHits([]float64{due}, [][]int{{1}}))

	a.readHits(due)
	assert.Equal(t, 1, a.Local.Len())
	assert.Empty(t, a.PendingHits)
}

func TestReceive_DuplicateRequestIDIsDropped(t *testing.T) {
	a := newTestASIC()
	b, id := NewRegisterRead(0, 0)
	a.Links[West] = Link{Connected: true}

	a.Receive(Event{FromDir: West, Byte: b, Time: a.AbsTime + 1})
	assert.Equal(t, 1, a.Remote.Len()) // REGRESP queued for TransmitReg
	assert.Equal(t, TransmitReg, a.State)

	// Same request-id arriving again (a duplicate forward) must not queue
	// a second response.
	dup := NewRegReqByte(id, false, 0, 0, true, false, Config{})
	a.Receive(Event{FromDir: West, Byte: dup, Time: a.AbsTime + 2})
	assert.Equal(t, 1, a.Remote.Len())
}

func TestReceive_FromDisconnectedLinkIsAnomalyNotCrash(t *testing.T) {
	a := newTestASIC()
	var anomalies []string
	a.onAnomaly = func(row, col int, msg string) { anomalies = append(anomalies, msg) }

	ev := Event{FromDir: East, Byte: NewDataByte(1, 1, 1, 1), Time: a.AbsTime + 1}
	out := a.Receive(ev)

	assert.Nil(t, out)
	assert.Len(t, anomalies, 1)
}
