package qpix

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func quietOptions(rows, cols int, route RouteName) ArrayOptions {
	return ArrayOptions{
		Rows:     rows,
		Cols:     cols,
		FreqHz:   50_000_000,
		Timeout:  15_000,
		Route:    route,
		Seed:     11,
		LogLevel: log.ErrorLevel,
	}
}

func totalFIFOWrites(arr *Array) int {
	total := 0
	for r := range arr.Nodes {
		for _, node := range arr.Nodes[r] {
			total += node.Local.TotalWrites() + node.Remote.TotalWrites()
		}
	}
	return total
}

func finishEntries(res ResultRecord) int {
	count := 0
	for _, a := range res.ASICs {
		for _, tr := range a.Transitions {
			if tr.State == Finish {
				count++
			}
		}
	}
	return count
}

// A 2x2 snake-routed mesh with ten hits injected into every ASIC and a
// single interrogate at t=1s delivers every hit and exactly one EVTEND per
// node, leaving every on-chip FIFO empty and unflagged.
func TestSnakeReadout_DeliversEveryHitAndOneEvtEndPerASIC(t *testing.T) {
	arr, err := NewArray(quietOptions(2, 2, RouteSnake))
	require.NoError(t, err)

	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			times := make([]float64, 10)
			channels := make([][]int, 10)
			for k := range times {
				times[k] = 1e-9 * float64(k+1)
				channels[k] = []int{2}
			}
			require.NoError(t, arr.InjectHits(r, c, times, channels))
		}
	}

	arr.IdleFor(1.0)
	arr.Interrogate(0.5, false)

	res := arr.Result()
	assert.Equal(t, 40, res.DataWords)
	assert.Equal(t, 4, res.EndWords)
	for _, a := range res.ASICs {
		assert.Zero(t, a.LocalRemaining)
		assert.Zero(t, a.RemoteRemaining)
		assert.False(t, a.LocalOverflow)
		assert.False(t, a.RemoteOverflow)
	}
}

// Ten hard interrogations of a hitless 4x4 left-routed mesh produce one
// EVTEND per node per interrogation and nothing else.
func TestLeftReadout_HardInterrogationsYieldOnlyEvtEnds(t *testing.T) {
	arr, err := NewArray(quietOptions(4, 4, RouteLeft))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		arr.Interrogate(0.5, true)
	}

	res := arr.Result()
	assert.Equal(t, 0, res.DataWords)
	assert.Equal(t, 160, res.EndWords)
}

// A degenerate 1x1 mesh in push mode streams every coalesced hit to the
// DAQ on its own, with no EVTEND ever emitted because nothing was ever
// interrogated.
func TestPushMode_StreamsHitsWithoutEvtEnds(t *testing.T) {
	arr, err := NewArray(quietOptions(1, 1, RouteLeft))
	require.NoError(t, err)
	arr.SetPushState(true, false)

	rng := rand.New(rand.NewSource(5))
	times := make([]float64, 1000)
	channels := make([][]int, 1000)
	for i := range times {
		times[i] = rng.Float64() * 0.01
		channels[i] = []int{1}
	}
	sort.Float64s(times)
	require.NoError(t, arr.InjectHits(0, 0, times, channels))

	coalesced := len(arr.Nodes[0][0].PendingHits)
	arr.IdleFor(0.1)

	res := arr.Result()
	assert.Equal(t, coalesced, res.DataWords)
	assert.Equal(t, 0, res.EndWords)
	assert.Zero(t, arr.Nodes[0][0].Local.Len())
}

// Re-delivering a broadcast REGREQ with a request-id every node has already
// seen changes nothing: no new FIFO writes anywhere, no new EVTENDs.
func TestBroadcastLoopPrevention_DuplicateRequestIDIsInert(t *testing.T) {
	arr, err := NewArray(quietOptions(3, 3, RouteLeft))
	require.NoError(t, err)

	b, _, cmd := NewInterrogate(true)
	deliver := func() {
		arr.Queue.Insert(Event{Target: arr.daqAttach, FromDir: arr.daqLinkDir(), Byte: b, Time: arr.TimeNow, Command: cmd})
		arr.run(arr.TimeNow + 0.1)
	}

	deliver()
	first := arr.Result()
	writes := totalFIFOWrites(arr)
	assert.Equal(t, 9, first.EndWords)

	deliver()
	second := arr.Result()
	assert.Equal(t, first.EndWords, second.EndWords)
	assert.Equal(t, writes, totalFIFOWrites(arr))
}

// Every EVTEND the DAQ collects corresponds to exactly one FINISH entry in
// some node's transition history, node clocks never run backward, and a
// fully drained readout accounts for every coalesced hit — across random
// mesh geometries and routings.
func TestReadout_InvariantsHoldAcrossRandomMeshes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rows := rapid.IntRange(1, 3).Draw(rt, "rows")
		cols := rapid.IntRange(1, 3).Draw(rt, "cols")
		route := rapid.SampledFrom([]RouteName{RouteLeft, RouteSnake}).Draw(rt, "route")

		opts := quietOptions(rows, cols, route)
		opts.Seed = int64(rapid.IntRange(1, 1_000).Draw(rt, "seed"))
		opts.FreqSigmaPct = 0.05
		arr, err := NewArray(opts)
		require.NoError(rt, err)

		nHits := rapid.IntRange(0, 5).Draw(rt, "hits")
		times := make([]float64, nHits)
		channels := make([][]int, nHits)
		for i := range times {
			times[i] = float64(i+1) * 1e-6
			channels[i] = []int{1}
		}
		require.NoError(rt, arr.InjectHits(rows-1, cols-1, times, channels))
		coalesced := len(arr.Nodes[rows-1][cols-1].PendingHits)

		arr.IdleFor(0.001)
		arr.Interrogate(0.1, true)

		res := arr.Result()
		assert.Equal(rt, finishEntries(res), res.EndWords)
		assert.Equal(rt, coalesced, res.DataWords)
		for _, a := range res.ASICs {
			assert.Zero(rt, a.LocalRemaining)
			assert.Zero(rt, a.RemoteRemaining)
			for i := 1; i < len(a.Transitions); i++ {
				assert.GreaterOrEqual(rt, a.Transitions[i].AbsTime, a.Transitions[i-1].AbsTime)
			}
		}
	})
}

// Two hits a fraction of a clock period apart on disjoint channels coalesce
// into one DATA word whose mask is the OR of the two, stamped at the first
// hit's tick; overlapping channels split, with the overlap bumped one full
// period later.
func TestReadout_CoalescedChannelsArriveAsOneWord(t *testing.T) {
	arr, err := NewArray(quietOptions(1, 1, RouteLeft))
	require.NoError(t, err)

	node := arr.Nodes[0][0]
	base := node.StartPhase + node.Period*3.5
	require.NoError(t, arr.InjectHits(0, 0, []float64{base, base + 0.1*node.Period}, [][]int{{3}, {5}}))

	wantTick := node.calcTicks(base)
	arr.IdleFor(0.001)
	arr.Interrogate(0.1, false)

	res := arr.Result()
	require.Equal(t, 1, res.DataWords)
	var data []DAQEntry
	for _, e := range res.DAQEntries {
		if e.WordType == Data {
			data = append(data, e)
		}
	}
	require.Len(t, data, 1)
	require.NotNil(t, data[0].ChannelMask)
	assert.Equal(t, uint16(1<<3|1<<5), *data[0].ChannelMask)
	require.NotNil(t, data[0].SourceTick)
	assert.Equal(t, wantTick, *data[0].SourceTick)
}

func TestReadout_CollidingChannelsSplitAcrossTicks(t *testing.T) {
	arr, err := NewArray(quietOptions(1, 1, RouteLeft))
	require.NoError(t, err)

	node := arr.Nodes[0][0]
	base := node.StartPhase + node.Period*3.5
	require.NoError(t, arr.InjectHits(0, 0, []float64{base, base + 0.1*node.Period}, [][]int{{3}, {3, 7}}))

	wantTick := node.calcTicks(base)
	arr.IdleFor(0.001)
	arr.Interrogate(0.1, false)

	res := arr.Result()
	require.Equal(t, 2, res.DataWords)
	var data []DAQEntry
	for _, e := range res.DAQEntries {
		if e.WordType == Data {
			data = append(data, e)
		}
	}
	require.Len(t, data, 2)
	assert.Equal(t, uint16(1<<3|1<<7), *data[0].ChannelMask)
	assert.Equal(t, wantTick, *data[0].SourceTick)
	assert.Equal(t, uint16(1<<3), *data[1].ChannelMask)
	assert.Equal(t, wantTick+1, *data[1].SourceTick)
}
