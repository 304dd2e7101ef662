package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	The run summary handed back to the caller.
 *
 * Description:	One flat record: the topology that produced it, aggregate
 *		hit/word counts, per-ASIC clock and FIFO stats, every byte
 *		the DAQ sink collected, and the EVTEND calibration tuples.
 *		Encodable either as YAML (matching the tile-input format
 *		it's paired with) or JSON for callers that want it over
 *		HTTP.
 *
 *---------------------------------------------------------------*/

import (
	"time"

	"github.com/lestrrat-go/strftime"
)

// ASICResult is one node's final bookkeeping: its drawn clock parameters,
// where its clock ended up, FIFO high-water marks, overflow flags, lifetime
// write counts, and its full transition history.
type ASICResult struct {
	Row int `yaml:"row" json:"row"`
	Col int `yaml:"col" json:"col"`

	FreqHz       float64 `yaml:"freq_hz" json:"freq_hz"`
	StartPhase   float64 `yaml:"start_phase" json:"start_phase"`
	FinalRelTime float64 `yaml:"final_rel_time" json:"final_rel_time"`
	FinalRelTick uint32  `yaml:"final_rel_tick" json:"final_rel_tick"`

	LocalPeak  int `yaml:"local_peak" json:"local_peak"`
	RemotePeak int `yaml:"remote_peak" json:"remote_peak"`

	LocalWrites  int `yaml:"local_writes" json:"local_writes"`
	RemoteWrites int `yaml:"remote_writes" json:"remote_writes"`

	LocalRemaining  int `yaml:"local_remaining" json:"local_remaining"`
	RemoteRemaining int `yaml:"remote_remaining" json:"remote_remaining"`

	LocalOverflow  bool `yaml:"local_overflow" json:"local_overflow"`
	RemoteOverflow bool `yaml:"remote_overflow" json:"remote_overflow"`

	LocalDwellTicks uint64 `yaml:"local_dwell_ticks" json:"local_dwell_ticks"`

	Transitions []Transition `yaml:"transitions" json:"transitions"`
}

// ResultRecord is the complete summary of one finished simulation run.
type ResultRecord struct {
	Architecture string    `yaml:"architecture" json:"architecture"` // "push" or "pull"
	Route        RouteName `yaml:"route" json:"route"`
	TrunkPos     int       `yaml:"trunk_pos,omitempty" json:"trunk_pos,omitempty"`
	Rows         int       `yaml:"rows" json:"rows"`
	Cols         int       `yaml:"cols" json:"cols"`

	Generated string `yaml:"generated" json:"generated"`

	TotalInjectedHits int `yaml:"total_injected_hits" json:"total_injected_hits"`

	DataWords int `yaml:"data_words" json:"data_words"`
	ReqWords  int `yaml:"req_words" json:"req_words"`
	RespWords int `yaml:"resp_words" json:"resp_words"`
	EndWords  int `yaml:"end_words" json:"end_words"`

	EventsProcessed int `yaml:"events_processed" json:"events_processed"`

	Alert     bool     `yaml:"alert" json:"alert"`
	Anomalies []string `yaml:"anomalies,omitempty" json:"anomalies,omitempty"`

	DAQEntries []DAQEntry     `yaml:"daq_entries" json:"daq_entries"`
	EVTEnds    []EVTEndRecord `yaml:"evt_ends" json:"evt_ends"`

	ASICs []ASICResult `yaml:"asics" json:"asics"`

	RunMetadata RunMetadata `yaml:"run_metadata" json:"run_metadata"`
}

// resultTimestampFormat is the strftime pattern stamped into Generated.
const resultTimestampFormat = "%Y-%m-%dT%H:%M:%S"

// Result assembles the final summary of this array's run so far. It also
// refreshes the prometheus gauges so /metrics and the returned record stay
// consistent.
func (arr *Array) Result() ResultRecord {
	arr.sampleFIFOs()

	arch := "pull"
	if arr.PushState {
		arch = "push"
	}
	generated, _ := strftime.Format(resultTimestampFormat, time.Now())

	r := ResultRecord{
		Architecture:      arch,
		Route:             arr.RouteName,
		TrunkPos:          arr.TrunkPos,
		Rows:              arr.Rows,
		Cols:              arr.Cols,
		Generated:         generated,
		TotalInjectedHits: arr.TotalInjectedHits,
		DataWords:         arr.DAQ.FIFO.DataWords(),
		ReqWords:          arr.DAQ.FIFO.ReqWords(),
		RespWords:         arr.DAQ.FIFO.RespWords(),
		EndWords:          arr.DAQ.FIFO.EndWords(),
		EventsProcessed:   arr.Queue.Processed(),
		Alert:             arr.Alert,
		Anomalies:         arr.Anomalies,
		DAQEntries:        arr.DAQ.FIFO.Entries(),
		EVTEnds:           arr.DAQ.FIFO.EVTEnds(),
		RunMetadata:       arr.RunMeta,
	}

	for row := 0; row < arr.Rows; row++ {
		for col := 0; col < arr.Cols; col++ {
			node := arr.Nodes[row][col]
			r.ASICs = append(r.ASICs, ASICResult{
				Row: row, Col: col,
				FreqHz:          node.FreqHz,
				StartPhase:      node.StartPhase,
				FinalRelTime:    node.relTime(),
				FinalRelTick:    node.RelTick,
				LocalPeak:       node.Local.Peak(),
				RemotePeak:      node.Remote.Peak(),
				LocalWrites:     node.Local.TotalWrites(),
				RemoteWrites:    node.Remote.TotalWrites(),
				LocalRemaining:  node.Local.Len(),
				RemoteRemaining: node.Remote.Len(),
				LocalOverflow:   node.Local.Overflow(),
				RemoteOverflow:  node.Remote.Overflow(),
				LocalDwellTicks: node.LocalDwellTicks,
				Transitions:     node.History,
			})
		}
	}

	return r
}
