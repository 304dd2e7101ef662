package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	External tile-input format: the YAML document describing
 *		which ASIC sees which hits, and when.
 *
 * Description:	A plain YAML document so it can be hand-written for a
 *		test fixture or produced by any upstream event generator.
 *		nrows/ncols must match the Array they're injected into;
 *		hits lists one entry per recorded hit, and the optional
 *		run-metadata fields simply pass through into the Result
 *		record untouched.
 *
 *---------------------------------------------------------------*/

import (
	"gopkg.in/yaml.v3"
)

// TileHit is one recorded hit: the ASIC it lands on, the absolute time it
// occurs, and the channel numbers it lit up.
type TileHit struct {
	Row      int     `yaml:"row"`
	Col      int     `yaml:"col"`
	Time     float64 `yaml:"time"`
	Channels []int   `yaml:"channels"`
}

// RunMetadata is the optional physics bookkeeping an upstream ingester
// attaches to an event. The simulator never interprets any of it; the
// fields pass through unmodified to the result record for the downstream
// analysis stage. Size of zero is a legal no-op event.
type RunMetadata struct {
	EnergyDeposit *float64 `yaml:"energy_deposit,omitempty" json:"energy_deposit,omitempty"`
	LepRecon      *float64 `yaml:"lep_recon,omitempty" json:"lep_recon,omitempty"`
	AxisX         *float64 `yaml:"axis_x,omitempty" json:"axis_x,omitempty"`
	AxisZ         *float64 `yaml:"axis_z,omitempty" json:"axis_z,omitempty"`
	ZPos          *float64 `yaml:"zpos,omitempty" json:"zpos,omitempty"`
	Size          *int     `yaml:"size,omitempty" json:"size,omitempty"`
}

// TileInput is the top-level document describing a run's injected traffic.
type TileInput struct {
	Rows int       `yaml:"nrows"`
	Cols int       `yaml:"ncols"`
	Hits []TileHit `yaml:"hits"`

	RunMetadata `yaml:",inline"`
}

// ParseTileInput decodes a YAML tile-input document.
func ParseTileInput(data []byte) (*TileInput, error) {
	var t TileInput
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, &InputError{Msg: "parsing tile input: " + err.Error()}
	}
	return &t, nil
}

// Validate checks the document against the array it's meant to be
// injected into.
func (t *TileInput) Validate(rows, cols int) error {
	if t.Rows != rows || t.Cols != cols {
		return &InputError{Msg: "tile input dimensions do not match array dimensions"}
	}
	for _, h := range t.Hits {
		if h.Row < 0 || h.Row >= rows || h.Col < 0 || h.Col >= cols {
			return &InputError{Msg: "tile input hit addresses an ASIC outside the array"}
		}
	}
	return nil
}

// ByASIC groups a tile input's hits by (row, col), each bucket already
// sorted in file order and ready for InjectHits.
func (t *TileInput) ByASIC() map[NodeID][]TileHit {
	out := make(map[NodeID][]TileHit)
	for _, h := range t.Hits {
		id := NodeID{Row: h.Row, Col: h.Col}
		out[id] = append(out[id], h)
	}
	return out
}

// InjectTile feeds every hit in t into its target ASIC's pending-hit
// store via Array.InjectHits, grouping by ASIC first so each node sees one
// coalescing pass per tile rather than one per hit. The tile's metadata is
// kept on the Array so Result() can hand it back untouched.
func (arr *Array) InjectTile(t *TileInput) error {
	if err := t.Validate(arr.Rows, arr.Cols); err != nil {
		return err
	}
	arr.RunMeta = t.RunMetadata
	for id, hits := range t.ByASIC() {
		times := make([]float64, len(hits))
		channels := make([][]int, len(hits))
		for i, h := range hits {
			times[i] = h.Time
			channels[i] = h.Channels
		}
		if err := arr.InjectHits(id.Row, id.Col, times, channels); err != nil {
			return err
		}
	}
	return nil
}
