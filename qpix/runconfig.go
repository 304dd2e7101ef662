package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	TOML run configuration: everything NewArray needs besides
 *		the tile input itself.
 *
 * Description:	Kept deliberately separate from the tile-input YAML
 *		(tile.go): one describes the rig, the other describes the
 *		traffic going through it.
 *
 *---------------------------------------------------------------*/

import "github.com/BurntSushi/toml"

// RunConfig is the on-disk description of one simulation run.
type RunConfig struct {
	Rows         int     `toml:"rows"`
	Cols         int     `toml:"cols"`
	FreqHz       float64 `toml:"freq_hz"`
	FreqSigmaPct float64 `toml:"freq_sigma_pct"`
	Timeout      int     `toml:"timeout_ticks"`

	PushTimeout int  `toml:"push_timeout_ticks"`
	PushEnable  bool `toml:"push_enable"`

	Route    string `toml:"route"`
	TrunkPos int    `toml:"trunk_pos"`

	Seed   int64   `toml:"seed"`
	DeltaT float64 `toml:"delta_t"`

	HardInterrogate bool    `toml:"hard_interrogate"`
	Interrogations  int     `toml:"interrogations"`
	Interval        float64 `toml:"interrogate_interval"`

	MetricsAddr string `toml:"metrics_addr"`
}

// DefaultRunConfig holds the values a run gets before any config file is
// read.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Rows:           4,
		Cols:           4,
		FreqHz:         50_000_000,
		FreqSigmaPct:   0.05,
		Timeout:        15_000,
		PushTimeout:    0,
		PushEnable:     false,
		Route:          string(RouteLeft),
		TrunkPos:       0,
		Seed:           1,
		DeltaT:         1e-5,
		Interrogations: 1,
		Interval:       0.5,
	}
}

// LoadRunConfig reads and decodes a TOML run-config file over top of the
// defaults, so a file only has to name what it wants to override.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, &InputError{Msg: "decoding run config: " + err.Error()}
	}
	return cfg, nil
}

// ToArrayOptions converts the parsed run config into the options NewArray
// expects, including resolving the Route string into a RouteName.
func (c RunConfig) ToArrayOptions() ArrayOptions {
	return ArrayOptions{
		Rows:         c.Rows,
		Cols:         c.Cols,
		FreqHz:       c.FreqHz,
		FreqSigmaPct: c.FreqSigmaPct,
		Timeout:      c.Timeout,
		PushTimeout:  c.PushTimeout,
		Route:        RouteName(c.Route),
		TrunkPos:     c.TrunkPos,
		Seed:         c.Seed,
		DeltaT:       c.DeltaT,
	}
}
