package main

/*------------------------------------------------------------------
 *
 * Purpose:	Command line driver for the QPix mesh simulator.
 *
 * Usage:	qpixsim [ options ] tile-input.yaml
 *
 *		Reads a run-config TOML file and a tile-input YAML file,
 *		builds the mesh, interrogates it, and writes the result
 *		record to stdout (or -o).
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/qpix-sim/qpixsim/qpix"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Run-config TOML file. Defaults baked in if omitted.")
		outputPath = pflag.StringP("output", "o", "", "Write the result record here instead of stdout.")
		hard       = pflag.Bool("hard-interrogate", false, "Force every ASIC through TRANSMIT_LOCAL, even empty ones.")
		verbose    = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
		help       = pflag.Bool("help", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: qpixsim [ options ] tile-input.yaml")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(1)
	}

	level := log.InfoLevel
	if *verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "qpixsim"})
	logger.SetLevel(level)

	runCfg, err := qpix.LoadRunConfig(*configPath)
	if err != nil {
		logger.Fatal("loading run config", "err", err)
	}

	tileData, err := os.ReadFile(pflag.Arg(0))
	if err != nil {
		logger.Fatal("reading tile input", "err", err)
	}
	tile, err := qpix.ParseTileInput(tileData)
	if err != nil {
		logger.Fatal("parsing tile input", "err", err)
	}

	opts := runCfg.ToArrayOptions()
	opts.LogLevel = level
	arr, err := qpix.NewArray(opts)
	if err != nil {
		logger.Fatal("building array", "err", err)
	}

	if runCfg.MetricsAddr != "" {
		go serveMetrics(arr, runCfg.MetricsAddr, logger)
	}

	arr.SetPushState(runCfg.PushEnable, false)

	if err := arr.InjectTile(tile); err != nil {
		logger.Fatal("injecting tile", "err", err)
	}

	interrogations := runCfg.Interrogations
	if runCfg.PushEnable && !*hard && !runCfg.HardInterrogate {
		// Push-mode ASICs transmit on their own; just run the clock.
		interrogations = 0
		arr.IdleFor(runCfg.Interval)
	}
	for i := 0; i < interrogations; i++ {
		arr.Interrogate(runCfg.Interval, *hard || runCfg.HardInterrogate)
	}

	result := arr.Result()
	out, err := yaml.Marshal(result)
	if err != nil {
		logger.Fatal("marshaling result", "err", err)
	}

	if *outputPath == "" {
		os.Stdout.Write(out)
		return
	}
	if err := os.WriteFile(*outputPath, out, 0o644); err != nil {
		logger.Fatal("writing result", "err", err)
	}
}

func serveMetrics(arr *qpix.Array, addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttpHandlerFor(arr))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "err", err)
	}
}

func promhttpHandlerFor(arr *qpix.Array) http.Handler {
	return promhttp.HandlerFor(arr.Registry(), promhttp.HandlerOpts{})
}
