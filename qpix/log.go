package qpix

/*------------------------------------------------------------------
 *
 * Purpose:	Structured logging, scoped per subsystem.
 *
 * Description:	Diagnostics are grouped by subsystem (simulation flow,
 *		routing, FIFO status) as a small set of named sub-loggers,
 *		one set per Array instance so concurrently running
 *		simulations never share log state.
 *
 *---------------------------------------------------------------*/

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// loggers bundles the named sub-loggers a single Array uses. Each Array
// owns its own set rather than reaching for package-level globals, per the
// Design Note on not hoisting simulation state to singletons.
type loggers struct {
	sim   *log.Logger
	route *log.Logger
	fifo  *log.Logger
}

func newLoggers(w io.Writer, level log.Level) loggers {
	if w == nil {
		w = os.Stderr
	}
	mk := func(prefix string) *log.Logger {
		l := log.NewWithOptions(w, log.Options{Prefix: prefix, ReportTimestamp: false})
		l.SetLevel(level)
		return l
	}
	return loggers{
		sim:   mk("sim"),
		route: mk("route"),
		fifo:  mk("fifo"),
	}
}
