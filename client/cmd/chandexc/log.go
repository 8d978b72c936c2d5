// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"decred.org/chandex/client/core"
	"decred.org/chandex/dex"
	"github.com/decred/slog"
	"github.com/fatih/color"
	"github.com/jrick/logrotate/rotator"
)

const maxLogRolls = 16

var (
	// log is the daemon's MAIN logger.
	log     = dex.Disabled
	gateLog = dex.Disabled
	// Websocket ping chatter stays out of debug logs unless asked for.
	defaultLogLevelMap = map[string]slog.Level{"COMMS": dex.LevelInfo}
)

// logWriter implements an io.Writer that outputs to a rotating log file and
// optionally to stdout.
type logWriter struct {
	*rotator.Rotator
	stdout bool
}

// Write writes the data in p to the log file.
func (w logWriter) Write(p []byte) (n int, err error) {
	if w.stdout {
		os.Stdout.Write(p)
	}
	return w.Rotator.Write(p)
}

// initLogging creates the rotating log file and sets the loggers of the core
// and its subsystems.
func initLogging(logFilename, lvl string, stdout, utc bool) (*dex.LoggerMaker, func(), error) {
	if err := os.MkdirAll(filepath.Dir(logFilename), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFilename, 32*1024, false, maxLogRolls)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file rotator: %w", err)
	}
	lm, err := dex.NewLoggerMaker(&logWriter{r, stdout}, lvl, utc)
	if err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("failed to create custom logger: %w", err)
	}
	lm.SetLevelsFromMap(defaultLogLevelMap)
	core.UseLoggerMaker(lm)
	log = lm.Logger("MAIN")
	gateLog = lm.SubLogger("MAIN", "GATE")
	return lm, func() { r.Close() }, nil
}

// notePrinter writes notifications to the console, coloured by severity.
type notePrinter struct {
	w      io.Writer
	colors map[core.Severity]*color.Color
}

func newNotePrinter(w io.Writer) *notePrinter {
	return &notePrinter{
		w: w,
		colors: map[core.Severity]*color.Color{
			core.Data:         color.New(color.FgHiBlack),
			core.Poke:         color.New(color.FgCyan),
			core.Success:      color.New(color.FgGreen),
			core.WarningLevel: color.New(color.FgYellow),
			core.ErrorLevel:   color.New(color.FgRed, color.Bold),
		},
	}
}

func (p *notePrinter) print(n core.Notification) {
	if n.Severity() == core.Ignorable {
		return
	}
	c, found := p.colors[n.Severity()]
	if !found {
		c = color.New(color.Reset)
	}
	ts := time.UnixMilli(int64(n.Time())).Format("15:04:05")
	if details := n.Details(); details != "" {
		c.Fprintf(p.w, "%s [%s] %s: %s\n", ts, n.Severity(), n.Subject(), details)
		return
	}
	c.Fprintf(p.w, "%s [%s] %s\n", ts, n.Severity(), n.Subject())
}
