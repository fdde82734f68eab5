// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"os"
	"time"

	"github.com/Thermoquad/tamcoord/pkg/config"
	"github.com/Thermoquad/tamcoord/pkg/coordinator"
	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newLogger builds the root logger. With a monitor, log lines go to the
// TUI event log instead of w.
func newLogger(cfg config.LoggingConfig, w io.Writer, monitor *monitorProgram) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer
	switch {
	case monitor != nil:
		out = zerolog.ConsoleWriter{Out: monitor, NoColor: true, PartsExclude: []string{zerolog.TimestampFieldName}}
	case cfg.Format == config.FormatJSON:
		out = w
	case cfg.Format == config.FormatConsole || isTerminal(w):
		if f, ok := w.(*os.File); ok {
			w = colorable.NewColorable(f)
		}
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	default:
		out = w
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// logEvent writes a coordinator event to the log
func logEvent(logger zerolog.Logger, ev coordinator.Event) {
	var e *zerolog.Event
	switch ev.Kind {
	case coordinator.EventCommandFailed:
		e = logger.Warn().Stringer("command", ev.Command).Uint32("value", ev.Value)
	case coordinator.EventLowVoltage:
		e = logger.Warn().Float64("voltage", ev.Voltage)
	case coordinator.EventStale:
		e = logger.Warn().Dur("silent", time.Duration(ev.At-ev.TAM.LastSeen())*time.Millisecond)
	default:
		e = logger.Debug()
	}
	e.Str("tam", ev.TAM.ID()).
		Str("address", addressString(ev.TAM.Address())).
		Stringer("event", ev.Kind).
		Msg("TAM event")
}
