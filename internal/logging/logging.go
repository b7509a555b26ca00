// Package logging configures the process-wide structured logger.
//
// The FNE logs heavily on the hot path (every NAK, collision, takeover and
// PDU sequence mismatch is logged per spec.md §7), so the handler is chosen
// for low overhead: tint renders level-colored, single-line records to
// stderr without the indirection of a full logging framework.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Init installs the process-wide slog.Default logger. verbose enables
// slog.LevelDebug; otherwise the floor is slog.LevelInfo.
func Init(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	slog.SetDefault(slog.New(h))
}

// For names a logger scoped to one FNE subsystem, e.g. For("router") so
// every record carries component=router for grepability.
func For(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
