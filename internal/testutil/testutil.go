// Package testutil provides shared test helpers.
package testutil

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Epoch is the start of every LogicalClock.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// LogicalClock advances by one millisecond per reading, starting at Epoch.
// Two clocks read the same number of times return the same instants.
type LogicalClock struct {
	mu   sync.Mutex
	tick int64
}

// Now returns the next logical instant.
func (c *LogicalClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.tick) * time.Millisecond)
	c.tick++
	return t
}
