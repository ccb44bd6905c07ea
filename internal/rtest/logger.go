package rtest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a logger whose output is associated with t,
// so log lines only surface for failing tests (or with -v).
func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slogt.New(t)
}
