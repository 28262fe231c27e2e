// Package telemetry implements the Telemetry Bus: a non-blocking fan-out
// of typed events to zero or more Processors, plus the OTLP and Langfuse
// exporters and the Prometheus metrics surface.
package telemetry

import (
	"context"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// Processor receives events from a Bus. Process must not block the bus for
// longer than its own queue depth allows: the bus delivers at-most-once per
// processor per event and never waits for Process to return before
// accepting the next Emit call.
type Processor interface {
	// Process handles a single event. A returned error is logged by the
	// bus and otherwise has no effect — the Telemetry Bus never raises to
	// callers.
	Process(ctx context.Context, event models.Event) error

	// IsRunning reports whether the processor is still accepting events.
	IsRunning() bool

	// Shutdown drains any buffered events (best-effort, bounded by ctx)
	// and stops the processor. After Shutdown returns, IsRunning is false.
	Shutdown(ctx context.Context) error
}
