// Package profz records call-tree timings for a single request.
//
// Instrumented code opens and closes named spans; profz nests them into a
// tree and renders a report with the elapsed time of every span and the time
// each span spent outside its children ("unprofiled" time).
//
// Core Components:
//   - Tracker: start/stop state machine for one session.
//   - Tree: arena of nodes built by a Tracker, rendered as a report.
//   - Collector: buffers finished reports for persistence.
//
// Basic Usage:
//
//	tracker := profz.New()
//	_ = tracker.Start("root")
//	_ = tracker.Start("db", "SELECT 1")
//	_ = tracker.Stop("db")
//	_ = tracker.Stop("root")
//
//	report, err := tracker.Report()
//
// Spans close in exact reverse order of opening. Stopping a span that is not
// the open one fails with a *ProtocolError; reporting a tree with open spans
// fails with a *StateError.
//
// Context Propagation:
//
// A Tracker can ride on a context.Context (WithTracker). The package-level
// Start, Stop and Span helpers find it there and log, rather than return,
// instrumentation errors, so profiling never breaks the request it observes.
//
// Thread Safety:
//
// A Tracker is guarded by a mutex, but a session is inherently sequential.
// Use one Tracker per request.
package profz

// Key represents a span name.
type Key = string
