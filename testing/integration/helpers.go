// Package integration exercises profz end to end: HTTP middleware, the
// collector queue and the report sinks working together.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/zoobzio/clockz"

	"github.com/zoobzio/profz"
	"github.com/zoobzio/profz/middleware"
	"github.com/zoobzio/profz/sink"
)

// Epoch is the start instant of every fake clock built here.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// FakeClock is the subset of the fake clock the helpers drive.
type FakeClock interface {
	clockz.Clock
	Advance(time.Duration)
}

// Harness wires a profiled handler to a synchronous collector and a
// directory sink under t.TempDir.
type Harness struct {
	Clock     FakeClock
	Collector *profz.Collector
	Store     *sink.Dir
	Handler   http.Handler
	t         *testing.T
}

// NewHarness builds a Harness around handler. The handler receives the
// fake clock so it can simulate work deterministically.
func NewHarness(t *testing.T, build func(clock FakeClock) http.Handler) *Harness {
	t.Helper()

	clock := clockz.NewFakeClockAt(Epoch)
	collector := profz.NewCollector("integration", 16)
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)

	ids, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	profile := middleware.Profile(middleware.Options{
		Clock:     clock,
		Collector: collector,
		IDs:       ids,
		InitName:  "init",
	})

	return &Harness{
		Clock:     clock,
		Collector: collector,
		Store:     sink.NewDir(t.TempDir()),
		Handler:   middleware.Stamp(clock)(profile(build(clock))),
		t:         t,
	}
}

// Do serves a GET for target and returns the recorder.
func (h *Harness) Do(target string) *httptest.ResponseRecorder {
	h.t.Helper()
	rec := httptest.NewRecorder()
	h.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// Persist flushes buffered reports into the directory sink.
func (h *Harness) Persist() int {
	h.t.Helper()
	return sink.Flush(context.Background(), h.Collector, h.Store, nil)
}

// Work opens a span, advances the clock by d and closes it.
func Work(ctx context.Context, clock FakeClock, name string, d time.Duration, annotation ...string) {
	done := profz.Span(ctx, name, annotation...)
	clock.Advance(d)
	done()
}
