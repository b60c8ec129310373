// Package middleware profiles HTTP requests with profz.
//
// A request is profiled only when its query string carries the activation
// parameter. The handler runs under a root span; handlers reach the tracker
// through the request context (profz.Start, profz.Stop, profz.Span). When the
// handler returns, the tree is rendered and handed to a profz.Collector.
// Any profiling failure is logged and the request proceeds unprofiled.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/zoobzio/profz"
	"github.com/zoobzio/profz/metrics"
)

// Options configures Profile.
type Options struct {
	Clock     clockz.Clock
	Collector *profz.Collector
	IDs       *snowflake.Node // report ids; node 0 when nil
	Logger    *zap.Logger
	Recorder  *metrics.Recorder // optional
	Param     string            // activation query parameter
	RootName  string
	InitName  string // span covering time between Stamp and Profile
	NoInit    bool   // omit the init span
}

func (o *Options) defaults() {
	if o.Clock == nil {
		o.Clock = clockz.RealClock
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Param == "" {
		o.Param = "__profile"
	}
	if o.RootName == "" {
		o.RootName = "root"
	}
	if o.InitName == "" {
		o.InitName = "init"
	}
	if o.IDs == nil {
		// Node 0 is within range, so this cannot fail.
		o.IDs, _ = snowflake.NewNode(0)
	}
}

type stampKeyType struct{}

// Stamp records the instant a request entered the server.
// Install it outermost so Profile can attribute time spent in outer
// middleware to the init span.
func Stamp(clock clockz.Clock) func(http.Handler) http.Handler {
	if clock == nil {
		clock = clockz.RealClock
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), stampKeyType{}, clock.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestStart returns the instant recorded by Stamp.
func RequestStart(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(stampKeyType{}).(time.Time)
	return t, ok
}

// Active reports whether r asks to be profiled.
func Active(r *http.Request, param string) bool {
	_, ok := r.URL.Query()[param]
	return ok
}

// Profile returns middleware that profiles activated requests.
func Profile(opts Options) func(http.Handler) http.Handler {
	opts.defaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Active(r, opts.Param) {
				next.ServeHTTP(w, r)
				return
			}

			log := opts.Logger.With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
			tracker := profz.New().WithClock(opts.Clock)
			if opts.Recorder != nil {
				opts.Recorder.Attach(tracker)
			}
			tracker.SetPanicHook(func(id uint64, v interface{}) {
				log.Error("profile close handler panicked", zap.Uint64("handler", id), zap.Any("panic", v))
			})

			if err := begin(tracker, r, opts); err != nil {
				log.Warn("profile start failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := profz.WithLogger(profz.WithTracker(r.Context(), tracker), log)
			defer finish(tracker, rec, opts, log)

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

// begin opens the root span, seeded with the request start when known.
func begin(tracker *profz.Tracker, r *http.Request, opts Options) error {
	annotation := r.Method + " " + r.URL.Path

	started, ok := RequestStart(r.Context())
	if !ok {
		return tracker.Start(opts.RootName, annotation)
	}

	if err := tracker.StartAt(opts.RootName, started, annotation); err != nil {
		return err
	}
	if opts.NoInit {
		return nil
	}
	if err := tracker.StartAt(opts.InitName, started); err != nil {
		return err
	}
	return tracker.Stop(opts.InitName)
}

func finish(tracker *profz.Tracker, rec *statusRecorder, opts Options, log *zap.Logger) {
	if err := tracker.Stop(opts.RootName, fmt.Sprintf("status=%d", rec.status)); err != nil {
		log.Warn("profile stop failed", zap.Error(err))
		return
	}

	report, err := profz.NewReport(tracker.Tree(), opts.IDs.Generate().Int64(), opts.Clock.Now())
	if err != nil {
		log.Warn("profile report failed", zap.Error(err))
		return
	}
	if opts.Collector == nil {
		return
	}

	before := opts.Collector.DroppedCount()
	opts.Collector.Collect(report)
	if opts.Collector.DroppedCount() > before {
		log.Warn("profile report dropped", zap.Int64("id", report.ID))
	}
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
