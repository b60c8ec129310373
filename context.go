package profz

import (
	"context"

	"go.uber.org/zap"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "profz"
)

// contextBundle holds tracker and logger to reduce context allocations.
type contextBundle struct {
	tracker *Tracker
	logger  *zap.Logger
}

func bundleFrom(ctx context.Context) *contextBundle {
	if ctx == nil {
		return nil
	}
	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle
	}
	return nil
}

// WithTracker returns a context carrying t.
func WithTracker(parent context.Context, t *Tracker) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	bundle := &contextBundle{tracker: t}
	if prev := bundleFrom(parent); prev != nil {
		bundle.logger = prev.logger
	}
	return context.WithValue(parent, bundleKey, bundle)
}

// WithLogger returns a context whose instrumentation errors are reported to l.
func WithLogger(parent context.Context, l *zap.Logger) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	bundle := &contextBundle{logger: l}
	if prev := bundleFrom(parent); prev != nil {
		bundle.tracker = prev.tracker
	}
	return context.WithValue(parent, bundleKey, bundle)
}

// FromContext extracts the tracker from a context.
// Returns nil if profiling is not active for ctx.
func FromContext(ctx context.Context) *Tracker {
	if bundle := bundleFrom(ctx); bundle != nil {
		return bundle.tracker
	}
	return nil
}

// Logger returns the logger carried by ctx, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if bundle := bundleFrom(ctx); bundle != nil && bundle.logger != nil {
		return bundle.logger
	}
	return zap.NewNop()
}

// Start opens a span on the tracker carried by ctx.
// Without a tracker it does nothing; errors are logged, not returned.
func Start(ctx context.Context, name Key, annotation ...string) {
	t := FromContext(ctx)
	if t == nil {
		return
	}
	if err := t.Start(name, annotation...); err != nil {
		Logger(ctx).Warn("profiler start failed", zap.String("span", name), zap.Error(err))
	}
}

// Stop closes a span on the tracker carried by ctx.
// Without a tracker it does nothing; errors are logged, not returned.
func Stop(ctx context.Context, name Key, annotation ...string) {
	t := FromContext(ctx)
	if t == nil {
		return
	}
	if err := t.Stop(name, annotation...); err != nil {
		Logger(ctx).Warn("profiler stop failed", zap.String("span", name), zap.Error(err))
	}
}

// Span opens a span and returns the function that closes it.
//
//	defer profz.Span(ctx, "render")()
func Span(ctx context.Context, name Key, annotation ...string) func(annotation ...string) {
	Start(ctx, name, annotation...)
	return func(annotation ...string) {
		Stop(ctx, name, annotation...)
	}
}
