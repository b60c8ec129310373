package sink

import (
	"context"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/zoobzio/profz"
)

// Flush writes every report buffered in c to s and returns how many were
// written. A failed write is logged and does not stop the flush.
func Flush(ctx context.Context, c *profz.Collector, s Sink, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	written := 0
	for _, r := range c.Export() {
		if err := s.Write(ctx, r); err != nil {
			logger.Warn("persist profile failed", zap.Int64("id", r.ID), zap.Error(err))
			continue
		}
		written++
	}
	return written
}

// Drain flushes c into s every interval of clock until ctx is done, then
// performs a final flush so queued reports are not lost on shutdown.
// A nil clock means clockz.RealClock.
func Drain(ctx context.Context, c *profz.Collector, s Sink, clock clockz.Clock, interval time.Duration, logger *zap.Logger) {
	if clock == nil {
		clock = clockz.RealClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			if n := Flush(context.Background(), c, s, logger); n > 0 {
				logger.Debug("flushed profiles on shutdown", zap.Int("count", n))
			}
			return
		case <-ticker.C():
			if n := Flush(ctx, c, s, logger); n > 0 {
				logger.Debug("flushed profiles", zap.Int("count", n))
			}
		}
	}
}
