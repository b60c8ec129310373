// Package sink persists rendered profz reports.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zoobzio/profz"
	"github.com/zoobzio/profz/config"
)

// ErrNotFound is returned by Get for an unknown key.
var ErrNotFound = errors.New("report not found")

// Entry describes a stored report.
type Entry struct {
	TakenAt time.Time
	Key     string
	Size    int
}

// Sink stores reports and reads them back.
type Sink interface {
	Write(ctx context.Context, r profz.Report) error
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, key string) (string, error)
	Close() error
}

// Open returns the sink selected by cfg.
func Open(cfg config.SinkConfig, logger *zap.Logger) (Sink, error) {
	switch cfg.Kind {
	case config.SinkDir:
		return NewDir(cfg.Dir), nil
	case config.SinkBadger:
		return OpenBadger(BadgerOptions{Dir: cfg.Dir, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
}
