package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/zoobzio/profz"
)

const badgerPrefix = "profile/"

// BadgerOptions configures a Badger sink.
type BadgerOptions struct {
	Logger   *zap.Logger
	Dir      string
	InMemory bool
}

// Badger stores reports in an embedded key/value store.
// Keys sort by capture time: profile/<unix nanos, zero padded>/<id>.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store described by opts.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.Logger != nil {
		bopts = bopts.WithLogger(badgerLogger{opts.Logger.Sugar()})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", opts.Dir, err)
	}
	return &Badger{db: db}, nil
}

// Key returns the key a report is stored under.
func Key(r profz.Report) string {
	return fmt.Sprintf("%s%020d/%d", badgerPrefix, r.TakenAt.UnixNano(), r.ID)
}

func (b *Badger) Write(ctx context.Context, r profz.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(Key(r)), []byte(r.Body))
	})
	if err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

// List returns stored reports, oldest first.
func (b *Badger) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)
		defer it.Close()

		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			out = append(out, Entry{
				Key:     key,
				TakenAt: takenAtFromKey(key),
				Size:    int(item.ValueSize()),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

func takenAtFromKey(key string) time.Time {
	rest := strings.TrimPrefix(key, badgerPrefix)
	nanos, _, _ := strings.Cut(rest, "/")
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Get returns the body stored under key.
func (b *Badger) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var body []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read profile %s: %w", key, err)
	}
	return string(body), nil
}

// Close releases the store.
func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
