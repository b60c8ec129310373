package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zoobzio/profz"
)

const (
	filePrefix = "profile-"
	fileSuffix = ".xml"
)

// Dir writes each report to its own file in a directory.
// The directory is created on first write if absent. An existing file is
// never replaced; writing a report whose name is taken fails with an error
// wrapping os.ErrExist.
type Dir struct {
	path string
}

// NewDir returns a sink rooted at path.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the output directory.
func (d *Dir) Path() string {
	return d.path
}

// FileName returns the file name a report is stored under:
// profile-<unix seconds>-<id>.xml.
func FileName(r profz.Report) string {
	return fmt.Sprintf("%s%d-%d%s", filePrefix, r.TakenAt.Unix(), r.ID, fileSuffix)
}

func (d *Dir) Write(ctx context.Context, r profz.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	name := filepath.Join(d.path, FileName(r))
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // reports are not secrets.
	if err != nil {
		return fmt.Errorf("write profile %s: %w", name, err)
	}
	if _, err := f.WriteString(r.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write profile %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write profile %s: %w", name, err)
	}
	return nil
}

// List returns stored reports, oldest first.
// A missing directory lists as empty.
func (d *Dir) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile dir: %w", err)
	}

	var out []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Key:     name,
			TakenAt: takenAtFromName(name),
			Size:    int(info.Size()),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TakenAt.Equal(out[j].TakenAt) {
			return out[i].TakenAt.Before(out[j].TakenAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func takenAtFromName(name string) time.Time {
	stem := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	secs, _, _ := strings.Cut(stem, "-")
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

// Get returns the body of the report stored under key (a file name).
func (d *Dir) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" || filepath.Base(key) != key {
		return "", ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(d.path, key))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read profile %s: %w", key, err)
	}
	return string(data), nil
}

// Close is a no-op.
func (*Dir) Close() error {
	return nil
}
