package profz

import (
	"sync"
	"sync/atomic"
	"time"
)

// Report is a rendered session ready for persistence.
type Report struct {
	TakenAt time.Time `json:"taken_at"`
	Name    string    `json:"name"`
	Body    string    `json:"body"`
	ID      int64     `json:"id"`
}

// NewReport renders a closed tree into a Report.
func NewReport(tree *Tree, id int64, takenAt time.Time) (Report, error) {
	if tree == nil {
		return Report{}, &StateError{Err: ErrEmptyTree}
	}
	body, err := tree.Render()
	if err != nil {
		return Report{}, err
	}
	root, _ := tree.Node(tree.Root())
	return Report{
		ID:      id,
		Name:    root.Name,
		TakenAt: takenAt,
		Body:    body,
	}, nil
}

// Collector buffers finished reports until they are exported.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	reports      []Report
	reportsCh    chan Report
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
}

// NewCollector creates a new collector with the specified name and buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	c := &Collector{
		name:      name,
		reports:   make([]Report, 0, 8),
		reportsCh: make(chan Report, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the collector's name.
func (c *Collector) Name() string {
	return c.name
}

// start runs the collector's main loop, receiving reports from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining reports before shutdown.
			for {
				select {
				case r := <-c.reportsCh:
					c.buffer(r)
				default:
					return
				}
			}
		case r := <-c.reportsCh:
			c.buffer(r)
		}
	}
}

// Close stops the collector goroutine after draining queued reports.
// Buffered reports remain available to Export.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
}

// Collect queues a report without blocking.
// If the queue is full or the collector is closed, the report is dropped
// and the drop counter is incremented.
func (c *Collector) Collect(r Report) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode.Load() {
		c.buffer(r)
		return
	}

	select {
	case c.reportsCh <- r:
	default:
		c.droppedCount.Add(1)
	}
}

func (c *Collector) buffer(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

// Export returns all buffered reports and clears the buffer.
func (c *Collector) Export() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reports) == 0 {
		return nil
	}

	result := make([]Report, len(c.reports))
	copy(result, c.reports)

	// Shrink only very oversized buffers to avoid allocation churn.
	if cap(c.reports) > 256 && len(c.reports) < cap(c.reports)/8 {
		c.reports = make([]Report, 0, cap(c.reports)/4)
	} else {
		c.reports = c.reports[:0]
	}

	return result
}

// Count returns the current number of buffered reports.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

// DroppedCount returns the total number of reports dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, reports are buffered directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered reports and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reports = c.reports[:0]
	c.droppedCount.Store(0)
}
