package profz

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func closedTree(t *testing.T) *Tree {
	t.Helper()
	clock := clockz.NewFakeClockAt(epoch)
	tracker := New().WithClock(clock)
	require.NoError(t, tracker.Start("root"))
	clock.Advance(time.Millisecond)
	require.NoError(t, tracker.Stop("root"))
	return tracker.Tree()
}

func TestNewReport(t *testing.T) {
	r, err := NewReport(closedTree(t), 7, epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(7), r.ID)
	assert.Equal(t, "root", r.Name)
	assert.Equal(t, epoch, r.TakenAt)
	assert.Contains(t, r.Body, ReportHeader)

	_, err = NewReport(nil, 1, epoch)
	assert.ErrorIs(t, err, ErrEmptyTree)
}

func TestNewReportOpenTree(t *testing.T) {
	tracker := New()
	require.NoError(t, tracker.Start("root"))

	_, err := NewReport(tracker.Tree(), 1, epoch)
	assert.ErrorIs(t, err, ErrNotStopped)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector("test-collector", 100)
	defer collector.Close()

	assert.Equal(t, "test-collector", collector.Name())
	assert.Equal(t, 0, collector.Count())
	assert.Equal(t, int64(0), collector.DroppedCount())
	assert.Nil(t, collector.Export())
}

func TestCollectorSyncCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	collector.Collect(Report{ID: 1, Name: "root"})
	assert.Equal(t, 1, collector.Count())

	reports := collector.Export()
	require.Len(t, reports, 1)
	assert.Equal(t, int64(1), reports[0].ID)
	assert.Equal(t, 0, collector.Count())
}

func TestCollectorAsyncCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	defer collector.Close()

	for i := 0; i < 5; i++ {
		collector.Collect(Report{ID: int64(i)})
	}

	require.Eventually(t, func() bool {
		return collector.Count() == 5
	}, time.Second, 5*time.Millisecond)
}

func TestCollectorBackpressure(t *testing.T) {
	collector := NewCollector("test", 1)
	collector.Close()

	// Closed collectors drop everything.
	for i := 0; i < 10; i++ {
		collector.Collect(Report{ID: int64(i)})
	}
	assert.Equal(t, int64(10), collector.DroppedCount())
	assert.Equal(t, 0, collector.Count())
}

func TestCollectorCloseDrainsQueue(t *testing.T) {
	collector := NewCollector("test", 100)
	for i := 0; i < 20; i++ {
		collector.Collect(Report{ID: int64(i)})
	}
	collector.Close()
	collector.Close()

	assert.Equal(t, int64(20), int64(collector.Count())+collector.DroppedCount())
}

func TestCollectorConcurrentCollect(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			collector.Collect(Report{ID: int64(n)})
		}(i)
	}
	wg.Wait()

	assert.Len(t, collector.Export(), 50)
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	collector.Collect(Report{ID: 1})
	collector.Reset()
	assert.Equal(t, 0, collector.Count())
	assert.Equal(t, int64(0), collector.DroppedCount())
}
