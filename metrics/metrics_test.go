package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/zoobzio/profz"
)

func session(t *testing.T, r *Recorder) *profz.Tracker {
	t.Helper()
	clock := clockz.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	tracker := profz.New().WithClock(clock)
	r.Attach(tracker)

	require.NoError(t, tracker.Start("root"))
	require.NoError(t, tracker.Start("db"))
	clock.Advance(4 * time.Millisecond)
	require.NoError(t, tracker.Stop("db"))
	clock.Advance(6 * time.Millisecond)
	require.NoError(t, tracker.Stop("root"))
	return tracker
}

func TestRecorderObservesEverySpan(t *testing.T) {
	r := NewRecorder("profz")
	session(t, r)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessions))
	assert.Equal(t, 2, testutil.CollectAndCount(r.duration))
	assert.Equal(t, 1, testutil.CollectAndCount(r.unprofiled))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.observeFails))
}

func TestRecorderRejectsOpenTree(t *testing.T) {
	r := NewRecorder("profz")
	tracker := profz.New()
	require.NoError(t, tracker.Start("root"))
	require.NoError(t, tracker.Start("open"))

	err := r.Observe(tracker.Tree())
	assert.ErrorIs(t, err, profz.ErrNotStopped)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.observeFails))
	assert.Equal(t, 0, testutil.CollectAndCount(r.duration))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder("profz")
	session(t, r)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `profz_span_duration_seconds_count{depth="1",span="db"} 1`)
	assert.Contains(t, string(body), "profz_sessions_total 1")
}

func TestDepthLabel(t *testing.T) {
	assert.Equal(t, "0", depthLabel(0))
	assert.Equal(t, "9", depthLabel(9))
	assert.Equal(t, "10+", depthLabel(10))
	assert.Equal(t, "10+", depthLabel(42))
}
