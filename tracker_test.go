package profz

import (
	"errors"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

// fakeClock is the part of the clockz fake clock the tests drive.
type fakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

func newTestTracker() (*Tracker, fakeClock) {
	clock := clockz.NewFakeClockAt(epoch)
	return New().WithClock(clock), clock
}

func TestNewTracker(t *testing.T) {
	tracker := New()
	require.NotNil(t, tracker)
	assert.Equal(t, StateEmpty, tracker.State())
	assert.Nil(t, tracker.Tree())
	assert.NotNil(t, tracker.Clock())

	_, ok := tracker.Current()
	assert.False(t, ok)
}

func TestTrackerStateTransitions(t *testing.T) {
	tracker, _ := newTestTracker()

	require.NoError(t, tracker.Start("root"))
	assert.Equal(t, StateOpen, tracker.State())

	require.NoError(t, tracker.Start("child"))
	cur, ok := tracker.Current()
	require.True(t, ok)
	assert.Equal(t, "child", cur.Name)

	require.NoError(t, tracker.Stop("child"))
	cur, ok = tracker.Current()
	require.True(t, ok)
	assert.Equal(t, "root", cur.Name)
	assert.Equal(t, StateOpen, tracker.State())

	require.NoError(t, tracker.Stop("root"))
	assert.Equal(t, StateClosed, tracker.State())
	_, ok = tracker.Current()
	assert.False(t, ok)
}

func TestTrackerMismatchedStop(t *testing.T) {
	tracker, _ := newTestTracker()
	require.NoError(t, tracker.Start("A"))
	require.NoError(t, tracker.Start("B"))

	err := tracker.Stop("A")
	require.Error(t, err)

	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.ErrorIs(t, err, ErrNameMismatch)
	assert.Equal(t, "B", protoErr.Open)
	assert.Equal(t, "profz: closing node A but current node is B", err.Error())

	// The cursor is untouched; B can still be closed.
	require.NoError(t, tracker.Stop("B"))
	require.NoError(t, tracker.Stop("A"))
}

func TestTrackerStopBeforeStart(t *testing.T) {
	tracker, _ := newTestTracker()

	err := tracker.Stop("A")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, "profz: closing node A but tree not initialized", err.Error())
}

func TestTrackerStopAfterClose(t *testing.T) {
	tracker, _ := newTestTracker()
	require.NoError(t, tracker.Start("A"))
	require.NoError(t, tracker.Stop("A"))

	err := tracker.Stop("A")
	assert.ErrorIs(t, err, ErrNoOpenNode)

	var protoErr *ProtocolError
	assert.True(t, errors.As(err, &protoErr))
}

func TestTrackerRootReuseAfterClose(t *testing.T) {
	tracker, _ := newTestTracker()
	require.NoError(t, tracker.Start("A"))
	require.NoError(t, tracker.Stop("A"))

	err := tracker.Start("B")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRootClosed)

	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "start", protoErr.Op)
	assert.Equal(t, 1, tracker.Tree().Len())
}

func TestTrackerReportBeforeStart(t *testing.T) {
	tracker, _ := newTestTracker()

	_, err := tracker.Report()
	assert.ErrorIs(t, err, ErrEmptyTree)

	var stateErr *StateError
	assert.True(t, errors.As(err, &stateErr))

	var b strings.Builder
	assert.ErrorIs(t, tracker.WriteReport(&b), ErrEmptyTree)
	assert.Empty(t, b.String())
}

func TestTrackerReportBeforeClose(t *testing.T) {
	tracker, _ := newTestTracker()
	require.NoError(t, tracker.Start("A"))

	_, err := tracker.Report()
	assert.ErrorIs(t, err, ErrNotStopped)
}

func TestTrackerZeroInstantClock(t *testing.T) {
	tracker := New().WithClock(clockz.NewFakeClockAt(time.Time{}))
	require.NoError(t, tracker.Start("a"))
	require.NoError(t, tracker.Stop("a"))
	assert.Equal(t, StateClosed, tracker.State())

	report, err := tracker.Report()
	require.NoError(t, err)
	assert.Equal(t, ReportHeader+"\n"+`<node time="0.00ms" name="a"/>`, report)
}

func TestTrackerWriteReport(t *testing.T) {
	tracker, clock := newTestTracker()
	require.NoError(t, tracker.Start("root"))
	clock.Advance(3 * time.Millisecond)
	require.NoError(t, tracker.Stop("root", "done"))

	var b strings.Builder
	require.NoError(t, tracker.WriteReport(&b))

	report, err := tracker.Report()
	require.NoError(t, err)
	assert.Equal(t, report, b.String())
	assert.Contains(t, report, `<node time="3.00ms" name="root" additional="done"/>`)
}

func TestTrackerAnnotationAtStartAndStop(t *testing.T) {
	tracker, _ := newTestTracker()
	require.NoError(t, tracker.Start("q", "SELECT"))
	require.NoError(t, tracker.Stop("q", "rows=2"))

	n, ok := tracker.Tree().Node(tracker.Tree().Root())
	require.True(t, ok)
	assert.Equal(t, "SELECT rows=2", n.Annotation)
}

func TestTrackerStartAtSeedsRoot(t *testing.T) {
	tracker, clock := newTestTracker()
	requestStart := epoch.Add(-40 * time.Millisecond)

	require.NoError(t, tracker.StartAt("root", requestStart))
	require.NoError(t, tracker.StartAt("init", requestStart))
	require.NoError(t, tracker.Stop("init"))
	clock.Advance(10 * time.Millisecond)
	require.NoError(t, tracker.Stop("root"))

	tree := tracker.Tree()
	rootMs, err := tree.ElapsedMs(tree.Root())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rootMs, 1e-9)

	initMs, err := tree.ElapsedMs(tree.Children(tree.Root())[0])
	require.NoError(t, err)
	assert.InDelta(t, 40.0, initMs, 1e-9)
}

func TestTrackerEndToEndTree(t *testing.T) {
	tracker, clock := newTestTracker()

	require.NoError(t, tracker.Start("root"))
	require.NoError(t, tracker.Start("db"))
	clock.Advance(3 * time.Millisecond)
	require.NoError(t, tracker.Stop("db"))
	require.NoError(t, tracker.Start("render"))
	clock.Advance(5 * time.Millisecond)
	require.NoError(t, tracker.Stop("render"))
	clock.Advance(7 * time.Millisecond)
	require.NoError(t, tracker.Stop("root"))

	tree := tracker.Tree()
	children := tree.Children(tree.Root())
	require.Len(t, children, 2)

	db, _ := tree.Node(children[0])
	render, _ := tree.Node(children[1])
	assert.Equal(t, "db", db.Name)
	assert.Equal(t, "render", render.Name)

	rootMs, _ := tree.ElapsedMs(tree.Root())
	dbMs, _ := tree.ElapsedMs(children[0])
	renderMs, _ := tree.ElapsedMs(children[1])
	unaccounted, err := tree.UnaccountedMs(tree.Root())
	require.NoError(t, err)
	assert.InDelta(t, rootMs-(dbMs+renderMs), unaccounted, 1e-9)
	assert.InDelta(t, 7.0, unaccounted, 1e-9)
}

// Depth of every node equals the number of spans open when it started.
func TestTrackerNestingInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		tracker, clock := newTestTracker()
		require.NoError(t, tracker.Start("root"))

		open := []string{"root"}
		want := map[NodeID]int{0: 0}
		next := NodeID(1)

		for step := 0; step < 40; step++ {
			clock.Advance(time.Duration(rng.Intn(3)) * time.Millisecond)
			if len(open) > 1 && rng.Intn(2) == 0 {
				name := open[len(open)-1]
				require.NoError(t, tracker.Stop(name))
				open = open[:len(open)-1]
				continue
			}
			name := string(rune('a' + rng.Intn(26)))
			require.NoError(t, tracker.Start(name))
			want[next] = len(open)
			next++
			open = append(open, name)
		}
		for i := len(open) - 1; i >= 0; i-- {
			require.NoError(t, tracker.Stop(open[i]))
		}

		tree := tracker.Tree()
		require.Equal(t, int(next), tree.Len())
		err := tree.Walk(func(id NodeID, n Node) error {
			assert.Equal(t, want[id], n.Depth)
			ms, err := tree.ElapsedMs(id)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, ms, 0.0)
			return nil
		})
		require.NoError(t, err)
		_, err = tracker.Report()
		require.NoError(t, err)
	}
}

func TestTrackerReset(t *testing.T) {
	tracker, _ := newTestTracker()
	require.NoError(t, tracker.Start("A"))
	require.NoError(t, tracker.Stop("A"))

	tracker.Reset()
	assert.Equal(t, StateEmpty, tracker.State())
	require.NoError(t, tracker.Start("B"))
	assert.Equal(t, StateOpen, tracker.State())
}

func TestTrackerOnCloseFiresOnce(t *testing.T) {
	tracker, _ := newTestTracker()

	var calls atomic.Int32
	var seen *Tree
	tracker.OnClose(func(tree *Tree) {
		calls.Add(1)
		seen = tree
	})

	require.NoError(t, tracker.Start("root"))
	require.NoError(t, tracker.Start("child"))
	require.NoError(t, tracker.Stop("child"))
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, tracker.Stop("root"))
	assert.Equal(t, int32(1), calls.Load())
	assert.Same(t, tracker.Tree(), seen)

	_ = tracker.Stop("root")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTrackerRemoveHandler(t *testing.T) {
	tracker, _ := newTestTracker()

	var first, second atomic.Int32
	id := tracker.OnClose(func(*Tree) { first.Add(1) })
	tracker.OnClose(func(*Tree) { second.Add(1) })
	assert.Equal(t, uint64(0), tracker.OnClose(nil))

	tracker.RemoveHandler(id)

	require.NoError(t, tracker.Start("root"))
	require.NoError(t, tracker.Stop("root"))
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestTrackerHandlerPanicRecovered(t *testing.T) {
	tracker, _ := newTestTracker()

	var hookID uint64
	var hookValue interface{}
	tracker.SetPanicHook(func(id uint64, r interface{}) {
		hookID = id
		hookValue = r
	})

	id := tracker.OnClose(func(*Tree) { panic("boom") })
	var after atomic.Bool
	tracker.OnClose(func(*Tree) { after.Store(true) })

	require.NoError(t, tracker.Start("root"))
	require.NoError(t, tracker.Stop("root"))

	assert.Equal(t, id, hookID)
	assert.Equal(t, "boom", hookValue)
	assert.True(t, after.Load(), "later handlers still run")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(9).String())
}
