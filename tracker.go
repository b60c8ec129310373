package profz

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// State is the lifecycle phase of a Tracker.
type State int

const (
	// StateEmpty means nothing has been started yet.
	StateEmpty State = iota
	// StateOpen means at least one span is open.
	StateOpen
	// StateClosed means the root has been stopped and the tree can be reported.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseHandler is called once the root span of a session is stopped.
// The tree is complete and will not change afterwards.
type CloseHandler func(tree *Tree)

type handlerEntry struct {
	handler CloseHandler
	id      uint64
}

// Tracker builds a span tree from start and stop calls.
// Use one Tracker per session (typically one per request). The mutex keeps
// a shared Tracker consistent, but spans must still close in reverse order
// of opening, so callers serialize start and stop themselves.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracker struct {
	handlers  []handlerEntry
	panicHook func(handlerID uint64, r interface{})
	tree      *Tree
	clock     clockz.Clock
	current   NodeID
	mu        sync.Mutex
	nextID    atomic.Uint64
}

// New creates an empty tracker using the real clock.
func New() *Tracker {
	return &Tracker{
		clock:   clockz.RealClock,
		current: NoNode,
	}
}

// WithClock returns a new empty tracker with the specified clock.
// Enables clock injection for deterministic testing.
func (*Tracker) WithClock(clock clockz.Clock) *Tracker {
	return &Tracker{
		clock:   clock,
		current: NoNode,
	}
}

// Clock returns the time source used for span timestamps.
func (t *Tracker) Clock() clockz.Clock {
	return t.clock
}

// Start opens a span named name under the currently open span.
// The first span of a session becomes the root.
func (t *Tracker) Start(name Key, annotation ...string) error {
	return t.StartAt(name, t.clock.Now(), annotation...)
}

// StartAt is Start with an explicit start instant, for spans that began
// before the tracker was reachable (for example, at request arrival).
func (t *Tracker) StartAt(name Key, at time.Time, annotation ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := newNode(name, at, annotation...)

	if t.tree == nil {
		t.tree = newTree(node)
		t.current = t.tree.Root()
		return nil
	}

	if t.current == NoNode {
		return &ProtocolError{Op: "start", Name: name, Err: ErrRootClosed}
	}

	t.current = t.tree.addChild(t.current, node)
	return nil
}

// Stop closes the currently open span, which must be named name.
// Stopping the root closes the session and runs the close handlers.
func (t *Tracker) Stop(name Key, annotation ...string) error {
	tree, err := t.stop(name, annotation)
	if err != nil {
		return err
	}
	if tree != nil {
		t.executeHandlers(tree)
	}
	return nil
}

func (t *Tracker) stop(name Key, annotation []string) (*Tree, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tree == nil {
		return nil, &ProtocolError{Op: "stop", Name: name, Err: ErrNotInitialized}
	}
	if t.current == NoNode {
		return nil, &ProtocolError{Op: "stop", Name: name, Err: ErrNoOpenNode}
	}

	open := t.tree.nodes[t.current].Name
	if open != name {
		return nil, &ProtocolError{Op: "stop", Name: name, Open: open, Err: ErrNameMismatch}
	}

	if err := t.tree.stop(t.current, t.clock.Now(), annotation...); err != nil {
		return nil, err
	}
	t.current = t.tree.Parent(t.current)

	if t.current == NoNode {
		return t.tree, nil
	}
	return nil, nil
}

// Report renders the session tree.
// Fails with a StateError if nothing was started or a span is still open.
func (t *Tracker) Report() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tree == nil {
		return "", &StateError{Err: ErrEmptyTree}
	}
	return t.tree.Render()
}

// WriteReport renders the session tree into w.
func (t *Tracker) WriteReport(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tree == nil {
		return &StateError{Err: ErrEmptyTree}
	}
	return t.tree.RenderTo(w)
}

// State returns the current lifecycle phase.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.tree == nil:
		return StateEmpty
	case t.current == NoNode:
		return StateClosed
	default:
		return StateOpen
	}
}

// Tree returns the session tree, or nil before the first Start.
// The tree must not be read while spans are still being started or stopped.
func (t *Tracker) Tree() *Tree {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree
}

// Current returns the span awaiting the next Stop.
func (t *Tracker) Current() (Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tree == nil || t.current == NoNode {
		return Node{}, false
	}
	return t.tree.Node(t.current)
}

// Reset discards the session so the tracker can record a new one.
// Registered handlers are kept.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tree = nil
	t.current = NoNode
}

// OnClose registers a handler called when the root span stops.
func (t *Tracker) OnClose(handler CloseHandler) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers = append(t.handlers, handlerEntry{id: id, handler: handler})
	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracker) RemoveHandler(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *Tracker) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.panicHook = hook
}

func (t *Tracker) executeHandlers(tree *Tree) {
	t.mu.Lock()
	if len(t.handlers) == 0 {
		t.mu.Unlock()
		return
	}
	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	hook := t.panicHook
	t.mu.Unlock()

	for _, h := range handlers {
		safeCall(h, tree, hook)
	}
}

func safeCall(entry handlerEntry, tree *Tree, hook func(uint64, interface{})) {
	defer func() {
		if r := recover(); r != nil {
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(tree)
}
