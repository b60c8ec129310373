package profz

import (
	"strings"
	"time"
)

// NodeID is a handle to a Node inside its Tree.
type NodeID int

// NoNode is the parent of the root and the cursor of a closed tracker.
const NoNode NodeID = -1

// unaccountedFloorMs is the noise floor below which unaccounted time is reported as zero.
const unaccountedFloorMs = 1.0

// Node is a single timed span.
// Nodes are stored in a Tree; parent and children are handles into that
// Tree, so a Node never holds a reference to its parent.
//
//nolint:govet // Field order follows the report layout.
type Node struct {
	Start      time.Time `json:"start"`
	Stop       time.Time `json:"stop,omitempty"`
	Name       string    `json:"name"`
	Annotation string    `json:"annotation,omitempty"`
	Depth      int       `json:"depth"`
	parent     NodeID
	children   []NodeID
	stopped    bool
}

func newNode(name string, at time.Time, annotation ...string) Node {
	n := Node{
		Name:   name,
		Start:  at,
		parent: NoNode,
	}
	n.annotate(annotation)
	return n
}

// annotate appends values to the annotation, space separated.
func (n *Node) annotate(values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		if n.Annotation != "" {
			n.Annotation += " "
		}
		n.Annotation += v
	}
}

// Stopped reports whether the node has been closed.
func (n Node) Stopped() bool {
	return n.stopped
}

// Elapsed returns the time between start and stop.
// Fails with ErrNotStopped if the node is still open.
func (n Node) Elapsed() (time.Duration, error) {
	if !n.Stopped() {
		return 0, &StateError{Err: ErrNotStopped, Path: []string{n.Name}}
	}
	return n.Stop.Sub(n.Start), nil
}

// ElapsedMs returns Elapsed in fractional milliseconds.
func (n Node) ElapsedMs() (float64, error) {
	d, err := n.Elapsed()
	if err != nil {
		return 0, err
	}
	return toMs(d), nil
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Tree is an arena of nodes. The root is always the first node.
// Each node appears in exactly one child list, except the root.
type Tree struct {
	nodes []Node
}

func newTree(root Node) *Tree {
	root.Depth = 0
	root.parent = NoNode
	return &Tree{nodes: []Node{root}}
}

// Root returns the handle of the root node.
func (*Tree) Root() NodeID {
	return 0
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes)
}

// Node returns a copy of the node with the given handle.
func (t *Tree) Node(id NodeID) (Node, bool) {
	if !t.valid(id) {
		return Node{}, false
	}
	return t.nodes[id], true
}

// Parent returns the handle of the enclosing node, or NoNode for the root.
func (t *Tree) Parent(id NodeID) NodeID {
	if !t.valid(id) {
		return NoNode
	}
	return t.nodes[id].parent
}

// Children returns the direct children of a node in start order.
func (t *Tree) Children(id NodeID) []NodeID {
	if !t.valid(id) || len(t.nodes[id].children) == 0 {
		return nil
	}
	out := make([]NodeID, len(t.nodes[id].children))
	copy(out, t.nodes[id].children)
	return out
}

// addChild stores n as the last child of parent and returns its handle.
func (t *Tree) addChild(parent NodeID, n Node) NodeID {
	id := NodeID(len(t.nodes))
	n.parent = parent
	n.Depth = t.nodes[parent].Depth + 1
	t.nodes = append(t.nodes, n)
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id
}

// stop closes a node, appending any annotation given at stop time.
func (t *Tree) stop(id NodeID, at time.Time, annotation ...string) error {
	n := &t.nodes[id]
	if n.Stopped() {
		return &ProtocolError{Op: "stop", Name: n.Name, Err: ErrAlreadyStopped}
	}
	n.annotate(annotation)
	if at.Before(n.Start) {
		at = n.Start
	}
	n.Stop = at
	n.stopped = true
	return nil
}

// Path returns the names from the root down to the node, inclusive.
func (t *Tree) Path(id NodeID) []string {
	var path []string
	for cur := id; t.valid(cur); cur = t.nodes[cur].parent {
		path = append(path, t.nodes[cur].Name)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// ElapsedMs returns the elapsed milliseconds of a closed node.
func (t *Tree) ElapsedMs(id NodeID) (float64, error) {
	if !t.valid(id) {
		return 0, &StateError{Err: ErrEmptyTree}
	}
	ms, err := t.nodes[id].ElapsedMs()
	if err != nil {
		return 0, &StateError{Err: ErrNotStopped, Path: t.Path(id)}
	}
	return ms, nil
}

// UnaccountedMs returns the node's elapsed time not covered by its direct
// children. Leaves and differences under one millisecond report zero.
func (t *Tree) UnaccountedMs(id NodeID) (float64, error) {
	total, err := t.ElapsedMs(id)
	if err != nil {
		return 0, err
	}
	children := t.nodes[id].children
	if len(children) == 0 {
		return 0, nil
	}

	var sum float64
	for _, c := range children {
		ms, err := t.ElapsedMs(c)
		if err != nil {
			return 0, err
		}
		sum += ms
	}

	unaccounted := total - sum
	if unaccounted < unaccountedFloorMs {
		return 0, nil
	}
	return unaccounted, nil
}

// Walk visits every node depth first, parents before children.
// Returning an error from fn stops the walk.
func (t *Tree) Walk(fn func(id NodeID, n Node) error) error {
	if len(t.nodes) == 0 {
		return nil
	}
	return t.walk(t.Root(), fn)
}

func (t *Tree) walk(id NodeID, fn func(id NodeID, n Node) error) error {
	if err := fn(id, t.nodes[id]); err != nil {
		return err
	}
	for _, c := range t.nodes[id].children {
		if err := t.walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// PathString returns the slash separated path of a node.
func (t *Tree) PathString(id NodeID) string {
	return strings.Join(t.Path(id), "/")
}
