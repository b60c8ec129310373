package profz

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReportHeader opens every rendered report.
const ReportHeader = `<?xml version="1.0" charset="utf-8" ?>`

const indent = "    "

var quoteStripper = strings.NewReplacer(`"`, "")

// Render produces the full report for a closed tree.
func (t *Tree) Render() (string, error) {
	var b strings.Builder
	if err := t.RenderTo(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderTo renders the report into w.
// Nothing is written if any node is still open.
func (t *Tree) RenderTo(w io.Writer) error {
	if len(t.nodes) == 0 {
		return &StateError{Err: ErrEmptyTree}
	}

	var b strings.Builder
	b.WriteString(ReportHeader)
	if err := t.renderInto(&b, t.Root()); err != nil {
		return err
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Tree) renderInto(b *strings.Builder, id NodeID) error {
	n := t.nodes[id]
	if !n.Stopped() {
		return &StateError{Err: ErrNotStopped, Path: t.Path(id)}
	}

	elapsed, err := t.ElapsedMs(id)
	if err != nil {
		return err
	}
	unaccounted, err := t.UnaccountedMs(id)
	if err != nil {
		return err
	}

	pre := strings.Repeat(indent, n.Depth)
	b.WriteString("\n")
	b.WriteString(pre)
	fmt.Fprintf(b, `<node time="%sms" name="%s"`, formatMs(elapsed), quoteStripper.Replace(n.Name))
	if unaccounted > 0 {
		fmt.Fprintf(b, ` unprofiled="%sms %d%%"`, formatMs(unaccounted), percentOf(unaccounted, elapsed))
	}
	if a := strings.TrimSpace(n.Annotation); a != "" {
		fmt.Fprintf(b, ` additional="%s"`, quoteStripper.Replace(a))
	}

	if len(n.children) == 0 {
		b.WriteString("/>")
		return nil
	}

	b.WriteString(">")
	for _, c := range n.children {
		if err := t.renderInto(b, c); err != nil {
			return err
		}
	}
	b.WriteString("\n")
	b.WriteString(pre)
	b.WriteString("</node>")
	return nil
}

func formatMs(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 2, 64)
}

// percentOf returns part as a whole percentage of total, rounded half away from zero.
func percentOf(part, total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(part / total * 100))
}
