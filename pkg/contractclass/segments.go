package contractclass

import (
	"encoding/json"
	"fmt"
	"sort"
)

// InvalidSegmentStructureError reports a visited offset that lies inside a
// segment whose start was never visited.
type InvalidSegmentStructureError struct {
	PC       uint64
	Boundary uint64
}

func (e *InvalidSegmentStructureError) Error() string {
	return fmt.Sprintf("invalid segment structure: pc %d was visited, but the beginning of the segment (%d) was not", e.PC, e.Boundary)
}

// NestedIntList describes how bytecode splits into segments. A leaf holds a
// segment length; a node concatenates its children.
type NestedIntList struct {
	Node     bool
	Length   uint64
	Children []*NestedIntList
}

// Leaf returns a leaf segment of the given length.
func Leaf(length uint64) *NestedIntList {
	return &NestedIntList{Length: length}
}

// Node returns a node over children.
func Node(children ...*NestedIntList) *NestedIntList {
	return &NestedIntList{Node: true, Children: children}
}

// TotalLength returns the bytecode length covered by the tree.
func (l *NestedIntList) TotalLength() uint64 {
	if !l.Node {
		return l.Length
	}
	var total uint64
	for _, c := range l.Children {
		total += c.TotalLength()
	}
	return total
}

// MarshalJSON renders leaves as numbers and nodes as arrays.
func (l *NestedIntList) MarshalJSON() ([]byte, error) {
	if !l.Node {
		return json.Marshal(l.Length)
	}
	children := l.Children
	if children == nil {
		children = []*NestedIntList{}
	}
	return json.Marshal(children)
}

// UnmarshalJSON parses nested arrays of non-negative integers.
func (l *NestedIntList) UnmarshalJSON(data []byte) error {
	var raw json.RawMessage = data
	var children []*NestedIntList
	if err := json.Unmarshal(raw, &children); err == nil {
		for i, c := range children {
			if c == nil {
				return fmt.Errorf("%w: null segment at index %d", ErrInvalidSegmentLengths, i)
			}
		}
		*l = NestedIntList{Node: true, Children: children}
		return nil
	}
	var length uint64
	if err := json.Unmarshal(raw, &length); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSegmentLengths, err)
	}
	*l = NestedIntList{Length: length}
	return nil
}

func (l *NestedIntList) String() string {
	b, err := json.Marshal(l)
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

// GetVisitedSegments returns the start offsets of the leaf segments that
// contain at least one visited offset, in ascending order.
//
// Every visited offset must be reachable through segment starts: a segment
// that contains a visited offset must have its own start visited too. When
// that does not hold the innermost offending segment is reported. Offsets at
// or beyond the end of the bytecode are reported against the total length.
func GetVisitedSegments(tree *NestedIntList, visitedPCs []uint64) ([]uint64, error) {
	pcs := sortedUnique(visitedPCs)
	w := &segmentWalker{pcs: pcs}

	// Walk the tree as the only child of a synthetic root so a leaf root is
	// checked like any other child.
	segments, err := w.walk(Node(tree))
	if err != nil {
		return nil, err
	}
	if pc, ok := w.peek(); ok {
		return nil, &InvalidSegmentStructureError{PC: pc, Boundary: w.offset}
	}
	return segments, nil
}

type segmentWalker struct {
	pcs    []uint64
	offset uint64
}

func (w *segmentWalker) peek() (uint64, bool) {
	if len(w.pcs) == 0 {
		return 0, false
	}
	return w.pcs[0], true
}

func (w *segmentWalker) walk(l *NestedIntList) ([]uint64, error) {
	if !l.Node {
		start, end := w.offset, w.offset+l.Length
		var res []uint64
		if pc, ok := w.peek(); ok && pc >= start && pc < end {
			res = append(res, start)
		}
		for pc, ok := w.peek(); ok && pc >= start && pc < end; pc, ok = w.peek() {
			w.pcs = w.pcs[1:]
		}
		w.offset = end
		return res, nil
	}

	var res []uint64
	for _, child := range l.Children {
		start := w.offset
		next, hasNext := w.peek()
		inner, err := w.walk(child)
		if err != nil {
			return nil, err
		}
		if hasNext && len(inner) > 0 && next != start {
			return nil, &InvalidSegmentStructureError{PC: next, Boundary: start}
		}
		res = append(res, inner...)
	}
	return res, nil
}

// VisitedBytecodeLength sums the lengths of the leaf segments starting at the
// given offsets.
func VisitedBytecodeLength(tree *NestedIntList, segments []uint64) uint64 {
	starts := make(map[uint64]struct{}, len(segments))
	for _, s := range segments {
		starts[s] = struct{}{}
	}
	var total, offset uint64
	var visit func(l *NestedIntList)
	visit = func(l *NestedIntList) {
		if !l.Node {
			if _, ok := starts[offset]; ok {
				total += l.Length
			}
			offset += l.Length
			return
		}
		for _, c := range l.Children {
			visit(c)
		}
	}
	visit(tree)
	return total
}

func sortedUnique(pcs []uint64) []uint64 {
	out := append([]uint64(nil), pcs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, pc := range out {
		if i == 0 || pc != out[n-1] {
			out[n] = pc
			n++
		}
	}
	return out[:n]
}
