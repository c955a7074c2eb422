package contractclass

import (
	"encoding/json"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureTree is [151, 104, [170, 225], 157, [[[101], 195, 125]], 162].
func fixtureTree() *NestedIntList {
	return Node(
		Leaf(151),
		Leaf(104),
		Node(Leaf(170), Leaf(225)),
		Leaf(157),
		Node(Node(Node(Leaf(101)), Leaf(195), Leaf(125))),
		Leaf(162),
	)
}

// TestGetVisitedSegments tests the reference visitation example.
func TestGetVisitedSegments(t *testing.T) {
	tree := fixtureTree()
	require.Equal(t, uint64(1390), tree.TotalLength())

	segments, err := GetVisitedSegments(tree, []uint64{0, 1, 255, 425, 431, 807, 907, 1103})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 255, 425, 807, 1103}, segments)

	// Order and duplicates do not matter.
	segments, err = GetVisitedSegments(tree, []uint64{1103, 907, 0, 807, 431, 1, 255, 425, 0, 807})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 255, 425, 807, 1103}, segments)

	assert.Equal(t, uint64(151+170+225+101+125), VisitedBytecodeLength(tree, segments))
}

// TestGetVisitedSegmentsInvalid tests structural violations.
func TestGetVisitedSegmentsInvalid(t *testing.T) {
	tree := fixtureTree()

	_, err := GetVisitedSegments(tree, []uint64{0, 1, 255, 425, 431, 907, 1103})
	var structErr *InvalidSegmentStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, uint64(907), structErr.PC)
	assert.Equal(t, uint64(807), structErr.Boundary)

	// Entering the node [170, 225] in its second leaf.
	_, err = GetVisitedSegments(tree, []uint64{0, 425})
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, uint64(425), structErr.PC)
	assert.Equal(t, uint64(255), structErr.Boundary)

	// Past the end of the bytecode.
	_, err = GetVisitedSegments(tree, []uint64{0, 1390})
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, uint64(1390), structErr.PC)
	assert.Equal(t, uint64(1390), structErr.Boundary)
}

// TestGetVisitedSegmentsLeafRoot tests a tree that is a single leaf.
func TestGetVisitedSegmentsLeafRoot(t *testing.T) {
	segments, err := GetVisitedSegments(Leaf(10), []uint64{0, 3, 9})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, segments)

	_, err = GetVisitedSegments(Leaf(10), []uint64{3})
	var structErr *InvalidSegmentStructureError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, uint64(3), structErr.PC)
	assert.Equal(t, uint64(0), structErr.Boundary)

	segments, err = GetVisitedSegments(Leaf(10), nil)
	require.NoError(t, err)
	assert.Empty(t, segments)
}

// TestNestedIntListJSON tests the nested array form.
func TestNestedIntListJSON(t *testing.T) {
	const doc = `[151,104,[170,225],157,[[[101],195,125]],162]`
	var tree NestedIntList
	require.NoError(t, json.Unmarshal([]byte(doc), &tree))
	assert.Equal(t, fixtureTree(), &tree)
	assert.Equal(t, doc, tree.String())

	assert.Error(t, json.Unmarshal([]byte(`[1,"x"]`), &tree))
	assert.Error(t, json.Unmarshal([]byte(`[1,null]`), &tree))
}

// randomTree builds a random segment tree and returns its leaves in order.
func randomTree(r *rand.Rand, depth int) *NestedIntList {
	if depth == 0 || r.Intn(3) == 0 {
		return Leaf(uint64(1 + r.Intn(20)))
	}
	n := 1 + r.Intn(4)
	children := make([]*NestedIntList, n)
	for i := range children {
		children[i] = randomTree(r, depth-1)
	}
	return Node(children...)
}

type leafInfo struct {
	start, length uint64
	ancestors     []*NestedIntList
}

func collectLeaves(tree *NestedIntList) ([]leafInfo, map[*NestedIntList]int) {
	var leaves []leafInfo
	firstLeaf := make(map[*NestedIntList]int)
	var offset uint64
	var visit func(l *NestedIntList, path []*NestedIntList)
	visit = func(l *NestedIntList, path []*NestedIntList) {
		if !l.Node {
			idx := len(leaves)
			for _, a := range path {
				if _, ok := firstLeaf[a]; !ok {
					firstLeaf[a] = idx
				}
			}
			leaves = append(leaves, leafInfo{start: offset, length: l.Length, ancestors: append([]*NestedIntList(nil), path...)})
			offset += l.Length
			return
		}
		path = append(path, l)
		for _, c := range l.Children {
			visit(c, path)
		}
	}
	visit(tree, nil)
	return leaves, firstLeaf
}

// TestGetVisitedSegmentsClosedSets tests that any visited set closed under
// containing-segment starts yields exactly its leaf starts.
func TestGetVisitedSegmentsClosedSets(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		tree := randomTree(r, 4)
		leaves, firstLeaf := collectLeaves(tree)

		selected := make(map[int]bool)
		for i := range leaves {
			if r.Intn(2) == 0 {
				selected[i] = true
			}
		}
		// Close the selection: entering a node means entering its first leaf.
		for changed := true; changed; {
			changed = false
			for i := range leaves {
				if !selected[i] {
					continue
				}
				for _, a := range leaves[i].ancestors {
					if f := firstLeaf[a]; !selected[f] {
						selected[f] = true
						changed = true
					}
				}
			}
		}

		var pcs, want []uint64
		for i, leaf := range leaves {
			if !selected[i] {
				continue
			}
			want = append(want, leaf.start)
			pcs = append(pcs, leaf.start, leaf.start+uint64(r.Int63n(int64(leaf.length))))
		}
		r.Shuffle(len(pcs), func(i, j int) { pcs[i], pcs[j] = pcs[j], pcs[i] })
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

		got, err := GetVisitedSegments(tree, pcs)
		require.NoError(t, err, "tree %s pcs %v", tree, pcs)
		if len(want) == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, want, got, "tree %s", tree)
		}
	}
}
