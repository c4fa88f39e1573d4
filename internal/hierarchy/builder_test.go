package hierarchy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

func ptr(v int64) *int64 { return &v }

func node(id int64, parent *int64) types.HierarchyNode {
	return types.HierarchyNode{ID: id, ParentID: parent}
}

func byID(nodes []types.HierarchyNode) map[int64]types.HierarchyNode {
	out := make(map[int64]types.HierarchyNode, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out
}

func TestBuild_ThreeLevelTaxonomy(t *testing.T) {
	// Fabaceae > Acacia > Acacia dealbata
	res, err := Build([]types.HierarchyNode{
		{ID: 1, Label: "Fabaceae"},
		{ID: 2, ParentID: ptr(1), Label: "Acacia"},
		{ID: 3, ParentID: ptr(2), Label: "Acacia dealbata"},
	}, Options{})
	require.NoError(t, err)

	got := byID(res.Nodes)
	assert.Equal(t, [3]int64{1, 6, 0}, [3]int64{got[1].Left, got[1].Right, int64(got[1].Level)})
	assert.Equal(t, [3]int64{2, 5, 1}, [3]int64{got[2].Left, got[2].Right, int64(got[2].Level)})
	assert.Equal(t, [3]int64{3, 4, 2}, [3]int64{got[3].Left, got[3].Right, int64(got[3].Level)})
	assert.Equal(t, 1, res.Roots)
	assert.Equal(t, 2, res.MaxLevel)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "Acacia", got[2].Label, "labels carried through")
}

func TestBuild_SiblingOrder(t *testing.T) {
	res, err := Build([]types.HierarchyNode{
		{ID: 1},
		{ID: 4, ParentID: ptr(1), SortKey: 1},
		{ID: 3, ParentID: ptr(1), SortKey: 2},
		{ID: 2, ParentID: ptr(1), SortKey: 1},
	}, Options{})
	require.NoError(t, err)

	got := byID(res.Nodes)
	// SortKey first, then id.
	assert.Equal(t, int64(2), got[2].Left)
	assert.Equal(t, int64(4), got[4].Left)
	assert.Equal(t, int64(6), got[3].Left)
	assert.Equal(t, int64(8), got[1].Right)

	// Input order is preserved in the result.
	ids := []int64{}
	for _, n := range res.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []int64{1, 4, 3, 2}, ids)
}

func TestBuild_ForestSharesOneCursor(t *testing.T) {
	res, err := Build([]types.HierarchyNode{
		node(10, nil),
		node(11, ptr(10)),
		node(20, nil),
	}, Options{})
	require.NoError(t, err)

	got := byID(res.Nodes)
	assert.Equal(t, int64(1), got[10].Left)
	assert.Equal(t, int64(4), got[10].Right)
	assert.Equal(t, int64(5), got[20].Left)
	assert.Equal(t, int64(6), got[20].Right)
	assert.Equal(t, 2, res.Roots)
}

func TestBuild_Empty(t *testing.T) {
	res, err := Build(nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)
	assert.Zero(t, res.Roots)
}

func TestBuild_Orphans(t *testing.T) {
	nodes := []types.HierarchyNode{
		node(1, nil),
		node(2, ptr(1)),
		node(3, ptr(99)),
	}

	t.Run("promoted with warning", func(t *testing.T) {
		res, err := Build(nodes, Options{})
		require.NoError(t, err)
		assert.Equal(t, []Warning{{NodeID: 3, MissingParent: 99}}, res.Warnings)
		assert.Equal(t, 2, res.Roots)
		got := byID(res.Nodes)
		assert.Equal(t, 0, got[3].Level)
		assert.Equal(t, int64(5), got[3].Left)
	})

	t.Run("strict rejects", func(t *testing.T) {
		_, err := Build(nodes, Options{Strict: true})
		var nf *types.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, types.NotFoundNode, nf.Kind)
		assert.Equal(t, "99", nf.Name)
	})
}

func TestBuild_RootSentinel(t *testing.T) {
	res, err := Build([]types.HierarchyNode{
		node(1, ptr(0)),
		node(2, ptr(1)),
	}, Options{RootSentinel: ptr(0)})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, res.Roots)
	assert.Equal(t, int64(4), byID(res.Nodes)[1].Right)
}

func TestBuild_Cycles(t *testing.T) {
	t.Run("three node loop", func(t *testing.T) {
		_, err := Build([]types.HierarchyNode{
			node(1, nil),
			node(2, ptr(4)),
			node(3, ptr(2)),
			node(4, ptr(3)),
		}, Options{})
		var ce *types.CyclicHierarchyError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, types.ErrCyclicHierarchy)
		assert.Len(t, ce.NodeIDs, 4)
		assert.Equal(t, ce.NodeIDs[0], ce.NodeIDs[3], "loop is closed")
		assert.ElementsMatch(t, []int64{2, 3, 4}, ce.NodeIDs[:3])
	})

	t.Run("self parent", func(t *testing.T) {
		_, err := Build([]types.HierarchyNode{node(7, ptr(7))}, Options{})
		var ce *types.CyclicHierarchyError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, []int64{7, 7}, ce.NodeIDs)
	})

	t.Run("tail into loop", func(t *testing.T) {
		_, err := Build([]types.HierarchyNode{
			node(1, ptr(2)),
			node(2, ptr(1)),
			node(3, ptr(1)),
		}, Options{})
		var ce *types.CyclicHierarchyError
		require.ErrorAs(t, err, &ce)
		assert.ElementsMatch(t, []int64{1, 2}, ce.NodeIDs[:2])
	})
}

func TestBuild_DuplicateID(t *testing.T) {
	_, err := Build([]types.HierarchyNode{node(1, nil), node(1, nil)}, Options{})
	var ce *types.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "id", ce.Field)
}

// randomForest builds n nodes where each node's parent, if any, has a
// smaller id, so the result is always acyclic.
func randomForest(r *rand.Rand, n int) []types.HierarchyNode {
	nodes := make([]types.HierarchyNode, n)
	for i := range nodes {
		id := int64(i + 1)
		nodes[i] = types.HierarchyNode{ID: id, SortKey: int64(r.Intn(5))}
		if i > 0 && r.Intn(6) != 0 {
			nodes[i].ParentID = ptr(int64(r.Intn(i) + 1))
		}
	}
	r.Shuffle(len(nodes), func(a, b int) { nodes[a], nodes[b] = nodes[b], nodes[a] })
	return nodes
}

func TestBuild_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(20240611))
	for round := 0; round < 25; round++ {
		input := randomForest(r, 1+r.Intn(60))
		res, err := Build(input, Options{})
		require.NoError(t, err)
		nodes := byID(res.Nodes)

		isDescendant := func(d, a int64) bool {
			for p := nodes[d].ParentID; p != nil; p = nodes[*p].ParentID {
				if *p == a {
					return true
				}
			}
			return false
		}

		seen := map[int64]bool{}
		for _, n := range res.Nodes {
			require.Equal(t, int64(1), (n.Right-n.Left)%2, "right-left is odd for node %d", n.ID)
			seen[n.Left], seen[n.Right] = true, true

			size := int64(1)
			for _, m := range res.Nodes {
				if isDescendant(m.ID, n.ID) {
					size++
				}
			}
			require.Equal(t, size, n.SubtreeSize(), "subtree size of %d", n.ID)

			if n.ParentID != nil {
				require.Equal(t, nodes[*n.ParentID].Level+1, n.Level)
			}
		}
		require.Len(t, seen, 2*len(res.Nodes), "coordinates are 1..2n without gaps")
		for i := int64(1); i <= int64(2*len(res.Nodes)); i++ {
			require.True(t, seen[i], "coordinate %d unused", i)
		}

		for _, a := range res.Nodes {
			for _, d := range res.Nodes {
				require.Equal(t, isDescendant(d.ID, a.ID), a.Contains(d),
					"descendant iff containment: %d in %d", d.ID, a.ID)
			}
		}

		again, err := Build(res.Nodes, Options{})
		require.NoError(t, err)
		require.Equal(t, res, again, "rebuilding is idempotent")
	}
}
