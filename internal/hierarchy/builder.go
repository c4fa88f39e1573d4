// Package hierarchy assigns nested-set coordinates to a forest of nodes and
// persists them to reference tables, so that "every descendant of X" becomes
// one range predicate: lft >= X.lft AND rght <= X.rght.
package hierarchy

import (
	"sort"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Options tunes Build.
type Options struct {
	// Strict rejects nodes whose parent is missing instead of promoting them
	// to roots.
	Strict bool
	// RootSentinel, when set, is a parent id that marks a root (for tables
	// that store 0 instead of NULL).
	RootSentinel *int64
}

// Warning records an orphan promoted to root.
type Warning struct {
	NodeID        int64 `json:"node_id"`
	MissingParent int64 `json:"missing_parent"`
}

// Result is the output of Build. Nodes keep the input order.
type Result struct {
	Nodes    []types.HierarchyNode `json:"nodes"`
	Warnings []Warning             `json:"warnings,omitempty"`
	Roots    int                   `json:"roots"`
	MaxLevel int                   `json:"max_level"`
}

// forest is the arena: nodes live in one slice and refer to each other by
// index.
type forest struct {
	nodes    []types.HierarchyNode
	index    map[int64]int
	children [][]int
	roots    []int
}

// Build numbers the nodes with a depth-first pre-order walk. Roots and
// siblings are visited in ascending SortKey, ties broken by ID. A single
// cursor starting at 1 spans the whole forest: left is taken on entry and
// right on exit, and level is the depth below the root.
func Build(nodes []types.HierarchyNode, opts Options) (Result, error) {
	f, warnings, err := newForest(nodes, opts)
	if err != nil {
		return Result{}, err
	}

	visited := make([]bool, len(f.nodes))
	cursor := int64(1)
	maxLevel := 0

	type frame struct {
		idx  int
		next int
	}
	for _, root := range f.roots {
		stack := []frame{{idx: root}}
		visited[root] = true
		f.nodes[root].Level = 0
		f.nodes[root].Left = cursor
		cursor++

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := f.children[top.idx]
			if top.next < len(kids) {
				child := kids[top.next]
				top.next++
				if visited[child] {
					return Result{}, &types.CyclicHierarchyError{NodeIDs: f.cycleFrom(child)}
				}
				visited[child] = true
				level := len(stack)
				f.nodes[child].Level = level
				f.nodes[child].Left = cursor
				cursor++
				if level > maxLevel {
					maxLevel = level
				}
				stack = append(stack, frame{idx: child})
				continue
			}
			f.nodes[top.idx].Right = cursor
			cursor++
			stack = stack[:len(stack)-1]
		}
	}

	// Nodes on a parent cycle are unreachable from any root.
	for i, seen := range visited {
		if !seen {
			return Result{}, &types.CyclicHierarchyError{NodeIDs: f.cycleFrom(i)}
		}
	}

	return Result{
		Nodes:    f.nodes,
		Warnings: warnings,
		Roots:    len(f.roots),
		MaxLevel: maxLevel,
	}, nil
}

func newForest(nodes []types.HierarchyNode, opts Options) (*forest, []Warning, error) {
	f := &forest{
		nodes:    make([]types.HierarchyNode, len(nodes)),
		index:    make(map[int64]int, len(nodes)),
		children: make([][]int, len(nodes)),
	}
	copy(f.nodes, nodes)

	for i, n := range f.nodes {
		if _, dup := f.index[n.ID]; dup {
			return nil, nil, types.NewConfigurationError("id", "duplicate node id %d", n.ID)
		}
		f.index[n.ID] = i
		f.nodes[i].Left, f.nodes[i].Right, f.nodes[i].Level = 0, 0, 0
	}

	var warnings []Warning
	for i, n := range f.nodes {
		if n.ParentID == nil || (opts.RootSentinel != nil && *n.ParentID == *opts.RootSentinel) {
			f.roots = append(f.roots, i)
			continue
		}
		parent, ok := f.index[*n.ParentID]
		if !ok {
			if opts.Strict {
				return nil, nil, &types.NotFoundError{Kind: types.NotFoundNode, Name: formatID(*n.ParentID)}
			}
			warnings = append(warnings, Warning{NodeID: n.ID, MissingParent: *n.ParentID})
			f.roots = append(f.roots, i)
			continue
		}
		if parent == i {
			return nil, nil, &types.CyclicHierarchyError{NodeIDs: []int64{n.ID, n.ID}}
		}
		f.children[parent] = append(f.children[parent], i)
	}

	f.sortIdx(f.roots)
	for _, kids := range f.children {
		f.sortIdx(kids)
	}
	return f, warnings, nil
}

func (f *forest) sortIdx(idx []int) {
	sort.SliceStable(idx, func(a, b int) bool {
		na, nb := f.nodes[idx[a]], f.nodes[idx[b]]
		if na.SortKey != nb.SortKey {
			return na.SortKey < nb.SortKey
		}
		return na.ID < nb.ID
	})
}

// cycleFrom follows parent links from start until a node repeats and returns
// the ids on the loop, closing it with the first id again.
func (f *forest) cycleFrom(start int) []int64 {
	pos := map[int]int{}
	var path []int
	cur := start
	for {
		if at, seen := pos[cur]; seen {
			loop := path[at:]
			ids := make([]int64, 0, len(loop)+1)
			for _, i := range loop {
				ids = append(ids, f.nodes[i].ID)
			}
			return append(ids, f.nodes[loop[0]].ID)
		}
		pos[cur] = len(path)
		path = append(path, cur)
		p := f.nodes[cur].ParentID
		if p == nil {
			return []int64{f.nodes[start].ID}
		}
		next, ok := f.index[*p]
		if !ok {
			return []int64{f.nodes[start].ID}
		}
		cur = next
	}
}
