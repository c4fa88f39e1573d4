package hierarchy

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/canopy/internal/storage"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Fields names the columns a reference table uses for its hierarchy. Empty
// values fall back to the package defaults.
type Fields struct {
	ID           string `mapstructure:"id_field"`
	Parent       string `mapstructure:"parent_field"`
	Sort         string `mapstructure:"sort_field"`
	Label        string `mapstructure:"label_field"`
	Left         string `mapstructure:"left_field"`
	Right        string `mapstructure:"right_field"`
	Level        string `mapstructure:"level_field"`
	RootSentinel *int64 `mapstructure:"root_sentinel"`
}

// withDefaults fills unset column names.
func (f Fields) withDefaults() Fields {
	if f.ID == "" {
		f.ID = types.DefaultIDField
	}
	if f.Parent == "" {
		f.Parent = types.DefaultParentField
	}
	if f.Left == "" {
		f.Left = types.DefaultLeftField
	}
	if f.Right == "" {
		f.Right = types.DefaultRightField
	}
	if f.Level == "" {
		f.Level = types.DefaultLevelField
	}
	return f
}

// check validates every configured column name.
func (f Fields) check() error {
	named := []struct{ field, value string }{
		{"hierarchy.id_field", f.ID},
		{"hierarchy.parent_field", f.Parent},
		{"hierarchy.left_field", f.Left},
		{"hierarchy.right_field", f.Right},
		{"hierarchy.level_field", f.Level},
	}
	for _, n := range named {
		if err := storage.CheckIdent(n.field, n.value); err != nil {
			return err
		}
	}
	if f.Sort != "" {
		if err := storage.CheckIdent("hierarchy.sort_field", f.Sort); err != nil {
			return err
		}
	}
	if f.Label != "" {
		if err := storage.CheckIdent("hierarchy.label_field", f.Label); err != nil {
			return err
		}
	}
	return nil
}

// FromParentColumn normalizes rows carrying an id and a parent id column into
// candidates. Empty parents become roots; a missing sort column leaves
// SortKey at zero so siblings order by id.
func FromParentColumn(rs *types.RowSet, f Fields) ([]types.HierarchyNode, error) {
	f = f.withDefaults()
	col := columnIndex(rs.Columns)

	idIdx, ok := col[f.ID]
	if !ok {
		return nil, &types.NotFoundError{Kind: types.NotFoundColumn, Name: f.ID}
	}
	parentIdx, ok := col[f.Parent]
	if !ok {
		return nil, &types.NotFoundError{Kind: types.NotFoundColumn, Name: f.Parent}
	}
	sortIdx, hasSort := col[f.Sort]
	labelIdx, hasLabel := col[f.Label]

	out := make([]types.HierarchyNode, 0, rs.Len())
	for rowNum, row := range rs.Rows {
		id, ok := storage.AsInt64(row[idIdx])
		if !ok {
			return nil, types.NewConfigurationError(f.ID, "row %d: id %v is not an integer", rowNum, row[idIdx])
		}
		n := types.HierarchyNode{ID: id}
		if raw := row[parentIdx]; raw != nil && storage.AsString(raw) != "" {
			pid, ok := storage.AsInt64(raw)
			if !ok {
				return nil, types.NewConfigurationError(f.Parent, "row %d: parent %v is not an integer", rowNum, raw)
			}
			n.ParentID = &pid
		}
		if hasSort && f.Sort != "" {
			if key, ok := storage.AsInt64(row[sortIdx]); ok {
				n.SortKey = key
			}
		}
		if hasLabel && f.Label != "" {
			n.Label = storage.AsString(row[labelIdx])
		}
		out = append(out, n)
	}
	return out, nil
}

// RankTree is a hierarchy synthesized from one-column-per-rank rows.
type RankTree struct {
	Nodes []types.HierarchyNode
	// Ranks holds the rank column each node came from, parallel to Nodes.
	Ranks []string
	// RowLeaf maps each input row to the id of its deepest node, or 0 when
	// the row had no rank values.
	RowLeaf []int64
}

// FromRankColumns builds candidates from flat rows that spell the path of a
// record one rank per column (family, genus, species). Every distinct path
// prefix becomes a node; ids are assigned from 1 in first-seen order, which
// is also the sibling sort key. Empty rank cells are skipped, attaching the
// next rank to the nearest filled ancestor.
func FromRankColumns(rs *types.RowSet, ranks []string) (RankTree, error) {
	if len(ranks) == 0 {
		return RankTree{}, types.NewConfigurationError("ranks", "at least one rank column is required")
	}
	col := columnIndex(rs.Columns)
	idx := make([]int, len(ranks))
	for i, r := range ranks {
		c, ok := col[r]
		if !ok {
			return RankTree{}, &types.NotFoundError{Kind: types.NotFoundColumn, Name: r}
		}
		idx[i] = c
	}

	var tree RankTree
	byPath := map[string]int64{}
	nextID := int64(1)
	for _, row := range rs.Rows {
		var (
			parent *int64
			path   []string
			leaf   int64
		)
		for i, c := range idx {
			value := strings.TrimSpace(storage.AsString(row[c]))
			if value == "" {
				continue
			}
			path = append(path, fmt.Sprintf("%s=%s", ranks[i], value))
			key := strings.Join(path, "|")
			id, ok := byPath[key]
			if !ok {
				id = nextID
				nextID++
				byPath[key] = id
				n := types.HierarchyNode{ID: id, SortKey: id, Label: value}
				if parent != nil {
					p := *parent
					n.ParentID = &p
				}
				tree.Nodes = append(tree.Nodes, n)
				tree.Ranks = append(tree.Ranks, ranks[i])
			}
			pid := id
			parent = &pid
			leaf = id
		}
		tree.RowLeaf = append(tree.RowLeaf, leaf)
	}
	return tree, nil
}

func columnIndex(cols []string) map[string]int {
	out := make(map[string]int, len(cols))
	for i, c := range cols {
		out[c] = i
	}
	return out
}

func formatID(id int64) string { return fmt.Sprint(id) }
