package types

// HierarchyNode is one node of a nested-set forest. ParentID nil marks a root.
// Left, Right and Level are derived by the hierarchy builder.
type HierarchyNode struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	SortKey  int64  `json:"sort_key"`
	Label    string `json:"label,omitempty"`

	Left  int64 `json:"lft"`
	Right int64 `json:"rght"`
	Level int   `json:"level"`
}

// IsRoot reports whether the node has no parent.
func (n HierarchyNode) IsRoot() bool { return n.ParentID == nil }

// Contains reports whether other lies strictly inside n's interval, which for
// numbered nodes of the same forest means other is a descendant of n.
func (n HierarchyNode) Contains(other HierarchyNode) bool {
	return n.Left < other.Left && other.Right < n.Right
}

// SubtreeSize returns the number of nodes in n's subtree, n included.
func (n HierarchyNode) SubtreeSize() int64 {
	return (n.Right - n.Left + 1) / 2
}
