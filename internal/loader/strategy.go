package loader

import (
	"strings"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Strategy identifies how dataset rows are related to a reference entity.
type Strategy int

const (
	DirectReference Strategy = iota + 1
	JoinTable
	NestedSet
	Spatial
)

var strategyNames = map[Strategy]string{
	DirectReference: "direct_reference",
	JoinTable:       "join_table",
	NestedSet:       "nested_set",
	Spatial:         "spatial",
}

// Strategies lists every strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{DirectReference, JoinTable, NestedSet, Spatial}
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseStrategy maps a configured loader name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.TrimSpace(name)
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, types.NewConfigurationError("loader", "unknown loader %q", name)
}
