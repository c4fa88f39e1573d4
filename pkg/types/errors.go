package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every structured error below matches exactly one of these
// through errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrCorruptState    = errors.New("corrupt state")
	ErrCyclicHierarchy = errors.New("cyclic hierarchy")
	ErrQuery           = errors.New("query error")
)

// Lifecycle errors for the storage backend.
var (
	ErrBackendDetached = errors.New("backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// Kinds of things a NotFoundError can refer to.
const (
	NotFoundEntity = "entity"
	NotFoundTable  = "table"
	NotFoundColumn = "column"
	NotFoundNode   = "node"
	NotFoundPlugin = "plugin"
)

// ConfigurationError reports malformed or missing declarative input. It is
// raised before any I/O takes place.
type ConfigurationError struct {
	Field  string // offending field, dotted for nested keys ("keys.source")
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError builds a ConfigurationError for field.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity, table, column, node or plugin.
type NotFoundError struct {
	Kind  string // one of the NotFound* constants
	Name  string
	Table string // owning table, set for columns
}

func (e *NotFoundError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s %q not found in %q", e.Kind, e.Name, e.Table)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CorruptStateError reports persisted registry data that fails to decode.
type CorruptStateError struct {
	Entity string
	Field  string
	Err    error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state for entity %q field %s: %v", e.Entity, e.Field, e.Err)
}

func (e *CorruptStateError) Is(target error) bool { return target == ErrCorruptState }

func (e *CorruptStateError) Unwrap() error { return e.Err }

// CyclicHierarchyError reports a parent-link cycle. NodeIDs lists the nodes on
// the cycle in traversal order.
type CyclicHierarchyError struct {
	NodeIDs []int64
}

func (e *CyclicHierarchyError) Error() string {
	parts := make([]string, len(e.NodeIDs))
	for i, id := range e.NodeIDs {
		parts[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("cyclic hierarchy: %s", strings.Join(parts, " -> "))
}

func (e *CyclicHierarchyError) Is(target error) bool { return target == ErrCyclicHierarchy }

// QueryError reports a storage failure on a well-formed query.
type QueryError struct {
	Op    string
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("query %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("query %s on %q: %v", e.Op, e.Table, e.Err)
}

func (e *QueryError) Is(target error) bool { return target == ErrQuery }

func (e *QueryError) Unwrap() error { return e.Err }
