// Package plugin keeps the process-wide table of named implementations,
// keyed by capability and name, and validates the declarative configuration
// each implementation accepts.
//
// A Registry is built once at startup: built-in implementations register
// first, project extensions after them, and Seal closes it. Tests construct
// their own instances.
package plugin

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// Capability groups implementations that share a contract.
type Capability string

// CapabilityLoader is the capability of group loaders. Extensions may
// register under capabilities of their own.
const CapabilityLoader Capability = "loader"

// Registry errors.
var (
	ErrSealed   = errors.New("plugin registry is sealed")
	ErrConflict = errors.New("plugin name already bound")
)

// Descriptor binds a name to an implementation and its configuration schema.
// The dynamic type of Impl identifies the binding.
type Descriptor struct {
	Name       string
	Capability Capability
	Schema     Schema
	Impl       any
}

// ConflictError reports an attempt to rebind a key to a different type.
type ConflictError struct {
	Capability Capability
	Name       string
	Existing   string
	Incoming   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already bound to %s, cannot bind %s", e.Capability, e.Name, e.Existing, e.Incoming)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict || target == types.ErrConfiguration
}

type key struct {
	capability Capability
	name       string
}

// Registry maps (capability, name) to descriptors.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]Descriptor
	sealed  bool
}

// NewRegistry constructs an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]Descriptor)}
}

// Register binds d. Registering the same implementation type under the same
// key again is a no-op; a different type fails with a ConflictError.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return types.NewConfigurationError("name", "plugin name must not be empty")
	}
	if d.Capability == "" {
		return types.NewConfigurationError("capability", "plugin %q has no capability", d.Name)
	}
	if d.Impl == nil {
		return types.NewConfigurationError("impl", "plugin %q has no implementation", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.Wrapf(ErrSealed, "register %s %q", d.Capability, d.Name)
	}
	k := key{d.Capability, d.Name}
	if existing, ok := r.entries[k]; ok {
		have, want := reflect.TypeOf(existing.Impl), reflect.TypeOf(d.Impl)
		if have == want {
			return nil
		}
		return &ConflictError{
			Capability: d.Capability,
			Name:       d.Name,
			Existing:   have.String(),
			Incoming:   want.String(),
		}
	}
	r.entries[k] = d
	return nil
}

// Seal closes the registry to further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the descriptor bound to (capability, name).
func (r *Registry) Lookup(capability Capability, name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[key{capability, name}]
	if !ok {
		return Descriptor{}, &types.NotFoundError{Kind: types.NotFoundPlugin, Name: string(capability) + "/" + name}
	}
	return d, nil
}

// Names lists the names registered for capability, sorted.
func (r *Registry) Names(capability Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range r.entries {
		if k.capability == capability {
			out = append(out, k.name)
		}
	}
	sort.Strings(out)
	return out
}
