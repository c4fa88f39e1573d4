// Package types defines the public data model of the canopy loading engine:
// registered entities, hierarchy nodes, loaded row sets, backend configuration,
// and the structured error taxonomy shared by every component.
package types
