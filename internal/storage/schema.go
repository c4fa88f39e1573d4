package storage

import "github.com/mesh-intelligence/canopy/pkg/types"

// createRegistry holds the entity registry layout. The statement is valid on
// both sqlite and postgres.
const createRegistry = `CREATE TABLE IF NOT EXISTS ` + types.RegistryTable + ` (
    name TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    table_name TEXT NOT NULL,
    config TEXT NOT NULL DEFAULT '{}'
)`

const idxRegistryKind = `CREATE INDEX IF NOT EXISTS idx_entity_registry_kind ON ` + types.RegistryTable + `(kind)`

// schemaDDL lists the bootstrap statements in dependency order.
var schemaDDL = []string{
	createRegistry,
	idxRegistryKind,
}
