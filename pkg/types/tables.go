package types

// RegistryTable is the durable table backing the entity registry.
const RegistryTable = "entity_registry"

// Default nested-set column names written by the hierarchy rebuild.
const (
	DefaultIDField     = "id"
	DefaultParentField = "parent_id"
	DefaultLeftField   = "lft"
	DefaultRightField  = "rght"
	DefaultLevelField  = "level"
	DefaultGeomField   = "geometry"
)
