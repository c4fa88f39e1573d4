package types

// EntityKind classifies a registered entity.
type EntityKind string

// Recognized entity kinds.
const (
	KindReference EntityKind = "reference"
	KindDataset   EntityKind = "dataset"
)

// Valid reports whether k is one of the recognized kinds.
func (k EntityKind) Valid() bool {
	return k == KindReference || k == KindDataset
}

// ParseEntityKind converts s into an EntityKind. Unknown values produce a
// ConfigurationError on field "kind".
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(s)
	if !k.Valid() {
		return "", NewConfigurationError("kind", "unknown entity kind %q (want %q or %q)", s, KindReference, KindDataset)
	}
	return k, nil
}

// EntityMetadata maps a logical entity name to its physical table.
// Config carries open declarative settings (schema, hierarchy hints,
// enrichment) and is stored as a JSON object.
type EntityMetadata struct {
	Name      string         `json:"name" yaml:"name"`
	Kind      EntityKind     `json:"kind" yaml:"kind"`
	TableName string         `json:"table_name" yaml:"table_name"`
	Config    map[string]any `json:"config" yaml:"config"`
}

// Validate checks the fields required for registration.
func (m EntityMetadata) Validate() error {
	if m.Name == "" {
		return NewConfigurationError("name", "must not be empty")
	}
	if !m.Kind.Valid() {
		return NewConfigurationError("kind", "unknown entity kind %q", m.Kind)
	}
	if m.TableName == "" {
		return NewConfigurationError("table_name", "must not be empty")
	}
	return nil
}
