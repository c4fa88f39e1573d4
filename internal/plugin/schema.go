package plugin

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-viper/mapstructure/v2"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// FieldType is the expected type of a configuration value.
type FieldType int

const (
	TypeAny FieldType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeMap
	TypeList
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeMap:
		return "mapping"
	case TypeList:
		return "list"
	default:
		return "any"
	}
}

// Field describes one configuration key. Nested keys use dotted names
// ("keys.source").
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Doc      string
}

// Schema lists the keys an implementation accepts.
type Schema struct {
	Fields []Field
	// AllowUnknown accepts keys the schema does not list.
	AllowUnknown bool
}

// Required returns the names of the required fields.
func (s Schema) Required() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// SemanticValidator is implemented by typed configs with cross-field rules.
type SemanticValidator interface {
	Validate() error
}

// Validate runs the structural pass: required keys are present and
// non-empty, values have the declared type, and no unknown keys appear.
// Fields are checked in schema order so the first failure is stable.
func Validate(s Schema, raw map[string]any) error {
	for _, f := range s.Fields {
		v, ok := lookup(raw, f.Name)
		if !ok || v == nil {
			if f.Required {
				return types.NewConfigurationError(f.Name, "required key is missing")
			}
			continue
		}
		if err := checkType(f, v); err != nil {
			return err
		}
	}
	if s.AllowUnknown {
		return nil
	}
	known := map[string]bool{}
	for _, f := range s.Fields {
		parts := strings.Split(f.Name, ".")
		for i := range parts {
			known[strings.Join(parts[:i+1], ".")] = true
		}
	}
	for _, k := range flattenKeys(raw, "") {
		if !known[k] {
			return types.NewConfigurationError(k, "unknown key")
		}
	}
	return nil
}

// Decode copies a validated map into out, a pointer to a typed config.
func Decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "config decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return types.NewConfigurationError("", "%v", err)
	}
	return nil
}

// ValidateInto runs the structural pass, decodes into out and then runs the
// semantic pass when out implements SemanticValidator.
func ValidateInto(s Schema, raw map[string]any, out any) error {
	if err := Validate(s, raw); err != nil {
		return err
	}
	if err := Decode(raw, out); err != nil {
		return err
	}
	if v, ok := out.(SemanticValidator); ok {
		return v.Validate()
	}
	return nil
}

func lookup(raw map[string]any, path string) (any, bool) {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// flattenKeys lists every key path in raw, descending into nested maps.
func flattenKeys(raw map[string]any, prefix string) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		out = append(out, path)
		if m, ok := asMap(raw[k]); ok {
			out = append(out, flattenKeys(m, path)...)
		}
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func checkType(f Field, v any) error {
	ok := true
	switch f.Type {
	case TypeString:
		s, isString := v.(string)
		ok = isString
		if ok && f.Required && strings.TrimSpace(s) == "" {
			return types.NewConfigurationError(f.Name, "must not be empty")
		}
	case TypeInt:
		ok = isInteger(v)
	case TypeFloat:
		ok = isInteger(v) || isFloat(v)
	case TypeBool:
		_, ok = v.(bool)
	case TypeMap:
		_, ok = asMap(v)
	case TypeList:
		switch v.(type) {
		case []any, []string:
		default:
			ok = false
		}
	}
	if !ok {
		return types.NewConfigurationError(f.Name, "expected %s, got %T", f.Type, v)
	}
	return nil
}

func isInteger(v any) bool {
	switch t := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return t == math.Trunc(t)
	case float32:
		return float64(t) == math.Trunc(float64(t))
	default:
		return false
	}
}

func isFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	default:
		return false
	}
}
