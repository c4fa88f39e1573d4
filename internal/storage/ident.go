package storage

import (
	"regexp"
	"strings"

	"github.com/mesh-intelligence/canopy/pkg/types"
)

// identPattern is the grammar accepted for user-declared table and column
// names. Anything else is rejected before it can reach a query string.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidIdent reports whether name is a safe SQL identifier.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// CheckIdent returns a ConfigurationError on field when name is not a safe
// identifier.
func CheckIdent(field, name string) error {
	if name == "" {
		return types.NewConfigurationError(field, "must not be empty")
	}
	if !ValidIdent(name) {
		return types.NewConfigurationError(field, "%q is not a valid identifier", name)
	}
	return nil
}

// QuoteIdent double-quotes an identifier. Both sqlite and postgres accept the
// ANSI form. Callers validate names with CheckIdent first.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Qualified quotes alias.column.
func Qualified(alias, column string) string {
	return alias + "." + QuoteIdent(column)
}
