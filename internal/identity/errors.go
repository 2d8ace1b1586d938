package identity

import (
	"fmt"
	"strings"
)

// SchemaMismatchError is returned when a declared key field is absent from
// the record schema. It is raised once, before any record is hashed.
type SchemaMismatchError struct {
	Target  string
	Field   string
	Columns []string
}

func (e *SchemaMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema mismatch: identifier %q declares no key fields", e.Target)
	}
	return fmt.Sprintf("schema mismatch: field %q required by %q not in [%s]",
		e.Field, e.Target, strings.Join(e.Columns, ", "))
}
