// Package normalize canonicalizes free-text name fields of a record set.
package normalize

import (
	"strings"
	"unicode"

	"github.com/Jaleleddine/deb/internal/record"
)

// EmptyPolicy decides how null or empty name parts render in the composite field.
type EmptyPolicy int

const (
	// OmitEmpty skips null and empty parts.
	OmitEmpty EmptyPolicy = iota
	// BlankEmpty keeps null and empty parts as empty tokens, so
	// "John", null, "Smith" renders as "John  Smith". A field whose column
	// is absent from the table counts as null and renders the same way.
	BlankEmpty
)

func (p EmptyPolicy) String() string {
	switch p {
	case OmitEmpty:
		return "omit"
	case BlankEmpty:
		return "blank"
	}
	return "unknown"
}

// Normalizer title-cases name fields and derives a composite display field.
type Normalizer struct {
	// Fields are normalized in place and joined in this order.
	Fields []string
	// Target receives the joined parts. Empty disables the composite field.
	Target string
	Policy EmptyPolicy
}

// PassengerV1 is the passenger name contract: first, middle and last name
// joined into full_name with empty parts omitted.
var PassengerV1 = Normalizer{
	Fields: []string{"first_name", "middle_name", "last_name"},
	Target: "full_name",
	Policy: OmitEmpty,
}

// Apply returns a new table with normalized name fields and the composite
// field. Fields absent from the table are not added; in the composite they
// read as null and follow Policy.
func (n Normalizer) Apply(t *record.Table) *record.Table {
	out := t
	for _, f := range n.Fields {
		if !t.Has(f) {
			continue
		}
		field := f
		out = out.WithColumn(field, func(r record.Row) *string {
			v := r.Get(field)
			if v == nil {
				return nil
			}
			return record.String(InitCap(*v))
		})
	}
	if n.Target == "" {
		return out
	}
	return out.WithColumn(n.Target, func(r record.Row) *string {
		parts := make([]string, 0, len(n.Fields))
		for _, f := range n.Fields {
			v := r.Get(f)
			if v == nil || *v == "" {
				if n.Policy == OmitEmpty {
					continue
				}
				parts = append(parts, "")
				continue
			}
			parts = append(parts, *v)
		}
		return record.String(strings.Join(parts, " "))
	})
}

// InitCap uppercases the first letter of every whitespace-delimited token
// and lowercases the rest. Whitespace is kept as is.
func InitCap(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	start := true
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			start = true
			b.WriteRune(r)
		case start:
			start = false
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
