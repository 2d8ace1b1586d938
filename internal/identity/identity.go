// Package identity derives stable surrogate identifiers from natural keys.
//
// An identifier is the lowercase hex SHA-256 digest of the natural-key
// fields joined with a fixed delimiter. Null fields hash as the empty
// string, so the digest is defined for every record. The key definitions
// below are versioned contracts: changing a field list or delimiter changes
// every identifier and requires a new version.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Jaleleddine/deb/internal/record"
)

// Key declares an identifier: the column it is written to, the ordered
// natural-key fields and the join delimiter.
type Key struct {
	Target    string
	Fields    []string
	Delimiter string
}

var (
	// PassengerV1 hashes the email alone. The "|" delimiter is kept from
	// the multi-field variant; with one field it never appears in the input.
	PassengerV1 = Key{
		Target:    "uid",
		Fields:    []string{"email"},
		Delimiter: "|",
	}

	// AddressV1 hashes the address tuple with no delimiter.
	AddressV1 = Key{
		Target:    "addr_uid",
		Fields:    []string{"street_address", "city", "state_code", "from_date", "to_date"},
		Delimiter: "",
	}

	// CardV1 hashes the card tuple with no delimiter.
	CardV1 = Key{
		Target:    "card_uid",
		Fields:    []string{"provider", "card_number", "expiration_date", "security_code"},
		Delimiter: "",
	}
)

// Digest returns the lowercase hex SHA-256 of values joined by delim.
func Digest(values []*string, delim string) string {
	h := sha256.New()
	for i, v := range values {
		if i > 0 {
			h.Write([]byte(delim))
		}
		if v != nil {
			h.Write([]byte(*v))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DigestStrings is Digest for non-null values.
func DigestStrings(delim string, values ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(values, delim)))
	return hex.EncodeToString(sum[:])
}

// Hasher computes a Key over tables of a known schema.
type Hasher struct {
	key Key
}

// NewHasher checks that every natural-key field exists in columns.
func NewHasher(key Key, columns []string) (*Hasher, error) {
	if key.Target == "" || len(key.Fields) == 0 {
		return nil, &SchemaMismatchError{Target: key.Target, Columns: columns}
	}
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}
	for _, f := range key.Fields {
		if !have[f] {
			return nil, &SchemaMismatchError{Target: key.Target, Field: f, Columns: columns}
		}
	}
	return &Hasher{key: key}, nil
}

// Key returns the identifier definition.
func (h *Hasher) Key() Key {
	return h.key
}

// Apply returns a new table with the identifier column added or replaced.
func (h *Hasher) Apply(t *record.Table) *record.Table {
	values := make([]*string, len(h.key.Fields))
	return t.WithColumn(h.key.Target, func(r record.Row) *string {
		for i, f := range h.key.Fields {
			values[i] = r.Get(f)
		}
		return record.String(Digest(values, h.key.Delimiter))
	})
}

// Hash validates the key against t and applies it.
func Hash(key Key, t *record.Table) (*record.Table, error) {
	h, err := NewHasher(key, t.Columns())
	if err != nil {
		return nil, err
	}
	return h.Apply(t), nil
}

// Attach left-joins idField from src onto dst using joinField as the key.
// Rows of dst with no match, or with a null joinField, get a null idField.
// The first src row wins when joinField repeats.
func Attach(dst, src *record.Table, joinField, idField string) (*record.Table, error) {
	if !dst.Has(joinField) {
		return nil, &SchemaMismatchError{Target: idField, Field: joinField, Columns: dst.Columns()}
	}
	for _, f := range []string{joinField, idField} {
		if !src.Has(f) {
			return nil, &SchemaMismatchError{Target: idField, Field: f, Columns: src.Columns()}
		}
	}

	lookup := make(map[string]*string, src.Len())
	src.Each(func(_ int, r record.Row) {
		k := r.Get(joinField)
		if k == nil {
			return
		}
		if _, ok := lookup[*k]; !ok {
			lookup[*k] = r.Get(idField)
		}
	})

	return dst.WithColumn(idField, func(r record.Row) *string {
		k := r.Get(joinField)
		if k == nil {
			return nil
		}
		return lookup[*k]
	}), nil
}
