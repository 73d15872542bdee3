// Package schema describes the destination tables the pipeline writes to.
//
// Tables form a closed set: code selects a destination with a Table value and
// Lookup is the only place an identifier is resolved to its field layout.
package schema

import (
	"fmt"
	"sort"

	goerrors "github.com/goliatone/go-errors"
)

type Table string

const (
	// SignaturesPending is the hand-off shape of Stage A: newly signed
	// petitions waiting for validation processing.
	SignaturesPending Table = "signatures_pending"
	// SignatureValidations is the final validations table written by Stage B.
	SignatureValidations Table = "signature_validations"
)

// KeyMaxLength is the stored width of secret_validation_key in every table.
const KeyMaxLength = 64

// Tables lists every valid destination.
func Tables() []Table {
	return []Table{SignaturesPending, SignatureValidations}
}

type FieldType int

const (
	String FieldType = iota + 1
	Integer
	Timestamp
)

func (t FieldType) String() string {
	switch t {
	case String:
		return "string"
	case Integer:
		return "integer"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

type Field struct {
	Type FieldType
	// MaxLength is the byte limit of string columns; zero means unbounded.
	MaxLength int
}

type Schema struct {
	Table  Table
	Fields map[string]Field
	// Generated columns are filled by the store and never inserted.
	Generated []string
}

// Has reports whether name is a declared field.
func (s Schema) Has(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// Insertable returns the declared fields minus generated columns, sorted.
func (s Schema) Insertable() []string {
	skip := make(map[string]struct{}, len(s.Generated))
	for _, g := range s.Generated {
		skip[g] = struct{}{}
	}
	out := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		if _, ok := skip[name]; ok {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var schemas = map[Table]Schema{
	SignaturesPending: {
		Table: SignaturesPending,
		Fields: map[string]Field{
			"id":                    {Type: Integer},
			"secret_validation_key": {Type: String, MaxLength: KeyMaxLength},
			"petition_id":           {Type: Integer},
			"email":                 {Type: String, MaxLength: 255},
			"first_name":            {Type: String, MaxLength: 100},
			"last_name":             {Type: String, MaxLength: 100},
			"zip":                   {Type: String, MaxLength: 16},
			"country":               {Type: String, MaxLength: 2},
			"source":                {Type: String, MaxLength: 64},
			"ip_address":            {Type: String, MaxLength: 45},
			"user_agent":            {Type: String, MaxLength: 255},
			"signed_at":             {Type: Timestamp},
		},
		Generated: []string{"id"},
	},
	SignatureValidations: {
		Table: SignatureValidations,
		Fields: map[string]Field{
			"id":                    {Type: Integer},
			"secret_validation_key": {Type: String, MaxLength: KeyMaxLength},
			"petition_id":           {Type: Integer},
			"signature_id":          {Type: Integer},
			"email":                 {Type: String, MaxLength: 255},
			"first_name":            {Type: String, MaxLength: 100},
			"last_name":             {Type: String, MaxLength: 100},
			"zip":                   {Type: String, MaxLength: 16},
			"source":                {Type: String, MaxLength: 64},
			"ip_address":            {Type: String, MaxLength: 45},
			"validated_at":          {Type: Timestamp},
			"validation_close":      {Type: Timestamp},
		},
		Generated: []string{"id"},
	},
}

// Lookup resolves a table identifier. An unknown identifier is a wiring
// defect and is reported as a bad-input error rather than an empty schema.
func Lookup(t Table) (Schema, error) {
	s, ok := schemas[t]
	if !ok {
		return Schema{}, goerrors.New(fmt.Sprintf("schema: unknown destination table %q", string(t)), goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"table": string(t)})
	}
	return s, nil
}

// MustLookup is Lookup for package-level wiring of known constants.
func MustLookup(t Table) Schema {
	s, err := Lookup(t)
	if err != nil {
		panic(err)
	}
	return s
}
