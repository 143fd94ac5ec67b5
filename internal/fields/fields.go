// Package fields exposes the ordered set of importable fields per target
// entity type, with the metadata the pipeline needs: validation configuration,
// required flags, and header-guess aliases for automatic column mapping.
package fields

import (
	"fmt"
	"strings"

	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/pkg/validator"
)

// Definition describes one importable target field.
type Definition struct {
	Key          string                `json:"key"`
	Label        string                `json:"label"`
	Required     bool                  `json:"required"`
	Identity     bool                  `json:"identity"`
	Lookup       bool                  `json:"lookup"`
	Relationship bool                  `json:"relationship"`
	Aliases      []string              `json:"aliases,omitempty"`
	Config       validator.FieldConfig `json:"config"`
}

// Set is the ordered field schema for one entity type.
type Set struct {
	EntityType string
	defs       []Definition
	byKey      map[string]Definition
}

// NewSet validates and indexes a list of definitions.
func NewSet(entityType string, defs []Definition) (Set, error) {
	if err := ValidateDefinitions(defs); err != nil {
		return Set{}, err
	}

	byKey := make(map[string]Definition, len(defs))
	for _, def := range defs {
		byKey[def.Key] = def
	}
	return Set{EntityType: entityType, defs: defs, byKey: byKey}, nil
}

// Ordered returns the definitions in declaration order.
func (s Set) Ordered() []Definition {
	out := make([]Definition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Get looks up a definition by field key.
func (s Set) Get(key string) (Definition, bool) {
	def, ok := s.byKey[key]
	return def, ok
}

// IdentityKey returns the field whose value names the candidate record.
func (s Set) IdentityKey() string {
	for _, def := range s.defs {
		if def.Identity {
			return def.Key
		}
	}
	return ""
}

// LookupKeys returns the fields whose values feed lookup-key matching.
func (s Set) LookupKeys() []string {
	var keys []string
	for _, def := range s.defs {
		if def.Lookup {
			keys = append(keys, def.Key)
		}
	}
	return keys
}

// ValidateDefinitions enforces cross-field constraints on a schema before it
// is used: unique keys, option sets on choice fields, and a single identity
// field.
func ValidateDefinitions(defs []Definition) error {
	if len(defs) == 0 {
		return fmt.Errorf("field schema has no definitions")
	}

	seen := make(map[string]struct{}, len(defs))
	identities := 0
	for _, def := range defs {
		key := strings.TrimSpace(def.Key)
		if key == "" {
			return fmt.Errorf("field definition has empty key")
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate field key %s", key)
		}
		seen[key] = struct{}{}

		switch def.Config.Kind {
		case validator.KindChoice, validator.KindMultiChoice:
			if len(def.Config.Options) == 0 {
				return fmt.Errorf("field %s declares a choice type without options", key)
			}
		}

		if def.Relationship && def.Config.Kind != validator.KindRelationship {
			return fmt.Errorf("field %s is marked relationship but typed %s", key, def.Config.Kind)
		}
		if def.Identity {
			identities++
		}
	}

	if identities > 1 {
		return fmt.Errorf("field schema declares more than one identity field")
	}
	return nil
}

// normalizeHeader reduces a header label to a comparable alias form.
func normalizeHeader(header string) string {
	header = strings.ToLower(strings.TrimSpace(header))
	var b strings.Builder
	for _, r := range header {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GuessMapping auto-maps source columns to target fields by comparing
// normalized header labels against each field's aliases. The first matching
// column wins per field; a column is never mapped twice.
func (s Set) GuessMapping(headers []string) domain.Mapping {
	mapping := domain.Mapping{}
	claimed := make(map[string]struct{}, len(headers))

	for _, def := range s.defs {
		aliases := make(map[string]struct{}, len(def.Aliases)+2)
		aliases[normalizeHeader(def.Key)] = struct{}{}
		aliases[normalizeHeader(def.Label)] = struct{}{}
		for _, alias := range def.Aliases {
			aliases[normalizeHeader(alias)] = struct{}{}
		}

		for _, header := range headers {
			if _, taken := claimed[header]; taken {
				continue
			}
			if _, ok := aliases[normalizeHeader(header)]; ok {
				mapping[def.Key] = header
				claimed[header] = struct{}{}
				break
			}
		}
	}

	return mapping
}
