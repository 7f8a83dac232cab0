// Package schema defines the form schemas FormPipe collects against.
//
// It holds both the legacy four-field fee-waiver form and the current signup
// form, plus the alias table that lets records expressed in one variant's
// field names validate transparently against the other.
package schema

import (
	"fmt"
	"strings"
)

// FieldType describes how a field's raw value is interpreted.
type FieldType string

const (
	// FieldTypeText is free text, trimmed and required non-empty.
	FieldTypeText FieldType = "string"
	// FieldTypeBool accepts y/yes/n/no and normalizes to the "y"/"n" tokens.
	FieldTypeBool FieldType = "bool"
	// FieldTypeChoice must exactly match one of the declared option tokens.
	FieldTypeChoice FieldType = "choice"
)

// Variant names a concrete form schema.
type Variant string

const (
	// VariantLegacy is the original fee-waiver form.
	VariantLegacy Variant = "legacy"
	// VariantCurrent is the current signup form.
	VariantCurrent Variant = "current"
)

// Condition makes a field mandatory only when another field holds a specific value.
type Condition struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// FieldSpec describes one logical form field.
type FieldSpec struct {
	Name        string     `json:"name"`
	Type        FieldType  `json:"type"`
	Description string     `json:"description"`
	Question    string     `json:"question"`
	Options     []string   `json:"options,omitempty"`
	Conditional *Condition `json:"conditional,omitempty"`
}

// Schema is an ordered set of field specs. Declaration order defines both the
// default question ordering and the validator's failure short-circuit order.
type Schema struct {
	Variant Variant
	fields  []FieldSpec
	index   map[string]int
	// aliases maps foreign field names onto this schema's names.
	aliases map[string]string
}

// newSchema builds a schema and verifies the conditional invariants: every
// dependency must name a field declared earlier in the same schema, which
// also rules out cycles.
func newSchema(variant Variant, fields []FieldSpec, aliases map[string]string) *Schema {
	s := &Schema{
		Variant: variant,
		fields:  fields,
		index:   make(map[string]int, len(fields)),
		aliases: aliases,
	}
	for i, f := range fields {
		s.index[f.Name] = i
	}
	for _, f := range fields {
		if f.Conditional == nil {
			continue
		}
		dep, ok := s.index[f.Conditional.Field]
		if !ok {
			panic(fmt.Sprintf("schema %s: field %s depends on undeclared field %s", variant, f.Name, f.Conditional.Field))
		}
		if dep >= s.index[f.Name] {
			panic(fmt.Sprintf("schema %s: field %s depends on later field %s", variant, f.Name, f.Conditional.Field))
		}
	}
	return s
}

// Fields returns the field specs in declaration order.
func (s *Schema) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

// FieldNames returns the field names in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field spec by name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// ResolveAlias maps a raw field name onto this schema's canonical name.
// Unknown names are returned unchanged; the validator ignores them.
func (s *Schema) ResolveAlias(name string) string {
	name = strings.TrimSpace(name)
	if _, ok := s.index[name]; ok {
		return name
	}
	if canonical, ok := s.aliases[name]; ok {
		return canonical
	}
	return name
}

// legacy fee-waiver form: requestor name, homelessness flag, on-behalf flag,
// child name required only for on-behalf requests.
var legacySchema = newSchema(VariantLegacy, []FieldSpec{
	{
		Name:        "name_of_requestor",
		Type:        FieldTypeText,
		Description: "Name of the person making the request",
		Question:    "What is your full name?",
	},
	{
		Name:        "homeless",
		Type:        FieldTypeBool,
		Description: "Whether the requestor is homeless (y/n)",
		Question:    "Are you currently homeless? (y/n)",
	},
	{
		Name:        "request_on_behalf",
		Type:        FieldTypeBool,
		Description: "Whether the request is made on behalf of a child (y/n)",
		Question:    "Are you making this request on behalf of your child? (y/n)",
	},
	{
		Name:        "name_of_child",
		Type:        FieldTypeText,
		Description: "Name of the child (only if the request is on their behalf)",
		Question:    "What is your child's full name?",
		Conditional: &Condition{Field: "request_on_behalf", Value: "y"},
	},
}, map[string]string{
	"adult_name": "name_of_requestor",
	"child_name": "name_of_child",
	// signup_type carries a value rewrite as well; see ValueAlias.
	"signup_type": "request_on_behalf",
})

// current signup form: adult name, email, self/child signup choice, child name
// required only for child signups.
var currentSchema = newSchema(VariantCurrent, []FieldSpec{
	{
		Name:        "adult_name",
		Type:        FieldTypeText,
		Description: "Name of the adult making the request",
		Question:    "What is your full name?",
	},
	{
		Name:        "email_address",
		Type:        FieldTypeText,
		Description: "Email address of the adult",
		Question:    "What is your email address?",
	},
	{
		Name:        "signup_type",
		Type:        FieldTypeChoice,
		Description: "Whether signing up for themselves or their child",
		Question:    "Are you signing up for yourself or for your child?",
		Options:     []string{"self", "child"},
	},
	{
		Name:        "child_name",
		Type:        FieldTypeText,
		Description: "Name of the child (only if signup_type is 'child')",
		Question:    "What is your child's full name?",
		Conditional: &Condition{Field: "signup_type", Value: "child"},
	},
}, map[string]string{
	"name_of_requestor": "adult_name",
	"name_of_child":     "child_name",
	"request_on_behalf": "signup_type",
})

// ValueAlias rewrites a value that crossed a variant boundary. The on-behalf
// y/n flag and the self/child signup choice encode the same fact in different
// vocabularies; everything else passes through unchanged.
func (s *Schema) ValueAlias(canonicalField, rawField, value string) string {
	if canonicalField == rawField {
		return value
	}
	norm := strings.ToLower(strings.TrimSpace(value))
	switch {
	case canonicalField == "signup_type" && rawField == "request_on_behalf":
		switch norm {
		case "y", "yes":
			return "child"
		case "n", "no":
			return "self"
		}
	case canonicalField == "request_on_behalf" && rawField == "signup_type":
		switch norm {
		case "child":
			return "y"
		case "self":
			return "n"
		}
	}
	return value
}

// Get returns the schema for the given variant.
func Get(variant Variant) (*Schema, error) {
	switch variant {
	case VariantLegacy:
		return legacySchema, nil
	case VariantCurrent, "":
		return currentSchema, nil
	default:
		return nil, fmt.Errorf("unknown schema variant: %s", variant)
	}
}

// MustGet returns the schema for the given variant and panics on unknown
// variants. Intended for startup wiring where the variant was already parsed.
func MustGet(variant Variant) *Schema {
	s, err := Get(variant)
	if err != nil {
		panic(err)
	}
	return s
}
