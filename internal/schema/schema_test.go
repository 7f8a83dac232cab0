package schema

import (
	"testing"
)

func TestGet_Variants(t *testing.T) {
	legacy, err := Get(VariantLegacy)
	if err != nil {
		t.Fatalf("expected legacy schema, got error %v", err)
	}
	if got := legacy.FieldNames(); len(got) != 4 || got[0] != "name_of_requestor" || got[3] != "name_of_child" {
		t.Errorf("unexpected legacy field order: %v", got)
	}

	current, err := Get(VariantCurrent)
	if err != nil {
		t.Fatalf("expected current schema, got error %v", err)
	}
	if got := current.FieldNames(); len(got) != 4 || got[0] != "adult_name" || got[1] != "email_address" {
		t.Errorf("unexpected current field order: %v", got)
	}
}

func TestGet_DefaultsToCurrent(t *testing.T) {
	s, err := Get("")
	if err != nil {
		t.Fatalf("expected default schema, got error %v", err)
	}
	if s.Variant != VariantCurrent {
		t.Errorf("expected current variant by default, got %s", s.Variant)
	}
}

func TestGet_UnknownVariant(t *testing.T) {
	if _, err := Get("v3"); err == nil {
		t.Error("expected error for unknown variant, got nil")
	}
}

func TestField_Conditional(t *testing.T) {
	current := MustGet(VariantCurrent)
	child, ok := current.Field("child_name")
	if !ok {
		t.Fatal("expected child_name field")
	}
	if child.Conditional == nil {
		t.Fatal("expected child_name to be conditional")
	}
	if child.Conditional.Field != "signup_type" || child.Conditional.Value != "child" {
		t.Errorf("unexpected conditional spec: %+v", child.Conditional)
	}
}

func TestResolveAlias(t *testing.T) {
	current := MustGet(VariantCurrent)
	cases := map[string]string{
		"name_of_requestor": "adult_name",
		"name_of_child":     "child_name",
		"request_on_behalf": "signup_type",
		"adult_name":        "adult_name",
		"unknown_field":     "unknown_field",
		"  adult_name  ":    "adult_name",
	}
	for in, want := range cases {
		if got := current.ResolveAlias(in); got != want {
			t.Errorf("ResolveAlias(%q) = %q, want %q", in, got, want)
		}
	}

	legacy := MustGet(VariantLegacy)
	if got := legacy.ResolveAlias("adult_name"); got != "name_of_requestor" {
		t.Errorf("legacy ResolveAlias(adult_name) = %q", got)
	}
	if got := legacy.ResolveAlias("signup_type"); got != "request_on_behalf" {
		t.Errorf("legacy ResolveAlias(signup_type) = %q", got)
	}
}

func TestValueAlias_CrossVariant(t *testing.T) {
	current := MustGet(VariantCurrent)
	if got := current.ValueAlias("signup_type", "request_on_behalf", "y"); got != "child" {
		t.Errorf("on-behalf y should become child, got %q", got)
	}
	if got := current.ValueAlias("signup_type", "request_on_behalf", "No"); got != "self" {
		t.Errorf("on-behalf no should become self, got %q", got)
	}
	if got := current.ValueAlias("adult_name", "name_of_requestor", "John"); got != "John" {
		t.Errorf("text values must pass through, got %q", got)
	}

	legacy := MustGet(VariantLegacy)
	if got := legacy.ValueAlias("request_on_behalf", "signup_type", "child"); got != "y" {
		t.Errorf("signup child should become y, got %q", got)
	}
	if got := legacy.ValueAlias("request_on_behalf", "signup_type", "self"); got != "n" {
		t.Errorf("signup self should become n, got %q", got)
	}
}

func TestConditionalDependencyDeclared(t *testing.T) {
	// Every conditional dependency must name an earlier field in the same
	// schema; construction panics otherwise, so reaching here proves both
	// built-in variants satisfy the invariant.
	for _, v := range []Variant{VariantLegacy, VariantCurrent} {
		s := MustGet(v)
		for _, f := range s.Fields() {
			if f.Conditional == nil {
				continue
			}
			if _, ok := s.Field(f.Conditional.Field); !ok {
				t.Errorf("schema %s: conditional dependency %s not declared", v, f.Conditional.Field)
			}
		}
	}
}
