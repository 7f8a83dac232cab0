// Package validate checks raw extracted fields against a form schema.
//
// Rules run in a fixed order per field: legacy aliasing, type coercion,
// enumerated-choice matching, then conditional-requirement evaluation. The
// first unsatisfied required field, in schema declaration order, fails the
// whole validation; there is no multi-error reporting.
package validate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dignifi/formpipe/internal/models"
	"github.com/dignifi/formpipe/internal/schema"
)

// FieldError names the first field that failed validation and why.
type FieldError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return e.Reason
}

// Validate normalizes raw extracted fields into a complete FormRecord. On
// success every schema field is present, with nil marking fields that are
// legitimately absent under the conditional rules. On failure it returns a
// *FieldError naming the offending field.
func Validate(raw map[string]string, s *schema.Schema) (models.FormRecord, *FieldError) {
	// Aliasing first: rewrite foreign field names (and cross-variant values)
	// onto this schema's vocabulary before any other processing.
	canonical := make(map[string]string, len(raw))
	for name, value := range raw {
		resolved := s.ResolveAlias(name)
		if _, ok := s.Field(resolved); !ok {
			slog.Debug("Validate dropping unknown field", "field", name)
			continue
		}
		// A value already present under the canonical name wins over an alias.
		if _, exists := canonical[resolved]; exists && resolved != strings.TrimSpace(name) {
			continue
		}
		canonical[resolved] = s.ValueAlias(resolved, strings.TrimSpace(name), value)
	}

	record := make(models.FormRecord, len(s.Fields()))
	for _, f := range s.Fields() {
		value, present := canonical[f.Name]
		coerced := ""
		if present {
			var err *FieldError
			coerced, present, err = coerce(f, value)
			if err != nil {
				slog.Warn("Validate coercion failed", "field", f.Name, "reason", err.Reason)
				return nil, err
			}
		}

		required, resolved := isRequired(f, record)
		switch {
		case present:
			if !required && resolved && f.Conditional != nil {
				// Dependency resolved to a non-trigger value: the field is
				// forced to null even if the extractor supplied one.
				record[f.Name] = nil
			} else {
				record[f.Name] = models.String(coerced)
			}
		case required:
			err := &FieldError{Field: f.Name, Reason: missingReason(f)}
			slog.Warn("Validate missing required field", "field", f.Name)
			return nil, err
		default:
			record[f.Name] = nil
		}
	}

	slog.Debug("Validate succeeded", "variant", s.Variant, "fields", len(record))
	return record, nil
}

// coerce normalizes a raw value per the field type. It returns the coerced
// value, whether a usable value remains, and a validation error for values
// that are malformed rather than merely absent.
func coerce(f schema.FieldSpec, value string) (string, bool, *FieldError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false, nil
	}
	switch f.Type {
	case schema.FieldTypeBool:
		switch strings.ToLower(trimmed) {
		case "y", "yes":
			return "y", true, nil
		case "n", "no":
			return "n", true, nil
		default:
			return "", false, &FieldError{
				Field:  f.Name,
				Reason: fmt.Sprintf("%s must be 'y' or 'n'", f.Description),
			}
		}
	case schema.FieldTypeChoice:
		norm := strings.ToLower(trimmed)
		for _, opt := range f.Options {
			if norm == opt {
				return opt, true, nil
			}
		}
		return "", false, &FieldError{
			Field:  f.Name,
			Reason: fmt.Sprintf("%s must be one of: %s", f.Name, strings.Join(f.Options, ", ")),
		}
	default:
		return trimmed, true, nil
	}
}

// isRequired evaluates a field's requirement against the values validated so
// far. The second return reports whether a conditional's dependency has been
// resolved at all; an unresolved dependency leaves the field unresolved
// rather than satisfied or violated.
func isRequired(f schema.FieldSpec, record models.FormRecord) (required, resolved bool) {
	if f.Conditional == nil {
		return true, true
	}
	dep, ok := record.Value(f.Conditional.Field)
	if !ok {
		return false, false
	}
	return dep == f.Conditional.Value, true
}

// missingReason produces the failure message for an absent required field.
func missingReason(f schema.FieldSpec) string {
	if f.Conditional != nil {
		return fmt.Sprintf("%s is required when %s is '%s'", f.Description, f.Conditional.Field, f.Conditional.Value)
	}
	return fmt.Sprintf("%s is required", f.Description)
}

// IsRequired reports whether a field is currently required given the values
// collected so far, and whether that could be determined. Exposed for the
// conversation engine's missing-field recomputation.
func IsRequired(f schema.FieldSpec, record models.FormRecord) (required, resolved bool) {
	return isRequired(f, record)
}

// CoerceField exposes single-field coercion for incremental collection.
func CoerceField(f schema.FieldSpec, value string) (string, bool, *FieldError) {
	return coerce(f, value)
}
