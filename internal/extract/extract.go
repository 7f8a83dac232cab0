// Package extract turns free-form user text into raw form fields using a
// single LLM completion per call.
//
// The model output is untrusted: a strict JSON-object parse is attempted
// first, then a keyword line-scanning fallback. Any failure — transport,
// auth, timeout or unparseable content — degrades to an empty extraction;
// extraction is never fatal and is never retried.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/dignifi/formpipe/internal/genai"
	"github.com/dignifi/formpipe/internal/models"
	"github.com/dignifi/formpipe/internal/schema"
)

// Extractor issues extraction calls against a GenAI client.
type Extractor struct {
	client genai.ClientInterface
}

// NewExtractor creates an extractor backed by the given GenAI client.
func NewExtractor(client genai.ClientInterface) *Extractor {
	return &Extractor{client: client}
}

// ExtractComplete extracts all schema fields from one complete utterance.
// Used by the single-shot pipeline; no confidence scores are requested.
func (e *Extractor) ExtractComplete(ctx context.Context, userText string, s *schema.Schema) models.Extraction {
	systemPrompt := buildCompletePrompt(s)
	content, err := e.client.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userText),
	})
	if err != nil {
		slog.Warn("Extractor completion call failed, returning empty extraction", "error", err)
		return models.Extraction{Fields: map[string]string{}}
	}

	if fields, ok := parseJSONFields(content); ok {
		slog.Debug("Extractor parsed JSON object", "fields", len(fields))
		return models.Extraction{Fields: fields}
	}
	fields := parseStructuredResponse(content, s)
	if len(fields) == 0 {
		slog.Warn("Extractor could not parse model response", "response_length", len(content))
	}
	return models.Extraction{Fields: fields}
}

// ExtractIncremental extracts whatever fields the user's latest turn contains,
// with per-field confidence scores. The prompt tells the model which fields
// are already known so it focuses on the outstanding ones.
func (e *Extractor) ExtractIncremental(ctx context.Context, userText string, s *schema.Schema, known models.FormRecord, missing []string) models.Extraction {
	systemPrompt := buildIncrementalPrompt(s, known, missing)
	content, err := e.client.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userText),
	})
	if err != nil {
		slog.Warn("Extractor incremental call failed, returning empty extraction", "error", err)
		return models.Extraction{Fields: map[string]string{}, Confidence: map[string]float64{}}
	}

	if ext, ok := parseIncrementalResponse(content); ok {
		slog.Debug("Extractor parsed incremental response", "fields", len(ext.Fields))
		return ext
	}
	// Fall back to the line scanner; fields recovered this way carry full
	// confidence since the scanner only matches explicit mentions.
	fields := parseStructuredResponse(content, s)
	conf := make(map[string]float64, len(fields))
	for f := range fields {
		conf[f] = 1.0
	}
	if len(fields) == 0 {
		slog.Warn("Extractor could not parse incremental model response", "response_length", len(content))
	}
	return models.Extraction{Fields: fields, Confidence: conf}
}

// buildCompletePrompt constructs the system instruction for one-shot extraction.
func buildCompletePrompt(s *schema.Schema) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that extracts form data from user responses.\n\n")
	b.WriteString("You need to collect the following information:\n")
	for _, f := range s.Fields() {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Description)
		if f.Conditional != nil {
			fmt.Fprintf(&b, " (only if %s is '%s', otherwise null)", f.Conditional.Field, f.Conditional.Value)
		} else {
			b.WriteString(" (required)")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nIMPORTANT INFERENCE RULES:\n")
	b.WriteString(inferenceRules(s))
	b.WriteString("\nReturn the data as a valid JSON object with all fields present. Use null for fields that do not apply.\n")
	return b.String()
}

// buildIncrementalPrompt constructs the system instruction for conversational
// extraction, including collection state and a confidence requirement.
func buildIncrementalPrompt(s *schema.Schema, known models.FormRecord, missing []string) string {
	type fieldStatus struct {
		Description  string  `json:"description"`
		Collected    bool    `json:"collected"`
		CurrentValue *string `json:"current_value"`
	}
	status := make(map[string]fieldStatus, len(s.Fields()))
	for _, f := range s.Fields() {
		fs := fieldStatus{Description: f.Description}
		if v, ok := known.Value(f.Name); ok {
			fs.Collected = true
			fs.CurrentValue = &v
		}
		status[f.Name] = fs
	}
	statusJSON, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		statusJSON = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("You are a helpful assistant extracting form information from user responses.\n\n")
	b.WriteString("Required fields and their current status:\n")
	b.Write(statusJSON)
	fmt.Fprintf(&b, "\n\nCurrent missing fields: %s\n\n", strings.Join(missing, ", "))
	b.WriteString("Extract any available information from the user's input and return a JSON object with:\n")
	b.WriteString("- extracted_fields: dict of field_name -> value for any fields you can extract\n")
	b.WriteString("- confidence: dict of field_name -> confidence_score (0.0 to 1.0) for extracted fields\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. Only extract information you're confident about.\n")
	b.WriteString("2. Be conservative - if unsure, don't extract.\n")
	b.WriteString("3. Names should be proper names, not just yes/no responses.\n")
	b.WriteString(inferenceRules(s))
	b.WriteString("\nReturn valid JSON only.\n")
	return b.String()
}

// inferenceRules emits the conversational-cue rules for the schema's implicit
// fields: self vs. on-behalf phrasing, homelessness phrasing, choice tokens.
func inferenceRules(s *schema.Schema) string {
	var b strings.Builder
	if _, ok := s.Field("signup_type"); ok {
		b.WriteString("- If the user says 'for myself', 'for me', 'I'm signing up', 'I need' -> signup_type = 'self'.\n")
		b.WriteString("- If the user says 'for my child', 'my kid', 'my son', 'my daughter' -> signup_type = 'child'.\n")
		b.WriteString("- If a child's name is mentioned, assume signup_type = 'child'.\n")
		b.WriteString("- For signup_type return exactly 'self' or 'child', never other variations.\n")
	}
	if _, ok := s.Field("request_on_behalf"); ok {
		b.WriteString("- If the user says the request is for themselves -> request_on_behalf = 'n'.\n")
		b.WriteString("- If the user says the request is on behalf of a child -> request_on_behalf = 'y'.\n")
		b.WriteString("- If a child's name is mentioned, assume request_on_behalf = 'y'.\n")
	}
	if _, ok := s.Field("homeless"); ok {
		b.WriteString("- Phrases like 'I am homeless' or 'without housing' -> homeless = 'y'; 'not homeless' or a stated home address -> homeless = 'n'.\n")
	}
	return b.String()
}

// parseJSONFields locates the first '{' and last '}' in the content and
// decodes the substring as a flat field map.
func parseJSONFields(content string) (map[string]string, bool) {
	raw, ok := jsonObjectSubstring(content)
	if !ok {
		return nil, false
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, false
	}
	return flattenFieldMap(decoded), true
}

// parseIncrementalResponse decodes the extracted_fields/confidence envelope.
// A bare field map (no envelope) is accepted with implicit full confidence.
func parseIncrementalResponse(content string) (models.Extraction, bool) {
	raw, ok := jsonObjectSubstring(content)
	if !ok {
		return models.Extraction{}, false
	}
	var envelope struct {
		ExtractedFields map[string]interface{} `json:"extracted_fields"`
		Confidence      map[string]float64     `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return models.Extraction{}, false
	}
	if envelope.ExtractedFields != nil {
		ext := models.Extraction{
			Fields:     flattenFieldMap(envelope.ExtractedFields),
			Confidence: envelope.Confidence,
		}
		if ext.Confidence == nil {
			ext.Confidence = map[string]float64{}
		}
		return ext, true
	}
	// No envelope; treat the object as a direct field map.
	var direct map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &direct); err != nil {
		return models.Extraction{}, false
	}
	fields := flattenFieldMap(direct)
	conf := make(map[string]float64, len(fields))
	for f := range fields {
		conf[f] = 1.0
	}
	return models.Extraction{Fields: fields, Confidence: conf}, true
}

// jsonObjectSubstring returns the substring between the first '{' and the
// last '}' of the content.
func jsonObjectSubstring(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return content[start : end+1], true
}

// flattenFieldMap coerces decoded JSON values into scalar strings, dropping
// nulls and nested structures.
func flattenFieldMap(decoded map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(decoded))
	for k, v := range decoded {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case bool:
			if val {
				fields[k] = "y"
			} else {
				fields[k] = "n"
			}
		case float64:
			fields[k] = fmt.Sprintf("%v", val)
		case nil:
			// correctly-absent field; the validator handles nulls
		}
	}
	return fields
}

// parseStructuredResponse is the heuristic fallback: scan lines for a field
// keyword followed by a colon-delimited value, with yes/no detection for
// boolean-like fields.
func parseStructuredResponse(content string, s *schema.Schema) map[string]string {
	fields := make(map[string]string)
	lines := strings.Split(content, "\n")
	lower := strings.ToLower(content)

	for _, f := range s.Fields() {
		keywords := fieldKeywords(f)
		switch f.Type {
		case schema.FieldTypeBool:
			if !containsAny(lower, keywords) {
				continue
			}
			for _, line := range lines {
				lineLower := strings.ToLower(line)
				if !containsAny(lineLower, keywords) {
					continue
				}
				if strings.Contains(lineLower, "yes") {
					fields[f.Name] = "y"
				} else if strings.Contains(lineLower, "no") {
					fields[f.Name] = "n"
				}
				if _, ok := fields[f.Name]; ok {
					break
				}
			}
		default:
			for _, line := range lines {
				lineLower := strings.ToLower(line)
				if !containsAny(lineLower, keywords) {
					continue
				}
				idx := strings.Index(line, ":")
				if idx < 0 || idx == len(line)-1 {
					continue
				}
				value := strings.TrimSpace(line[idx+1:])
				if value != "" {
					fields[f.Name] = value
					break
				}
			}
		}
	}
	return fields
}

// fieldKeywords derives scan keywords from a field's name. "name" alone is
// too generic to anchor a match when a more specific part exists; without the
// filter a "Name of requestor:" line would also satisfy name_of_child.
func fieldKeywords(f schema.FieldSpec) []string {
	var keywords []string
	for _, part := range strings.Split(f.Name, "_") {
		switch part {
		case "of", "on", "type", "address":
			// structural noise
		default:
			keywords = append(keywords, part)
		}
	}
	if len(keywords) > 1 {
		filtered := keywords[:0]
		for _, k := range keywords {
			if k != "name" {
				filtered = append(filtered, k)
			}
		}
		keywords = filtered
	}
	return keywords
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
