package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/dignifi/formpipe/internal/models"
	"github.com/dignifi/formpipe/internal/schema"
)

// mockGenAIClient implements genai.ClientInterface for testing.
type mockGenAIClient struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
	calls      int
}

func (m *mockGenAIClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.calls++
	for _, msg := range messages {
		if msg.OfSystem != nil {
			m.lastSystem = msg.OfSystem.Content.OfString.Value
		}
		if msg.OfUser != nil {
			m.lastUser = msg.OfUser.Content.OfString.Value
		}
	}
	return m.response, m.err
}

func TestExtractComplete_ParsesJSONObject(t *testing.T) {
	s := schema.MustGet(schema.VariantLegacy)
	mock := &mockGenAIClient{response: `Here is the extracted data:
{"name_of_requestor": "John Smith", "homeless": "n", "request_on_behalf": "y", "name_of_child": "Sarah Smith"}
Let me know if you need anything else.`}
	e := NewExtractor(mock)

	ext := e.ExtractComplete(context.Background(), "some input", s)
	if ext.Empty() {
		t.Fatal("expected fields, got empty extraction")
	}
	want := map[string]string{
		"name_of_requestor": "John Smith",
		"homeless":          "n",
		"request_on_behalf": "y",
		"name_of_child":     "Sarah Smith",
	}
	for k, v := range want {
		if ext.Fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, ext.Fields[k], v)
		}
	}
}

func TestExtractComplete_NullsDropped(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{response: `{"adult_name": "Jane Doe", "email_address": "jane@example.com", "signup_type": "self", "child_name": null}`}
	e := NewExtractor(mock)

	ext := e.ExtractComplete(context.Background(), "input", s)
	if _, ok := ext.Fields["child_name"]; ok {
		t.Error("null values must not appear in extracted fields")
	}
	if ext.Fields["adult_name"] != "Jane Doe" {
		t.Errorf("adult_name = %q", ext.Fields["adult_name"])
	}
}

func TestExtractComplete_HeuristicFallback(t *testing.T) {
	s := schema.MustGet(schema.VariantLegacy)
	// No JSON object at all; the line scanner takes over.
	mock := &mockGenAIClient{response: `Name of requestor: John Smith
Homeless: no
Request on behalf: yes
Name of child: Sarah Smith`}
	e := NewExtractor(mock)

	ext := e.ExtractComplete(context.Background(), "input", s)
	if ext.Fields["name_of_requestor"] != "John Smith" {
		t.Errorf("name_of_requestor = %q", ext.Fields["name_of_requestor"])
	}
	if ext.Fields["homeless"] != "n" {
		t.Errorf("homeless = %q", ext.Fields["homeless"])
	}
	if ext.Fields["request_on_behalf"] != "y" {
		t.Errorf("request_on_behalf = %q", ext.Fields["request_on_behalf"])
	}
	if ext.Fields["name_of_child"] != "Sarah Smith" {
		t.Errorf("name_of_child = %q", ext.Fields["name_of_child"])
	}
}

func TestExtractComplete_ModelFailureDegradesToEmpty(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{err: errors.New("connection timed out")}
	e := NewExtractor(mock)

	ext := e.ExtractComplete(context.Background(), "input", s)
	if !ext.Empty() {
		t.Errorf("expected empty extraction on model failure, got %v", ext.Fields)
	}
}

func TestExtractComplete_GarbageDegradesToEmpty(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{response: "I could not determine anything useful."}
	e := NewExtractor(mock)

	ext := e.ExtractComplete(context.Background(), "input", s)
	if !ext.Empty() {
		t.Errorf("expected empty extraction on unparseable content, got %v", ext.Fields)
	}
}

func TestExtractComplete_SingleCall(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{err: errors.New("unavailable")}
	e := NewExtractor(mock)

	e.ExtractComplete(context.Background(), "input", s)
	if mock.calls != 1 {
		t.Errorf("extraction must not retry; got %d calls", mock.calls)
	}
}

func TestExtractComplete_PromptMentionsSchema(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{response: `{}`}
	e := NewExtractor(mock)

	e.ExtractComplete(context.Background(), "the user text", s)
	for _, want := range []string{"adult_name", "email_address", "signup_type", "child_name", "INFERENCE RULES"} {
		if !strings.Contains(mock.lastSystem, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if mock.lastUser != "the user text" {
		t.Errorf("user prompt = %q", mock.lastUser)
	}
}

func TestExtractIncremental_ParsesEnvelope(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{response: `{"extracted_fields": {"adult_name": "John Smith"}, "confidence": {"adult_name": 0.95}}`}
	e := NewExtractor(mock)

	ext := e.ExtractIncremental(context.Background(), "John Smith", s, models.FormRecord{}, s.FieldNames())
	if ext.Fields["adult_name"] != "John Smith" {
		t.Errorf("adult_name = %q", ext.Fields["adult_name"])
	}
	if ext.Confidence["adult_name"] != 0.95 {
		t.Errorf("confidence = %v", ext.Confidence["adult_name"])
	}
}

func TestExtractIncremental_BareFieldMapGetsFullConfidence(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{response: `{"signup_type": "self"}`}
	e := NewExtractor(mock)

	ext := e.ExtractIncremental(context.Background(), "for myself", s, models.FormRecord{}, s.FieldNames())
	if ext.Fields["signup_type"] != "self" {
		t.Errorf("signup_type = %q", ext.Fields["signup_type"])
	}
	if ext.Confidence["signup_type"] != 1.0 {
		t.Errorf("bare field map should carry full confidence, got %v", ext.Confidence["signup_type"])
	}
}

func TestExtractIncremental_PromptCarriesCollectionState(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{response: `{"extracted_fields": {}, "confidence": {}}`}
	e := NewExtractor(mock)

	known := models.FormRecord{"adult_name": models.String("Jane Doe")}
	e.ExtractIncremental(context.Background(), "hello", s, known, []string{"email_address", "signup_type"})
	if !strings.Contains(mock.lastSystem, "Jane Doe") {
		t.Error("system prompt should include already-collected values")
	}
	if !strings.Contains(mock.lastSystem, "email_address, signup_type") {
		t.Error("system prompt should list the missing fields")
	}
}

func TestExtractIncremental_ModelFailureDegradesToEmpty(t *testing.T) {
	s := schema.MustGet(schema.VariantCurrent)
	mock := &mockGenAIClient{err: errors.New("boom")}
	e := NewExtractor(mock)

	ext := e.ExtractIncremental(context.Background(), "input", s, models.FormRecord{}, s.FieldNames())
	if !ext.Empty() {
		t.Errorf("expected empty extraction, got %v", ext.Fields)
	}
}

func TestJSONObjectSubstring(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`prefix {"a": 1} suffix`, `{"a": 1}`, true},
		{`{"a": {"b": 2}}`, `{"a": {"b": 2}}`, true},
		{"no braces here", "", false},
		{"} backwards {", "", false},
	}
	for _, tc := range cases {
		got, ok := jsonObjectSubstring(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("jsonObjectSubstring(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFlattenFieldMap_CoercesScalars(t *testing.T) {
	got := flattenFieldMap(map[string]interface{}{
		"text":   "value",
		"truthy": true,
		"falsy":  false,
		"number": float64(7),
		"absent": nil,
		"nested": map[string]interface{}{"x": 1},
	})
	if got["text"] != "value" || got["truthy"] != "y" || got["falsy"] != "n" || got["number"] != "7" {
		t.Errorf("unexpected flattening: %v", got)
	}
	if _, ok := got["absent"]; ok {
		t.Error("nulls must be dropped")
	}
	if _, ok := got["nested"]; ok {
		t.Error("nested structures must be dropped")
	}
}
