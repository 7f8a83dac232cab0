// Package models defines the core data structures for FormPipe.
//
// It includes types for extracted form fields, validated records, webhook
// submission outcomes and conversation sessions, which are shared across modules.
package models

import (
	"encoding/json"
	"time"
)

// FieldValue is a validated form value. A nil FieldValue marks a field that is
// legitimately absent under the schema's conditional rules (serialized as JSON
// null), as opposed to a field that was never resolved.
type FieldValue *string

// String returns a FieldValue holding v.
func String(v string) FieldValue {
	return &v
}

// FormRecord maps every schema field name to a validated value or nil.
// A record is produced once by the validator and never mutated afterwards.
type FormRecord map[string]FieldValue

// Clone returns an independent copy of the record.
func (r FormRecord) Clone() FormRecord {
	if r == nil {
		return nil
	}
	out := make(FormRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Value returns the string value for a field and whether it is non-null.
func (r FormRecord) Value(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// ToJSON serializes the record for webhook submission or storage.
func (r FormRecord) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Extraction is the raw result of one extractor call: a best-effort mapping of
// field name to scalar value, plus optional per-field confidence scores in
// [0.0, 1.0]. An empty Extraction covers both "nothing relevant in the input"
// and "the model call or parse failed"; the two are deliberately not
// distinguished to callers.
type Extraction struct {
	Fields     map[string]string  `json:"extracted_fields"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
}

// Empty reports whether the extraction produced no fields.
func (e Extraction) Empty() bool {
	return len(e.Fields) == 0
}

// WebhookOutcome records the result of a single webhook submission attempt.
// Exactly one attempt is made per outcome; there is no automatic retry.
type WebhookOutcome struct {
	Success      bool       `json:"success"`
	StatusCode   int        `json:"status_code,omitempty"`
	ResponseBody string     `json:"response_text,omitempty"`
	Error        string     `json:"error,omitempty"`
	SentData     FormRecord `json:"sent_data"`
}

// PipelineResult is the outcome of single-shot processing of one utterance.
type PipelineResult struct {
	Success        bool              `json:"success"`
	Error          string            `json:"error,omitempty"`
	ExtractedData  map[string]string `json:"extracted_data,omitempty"` // raw fields, attached on validation failure
	FormData       FormRecord        `json:"form_data,omitempty"`
	WebhookOutcome *WebhookOutcome   `json:"webhook_result,omitempty"`
}

// ConversationStep is the state tag of a conversation session.
type ConversationStep string

const (
	// StepGreeting marks a freshly created session that has only emitted its opening question.
	StepGreeting ConversationStep = "greeting"
	// StepCollecting marks a session still gathering required fields.
	StepCollecting ConversationStep = "collecting"
	// StepComplete marks a terminal session; submission has been attempted and no further turns are accepted.
	StepComplete ConversationStep = "complete"
)

// TurnRole tags a conversation history entry as user input or agent output.
type TurnRole string

const (
	// TurnRoleUser marks a message supplied by the user.
	TurnRoleUser TurnRole = "user"
	// TurnRoleAgent marks a message produced by the engine.
	TurnRoleAgent TurnRole = "agent"
)

// ConversationTurn is a single entry in a session's append-only history.
type ConversationTurn struct {
	Role      TurnRole  `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds the per-conversation state owned by the Conversation Engine.
// A session is addressed by an opaque token and is never shared across engines.
type Session struct {
	ID            string             `json:"id"`
	Variant       string             `json:"variant"`
	CollectedData FormRecord         `json:"collected_data"`
	MissingFields []string           `json:"missing_fields"`
	History       []ConversationTurn `json:"conversation_history"`
	CurrentStep   ConversationStep   `json:"current_step"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// ToJSON serializes the session for durable storage backends.
func (s *Session) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SessionFromJSON deserializes a session previously stored with ToJSON.
func SessionFromJSON(data string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ConversationResponse is what a front-end receives after each turn.
type ConversationResponse struct {
	SessionID       string          `json:"session_id"`
	Type            string          `json:"type"` // "greeting", "question", "completion" or "error"
	Message         string          `json:"message"`
	AskingFor       string          `json:"asking_for,omitempty"`
	DataCollected   FormRecord      `json:"data_collected,omitempty"`
	MissingFields   []string        `json:"missing_fields,omitempty"`
	SessionComplete bool            `json:"session_complete"`
	WebhookOutcome  *WebhookOutcome `json:"webhook_result,omitempty"`
}
