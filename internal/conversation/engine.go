// Package conversation implements the multi-turn collection state machine.
//
// A session moves greeting -> collecting -> complete. Each user turn triggers
// at most one extraction call; extracted fields are merged only above the
// confidence threshold, missing fields are recomputed under the schema's
// conditional rules, and the webhook submission fires synchronously on the
// turn that resolves the last outstanding field.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dignifi/formpipe/internal/models"
	"github.com/dignifi/formpipe/internal/schema"
	"github.com/dignifi/formpipe/internal/store"
	"github.com/dignifi/formpipe/internal/validate"
)

// DefaultConfidenceThreshold gates field merges; extractions at or below it
// are discarded for the turn.
const DefaultConfidenceThreshold = 0.7

// Extractor is the extraction dependency of the engine.
type Extractor interface {
	ExtractIncremental(ctx context.Context, userText string, s *schema.Schema, known models.FormRecord, missing []string) models.Extraction
}

// Submitter is the webhook dependency of the engine.
type Submitter interface {
	Submit(ctx context.Context, record models.FormRecord) models.WebhookOutcome
}

// Opts holds engine configuration.
type Opts struct {
	ConfidenceThreshold float64
	Greeting            string
}

// Option configures the conversation engine.
type Option func(*Opts)

// WithConfidenceThreshold overrides the merge gate.
func WithConfidenceThreshold(t float64) Option {
	return func(o *Opts) { o.ConfidenceThreshold = t }
}

// WithGreeting overrides the opening message prefix.
func WithGreeting(g string) Option {
	return func(o *Opts) { o.Greeting = g }
}

// Engine drives conversations against one schema variant. Sessions are
// exclusively owned: turns for different tokens never share mutable state.
type Engine struct {
	sessions  store.SessionStore
	extractor Extractor
	submitter Submitter
	schema    *schema.Schema
	threshold float64
	greeting  string
}

// NewEngine creates a conversation engine.
func NewEngine(sessions store.SessionStore, extractor Extractor, submitter Submitter, s *schema.Schema, opts ...Option) *Engine {
	cfg := Opts{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		Greeting:            "Hi! I'm here to help you with your application. I'll need to collect some information from you.",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Conversation engine initialized", "variant", s.Variant, "threshold", cfg.ConfidenceThreshold)
	return &Engine{
		sessions:  sessions,
		extractor: extractor,
		submitter: submitter,
		schema:    s,
		threshold: cfg.ConfidenceThreshold,
		greeting:  cfg.Greeting,
	}
}

// StartConversation creates a session and emits the greeting plus the first
// question, without having received any user input.
func (e *Engine) StartConversation(ctx context.Context) (models.ConversationResponse, error) {
	now := time.Now()
	firstField := e.schema.Fields()[0]
	message := e.greeting + " " + e.questionFor(firstField)

	session := models.Session{
		ID:            uuid.NewString(),
		Variant:       string(e.schema.Variant),
		CollectedData: models.FormRecord{},
		MissingFields: e.schema.FieldNames(),
		History: []models.ConversationTurn{
			{Role: models.TurnRoleAgent, Message: message, Timestamp: now},
		},
		CurrentStep: models.StepGreeting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.sessions.SaveSession(session); err != nil {
		slog.Error("StartConversation session save failed", "error", err)
		return models.ConversationResponse{}, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Conversation started", "sessionID", session.ID, "variant", session.Variant)
	return models.ConversationResponse{
		SessionID:       session.ID,
		Type:            "greeting",
		Message:         message,
		AskingFor:       firstField.Name,
		SessionComplete: false,
	}, nil
}

// ContinueConversation advances a session by one user turn. Unknown or
// completed sessions get a terminal error response without any state mutation.
func (e *Engine) ContinueConversation(ctx context.Context, sessionID, userInput string) (models.ConversationResponse, error) {
	session, err := e.sessions.GetSession(sessionID)
	if err != nil {
		slog.Error("ContinueConversation session lookup failed", "error", err, "sessionID", sessionID)
		return models.ConversationResponse{}, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		slog.Warn("ContinueConversation unknown session", "sessionID", sessionID)
		return models.ConversationResponse{
			SessionID:       sessionID,
			Type:            "error",
			Message:         "Session not found. Please start a new conversation.",
			SessionComplete: true,
		}, nil
	}
	if session.CurrentStep == models.StepComplete {
		slog.Warn("ContinueConversation turn on completed session", "sessionID", sessionID)
		return models.ConversationResponse{
			SessionID:       sessionID,
			Type:            "error",
			Message:         "This conversation is already complete. Please start a new one.",
			SessionComplete: true,
		}, nil
	}

	now := time.Now()
	session.History = append(session.History, models.ConversationTurn{
		Role: models.TurnRoleUser, Message: userInput, Timestamp: now,
	})
	session.CurrentStep = models.StepCollecting

	extraction := e.extractor.ExtractIncremental(ctx, userInput, e.schema, session.CollectedData, session.MissingFields)
	merged := e.mergeExtraction(session, extraction)
	e.recomputeMissing(session)

	response := e.respond(ctx, session, merged)
	session.History = append(session.History, models.ConversationTurn{
		Role: models.TurnRoleAgent, Message: response.Message, Timestamp: time.Now(),
	})
	session.UpdatedAt = time.Now()

	if err := e.sessions.SaveSession(*session); err != nil {
		slog.Error("ContinueConversation session save failed", "error", err, "sessionID", sessionID)
		return models.ConversationResponse{}, fmt.Errorf("failed to save session: %w", err)
	}

	return response, nil
}

// mergeExtraction folds confidence-gated extracted fields into the session's
// collected data. Sub-threshold or malformed values are discarded silently;
// the field simply stays outstanding and gets asked again. Returns the fields
// accepted this turn, for acknowledgment.
func (e *Engine) mergeExtraction(session *models.Session, extraction models.Extraction) map[string]string {
	merged := make(map[string]string)
	for name, value := range extraction.Fields {
		canonical := e.schema.ResolveAlias(name)
		spec, ok := e.schema.Field(canonical)
		if !ok {
			slog.Debug("Merge skipping unknown field", "field", name, "sessionID", session.ID)
			continue
		}
		if extraction.Confidence[name] <= e.threshold {
			slog.Debug("Merge discarding sub-threshold field", "field", canonical, "confidence", extraction.Confidence[name], "sessionID", session.ID)
			continue
		}
		coerced, usable, coerceErr := validate.CoerceField(spec, e.schema.ValueAlias(canonical, strings.TrimSpace(name), value))
		if coerceErr != nil || !usable {
			slog.Debug("Merge discarding malformed field", "field", canonical, "sessionID", session.ID)
			continue
		}
		session.CollectedData[canonical] = models.String(coerced)
		merged[canonical] = coerced
	}
	if len(merged) > 0 {
		slog.Debug("Merged extracted fields", "count", len(merged), "sessionID", session.ID)
	}
	return merged
}

// recomputeMissing rebuilds the outstanding-field list in schema order,
// honoring conditional requirements against the values collected so far. A
// conditional whose dependency resolved away from its trigger is forced to
// null so the final record is complete.
func (e *Engine) recomputeMissing(session *models.Session) {
	var missing []string
	for _, f := range e.schema.Fields() {
		if _, ok := session.CollectedData.Value(f.Name); ok {
			continue
		}
		required, resolved := validate.IsRequired(f, session.CollectedData)
		switch {
		case required:
			missing = append(missing, f.Name)
		case !resolved:
			// Dependency not yet known; the field stays outstanding.
			missing = append(missing, f.Name)
		default:
			session.CollectedData[f.Name] = nil
		}
	}
	session.MissingFields = missing
}

// respond either completes the session (submitting exactly once) or asks for
// the next outstanding field.
func (e *Engine) respond(ctx context.Context, session *models.Session, merged map[string]string) models.ConversationResponse {
	if len(session.MissingFields) == 0 {
		record := session.CollectedData.Clone()
		outcome := e.submitter.Submit(ctx, record)
		// Mark complete before the caller sees the result; no further turns
		// are accepted regardless of the webhook outcome.
		session.CurrentStep = models.StepComplete
		slog.Info("Conversation complete, submission attempted", "sessionID", session.ID, "webhook_success", outcome.Success)
		return models.ConversationResponse{
			SessionID:       session.ID,
			Type:            "completion",
			Message:         "Perfect! I have all the information needed. Let me submit your request now.",
			DataCollected:   record,
			SessionComplete: true,
			WebhookOutcome:  &outcome,
		}
	}

	next, _ := e.schema.Field(session.MissingFields[0])
	message := e.acknowledge(merged) + e.questionFor(next)
	slog.Debug("Conversation asking next question", "sessionID", session.ID, "asking_for", next.Name, "missing", len(session.MissingFields))
	return models.ConversationResponse{
		SessionID:       session.ID,
		Type:            "question",
		Message:         message,
		AskingFor:       next.Name,
		DataCollected:   session.CollectedData.Clone(),
		MissingFields:   session.MissingFields,
		SessionComplete: false,
	}
}

// acknowledge summarizes the fields captured this turn.
func (e *Engine) acknowledge(merged map[string]string) string {
	if len(merged) == 0 {
		return ""
	}
	var parts []string
	for _, f := range e.schema.Fields() {
		if v, ok := merged[f.Name]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Description, v))
		}
	}
	return fmt.Sprintf("Great! I've noted: %s. ", strings.Join(parts, ", "))
}

// questionFor renders a field's question, listing the options for choices.
func (e *Engine) questionFor(f schema.FieldSpec) string {
	q := f.Question
	if f.Type == schema.FieldTypeChoice && len(f.Options) > 0 {
		q += fmt.Sprintf(" (Please say %s)", strings.Join(f.Options, " or "))
	}
	return q
}
