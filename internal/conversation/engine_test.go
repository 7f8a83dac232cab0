package conversation

import (
	"context"
	"strings"
	"testing"

	"github.com/dignifi/formpipe/internal/models"
	"github.com/dignifi/formpipe/internal/schema"
	"github.com/dignifi/formpipe/internal/store"
)

// scriptedExtractor returns one queued extraction per turn.
type scriptedExtractor struct {
	queue []models.Extraction
	calls int
}

func (s *scriptedExtractor) ExtractIncremental(ctx context.Context, userText string, sc *schema.Schema, known models.FormRecord, missing []string) models.Extraction {
	s.calls++
	if len(s.queue) == 0 {
		return models.Extraction{}
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next
}

// countingSubmitter records every submission.
type countingSubmitter struct {
	records []models.FormRecord
	success bool
}

func (c *countingSubmitter) Submit(ctx context.Context, record models.FormRecord) models.WebhookOutcome {
	c.records = append(c.records, record)
	return models.WebhookOutcome{Success: c.success, StatusCode: 200, SentData: record}
}

func extraction(fields map[string]string, conf float64) models.Extraction {
	confidence := make(map[string]float64, len(fields))
	for k := range fields {
		confidence[k] = conf
	}
	return models.Extraction{Fields: fields, Confidence: confidence}
}

func newTestEngine(t *testing.T, extractor *scriptedExtractor, submitter *countingSubmitter) *Engine {
	t.Helper()
	s := schema.MustGet(schema.VariantCurrent)
	return NewEngine(store.NewInMemoryStore(), extractor, submitter, s)
}

func TestStartConversation(t *testing.T) {
	engine := newTestEngine(t, &scriptedExtractor{}, &countingSubmitter{success: true})

	resp, err := engine.StartConversation(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("expected a session token")
	}
	if resp.Type != "greeting" {
		t.Errorf("type = %q", resp.Type)
	}
	if resp.AskingFor != "adult_name" {
		t.Errorf("first question should target adult_name, got %q", resp.AskingFor)
	}
	if resp.SessionComplete {
		t.Error("fresh session must not be complete")
	}
	if !strings.Contains(resp.Message, "?") {
		t.Errorf("greeting should end with the first question, got %q", resp.Message)
	}
}

func TestConversation_ThreeTurnsToCompletion(t *testing.T) {
	extractor := &scriptedExtractor{queue: []models.Extraction{
		extraction(map[string]string{"adult_name": "John Smith"}, 0.95),
		extraction(map[string]string{"email_address": "john@example.com"}, 0.9),
		extraction(map[string]string{"signup_type": "child", "child_name": "Sarah Smith"}, 0.92),
	}}
	submitter := &countingSubmitter{success: true}
	engine := newTestEngine(t, extractor, submitter)
	ctx := context.Background()

	start, err := engine.StartConversation(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	r1, err := engine.ContinueConversation(ctx, start.SessionID, "Hi, I'm John Smith")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if r1.Type != "question" || r1.AskingFor != "email_address" {
		t.Errorf("turn 1 should ask for email_address, got type=%q asking=%q", r1.Type, r1.AskingFor)
	}
	if !strings.Contains(r1.Message, "John Smith") {
		t.Errorf("turn 1 should acknowledge the captured name, got %q", r1.Message)
	}

	r2, err := engine.ContinueConversation(ctx, start.SessionID, "john@example.com")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if r2.AskingFor != "signup_type" {
		t.Errorf("turn 2 should ask for signup_type, got %q", r2.AskingFor)
	}
	if !strings.Contains(r2.Message, "self or child") {
		t.Errorf("choice question should list the options, got %q", r2.Message)
	}

	r3, err := engine.ContinueConversation(ctx, start.SessionID, "It's for my daughter Sarah Smith")
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if r3.Type != "completion" || !r3.SessionComplete {
		t.Fatalf("turn 3 should complete the session, got %+v", r3)
	}
	if r3.WebhookOutcome == nil || !r3.WebhookOutcome.Success {
		t.Errorf("completion should carry the webhook outcome, got %+v", r3.WebhookOutcome)
	}

	if len(submitter.records) != 1 {
		t.Fatalf("exactly one submission expected, got %d", len(submitter.records))
	}
	sent := submitter.records[0]
	for field, want := range map[string]string{
		"adult_name":    "John Smith",
		"email_address": "john@example.com",
		"signup_type":   "child",
		"child_name":    "Sarah Smith",
	} {
		if got, _ := sent.Value(field); got != want {
			t.Errorf("submitted %s = %q, want %q", field, got, want)
		}
	}
}

func TestConversation_SelfSignupSkipsChildName(t *testing.T) {
	extractor := &scriptedExtractor{queue: []models.Extraction{
		extraction(map[string]string{
			"adult_name":    "Jane Doe",
			"email_address": "jane@example.com",
			"signup_type":   "self",
		}, 0.9),
	}}
	submitter := &countingSubmitter{success: true}
	engine := newTestEngine(t, extractor, submitter)
	ctx := context.Background()

	start, _ := engine.StartConversation(ctx)
	resp, err := engine.ContinueConversation(ctx, start.SessionID, "Jane Doe, jane@example.com, just for me")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !resp.SessionComplete {
		t.Fatalf("self signup with all fields should complete in one turn, got %+v", resp)
	}

	sent := submitter.records[0]
	v, ok := sent["child_name"]
	if !ok {
		t.Fatal("child_name must be present in the submitted record")
	}
	if v != nil {
		t.Errorf("child_name should be null for self signup, got %q", *v)
	}
}

func TestConversation_ConfidenceGate(t *testing.T) {
	extractor := &scriptedExtractor{queue: []models.Extraction{
		// Exactly at the threshold: must be discarded.
		extraction(map[string]string{"adult_name": "Maybe Someone"}, DefaultConfidenceThreshold),
		// Above the threshold: merged.
		extraction(map[string]string{"adult_name": "John Smith"}, 0.71),
	}}
	engine := newTestEngine(t, extractor, &countingSubmitter{success: true})
	ctx := context.Background()

	start, _ := engine.StartConversation(ctx)

	r1, err := engine.ContinueConversation(ctx, start.SessionID, "mumble")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if r1.AskingFor != "adult_name" {
		t.Errorf("at-threshold extraction must be discarded and the field re-asked, got asking=%q", r1.AskingFor)
	}
	if _, ok := r1.DataCollected.Value("adult_name"); ok {
		t.Error("at-threshold value must not be stored")
	}

	r2, err := engine.ContinueConversation(ctx, start.SessionID, "John Smith")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if got, _ := r2.DataCollected.Value("adult_name"); got != "John Smith" {
		t.Errorf("above-threshold value should merge, got %q", got)
	}
	if r2.AskingFor != "email_address" {
		t.Errorf("turn 2 should move on to email_address, got %q", r2.AskingFor)
	}
}

func TestConversation_UnknownSession(t *testing.T) {
	engine := newTestEngine(t, &scriptedExtractor{}, &countingSubmitter{})

	resp, err := engine.ContinueConversation(context.Background(), "no-such-session", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Type != "error" || !resp.SessionComplete {
		t.Errorf("unknown session should yield a terminal error response, got %+v", resp)
	}
}

func TestConversation_CompletedSessionRejectsTurns(t *testing.T) {
	extractor := &scriptedExtractor{queue: []models.Extraction{
		extraction(map[string]string{
			"adult_name":    "Jane Doe",
			"email_address": "jane@example.com",
			"signup_type":   "self",
		}, 0.9),
	}}
	submitter := &countingSubmitter{success: true}
	engine := newTestEngine(t, extractor, submitter)
	ctx := context.Background()

	start, _ := engine.StartConversation(ctx)
	done, _ := engine.ContinueConversation(ctx, start.SessionID, "everything at once")
	if !done.SessionComplete {
		t.Fatal("setup: session should be complete")
	}

	after, err := engine.ContinueConversation(ctx, start.SessionID, "one more thing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Type != "error" || !after.SessionComplete {
		t.Errorf("completed session should reject further turns, got %+v", after)
	}
	if len(submitter.records) != 1 {
		t.Errorf("no second submission allowed, got %d", len(submitter.records))
	}
	if extractor.calls != 1 {
		t.Errorf("no extraction on a rejected turn, got %d calls", extractor.calls)
	}
}

func TestConversation_SessionIsolation(t *testing.T) {
	extractor := &scriptedExtractor{queue: []models.Extraction{
		extraction(map[string]string{"adult_name": "John Smith"}, 0.9),
		extraction(map[string]string{"adult_name": "Jane Doe"}, 0.9),
	}}
	engine := newTestEngine(t, extractor, &countingSubmitter{success: true})
	ctx := context.Background()

	a, _ := engine.StartConversation(ctx)
	b, _ := engine.StartConversation(ctx)
	if a.SessionID == b.SessionID {
		t.Fatal("sessions must get distinct tokens")
	}

	ra, _ := engine.ContinueConversation(ctx, a.SessionID, "I'm John Smith")
	rb, _ := engine.ContinueConversation(ctx, b.SessionID, "I'm Jane Doe")

	if got, _ := ra.DataCollected.Value("adult_name"); got != "John Smith" {
		t.Errorf("session A adult_name = %q", got)
	}
	if got, _ := rb.DataCollected.Value("adult_name"); got != "Jane Doe" {
		t.Errorf("session B adult_name = %q", got)
	}
}

func TestConversation_WebhookFailureStillCompletes(t *testing.T) {
	extractor := &scriptedExtractor{queue: []models.Extraction{
		extraction(map[string]string{
			"adult_name":    "Jane Doe",
			"email_address": "jane@example.com",
			"signup_type":   "self",
		}, 0.9),
	}}
	submitter := &countingSubmitter{success: false}
	engine := newTestEngine(t, extractor, submitter)
	ctx := context.Background()

	start, _ := engine.StartConversation(ctx)
	resp, err := engine.ContinueConversation(ctx, start.SessionID, "Jane Doe, jane@example.com, for myself")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !resp.SessionComplete {
		t.Error("session completes even when delivery fails")
	}
	if resp.WebhookOutcome == nil || resp.WebhookOutcome.Success {
		t.Errorf("outcome should record the failed delivery, got %+v", resp.WebhookOutcome)
	}

	// The collected data is final; the session takes no more turns.
	after, _ := engine.ContinueConversation(ctx, start.SessionID, "retry please")
	if after.Type != "error" {
		t.Errorf("completed session should reject turns after a failed delivery, got %+v", after)
	}
}

func TestConversation_LegacyAliasedExtractionMerges(t *testing.T) {
	// The extractor may answer with the other variant's field names; the
	// engine resolves them before merging.
	extractor := &scriptedExtractor{queue: []models.Extraction{
		extraction(map[string]string{"name_of_requestor": "John Smith", "request_on_behalf": "n"}, 0.9),
	}}
	engine := newTestEngine(t, extractor, &countingSubmitter{success: true})
	ctx := context.Background()

	start, _ := engine.StartConversation(ctx)
	resp, err := engine.ContinueConversation(ctx, start.SessionID, "John Smith here, signing up myself")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if got, _ := resp.DataCollected.Value("adult_name"); got != "John Smith" {
		t.Errorf("aliased name should land on adult_name, got %q", got)
	}
	if got, _ := resp.DataCollected.Value("signup_type"); got != "self" {
		t.Errorf("request_on_behalf n should become signup_type self, got %q", got)
	}
	if resp.AskingFor != "email_address" {
		t.Errorf("next question should target email_address, got %q", resp.AskingFor)
	}
}
