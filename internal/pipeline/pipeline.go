// Package pipeline composes extraction, validation and submission for
// one-shot processing of a complete utterance.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/dignifi/formpipe/internal/models"
	"github.com/dignifi/formpipe/internal/schema"
	"github.com/dignifi/formpipe/internal/validate"
)

// Extractor is the extraction dependency of the pipeline.
type Extractor interface {
	ExtractComplete(ctx context.Context, userText string, s *schema.Schema) models.Extraction
}

// Submitter is the webhook dependency of the pipeline.
type Submitter interface {
	Submit(ctx context.Context, record models.FormRecord) models.WebhookOutcome
}

// Pipeline runs extract -> validate -> submit as a straight line: one
// extraction attempt, no loop, no retry.
type Pipeline struct {
	extractor Extractor
	submitter Submitter
	schema    *schema.Schema
}

// New creates a single-shot pipeline for the given schema variant.
func New(extractor Extractor, submitter Submitter, s *schema.Schema) *Pipeline {
	return &Pipeline{extractor: extractor, submitter: submitter, schema: s}
}

// Process extracts form data from the user's text, validates it and submits
// the validated record. The three failure classes stay distinguishable:
// nothing extracted, validation failed on a named field (with the raw fields
// attached for user feedback), and submission not delivered (with the
// validated record still attached).
func (p *Pipeline) Process(ctx context.Context, userText string) models.PipelineResult {
	extraction := p.extractor.ExtractComplete(ctx, userText, p.schema)
	if extraction.Empty() {
		slog.Warn("Pipeline extracted no data")
		return models.PipelineResult{
			Success: false,
			Error:   "Failed to extract form data from user input",
		}
	}

	record, vErr := validate.Validate(extraction.Fields, p.schema)
	if vErr != nil {
		slog.Warn("Pipeline validation failed", "field", vErr.Field, "reason", vErr.Reason)
		return models.PipelineResult{
			Success:       false,
			Error:         vErr.Reason,
			ExtractedData: extraction.Fields,
		}
	}

	outcome := p.submitter.Submit(ctx, record)
	slog.Info("Pipeline processed input", "webhook_success", outcome.Success)
	return models.PipelineResult{
		Success:        outcome.Success,
		FormData:       record,
		WebhookOutcome: &outcome,
	}
}
