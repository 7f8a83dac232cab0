// Package api provides the HTTP front-end for FormPipe.
//
// It exposes single-shot processing, conversational collection and schema
// rendering endpoints. All decision logic lives in the pipeline and
// conversation packages; handlers only translate HTTP to core calls.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dignifi/formpipe/internal/conversation"
	"github.com/dignifi/formpipe/internal/models"
	"github.com/dignifi/formpipe/internal/pipeline"
	"github.com/dignifi/formpipe/internal/schema"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address, overriding $API_ADDR.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the HTTP endpoints to the core pipeline and engine.
type Server struct {
	addr     string
	pipeline *pipeline.Pipeline
	engine   *conversation.Engine
	schema   *schema.Schema
}

// NewServer creates an API server over the given core components.
func NewServer(p *pipeline.Pipeline, e *conversation.Engine, s *schema.Schema, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{addr: cfg.Addr, pipeline: p, engine: e, schema: s}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/process", s.processHandler)
	mux.HandleFunc("/conversation/start", s.startConversationHandler)
	mux.HandleFunc("/conversation/message", s.messageHandler)
	mux.HandleFunc("/schema", s.schemaHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		slog.Info("API server shutting down")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("API server shutdown failed", "error", err)
		}
	}()
	slog.Info("FormPipe API running", "addr", s.addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
