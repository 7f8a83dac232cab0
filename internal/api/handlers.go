// Package api provides HTTP handlers for FormPipe endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dignifi/formpipe/internal/models"
)

// processRequest is the body of POST /process.
type processRequest struct {
	Input string `json:"input"`
}

// messageRequest is the body of POST /conversation/message.
type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// processHandler handles POST /process: single-shot extract, validate, submit.
func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.processHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.processHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.processHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		slog.Warn("Server.processHandler: empty input")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: input"))
		return
	}

	result := s.pipeline.Process(r.Context(), req.Input)
	slog.Info("Server.processHandler: processed input", "success", result.Success)
	// The result itself distinguishes extraction, validation and submission
	// failures; HTTP 200 covers all of them so front-ends read one shape.
	writeJSONResponse(w, http.StatusOK, result)
}

// startConversationHandler handles POST /conversation/start.
func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.startConversationHandler: invoked", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.startConversationHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp, err := s.engine.StartConversation(r.Context())
	if err != nil {
		slog.Error("Server.startConversationHandler: failed to start conversation", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start conversation"))
		return
	}

	slog.Info("Server.startConversationHandler: conversation started", "sessionID", resp.SessionID)
	writeJSONResponse(w, http.StatusOK, resp)
}

// messageHandler handles POST /conversation/message: one turn of an existing session.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.messageHandler: invoked", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.messageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SessionID == "" {
		slog.Warn("Server.messageHandler: missing session_id")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: session_id"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		slog.Warn("Server.messageHandler: empty message", "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: message"))
		return
	}

	resp, err := s.engine.ContinueConversation(r.Context(), req.SessionID, req.Message)
	if err != nil {
		slog.Error("Server.messageHandler: turn failed", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Debug("Server.messageHandler: turn processed", "sessionID", req.SessionID, "type", resp.Type, "complete", resp.SessionComplete)
	writeJSONResponse(w, http.StatusOK, resp)
}

// schemaHandler handles GET /schema: field metadata for UI rendering.
func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.schemaHandler: invoked", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.schemaHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	result := map[string]interface{}{
		"variant": s.schema.Variant,
		"fields":  s.schema.Fields(),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}
