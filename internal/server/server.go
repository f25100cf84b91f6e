// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the orchestration service over HTTP.
//
// POST /v1/chat accepts a conversation and streams the settled answer back as
// server-sent events. Request-level failures (rate limit, quota, upstream
// errors, bad input) are plain JSON {"error": ...} responses; once streaming
// has begun there is no error event in the protocol.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/taskchat/internal/agent"
	"github.com/jeranaias/taskchat/internal/llm"
	"github.com/jeranaias/taskchat/internal/stream"
	"github.com/jeranaias/taskchat/internal/transcript"
	"github.com/jeranaias/taskchat/internal/util"
)

// =============================================================================
// INTERFACES
// =============================================================================

// AgentRunner drives one orchestration run. *agent.Agent satisfies it.
type AgentRunner interface {
	Run(ctx context.Context, userID string, history []llm.Message) (*agent.Result, error)
}

// TranscriptStore persists the durable user/assistant history.
// *transcript.Store satisfies it.
type TranscriptStore interface {
	Append(ctx context.Context, userID, conversationID, role, content string) (*transcript.Message, error)
	History(ctx context.Context, userID, conversationID string) ([]*transcript.Message, error)
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the HTTP front end for the orchestration service.
type Server struct {
	port         int
	router       *http.ServeMux
	server       *http.Server
	agent        AgentRunner
	transcripts  TranscriptStore
	limiter      *RateLimiter
	writeTimeout time.Duration
}

// NewServer creates a server on the given port.
func NewServer(port int, runner AgentRunner, transcripts TranscriptStore) *Server {
	s := &Server{
		port:         port,
		router:       http.NewServeMux(),
		agent:        runner,
		transcripts:  transcripts,
		limiter:      NewRateLimiter(5, 10),
		writeTimeout: 120 * time.Second,
	}
	s.setupRoutes()
	return s
}

// WithRateLimiter overrides the default per-client limiter.
func (s *Server) WithRateLimiter(limiter *RateLimiter) *Server {
	s.limiter = limiter
	return s
}

// WithWriteTimeout overrides the whole-request write timeout. It must cover
// every model round of the slowest acceptable request.
func (s *Server) WithWriteTimeout(d time.Duration) *Server {
	s.writeTimeout = d
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /v1/chat", s.handleChat)
	s.router.HandleFunc("GET /v1/conversations/{id}/messages", s.handleConversationMessages)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the routed handler with the middleware chain applied.
// Exposed for tests.
func (s *Server) Handler() http.Handler {
	chain := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(s.limiter),
	)
	return chain(s.router)
}

// Start begins serving and blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  120 * time.Second,
	}
	log.Printf("SERVER_START | port=%d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

type chatRequest struct {
	Messages       []llm.Message `json:"messages"`
	UserID         string        `json:"userId"`
	ConversationID string        `json:"conversationId"`
}

var validRoles = map[string]bool{
	llm.RoleSystem:    true,
	llm.RoleUser:      true,
	llm.RoleAssistant: true,
	llm.RoleTool:      true,
}

func (req *chatRequest) validate() error {
	if req.UserID == "" {
		return errors.New("userId is required")
	}
	if req.ConversationID == "" {
		return errors.New("conversationId is required")
	}
	if len(req.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range req.Messages {
		if !validRoles[m.Role] {
			return fmt.Errorf("messages[%d] has invalid role %q", i, m.Role)
		}
	}
	if req.Messages[len(req.Messages)-1].Role != llm.RoleUser {
		return errors.New("last message must be from the user")
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	reqID := "req-" + uuid.NewString()[:8]

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("CHAT_REQUEST | id=%s user=%s conversation=%s messages=%d",
		reqID, req.UserID, req.ConversationID, len(req.Messages))

	result, err := s.agent.Run(r.Context(), req.UserID, req.Messages)
	if err != nil {
		s.writeAgentError(w, reqID, err)
		return
	}

	s.persistExchange(r.Context(), &req, result.Content)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := stream.Encode(w, result.Content, result.ToolsUsed); err != nil {
		// Headers are gone; nothing to do but log.
		log.Printf("STREAM_WRITE_FAILED | id=%s err=%v", reqID, err)
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	log.Printf("CHAT_SETTLED | id=%s user=%s tools_used=%t answer=%q",
		reqID, req.UserID, result.ToolsUsed, util.Preview(result.Content, 80))
}

// writeAgentError maps the llm error taxonomy onto response statuses.
func (s *Server) writeAgentError(w http.ResponseWriter, reqID string, err error) {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		log.Printf("CHAT_RATE_LIMITED | id=%s", reqID)
		writeError(w, http.StatusTooManyRequests, "The model is rate limited. Please try again in a moment.")
	case errors.Is(err, llm.ErrQuotaExhausted):
		log.Printf("CHAT_QUOTA_EXHAUSTED | id=%s", reqID)
		writeError(w, http.StatusPaymentRequired, "The model quota is exhausted. Please contact the operator.")
	default:
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			log.Printf("CHAT_UPSTREAM_ERROR | id=%s status=%d message=%q", reqID, apiErr.Status, apiErr.Message)
			writeError(w, http.StatusBadGateway, "The model request failed. Please try again.")
			return
		}
		log.Printf("CHAT_FAILED | id=%s err=%v", reqID, err)
		writeError(w, http.StatusInternalServerError, "Something went wrong handling the request.")
	}
}

// persistExchange stores the latest user turn and the settled answer in the
// durable transcript. Tool chatter never reaches it. Persistence failures are
// logged, not surfaced: the answer is already settled and worth delivering.
func (s *Server) persistExchange(ctx context.Context, req *chatRequest, answer string) {
	if s.transcripts == nil {
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if _, err := s.transcripts.Append(ctx, req.UserID, req.ConversationID, llm.RoleUser, last.Content); err != nil {
		log.Printf("TRANSCRIPT_WRITE_FAILED | user=%s conversation=%s err=%v", req.UserID, req.ConversationID, err)
	}
	if _, err := s.transcripts.Append(ctx, req.UserID, req.ConversationID, llm.RoleAssistant, answer); err != nil {
		log.Printf("TRANSCRIPT_WRITE_FAILED | user=%s conversation=%s err=%v", req.UserID, req.ConversationID, err)
	}
}

// =============================================================================
// REHYDRATION + HEALTH
// =============================================================================

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeError(w, http.StatusNotFound, "transcript store not configured")
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	conversationID := r.PathValue("id")

	msgs, err := s.transcripts.History(r.Context(), userID, conversationID)
	if err != nil {
		log.Printf("HISTORY_FAILED | user=%s conversation=%s err=%v", userID, conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation history")
		return
	}
	if msgs == nil {
		msgs = []*transcript.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("RESPONSE_WRITE_FAILED | err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
