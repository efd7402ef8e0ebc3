package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/homeflowhq/homeflow/internal/client"
	"github.com/homeflowhq/homeflow/internal/prospect"
	"github.com/homeflowhq/homeflow/pkg/schema"
)

// Intake is the slice of the workflow engine the HTTP surface needs.
type Intake interface {
	SubmitMessage(ctx context.Context, msg prospect.Message) error
	Status(ctx context.Context, key string) (*prospect.State, error)
	DeleteProspect(ctx context.Context, key string) error
}

// ClientReader reads materialized client records.
type ClientReader interface {
	Get(ctx context.Context, email string) (*client.Record, error)
}

// Server is the HTTP intake surface: inbound emails come in, prospect and
// client state is read out.
type Server struct {
	intake  Intake
	clients ClientReader
	logger  *slog.Logger
	router  chi.Router
}

// NewServer builds the HTTP API over the given engine and client store.
func NewServer(intake Intake, clients ClientReader, logger *slog.Logger) *Server {
	s := &Server{
		intake:  intake,
		clients: clients,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)

	r.Post("/emails", s.handleEmail)
	r.Get("/prospects/{email}", s.handleProspect)
	r.Delete("/prospects/{email}", s.handleProspectDelete)
	r.Get("/clients/{email}", s.handleClient)
	r.Get("/healthz", s.handleHealth)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		id, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", id),
			slog.Duration("duration", time.Since(start)))
	})
}

// emailRequest is an inbound email delivered by the mail provider webhook.
type emailRequest struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// handleEmail accepts an inbound email for asynchronous processing.
// Returns 202 once the message is durably recorded.
func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, schema.NewError(schema.ErrCodeValidation, "malformed request body"))
		return
	}

	req.Sender = strings.TrimSpace(req.Sender)
	if req.Sender == "" {
		s.writeError(w, schema.NewError(schema.ErrCodeValidation, "sender must not be blank"))
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		s.writeError(w, schema.NewError(schema.ErrCodeValidation, "subject must not be blank"))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, schema.NewError(schema.ErrCodeValidation, "content must not be blank"))
		return
	}

	msg := prospect.UserMessage(req.Sender, req.Subject, req.Content)
	if err := s.intake.SubmitMessage(r.Context(), msg); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"prospect": req.Sender,
	})
}

// handleProspect returns the conversation state for one prospect.
func (s *Server) handleProspect(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	st, err := s.intake.Status(r.Context(), email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleProspectDelete removes a prospect's conversation and cancels its
// pending follow-up. The audit log and client record survive.
func (s *Server) handleProspectDelete(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := s.intake.DeleteProspect(r.Context(), email); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClient returns the materialized client record for one email.
func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	rec, err := s.clients.Get(r.Context(), email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError maps a typed error onto its HTTP status. Unknown errors are
// 500s with the detail kept out of the response body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var pipeErr *schema.PipeError
	if !errors.As(err, &pipeErr) {
		s.logger.Error("internal error", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch pipeErr.Code {
	case schema.ErrCodeValidation:
		status = http.StatusBadRequest
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		status = http.StatusConflict
	case schema.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	}

	s.writeJSON(w, status, map[string]string{
		"error": pipeErr.Message,
		"code":  pipeErr.Code,
	})
}
