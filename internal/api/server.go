package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mixelka/replydesk/internal/assistant"
	"github.com/mixelka/replydesk/internal/auth"
	"github.com/mixelka/replydesk/internal/usage"
	"github.com/mixelka/replydesk/pkg/models"
)

// Assistant is the orchestration surface served over HTTP
type Assistant interface {
	FetchMessages(ctx context.Context, auth models.AuthContext) (*assistant.FetchResult, error)
	ListMessages(ctx context.Context, auth models.AuthContext) ([]*models.Message, error)
	MarkRead(ctx context.Context, auth models.AuthContext, messageID int64) error
	ListDrafts(ctx context.Context, auth models.AuthContext, messageID int64) ([]*models.Draft, error)
	GenerateDraft(ctx context.Context, auth models.AuthContext, messageID int64) (*models.Draft, error)
	EditDraft(ctx context.Context, auth models.AuthContext, draftID int64, edit assistant.DraftEdit) (*models.Draft, error)
	SendDraft(ctx context.Context, auth models.AuthContext, draftID int64) (*models.Draft, error)
	Usage(ctx context.Context, auth models.AuthContext) (*usage.Snapshot, error)
	Connected(ctx context.Context, auth models.AuthContext) (bool, error)
}

// Connector links a user to their mailbox through OAuth
type Connector interface {
	AuthURL(state string) string
	Connect(ctx context.Context, userID, code string) error
	Disconnect(ctx context.Context, userID string) error
}

// Server is the HTTP surface
type Server struct {
	assistant Assistant
	connector Connector
	sessions  *auth.Manager
	logger    *slog.Logger
	now       func() time.Time
	mux       *http.ServeMux
}

// NewServer registers all routes
func NewServer(assistant Assistant, connector Connector, sessions *auth.Manager, logger *slog.Logger) *Server {
	s := &Server{
		assistant: assistant,
		connector: connector,
		sessions:  sessions,
		logger:    logger.With("component", "api"),
		now:       time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/messages/fetch", s.requireUser(s.handleFetchMessages))
	mux.HandleFunc("GET /api/messages", s.requireUser(s.handleListMessages))
	mux.HandleFunc("POST /api/messages/{id}/read", s.requireUser(s.handleMarkRead))
	mux.HandleFunc("GET /api/messages/{id}/drafts", s.requireUser(s.handleListDrafts))
	mux.HandleFunc("POST /api/drafts", s.requireUser(s.handleGenerateDraft))
	mux.HandleFunc("PUT /api/drafts/{id}", s.requireUser(s.handleEditDraft))
	mux.HandleFunc("POST /api/drafts/{id}/send", s.requireUser(s.handleSendDraft))
	mux.HandleFunc("GET /api/usage", s.requireUser(s.handleUsage))
	mux.HandleFunc("GET /api/gmail/connect", s.requireUser(s.handleConnect))
	mux.HandleFunc("GET /api/gmail/callback", s.handleCallback)
	mux.HandleFunc("DELETE /api/gmail", s.requireUser(s.handleDisconnect))
	s.mux = mux

	return s
}

// ServeHTTP tags the request with an id and logs it
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
	r = r.WithContext(ctx)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			s.loggerFor(r).Error("panic while serving request", "panic", p)
			writeError(rec, http.StatusInternalServerError, CodeInternal, "internal error", false)
		}
		s.loggerFor(r).Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	}()

	s.mux.ServeHTTP(rec, r)
}

type requestIDKey struct{}

type authKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggerFor(r *http.Request) *slog.Logger {
	logger := s.logger
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		logger = logger.With("request_id", id)
	}
	if ac, ok := r.Context().Value(authKey{}).(models.AuthContext); ok {
		logger = logger.With("user_id", ac.UserID)
	}
	return logger
}

// requireUser resolves the bearer token into an AuthContext
func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, models.AuthContext)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token", false)
			return
		}
		userID, err := s.sessions.Parse(token, s.now())
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error(), false)
			return
		}

		ac := models.AuthContext{UserID: userID}
		r = r.WithContext(context.WithValue(r.Context(), authKey{}, ac))
		next(w, r, ac)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFetchMessages(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	result, err := s.assistant.FetchMessages(r.Context(), ac)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	messages, err := s.assistant.ListMessages(r.Context(), ac)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, messages)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid message id", false)
		return
	}
	if err := s.assistant.MarkRead(r.Context(), ac, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]bool{"read": true})
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid message id", false)
		return
	}
	drafts, err := s.assistant.ListDrafts(r.Context(), ac, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, drafts)
}

func (s *Server) handleGenerateDraft(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	var payload struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.MessageID <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "message_id is required", false)
		return
	}

	draft, err := s.assistant.GenerateDraft(r.Context(), ac, payload.MessageID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, draft)
}

func (s *Server) handleEditDraft(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid draft id", false)
		return
	}
	var edit assistant.DraftEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON", false)
		return
	}

	draft, err := s.assistant.EditDraft(r.Context(), ac, id, edit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, draft)
}

func (s *Server) handleSendDraft(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid draft id", false)
		return
	}
	draft, err := s.assistant.SendDraft(r.Context(), ac, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, draft)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	snapshot, err := s.assistant.Usage(r.Context(), ac)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, snapshot)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	connected, err := s.assistant.Connected(r.Context(), ac)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	state, err := s.sessions.IssueState(ac.UserID, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"url":       s.connector.AuthURL(state),
		"connected": connected,
	})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "authorization denied: "+reason, false)
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "code is required", false)
		return
	}
	userID, err := s.sessions.ParseState(query.Get("state"), s.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid state", false)
		return
	}

	r = r.WithContext(context.WithValue(r.Context(), authKey{}, models.AuthContext{UserID: userID}))
	if err := s.connector.Connect(r.Context(), userID, code); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.writeServiceError(w, r, err)
		return
	}

	s.loggerFor(r).Info("mailbox connected")
	writeOK(w, http.StatusOK, map[string]bool{"connected": true})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, ac models.AuthContext) {
	if err := s.connector.Disconnect(r.Context(), ac.UserID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]bool{"connected": false})
}
