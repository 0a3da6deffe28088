package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"douly-backend/internal/conversation"
	"douly-backend/internal/middleware"
	"douly-backend/internal/models"
	"douly-backend/internal/services"
)

const (
	maxBodyBytes   = 10 << 20
	maxTextRunes   = 4000
	maxImages      = 4
	defaultTurnTTL = 90 * time.Second
)

// validate reports fields by their JSON names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type sessionManager interface {
	Create(ctx context.Context) (*conversation.Session, error)
	Get(ctx context.Context, id string) (*conversation.Session, error)
	Clear(ctx context.Context, id string) error
}

type tokenIssuer interface {
	GenerateSessionToken(sessionID string) (string, error)
}

type SessionHandler struct {
	sessions    sessionManager
	tokens      tokenIssuer
	turnTimeout time.Duration
}

func NewSessionHandler(sessions *conversation.Manager, tokens *middleware.SessionAuth) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens, turnTimeout: defaultTurnTTL}
}

// Packs lists the conversation starters and the selectable voices.
func (h *SessionHandler) Packs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"packs":  services.Packs,
		"voices": services.Voices,
	})
}

// POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		log.Printf("Create session error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create session", r))
		return
	}

	token, err := h.tokens.GenerateSessionToken(s.ID())
	if err != nil {
		log.Printf("Session token error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create session", r))
		return
	}

	resp := sessionResponse(s.View())
	resp.Token = token
	writeJSON(w, http.StatusCreated, resp)
}

// GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(s.View()))
}

// GET /api/v1/sessions/{id}/audit
func (h *SessionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Audit())
}

// POST /api/v1/sessions/{id}/messages
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_JSON", "Invalid request body", r))
		return
	}

	if fields := validateChatRequest(&req); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.turnContext(r)
	defer cancel()

	result, err := s.Send(ctx, conversation.Input{
		Text:    req.Text,
		Images:  req.Images,
		Voice:   req.Voice,
		VoiceID: req.VoiceID,
	})
	h.writeTurn(w, r, result, err)
}

// POST /api/v1/sessions/{id}/suggestions/{packID}
func (h *SessionHandler) SendSuggestion(w http.ResponseWriter, r *http.Request) {
	packID, err := strconv.Atoi(chi.URLParam(r, "packID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_ID", "Invalid pack ID", r))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.turnContext(r)
	defer cancel()

	voice := r.URL.Query().Get("voice") == "true"
	result, err := s.SendSuggestion(ctx, packID, voice, r.URL.Query().Get("voice_id"))
	h.writeTurn(w, r, result, err)
}

// DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(r.Context(), chi.URLParam(r, "id")); err != nil {
		log.Printf("Clear session error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to clear session", r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*conversation.Session, bool) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
		} else {
			log.Printf("Load session error: %v", err)
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load session", r))
		}
		return nil, false
	}
	return s, true
}

// turnContext detaches the turn from the client connection: a reload must
// not cancel a reply that will still be persisted.
func (h *SessionHandler) turnContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.turnTimeout)
}

func (h *SessionHandler) writeTurn(w http.ResponseWriter, r *http.Request, result *conversation.Result, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"text": "Message is empty"}, r))
	case errors.Is(err, conversation.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResp("BUSY", "A reply is already pending for this session", r))
	case errors.Is(err, conversation.ErrUnknownPack):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Pack not found", r))
	case err != nil:
		log.Printf("Send turn error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to send message", r))
	default:
		writeJSON(w, http.StatusOK, chatResponse(result))
	}
}

func validateChatRequest(req *models.ChatRequest) map[string]string {
	for i := range req.Images {
		req.Images[i].MIMEType = strings.ToLower(req.Images[i].MIMEType)
	}

	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if err := validate.Struct(req); !errors.As(err, &verrs) {
		return fields
	}

	for _, fe := range verrs {
		var field, msg string
		switch fe.Field() {
		case "text":
			field, msg = "text", "Message is too long"
		case "voice_id":
			field, msg = "voice_id", "Unknown voice"
		case "images":
			field, msg = "images", "Too many images"
		case "mime_type":
			field, msg = "images", "Unsupported image type"
		case "data":
			field, msg = "images", "Image is too large"
		default:
			field, msg = fe.Field(), "Invalid value"
		}
		if _, seen := fields[field]; !seen {
			fields[field] = msg
		}
	}
	return fields
}

func sessionResponse(v conversation.View) models.SessionResponse {
	return models.SessionResponse{
		SessionID:       v.ID,
		State:           string(v.State),
		Transcript:      turnViews(v.Transcript),
		Profile:         v.Profile,
		CompletionScore: v.Score,
	}
}

func chatResponse(res *conversation.Result) models.ChatResponse {
	return models.ChatResponse{
		Reply:            models.NewTurnView(res.Reply),
		Extra:            turnViews(res.Extra),
		Profile:          res.Profile,
		CompletionScore:  res.Score,
		NotificationSent: res.NotificationSent,
		Fallback:         res.Fallback,
	}
}

func turnViews(turns []models.ChatTurn) []models.TurnView {
	views := make([]models.TurnView, len(turns))
	for i, t := range turns {
		views[i] = models.NewTurnView(t)
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}
