package httpserver

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"strings"

	"vgpt/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

//go:embed static/chat.html
var chatPage []byte

// TurnProcessor то, что нужно обработчикам от диалогового ядра.
type TurnProcessor interface {
	Greeting() string
	ProcessTurnIn(ctx context.Context, sessionID string, userText string) (string, error)
	EndSession(ctx context.Context, sessionID string) error
}

// ChatHandler обслуживает страницу чата и JSON API.
type ChatHandler struct {
	turns  TurnProcessor
	logger *slog.Logger
}

func NewChatHandler(turns TurnProcessor, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{turns: turns, logger: logger}
}

func (h *ChatHandler) Page(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(chatPage)
}

// Respond обрабатывает один ход: user_input обязателен, session_id опционален.
func (h *ChatHandler) Respond(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !query.Has("user_input") {
		WriteJSONError(w, http.StatusBadRequest, "missing_user_input", "user_input query parameter is required")
		return
	}
	userInput := query.Get("user_input")

	sessionID := strings.TrimSpace(query.Get("session_id"))
	if sessionID != "" {
		if _, err := uuid.Parse(sessionID); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a uuid")
			return
		}
	}

	reply, err := h.turns.ProcessTurnIn(r.Context(), sessionID, userInput)
	if err != nil {
		h.logger.Error("turn failed",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID),
			slog.String("request_id", middleware.GetRequestID(r.Context())))
		WriteJSONError(w, http.StatusInternalServerError, "generation_failed", "failed to generate a response")
		return
	}

	WriteJSON(w, http.StatusOK, chatResponse{Response: reply})
}

func (h *ChatHandler) Greeting(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, chatResponse{Response: h.turns.Greeting()})
}

// NewSession выдаёт новый идентификатор сессии вместе с приветствием.
func (h *ChatHandler) NewSession(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusCreated, sessionResponse{
		SessionID: uuid.NewString(),
		Response:  h.turns.Greeting(),
	})
}

// EndSession забывает историю сессии без прощальной реплики.
func (h *ChatHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := uuid.Parse(sessionID); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a uuid")
		return
	}
	if err := h.turns.EndSession(r.Context(), sessionID); err != nil {
		h.logger.Error("end session failed", slog.String("error", err.Error()), slog.String("session_id", sessionID))
		WriteJSONError(w, http.StatusInternalServerError, "session_failed", "failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
