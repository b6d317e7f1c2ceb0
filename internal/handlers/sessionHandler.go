package handlers

import (
	"net/http"
	"sync"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/adapter"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/adapter/utils"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/api"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

var (
	handlerInstance *SessionHandler //private singleton
	once            sync.Once
	logSH           *logger_i.Logger
)

type SessionHandler struct {
	store sessionModel.SessionStore
}

func InitSessionHandler(store sessionModel.SessionStore) {
	once.Do(func() {
		handlerInstance = &SessionHandler{store: store}
		logSH = logger_i.NewLogger("SessionHandler")
		logSH.Info("Starting session handler")
	})
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJsonResponse(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

// GetSessionHandler serves one session with its transition history and, when
// present, the stored score. Operator-facing, read only.
func GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	if handlerInstance == nil {
		WriteErrorResponse(w, http.StatusServiceUnavailable, "handler not initialized")
		return
	}

	id := utils.GetChiURLParam(r, "id")
	if id == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "session id is required")
		return
	}

	ctx := r.Context()
	session, found, err := handlerInstance.store.Get(ctx, id)
	if err != nil {
		logSH.Error("session lookup failed", "session Id", id, "error", err)
		WriteErrorResponse(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !found {
		WriteErrorResponse(w, http.StatusNotFound, "Session not found")
		return
	}

	transitions, err := handlerInstance.store.Transitions(ctx, id)
	if err != nil {
		logSH.Error("transition lookup failed", "session Id", id, "error", err)
	}

	response := adapter.ToSessionResponse(session, transitions, nil)
	if score, haveScore, err := handlerInstance.store.GetScore(ctx, id); err == nil && haveScore {
		response.Score = adapter.ToScoreOut(score)
	}

	writeJsonResponse(w, http.StatusOK, response)
}
