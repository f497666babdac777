package handlers

import (
	"encoding/json"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/services"
	websocketHub "github.com/backsoul/leadquiz/pkg/websocket"
	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

// SessionHandler serves the respondent's side of the quiz
type SessionHandler struct {
	sessionService *services.SessionService
	hub            *websocketHub.Hub
	log            *logger.Logger
}

func NewSessionHandler(sessionService *services.SessionService, hub *websocketHub.Hub, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		hub:            hub,
		log:            log.With("handler", "SessionHandler"),
	}
}

// CreateSession handles POST /api/sessions
func (h *SessionHandler) CreateSession(ctx *fasthttp.RequestCtx) {
	var request models.UserInput
	if !decodeBody(ctx, &request) {
		return
	}

	reqCtx, cancel := requestContext()
	defer cancel()

	view, err := h.sessionService.CreateSession(reqCtx, request)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, view, "session created")
}

// GetSession handles GET /api/sessions/{id}
func (h *SessionHandler) GetSession(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	view, err := h.sessionService.GetSession(reqCtx, pathID(ctx))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, view, "")
}

// Start handles POST /api/sessions/{id}/start
func (h *SessionHandler) Start(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	view, err := h.sessionService.Start(reqCtx, pathID(ctx))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, view, "quiz started")
}

// SelectAnswer handles POST /api/sessions/{id}/answer
func (h *SessionHandler) SelectAnswer(ctx *fasthttp.RequestCtx) {
	var request models.AnswerRequest
	if !decodeBody(ctx, &request) {
		return
	}

	reqCtx, cancel := requestContext()
	defer cancel()

	view, err := h.sessionService.SelectAnswer(reqCtx, pathID(ctx), request.Answer)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, view, "answer saved")
}

// GoTo handles POST /api/sessions/{id}/goto
func (h *SessionHandler) GoTo(ctx *fasthttp.RequestCtx) {
	var request models.GoToRequest
	if !decodeBody(ctx, &request) {
		return
	}

	reqCtx, cancel := requestContext()
	defer cancel()

	view, err := h.sessionService.GoTo(reqCtx, pathID(ctx), request.Index)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, view, "")
}

// Next handles POST /api/sessions/{id}/next
func (h *SessionHandler) Next(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	view, err := h.sessionService.Next(reqCtx, pathID(ctx))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, view, "")
}

// Previous handles POST /api/sessions/{id}/previous
func (h *SessionHandler) Previous(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	view, err := h.sessionService.Previous(reqCtx, pathID(ctx))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, view, "")
}

// Submit handles POST /api/sessions/{id}/submit. The respondent only ever
// gets the receipt, never the score.
func (h *SessionHandler) Submit(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	receipt, err := h.sessionService.Submit(reqCtx, pathID(ctx))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, receipt, receipt.Message)
}

// HandleWebSocket handles GET /ws/sessions/{id}: the current state on
// connect, then every tick and the completion of that session.
func (h *SessionHandler) HandleWebSocket(ctx *fasthttp.RequestCtx) {
	sessionID := pathID(ctx)

	reqCtx, cancel := requestContext()
	view, err := h.sessionService.GetSession(reqCtx, sessionID)
	cancel()
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}

	topic := websocketHub.SessionTopic(sessionID)
	err = upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		defer ws.Close()

		data, _ := json.Marshal(websocketHub.Message{Type: "state", Data: view})
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}

		h.hub.Register(topic, ws)
		defer h.hub.Unregister(topic, ws)

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				h.log.Debug("session websocket closed", "session_id", sessionID, "error", err)
				break
			}
		}
	})

	if err != nil {
		h.log.Error("error upgrading to websocket", "error", err)
	}
}
