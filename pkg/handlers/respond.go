package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/backsoul/leadquiz/pkg/intake"
	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/backsoul/leadquiz/pkg/notify"
	"github.com/backsoul/leadquiz/pkg/services"
	"github.com/backsoul/leadquiz/pkg/session"
	"github.com/backsoul/leadquiz/pkg/store"
	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

const requestTimeout = 15 * time.Second

var upgrader = websocket.FastHTTPUpgrader{
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
		return true
	},
}

// requestContext bounds the service calls made for one request
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func respondWithJSON(ctx *fasthttp.RequestCtx, statusCode int, response interface{}) {
	ctx.Response.Header.Set("Content-Type", "application/json")
	ctx.SetStatusCode(statusCode)

	jsonData, err := json.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"success": false, "error": "error serializing response"}`)
		return
	}

	ctx.SetBody(jsonData)
}

func respondWithError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	respondWithJSON(ctx, statusCode, models.APIResponse{
		Success: false,
		Error:   message,
	})
}

func respondWithSuccess(ctx *fasthttp.RequestCtx, data interface{}, message string) {
	respondWithJSON(ctx, fasthttp.StatusOK, models.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// respondWithServiceError maps a service error to its status code. Field
// errors of the intake form are returned alongside the message.
func respondWithServiceError(ctx *fasthttp.RequestCtx, err error) {
	var verrs intake.ValidationErrors
	if errors.As(err, &verrs) {
		respondWithJSON(ctx, fasthttp.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "Please correct the highlighted fields",
			Fields:  verrs,
		})
		return
	}

	var statusErr *notify.StatusError
	switch {
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		respondWithError(ctx, fasthttp.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNotInProgress), errors.Is(err, session.ErrAlreadyStarted),
		errors.Is(err, services.ErrNotificationInFlight):
		respondWithError(ctx, fasthttp.StatusConflict, err.Error())
	case errors.Is(err, session.ErrIndexOutOfRange):
		respondWithError(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		respondWithError(ctx, fasthttp.StatusGone, err.Error())
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, notify.ErrNotConfigured):
		respondWithError(ctx, fasthttp.StatusServiceUnavailable, err.Error())
	case errors.As(err, &statusErr):
		respondWithError(ctx, fasthttp.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(ctx, fasthttp.StatusGatewayTimeout, err.Error())
	default:
		respondWithError(ctx, fasthttp.StatusInternalServerError, err.Error())
	}
}

func decodeBody(ctx *fasthttp.RequestCtx, v interface{}) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		respondWithError(ctx, fasthttp.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func pathID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue("id").(string)
	return id
}

func pathIntID(ctx *fasthttp.RequestCtx) (int, bool) {
	id, err := strconv.Atoi(pathID(ctx))
	if err != nil {
		respondWithError(ctx, fasthttp.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
