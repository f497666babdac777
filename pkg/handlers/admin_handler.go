package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/backsoul/leadquiz/pkg/services"
	websocketHub "github.com/backsoul/leadquiz/pkg/websocket"
	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

const (
	// AdminPasswordHeader carries the dashboard secret on every admin request
	AdminPasswordHeader = "X-Admin-Password"
	// AdminSocketProtocol is the websocket subprotocol of /ws/admin. The
	// browser offers it together with the token from login.
	AdminSocketProtocol = "leadquiz.admin"
)

var adminUpgrader = websocket.FastHTTPUpgrader{
	Subprotocols: []string{AdminSocketProtocol},
	CheckOrigin:  upgrader.CheckOrigin,
}

type AdminHandler struct {
	adminService        *services.AdminService
	dashboardService    *services.DashboardService
	notificationService *services.NotificationService
	hub                 *websocketHub.Hub
	log                 *logger.Logger
}

func NewAdminHandler(adminService *services.AdminService, dashboardService *services.DashboardService, notificationService *services.NotificationService, hub *websocketHub.Hub, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		adminService:        adminService,
		dashboardService:    dashboardService,
		notificationService: notificationService,
		hub:                 hub,
		log:                 log.With("handler", "AdminHandler"),
	}
}

// Authorized wraps next with the admin password check
func (a *AdminHandler) Authorized(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		secret := string(ctx.Request.Header.Peek(AdminPasswordHeader))
		if !a.adminService.Authenticate(secret) {
			a.log.Warn("rejected admin request", "path", string(ctx.Path()), "remote_addr", ctx.RemoteIP().String())
			respondWithError(ctx, fasthttp.StatusUnauthorized, "invalid admin password")
			return
		}
		next(ctx)
	}
}

// Login handles POST /api/admin/login
func (a *AdminHandler) Login(ctx *fasthttp.RequestCtx) {
	var request struct {
		Password string `json:"password"`
	}
	if !decodeBody(ctx, &request) {
		return
	}
	if !a.adminService.Authenticate(request.Password) {
		respondWithError(ctx, fasthttp.StatusUnauthorized, "invalid admin password")
		return
	}
	token, expires := a.adminService.IssueSocketToken()
	respondWithSuccess(ctx, map[string]interface{}{
		"socketToken":    token,
		"socketProtocol": AdminSocketProtocol,
		"expiresAt":      expires.UTC(),
	}, "authenticated")
}

// Dashboard handles GET /api/admin/dashboard. An unreachable store is not
// an error: the payload says available=false.
func (a *AdminHandler) Dashboard(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	starredFirst := ctx.QueryArgs().GetBool("starredFirst")
	d := a.dashboardService.Load(reqCtx, starredFirst)

	message := fmt.Sprintf("%d attempts", len(d.Attempts))
	if !d.Available {
		message = "record store unavailable"
	}
	respondWithSuccess(ctx, d, message)
}

// Attempt handles GET /api/admin/attempts/{id}
func (a *AdminHandler) Attempt(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	row, err := a.dashboardService.Attempt(reqCtx, pathID(ctx))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, row, "")
}

// ToggleStar handles POST /api/admin/attempts/{id}/star
func (a *AdminHandler) ToggleStar(ctx *fasthttp.RequestCtx) {
	id := pathID(ctx)

	reqCtx, cancel := requestContext()
	defer cancel()

	starred, err := a.dashboardService.ToggleStar(reqCtx, id)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, map[string]interface{}{
		"attemptId": id,
		"starred":   starred,
	}, "")
}

// Notify handles POST /api/admin/attempts/{id}/notify
func (a *AdminHandler) Notify(ctx *fasthttp.RequestCtx) {
	id := pathID(ctx)

	reqCtx, cancel := requestContext()
	defer cancel()

	if err := a.notificationService.Send(reqCtx, id); err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, map[string]interface{}{
		"attemptId": id,
		"status":    a.notificationService.Status(id),
	}, "notification sent")
}

// NotificationStatus handles GET /api/admin/attempts/{id}/notify
func (a *AdminHandler) NotificationStatus(ctx *fasthttp.RequestCtx) {
	id := pathID(ctx)
	respondWithSuccess(ctx, map[string]interface{}{
		"attemptId": id,
		"status":    a.notificationService.Status(id),
	}, "")
}

// QuestionAnswers handles GET /api/admin/questions/{id}/answers
func (a *AdminHandler) QuestionAnswers(ctx *fasthttp.RequestCtx) {
	questionID, ok := pathIntID(ctx)
	if !ok {
		return
	}

	reqCtx, cancel := requestContext()
	defer cancel()

	answers, err := a.dashboardService.QuestionAnswers(reqCtx, questionID)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, map[string]interface{}{
		"questionId": questionID,
		"answers":    answers,
	}, fmt.Sprintf("%d answers", len(answers)))
}

// Overview handles GET /api/admin/overview
func (a *AdminHandler) Overview(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	respondWithSuccess(ctx, a.adminService.Overview(reqCtx), "")
}

// authorizeSocket accepts the admin header, used by non-browser clients, or a
// login token offered as a subprotocol. Browsers cannot set other headers on
// a websocket handshake.
func (a *AdminHandler) authorizeSocket(ctx *fasthttp.RequestCtx) bool {
	if a.adminService.Authenticate(string(ctx.Request.Header.Peek(AdminPasswordHeader))) {
		return true
	}
	offered := strings.Split(string(ctx.Request.Header.Peek("Sec-WebSocket-Protocol")), ",")
	for _, p := range offered {
		p = strings.TrimSpace(p)
		if p == "" || p == AdminSocketProtocol {
			continue
		}
		if a.adminService.RedeemSocketToken(p) {
			return true
		}
	}
	return false
}

// HandleWebSocket handles GET /ws/admin
func (a *AdminHandler) HandleWebSocket(ctx *fasthttp.RequestCtx) {
	if !a.authorizeSocket(ctx) {
		a.log.Warn("rejected operator websocket", "remote_addr", ctx.RemoteIP().String())
		respondWithError(ctx, fasthttp.StatusUnauthorized, "invalid admin token")
		return
	}

	reqCtx, cancel := requestContext()
	overview := a.adminService.Overview(reqCtx)
	cancel()

	err := adminUpgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		defer ws.Close()

		data, _ := json.Marshal(websocketHub.Message{Type: "overview", Data: overview})
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}

		a.hub.Register(websocketHub.OperatorsTopic, ws)
		defer a.hub.Unregister(websocketHub.OperatorsTopic, ws)

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				a.log.Debug("operator websocket closed", "error", err)
				break
			}
		}
	})

	if err != nil {
		a.log.Error("error upgrading to websocket", "error", err)
	}
}
