package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/backsoul/leadquiz/pkg/handlers"
	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/valyala/fasthttp"
)

type router struct {
	staticDir string
	log       *logger.Logger
	questions *handlers.QuestionHandler
	sessions  *handlers.SessionHandler
	admin     *handlers.AdminHandler
}

func (rt *router) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	rt.log.Debug("request", "method", method, "path", path)

	ctx.Response.Header.Set("Server", "LeadQuiz-FastHTTP/1.0")
	ctx.Response.Header.Set("Cache-Control", "no-cache")

	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type, "+handlers.AdminPasswordHeader)

	if method == fasthttp.MethodOptions {
		ctx.SetStatusCode(fasthttp.StatusOK)
		return
	}

	switch {
	case path == "/" && method == fasthttp.MethodGet:
		rt.serveFile(ctx, "index.html")
	case path == "/admin" && method == fasthttp.MethodGet:
		rt.serveFile(ctx, "admin.html")

	case path == "/api/health":
		rt.questions.HealthCheck(ctx)
	case path == "/api/questions" && method == fasthttp.MethodGet:
		rt.questions.GetAllQuestions(ctx)

	case path == "/api/sessions" && method == fasthttp.MethodPost:
		rt.sessions.CreateSession(ctx)
	case strings.HasPrefix(path, "/api/sessions/"):
		rt.sessionRoutes(ctx, path, method)
	case strings.HasPrefix(path, "/ws/sessions/") && method == fasthttp.MethodGet:
		parts := strings.Split(path, "/")
		if len(parts) != 4 || parts[3] == "" {
			serve404(ctx)
			return
		}
		ctx.SetUserValue("id", parts[3])
		rt.sessions.HandleWebSocket(ctx)

	case path == "/api/admin/login" && method == fasthttp.MethodPost:
		rt.admin.Login(ctx)
	case strings.HasPrefix(path, "/api/admin/"):
		rt.adminRoutes(ctx, path, method)
	case path == "/ws/admin" && method == fasthttp.MethodGet:
		rt.admin.HandleWebSocket(ctx)

	default:
		serve404(ctx)
	}
}

func (rt *router) sessionRoutes(ctx *fasthttp.RequestCtx, path, method string) {
	parts := strings.Split(path, "/")
	if len(parts) < 4 || parts[3] == "" {
		serve404(ctx)
		return
	}
	ctx.SetUserValue("id", parts[3])

	// /api/sessions/{id}
	if len(parts) == 4 && method == fasthttp.MethodGet {
		rt.sessions.GetSession(ctx)
		return
	}
	if len(parts) != 5 || method != fasthttp.MethodPost {
		serve404(ctx)
		return
	}

	// /api/sessions/{id}/{action}
	switch parts[4] {
	case "start":
		rt.sessions.Start(ctx)
	case "answer":
		rt.sessions.SelectAnswer(ctx)
	case "goto":
		rt.sessions.GoTo(ctx)
	case "next":
		rt.sessions.Next(ctx)
	case "previous":
		rt.sessions.Previous(ctx)
	case "submit":
		rt.sessions.Submit(ctx)
	default:
		serve404(ctx)
	}
}

func (rt *router) adminRoutes(ctx *fasthttp.RequestCtx, path, method string) {
	parts := strings.Split(path, "/")
	route := func(h fasthttp.RequestHandler) { rt.admin.Authorized(h)(ctx) }

	switch {
	case path == "/api/admin/dashboard" && method == fasthttp.MethodGet:
		route(rt.admin.Dashboard)
	case path == "/api/admin/overview" && method == fasthttp.MethodGet:
		route(rt.admin.Overview)

	// /api/admin/attempts/{id}[/star|/notify]
	case len(parts) >= 5 && parts[3] == "attempts" && parts[4] != "":
		ctx.SetUserValue("id", parts[4])
		action := ""
		if len(parts) == 6 {
			action = parts[5]
		}
		switch {
		case len(parts) == 5 && method == fasthttp.MethodGet:
			route(rt.admin.Attempt)
		case action == "star" && method == fasthttp.MethodPost:
			route(rt.admin.ToggleStar)
		case action == "notify" && method == fasthttp.MethodPost:
			route(rt.admin.Notify)
		case action == "notify" && method == fasthttp.MethodGet:
			route(rt.admin.NotificationStatus)
		default:
			serve404(ctx)
		}

	// /api/admin/questions/{id}/answers
	case len(parts) == 6 && parts[3] == "questions" && parts[5] == "answers" && method == fasthttp.MethodGet:
		ctx.SetUserValue("id", parts[4])
		route(rt.admin.QuestionAnswers)

	default:
		serve404(ctx)
	}
}

func (rt *router) serveFile(ctx *fasthttp.RequestCtx, filename string) {
	filePath := filepath.Join(rt.staticDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		rt.log.Warn("static file missing", "file", filePath)
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetContentType("text/html; charset=utf-8")
		ctx.SetBodyString(`<!DOCTYPE html>
<html>
<head><title>Page not found</title></head>
<body>
	<h1>Page not found</h1>
	<p>The file <strong>` + filename + `</strong> is not installed on this server.</p>
</body>
</html>`)
		return
	}

	if filepath.Ext(filename) == ".html" {
		ctx.SetContentType("text/html; charset=utf-8")
	}
	fasthttp.ServeFile(ctx, filePath)
}

func serve404(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusNotFound)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"success": false, "error": "route not found"}`)
}
