package handlers

import (
	"fmt"

	"github.com/backsoul/leadquiz/pkg/services"
	"github.com/valyala/fasthttp"
)

type QuestionHandler struct {
	questionService *services.QuestionService
	storeDriver     string
}

func NewQuestionHandler(questionService *services.QuestionService, storeDriver string) *QuestionHandler {
	return &QuestionHandler{
		questionService: questionService,
		storeDriver:     storeDriver,
	}
}

// GetAllQuestions handles GET /api/questions. Answer keys and categories
// are never included.
func (h *QuestionHandler) GetAllQuestions(ctx *fasthttp.RequestCtx) {
	questions := h.questionService.GetAllQuestions()
	respondWithSuccess(ctx, map[string]interface{}{
		"questions": questions,
		"count":     len(questions),
		"version":   h.questionService.Bank().Version(),
	}, fmt.Sprintf("%d questions", len(questions)))
}

// HealthCheck handles GET /api/health
func (h *QuestionHandler) HealthCheck(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	if err := h.questionService.HealthCheck(reqCtx); err != nil {
		respondWithError(ctx, fasthttp.StatusServiceUnavailable, fmt.Sprintf("service unavailable: %v", err))
		return
	}

	respondWithSuccess(ctx, map[string]interface{}{
		"status":    "healthy",
		"store":     h.storeDriver,
		"questions": h.questionService.GetQuestionCount(),
	}, "service healthy")
}
