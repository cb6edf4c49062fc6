package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/moyamoya-lab/moyamoya/backend/internal/draft"
	"github.com/moyamoya-lab/moyamoya/backend/internal/notify"
	"go.uber.org/zap"
)

var (
	errMissingDraftService  = errors.New("draft service dependency required")
	errMissingNotifications = errors.New("notification center dependency required")
)

// Dependencies wires the HTTP surface to the application services.
type Dependencies struct {
	DraftService  *draft.Service
	Notifications *notify.Center
	Dispatcher    *DraftDispatcher
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router for the authoring API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.DraftService == nil {
		return nil, errMissingDraftService
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		drafts:        deps.DraftService,
		notifications: deps.Notifications,
		dispatcher:    deps.Dispatcher,
		logger:        logger,
	}

	router.GET("/draft", handler.handleGetDraft)
	router.PUT("/draft/moyamoya", handler.handleUpdateMoyamoya)
	router.POST("/draft/generate", handler.handleGenerate)
	router.PUT("/draft/questions/:id/answer", handler.handleSetAnswer)
	router.POST("/draft/refine", handler.handleRefine)
	router.POST("/draft/reset", handler.handleReset)
	router.GET("/draft/export", handler.handleExport)
	router.GET("/draft/events", handler.handleDraftEvents)
	router.POST("/slides", handler.handleSlideOutline)
	router.GET("/notifications", handler.handleNotifications)

	return router, nil
}

type httpHandler struct {
	drafts        *draft.Service
	notifications *notify.Center
	dispatcher    *DraftDispatcher
	logger        *zap.Logger
}

type questionPayload struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Reason   string `json:"reason"`
	Answer   string `json:"answer"`
}

type sectionPayload struct {
	Label string `json:"label"`
	Body  string `json:"body"`
}

type draftPayload struct {
	Moyamoya  string            `json:"moyamoya"`
	Script    string            `json:"script"`
	Sections  []sectionPayload  `json:"sections"`
	Questions []questionPayload `json:"questions"`
	Version   int64             `json:"version"`
	CreatedAt string            `json:"createdAt"`
	UpdatedAt string            `json:"updatedAt"`
	Phase     string            `json:"phase"`
}

func (h *httpHandler) draftResponse(d draft.Draft) draftPayload {
	sections := draft.SplitSections(d.Script)
	payload := draftPayload{
		Moyamoya:  d.Moyamoya,
		Script:    d.Script,
		Sections:  make([]sectionPayload, 0, len(sections)),
		Questions: make([]questionPayload, 0, len(d.Questions)),
		Version:   d.Version,
		CreatedAt: d.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: d.UpdatedAt.Format(time.RFC3339Nano),
		Phase:     string(h.drafts.Phase()),
	}
	for _, section := range sections {
		payload.Sections = append(payload.Sections, sectionPayload{Label: section.Label, Body: section.Body})
	}
	for _, question := range d.Questions {
		payload.Questions = append(payload.Questions, questionPayload{
			ID:       question.ID,
			Question: question.Question,
			Reason:   question.Reason,
			Answer:   question.Answer,
		})
	}
	return payload
}

func (h *httpHandler) handleGetDraft(c *gin.Context) {
	c.JSON(http.StatusOK, h.draftResponse(h.drafts.CurrentDraft()))
}

type moyamoyaRequestPayload struct {
	Moyamoya string `json:"moyamoya"`
}

func (h *httpHandler) handleUpdateMoyamoya(c *gin.Context) {
	var request moyamoyaRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updated, err := h.drafts.UpdateMoyamoya(c.Request.Context(), request.Moyamoya)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.draftResponse(updated))
}

func (h *httpHandler) handleGenerate(c *gin.Context) {
	updated, err := h.drafts.GenerateInitial(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.draftResponse(updated))
}

type answerRequestPayload struct {
	Answer string `json:"answer"`
}

func (h *httpHandler) handleSetAnswer(c *gin.Context) {
	questionID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_question_id"})
		return
	}
	var request answerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updated, err := h.drafts.SetAnswer(c.Request.Context(), questionID, request.Answer)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.draftResponse(updated))
}

func (h *httpHandler) handleRefine(c *gin.Context) {
	updated, err := h.drafts.Refine(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.draftResponse(updated))
}

type resetRequestPayload struct {
	Confirm bool `json:"confirm"`
}

func (h *httpHandler) handleReset(c *gin.Context) {
	var request resetRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	fresh, err := h.drafts.Reset(c.Request.Context(), request.Confirm)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.draftResponse(fresh))
}

func (h *httpHandler) handleExport(c *gin.Context) {
	artifact, err := h.drafts.ExportScript()
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	// The filename is Japanese, so the RFC 5987 encoded form carries it and
	// a plain ASCII name serves as the fallback.
	c.Header("Content-Disposition",
		`attachment; filename="script.txt"; filename*=UTF-8''`+url.PathEscape(artifact.Filename))
	c.Data(http.StatusOK, artifact.ContentType, artifact.Content)
}

type slideRequestPayload struct {
	Input string `json:"input"`
}

func (h *httpHandler) handleSlideOutline(c *gin.Context) {
	var request slideRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	outline, err := h.drafts.GenerateSlideOutline(c.Request.Context(), request.Input)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, outline)
}

func (h *httpHandler) handleNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, h.notifications.Current())
}

// writeServiceError maps domain errors to HTTP statuses. Validation failures
// are the author's to fix, backend and parse failures are retryable upstream
// conditions, and an in-flight generation refuses concurrent work.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	code := ""
	var serviceErr *draft.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}

	switch {
	case errors.Is(err, draft.ErrGenerationInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "generation_in_flight"})
	case isValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "code": code})
	case isParse(err):
		h.logger.Error("backend returned malformed output", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend_parse_failed", "code": code})
	case isBackend(err):
		h.logger.Error("backend call failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend_failed", "code": code})
	default:
		h.logger.Error("draft operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": code})
	}
}

func isValidation(err error) bool {
	var target *draft.ValidationError
	return errors.As(err, &target)
}

func isParse(err error) bool {
	var target *draft.ParseError
	return errors.As(err, &target)
}

func isBackend(err error) bool {
	var target *draft.BackendError
	return errors.As(err, &target)
}
