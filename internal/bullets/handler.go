package bullets

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-bullets/internal/shared/server/middleware"
	"resume-bullets/internal/shared/server/respond"
)

const maxRequestBody = 4 << 20 // 4MB

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches bullet routes to rg. The dedupe routes are returned
// separately via RegisterDedupeRoutes so they can carry their own rate limit.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bullets", h.add)
	rg.GET("/bullets", h.list)
	rg.DELETE("/bullets/:id", h.delete)
	rg.GET("/bullets/canonical", h.canonical)
}

// RegisterDedupeRoutes attaches the compute-heavy routes.
func (h *Handler) RegisterDedupeRoutes(rg *gin.RouterGroup) {
	rg.POST("/bullets/dedupe", h.run)
	rg.POST("/bullets/dedupe/async", h.enqueue)
	rg.POST("/bullets/preview", h.preview)
}

func (h *Handler) add(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)

	var req addObservationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}

	observations, err := h.Svc.AddObservations(c.Request.Context(), userID, req.Bullets)
	if err != nil {
		h.fail(c, err, "failed to store bullets")
		return
	}
	respond.Created(c, observationsResponse{Bullets: observations})
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	observations, err := h.Svc.ListObservations(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err, "failed to list bullets")
		return
	}
	respond.OK(c, observationsResponse{Bullets: observations})
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	if err := h.Svc.DeleteObservation(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err, "failed to delete bullet")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) run(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	req, ok := bindRunRequest(c)
	if !ok {
		return
	}
	req.RequestID = middleware.RequestIDFromContext(c)

	result, err := h.Svc.Run(c.Request.Context(), userID, req)
	if err != nil {
		h.fail(c, err, "failed to deduplicate bullets")
		return
	}
	c.Set(middleware.RunIDKey, result.Run.ID)
	respond.OK(c, result)
}

func (h *Handler) enqueue(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	req, ok := bindRunRequest(c)
	if !ok {
		return
	}
	req.RequestID = middleware.RequestIDFromContext(c)

	msg, err := h.Svc.Enqueue(c.Request.Context(), userID, req)
	if err != nil {
		h.fail(c, err, "failed to enqueue dedupe")
		return
	}
	respond.Accepted(c, enqueueResponse{
		RequestID:  msg.RequestID,
		EnqueuedAt: msg.EnqueuedAt,
		Status:     "queued",
	})
}

func (h *Handler) canonical(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	result, err := h.Svc.Canonical(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "no dedupe run yet", nil)
			return
		}
		h.fail(c, err, "failed to load canonical bullets")
		return
	}
	respond.OK(c, result)
}

func (h *Handler) preview(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)

	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}

	result, err := h.Svc.Preview(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, "failed to preview dedupe")
		return
	}
	respond.OK(c, result)
}

// bindRunRequest accepts an empty body as "use defaults".
func bindRunRequest(c *gin.Context) (RunRequest, bool) {
	var req RunRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return RunRequest{}, false
	}
	return req, true
}

func (h *Handler) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "bullet not found", nil)
	case errors.Is(err, ErrQueueUnavailable):
		respond.Error(c, http.StatusServiceUnavailable, ErrorCodeQueueUnavailable, err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, message, nil)
	}
}
