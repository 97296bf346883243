package collector

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"pixelgate/internal/logger"
	apperrors "pixelgate/pkg/errors"
	"pixelgate/pkg/middleware"
)

var ErrMalformedRequest = apperrors.Rejection("malformed_request")

const corsMethods = "GET, POST, OPTIONS"

type TrackingService interface {
	Track(ctx context.Context, req EventRequest, meta RequestMeta) (*TrackResult, error)
	RecordInteraction(ctx context.Context, req InteractionRequest) (*InteractionResult, error)
}

type Handler struct {
	service TrackingService
	logger  logger.Logger
}

func NewHandler(service TrackingService, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// RegisterRoutes mounts the public tracking endpoints. They answer any
// origin because the calling script runs on customer pages.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	v1.Use(middleware.CORSMiddleware(corsMethods))
	{
		v1.POST("/collect", h.Collect)
		v1.GET("/collect", h.Collect)
		v1.OPTIONS("/collect", preflight)

		v1.POST("/interactions", h.RecordInteraction)
		v1.GET("/interactions", h.RecordInteraction)
		v1.OPTIONS("/interactions", preflight)
	}
}

// Collect handles page views and custom events.
func (h *Handler) Collect(c *gin.Context) {
	var req EventRequest
	if err := bind(c, &req); err != nil {
		h.handleError(c, ErrMalformedRequest.WithCause(err))
		return
	}

	res, err := h.service.Track(c.Request.Context(), req, RequestMeta{
		Header:     c.Request.Header,
		RemoteAddr: c.Request.RemoteAddr,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RecordInteraction handles heatmap events.
func (h *Handler) RecordInteraction(c *gin.Context) {
	var req InteractionRequest
	if err := bind(c, &req); err != nil {
		h.handleError(c, ErrMalformedRequest.WithCause(err))
		return
	}

	res, err := h.service.RecordInteraction(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// bind reads query parameters for GET pixel calls and a JSON body otherwise.
// The body is decoded regardless of Content-Type since beacon callers send text/plain.
func bind(c *gin.Context, obj interface{}) error {
	if c.Request.Method == http.MethodGet {
		return c.ShouldBindQuery(obj)
	}
	return c.ShouldBindJSON(obj)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

// preflight answers CORS preflight requests; the headers come from the CORS middleware.
func preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
