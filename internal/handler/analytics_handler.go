package handler

import (
	"context"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/middleware"
	"github.com/gamassss/edgelink/pkg/response"
	"github.com/gin-gonic/gin"
)

type AnalyticsService interface {
	Stats(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.LinkStats, error)
	ABTestResults(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.ABTestResults, error)
}

type AnalyticsHandler struct {
	service AnalyticsService
}

func NewAnalyticsHandler(service AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

func (h *AnalyticsHandler) GetStats(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" {
		response.BadRequest(c, "Slug is required")
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), middleware.IdentityFrom(c), scope(c), slug)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Stats retrieved successfully", stats)
}

func (h *AnalyticsHandler) GetABTestResults(c *gin.Context) {
	results, err := h.service.ABTestResults(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "A/B test results retrieved successfully", results)
}
