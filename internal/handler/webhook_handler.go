package handler

import (
	"context"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/middleware"
	"github.com/gamassss/edgelink/pkg/response"
	"github.com/gin-gonic/gin"
)

type WebhookService interface {
	Create(ctx context.Context, identity domain.Identity, req *domain.CreateWebhookRequest) (*domain.CreatedWebhook, error)
	List(ctx context.Context, identity domain.Identity) ([]*domain.Subscription, error)
	Delete(ctx context.Context, identity domain.Identity, id string) error
}

type WebhookHandler struct {
	service WebhookService
}

func NewWebhookHandler(service WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Create returns the signing secret. It is never shown again.
func (h *WebhookHandler) Create(c *gin.Context) {
	var req domain.CreateWebhookRequest
	if !bind(c, &req) {
		return
	}

	created, err := h.service.Create(c.Request.Context(), middleware.IdentityFrom(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Created(c, "Webhook created successfully", created)
}

func (h *WebhookHandler) List(c *gin.Context) {
	subs, err := h.service.List(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Webhooks retrieved successfully", gin.H{"webhooks": subs})
}

func (h *WebhookHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), middleware.IdentityFrom(c), id); err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Webhook deleted successfully", gin.H{"webhook_id": id})
}
