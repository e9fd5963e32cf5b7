package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/middleware"
	"github.com/gamassss/edgelink/pkg/response"
	"github.com/gamassss/edgelink/pkg/validator"
	"github.com/gin-gonic/gin"
)

type LinkService interface {
	Create(ctx context.Context, identity domain.Identity, req *domain.CreateLinkRequest) (*domain.Link, error)
	BulkImport(ctx context.Context, identity domain.Identity, req *domain.BulkImportRequest) (*domain.BulkImportResult, error)
	Get(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.Link, error)
	List(ctx context.Context, identity domain.Identity, page, limit int) (*domain.LinkList, error)
	Update(ctx context.Context, identity domain.Identity, domainScope, slug string, req *domain.UpdateLinkRequest) (*domain.Link, error)
	Delete(ctx context.Context, identity domain.Identity, domainScope, slug string) error
	Rename(ctx context.Context, identity domain.Identity, domainScope, slug, newSlug string) (*domain.Link, error)
	Routing(ctx context.Context, identity domain.Identity, domainScope, slug string) (*domain.Routing, error)
	SetRouting(ctx context.Context, identity domain.Identity, domainScope, slug string, category domain.RoutingCategory, raw []byte) (*domain.Link, error)
	ClearRouting(ctx context.Context, identity domain.Identity, domainScope, slug string, category domain.RoutingCategory) (*domain.Link, error)
	SetABTest(ctx context.Context, identity domain.Identity, domainScope, slug string, req *domain.ABTestRequest) (*domain.Link, error)
	View(link *domain.Link) domain.LinkView
}

type LinkHandler struct {
	service LinkService
}

func NewLinkHandler(service LinkService) *LinkHandler {
	return &LinkHandler{service: service}
}

// scope is the custom domain a link lives on; empty means the default
// domain. Custom domains are stored lowercased.
func scope(c *gin.Context) string {
	return strings.ToLower(strings.TrimSpace(c.Query("domain")))
}

// bind decodes the JSON body into req and validates it. It writes the
// error response and returns false on failure.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return false
	}
	if errs := validator.Validate(req); len(errs) > 0 {
		response.ValidationErrors(c, errs)
		return false
	}
	return true
}

func (h *LinkHandler) Create(c *gin.Context) {
	var req domain.CreateLinkRequest
	if !bind(c, &req) {
		return
	}

	link, err := h.service.Create(c.Request.Context(), middleware.IdentityFrom(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Created(c, "Link created successfully", h.service.View(link))
}

func (h *LinkHandler) BulkImport(c *gin.Context) {
	var req domain.BulkImportRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.service.BulkImport(c.Request.Context(), middleware.IdentityFrom(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Import finished", result)
}

func (h *LinkHandler) List(c *gin.Context) {
	page := 1
	if pageParam := c.Query("page"); pageParam != "" {
		if p, err := strconv.Atoi(pageParam); err == nil && p > 0 {
			page = p
		}
	}

	limit := 50
	if limitParam := c.Query("limit"); limitParam != "" {
		if l, err := strconv.Atoi(limitParam); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	list, err := h.service.List(c.Request.Context(), middleware.IdentityFrom(c), page, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Links retrieved successfully", list)
}

func (h *LinkHandler) Get(c *gin.Context) {
	link, err := h.service.Get(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Link retrieved successfully", h.service.View(link))
}

func (h *LinkHandler) Update(c *gin.Context) {
	var req domain.UpdateLinkRequest
	if !bind(c, &req) {
		return
	}

	link, err := h.service.Update(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Link updated successfully", h.service.View(link))
}

func (h *LinkHandler) Delete(c *gin.Context) {
	slug := c.Param("slug")
	if err := h.service.Delete(c.Request.Context(), middleware.IdentityFrom(c), scope(c), slug); err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Link deleted successfully", gin.H{"slug": slug})
}

func (h *LinkHandler) Rename(c *gin.Context) {
	var req domain.RenameLinkRequest
	if !bind(c, &req) {
		return
	}

	link, err := h.service.Rename(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"), req.NewSlug)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Link renamed successfully", h.service.View(link))
}

func (h *LinkHandler) GetRouting(c *gin.Context) {
	routing, err := h.service.Routing(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Routing retrieved successfully", routing)
}

func routingCategory(c *gin.Context) (domain.RoutingCategory, bool) {
	category, ok := domain.ParseEditableCategory(c.Param("type"))
	if !ok {
		response.BadRequest(c, "Routing type must be one of device, geo, referrer, time")
	}
	return category, ok
}

func (h *LinkHandler) SetRouting(c *gin.Context) {
	category, ok := routingCategory(c)
	if !ok {
		return
	}

	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		response.BadRequest(c, "Request body is required")
		return
	}

	link, err := h.service.SetRouting(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"), category, raw)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Routing updated successfully", h.service.View(link))
}

func (h *LinkHandler) ClearRouting(c *gin.Context) {
	category, ok := routingCategory(c)
	if !ok {
		return
	}

	link, err := h.service.ClearRouting(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"), category)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "Routing removed successfully", h.service.View(link))
}

func (h *LinkHandler) SetABTest(c *gin.Context) {
	var req domain.ABTestRequest
	if !bind(c, &req) {
		return
	}

	link, err := h.service.SetABTest(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, "A/B test created successfully", h.service.View(link))
}

func (h *LinkHandler) DeleteABTest(c *gin.Context) {
	link, err := h.service.ClearRouting(c.Request.Context(), middleware.IdentityFrom(c), scope(c), c.Param("slug"), domain.CategoryABTest)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.OK(c, "A/B test removed successfully", h.service.View(link))
}
