package handler

import (
	"context"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gamassss/edgelink/internal/config"
	"github.com/gamassss/edgelink/internal/middleware"
	"github.com/gamassss/edgelink/internal/service"
	"github.com/gamassss/edgelink/pkg/response"
	"github.com/gin-gonic/gin"
)

type RedirectService interface {
	Resolve(ctx context.Context, req service.RedirectRequest) (*service.Redirect, error)
}

type RedirectHandler struct {
	service  RedirectService
	edge     config.EdgeConfig
	baseHost string
	status   int
}

func NewRedirectHandler(service RedirectService, edge config.EdgeConfig, baseURL string, status int) *RedirectHandler {
	var baseHost string
	if u, err := url.Parse(baseURL); err == nil {
		baseHost = strings.ToLower(u.Hostname())
	}
	return &RedirectHandler{
		service:  service,
		edge:     edge,
		baseHost: baseHost,
		status:   status,
	}
}

// domainScope is empty for the service's own host and the request host
// for a custom domain.
func (h *RedirectHandler) domainScope(host string) string {
	if hostname, _, err := net.SplitHostPort(host); err == nil {
		host = hostname
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || host == h.baseHost {
		return ""
	}
	return host
}

const maxEdgeHeaderLength = 128

// edgeCountry accepts only an ISO 3166-1 alpha-2 code. Edge placeholders
// such as "XX" pass through; anything longer is dropped.
func edgeCountry(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if len(v) != 2 || v[0] < 'A' || v[0] > 'Z' || v[1] < 'A' || v[1] > 'Z' {
		return ""
	}
	return v
}

// clamp trims v and cuts it to at most n bytes on a rune boundary.
func clamp(v string, n int) string {
	v = strings.TrimSpace(v)
	if len(v) <= n {
		return v
	}
	v = v[:n]
	for len(v) > 0 && !utf8.ValidString(v) {
		v = v[:len(v)-1]
	}
	return v
}

func (h *RedirectHandler) Redirect(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" {
		response.BadRequest(c, "Slug is required")
		return
	}

	password := c.Query("password")
	if password == "" {
		password = c.GetHeader("X-Link-Password")
	}

	redirect, err := h.service.Resolve(c.Request.Context(), service.RedirectRequest{
		DomainScope: h.domainScope(c.Request.Host),
		Slug:        slug,
		Identity:    middleware.IdentityFrom(c),
		UserAgent:   c.Request.UserAgent(),
		Referer:     c.Request.Referer(),
		Country:     edgeCountry(c.GetHeader(h.edge.CountryHeader)),
		City:        clamp(c.GetHeader(h.edge.CityHeader), maxEdgeHeaderLength),
		Timezone:    clamp(c.GetHeader(h.edge.TimezoneHeader), maxEdgeHeaderLength),
		Password:    password,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.Header("Cache-Control", "private, max-age=0")
	c.Redirect(h.status, redirect.Location)
}
