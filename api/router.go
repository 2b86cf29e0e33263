// Package api is the HTTP surface of the curation service. Handlers decode
// requests, check the caller's permission and call the services; they hold
// no workflow logic of their own.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"omip-curator/apperr"
	"omip-curator/auth"
	"omip-curator/queue"
	"omip-curator/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const roleKey = "role"

// RoleResolver derives the acting role of a request.
type RoleResolver interface {
	Resolve(c *gin.Context) (auth.Role, error)
}

// HeaderRoleResolver reads the role from a request header.
type HeaderRoleResolver struct {
	Header string
}

// Resolve returns the header's role, viewer when the header is absent.
func (r HeaderRoleResolver) Resolve(c *gin.Context) (auth.Role, error) {
	name := r.Header
	if name == "" {
		name = "X-Role"
	}
	return auth.ParseRole(c.GetHeader(name))
}

// SchemaLister is the part of the parse engine the health check calls.
type SchemaLister interface {
	Schemas(ctx context.Context) (map[string]any, error)
}

// Deps are the collaborators of the router.
type Deps struct {
	Service    *services.CurationService
	Authorizer auth.Authorizer
	Roles      RoleResolver
	Queue      queue.Queue
	// Parser is optional; without it /health skips the engine.
	Parser SchemaLister
	Logger *zap.Logger
	// MaxUploadBytes bounds multipart request bodies. 0 means 512 MiB.
	MaxUploadBytes int64
}

type handler struct {
	svc    *services.CurationService
	authz  auth.Authorizer
	queue  queue.Queue
	parser SchemaLister
	log    *zap.Logger
	max    int64
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Roles == nil {
		d.Roles = HeaderRoleResolver{}
	}
	if d.Authorizer == nil {
		d.Authorizer = auth.NewAuthorizer(auth.DefaultMatrix)
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 512 << 20
	}
	h := &handler{
		svc:    d.Service,
		authz:  d.Authorizer,
		queue:  d.Queue,
		parser: d.Parser,
		log:    d.Logger.With(zap.String("component", "api")),
		max:    d.MaxUploadBytes,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", h.health)

	rg := router.Group("/")
	rg.Use(roleMiddleware(d.Roles))
	setupUploadRoutes(rg, h)
	setupBatchRoutes(rg, h)
	setupRunRoutes(rg, h)
	setupElementRoutes(rg, h)
	setupReviewRoutes(rg, h)
	setupPaperRoutes(rg, h)
	setupExportRoutes(rg, h)
	return router
}

// roleMiddleware stellt die Rolle der Anfrage im Kontext bereit.
func roleMiddleware(roles RoleResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := roles.Resolve(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Set(roleKey, role)
		c.Next()
	}
}

func roleOf(c *gin.Context) auth.Role {
	if v, ok := c.Get(roleKey); ok {
		if r, ok := v.(auth.Role); ok {
			return r
		}
	}
	return auth.Viewer
}

// require aborts with 403 unless the caller holds perm.
func (h *handler) require(perm auth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.authz.Authorize(roleOf(c), perm); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (h *handler) can(c *gin.Context, perm auth.Permission) bool {
	return h.authz.Authorize(roleOf(c), perm) == nil
}

// fail maps a service error to a status code.
func (h *handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrDispatch):
		h.log.Error("dispatch failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// idParam parses a numeric path parameter.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// pageParams reads limit and offset query parameters.
func pageParams(c *gin.Context, defaultLimit int) (int, int, bool) {
	limit, offset := defaultLimit, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func (h *handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	body := gin.H{"status": "ok"}
	code := http.StatusOK

	depth, err := h.queue.Depth(ctx)
	if err != nil {
		body["status"] = "degraded"
		body["queue"] = gin.H{"error": err.Error()}
		code = http.StatusServiceUnavailable
	} else {
		body["queue"] = depth
	}

	if h.parser != nil {
		if _, err := h.parser.Schemas(ctx); err != nil {
			body["status"] = "degraded"
			body["parser"] = gin.H{"error": err.Error()}
			code = http.StatusServiceUnavailable
		} else {
			body["parser"] = "ok"
		}
	}
	c.JSON(code, body)
}
