// Package router assembles the gin engine of the sync API.
package router

import (
	"net/http"

	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/interfaces/http/handler"
	"github.com/erp/catalogsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RouteRegistrar registers routes under the versioned API group
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router collects registrars and mounts them under /api/<version>
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a Router over engine
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a registrar mounted by Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup mounts every registrar
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// DomainGroup is a named set of routes sharing a prefix and middleware
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

// NewDomainGroup creates a route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Handlers are the endpoints of the sync API
type Handlers struct {
	Projections *handler.ProjectionHandler
	Changes     *handler.ChangeHandler
	Rebuild     *handler.RebuildHandler
	System      *handler.SystemHandler
}

// EngineConfig configures the gin engine
type EngineConfig struct {
	Mode        string
	ServiceName string
	Tracing     bool
	MaxBodySize int64
	Meter       metric.Meter
}

// NewEngine builds the gin engine with the middleware chain and every route
// of h mounted under /api/v1
func NewEngine(cfg EngineConfig, h Handlers, log *zap.Logger) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(
		logger.Recovery(log),
		logger.RequestID(),
		middleware.Tracing(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.Tracing}),
		middleware.SpanAttributes(),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(cfg.Meter),
		logger.GinMiddleware(log),
	)
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	r := NewRouter(engine)
	for _, group := range APIGroups(h) {
		r.Register(group)
	}
	r.Setup()
	return engine
}

// APIGroups returns the route groups of the handlers that are set
func APIGroups(h Handlers) []*DomainGroup {
	var groups []*DomainGroup
	if h.System != nil {
		groups = append(groups, NewDomainGroup("system", "").
			GET("/health", h.System.Health))
	}
	if h.Projections != nil {
		groups = append(groups, NewDomainGroup("projections", "/projections").
			GET("/:type/:store", h.Projections.List).
			GET("/:type/:store/:code", h.Projections.Get).
			GET("/:type/:store/:code/history", h.Projections.History).
			GET("/:type/:store/expiry/nearest", h.Projections.NearestExpiry).
			POST("/:type/lookup", h.Projections.Lookup))
	}
	if h.Changes != nil {
		groups = append(groups, NewDomainGroup("changes", "/changes").
			POST("", h.Changes.Dispatch))
	}
	if h.Rebuild != nil {
		groups = append(groups, NewDomainGroup("rebuild", "/rebuild").
			POST("", h.Rebuild.Rebuild))
	}
	return groups
}
