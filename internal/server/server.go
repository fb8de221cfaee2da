package server

import (
	"context"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"bookshelf-service/internal/handler"
	"bookshelf-service/internal/middleware"
	"bookshelf-service/internal/model"
	"bookshelf-service/internal/repository"
	"bookshelf-service/pkg/logger"
	"bookshelf-service/pkg/maintenance"
	"bookshelf-service/prometheus"
)

// APIPrefix is the versioned prefix of every resource route
const APIPrefix = "/api/v1"

// Auth is the auth service as both the login routes and the bearer
// middleware see it
type Auth interface {
	handler.Auth
	middleware.Authenticator
}

// Deps are the components the HTTP surface is built from
type Deps struct {
	Auth Auth
	// Tokens guards the admin routes, which must not depend on a session
	Tokens middleware.TokenValidator
	// Admins are the login identifiers allowed on the admin and tenant routes
	Admins      []string
	Books       handler.Store[model.Book]
	Critics     handler.Store[model.Critic]
	Reviews     handler.Store[model.Review]
	Tenants     handler.Store[model.Tenant]
	Limits      repository.Limits
	Maintenance maintenance.Flag
	// Queue is optional; queue routes are left out without it
	Queue   handler.Enqueuer
	Metrics *prometheus.Metrics
	// ProvisionTenants provisions the schemas of tenants written through
	// the tenant resource
	ProvisionTenants func(ctx context.Context, ids []int64) error
}

// New builds the echo instance with every route registered
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()

	// Apply global middleware - order matters
	e.Pre(echomiddleware.RemoveTrailingSlash())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(d.Metrics.Middleware())

	// Public routes - no authentication required
	e.GET("/", handler.Home)
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))

	bearer := middleware.BearerAuth(d.Auth)
	verified := middleware.RequireVerified(d.Auth)

	api := e.Group(APIPrefix)

	authHandler := handler.NewAuthHandler(d.Auth)
	login := api.Group("/login")
	login.POST("/signup", authHandler.Signup)
	login.POST("/get_access_token", authHandler.GetAccessToken)
	login.POST("/verify_login", authHandler.VerifyLogin, bearer)
	login.GET("/me", authHandler.Me, bearer, verified)

	protected := api.Group("", bearer, verified)

	tenantScoped := handler.Options{Scope: middleware.TenantScope, Limits: d.Limits}
	handler.RegisterCRUD[model.Book, model.BookCreate, model.BookUpdate](
		protected.Group("/book"), d.Books, named(tenantScoped, "Book"))
	handler.RegisterCRUD[model.Critic, model.CriticCreate, model.CriticUpdate](
		protected.Group("/critic"), d.Critics, named(tenantScoped, "Critic"))
	handler.RegisterCRUD[model.Review, model.ReviewCreate, model.ReviewUpdate](
		protected.Group("/review"), d.Reviews, named(tenantScoped, "Review"))
	adminOnly := []echo.MiddlewareFunc{middleware.BearerClaims(d.Tokens), middleware.RequireAdmin(d.Admins)}
	handler.RegisterCRUD[model.Tenant, model.TenantCreate, model.TenantUpdate](
		api.Group("/tenant", adminOnly...), d.Tenants, handler.Options{
			Name:       "Tenant",
			Scope:      handler.SharedScope,
			Limits:     d.Limits,
			AfterWrite: d.ProvisionTenants,
		})

	maintenanceHandler := handler.NewMaintenanceHandler(d.Maintenance)
	admin := api.Group("/admin", adminOnly...)
	admin.GET("/maintenance", maintenanceHandler.Get)
	admin.PUT("/maintenance", maintenanceHandler.Set)

	if d.Queue != nil {
		queueHandler := handler.NewQueueHandler(d.Queue, middleware.TenantScope)
		jobs := protected.Group("/queue")
		jobs.POST("/seed_books", queueHandler.SeedBooks)
		jobs.GET("/jobs/:id", queueHandler.JobResult)

		sandbox := e.Group("/arqueue")
		sandbox.GET("/sandbox", queueHandler.Sandbox)
		sandbox.GET("/throughput", queueHandler.Throughput)
	}

	return e
}

func named(o handler.Options, name string) handler.Options {
	o.Name = name
	return o
}
