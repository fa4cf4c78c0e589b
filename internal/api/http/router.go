package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/license-service/internal/api/http/handlers"
	"github.com/spec-kit/license-service/internal/auth"
	"github.com/spec-kit/license-service/internal/ratelimit"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health        *handlers.HealthHandler
	Auth          *handlers.AuthHandler
	Licenses      *handlers.LicensesHandler
	AdminLicenses *handlers.AdminLicensesHandler
	Admin         *handlers.AdminHandler

	AuthMiddleware  *auth.AuthMiddleware
	Limiter         *ratelimit.Limiter
	LoginRatePerMin int
	ActivateRate    int
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Limiter.Middleware("login", cfg.LoginRatePerMin), cfg.Auth.Login)

	authProtected := authGroup.Group("", cfg.AuthMiddleware.Handle, auth.RequireAuth())
	authProtected.Post("/logout", cfg.Auth.Logout)
	authProtected.Get("/me", cfg.Auth.Me)
	authProtected.Post("/password/change", cfg.Auth.ChangePassword)

	// Core license endpoints live at the root for client apps and CLI tools.
	activateLimit := cfg.Limiter.Middleware("activate", cfg.ActivateRate)
	app.Post("/activate", activateLimit, cfg.AuthMiddleware.Handle, auth.RequireAuth(), cfg.Licenses.Activate)
	app.Post("/validate", activateLimit, cfg.AuthMiddleware.Handle, auth.RequireAuth(), cfg.Licenses.Validate)
	app.Get("/licenses", cfg.AuthMiddleware.Handle, auth.RequireAuth(), cfg.Licenses.ListOwn)

	requireAdmin := auth.RequireAdmin()
	app.Post("/revoke", cfg.AuthMiddleware.Handle, requireAdmin, cfg.AdminLicenses.Revoke)
	app.Post("/reset-hwid", cfg.AuthMiddleware.Handle, requireAdmin, cfg.AdminLicenses.ResetHardwareID)
	app.Post("/cleanup/expired-licenses", cfg.AuthMiddleware.Handle, requireAdmin, cfg.Admin.CleanupExpiredLicenses)
	app.Post("/cleanup/expired-sessions", cfg.AuthMiddleware.Handle, requireAdmin, cfg.Admin.CleanupExpiredSessions)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	admin.Get("/stats", cfg.Admin.Stats)
	admin.Get("/settings/stats", cfg.Admin.SettingsStats)

	admin.Get("/licenses", cfg.AdminLicenses.List)
	admin.Post("/licenses", cfg.AdminLicenses.Create)
	admin.Post("/licenses/bulk", cfg.AdminLicenses.BulkCreate)
	admin.Get("/licenses/export", cfg.AdminLicenses.Export)
	admin.Get("/licenses/:key", cfg.AdminLicenses.Get)
	admin.Put("/licenses/:key", cfg.AdminLicenses.Update)
	admin.Delete("/licenses/:key", cfg.AdminLicenses.Delete)

	admin.Get("/users", cfg.Admin.ListUsers)
	admin.Post("/users", cfg.Admin.CreateUser)
	admin.Put("/users/:id", cfg.Admin.UpdateUser)
	admin.Delete("/users/:id", cfg.Admin.DeleteUser)

	admin.Get("/sessions", cfg.Admin.ListSessions)
	admin.Delete("/sessions/:id", cfg.Admin.RevokeSession)
}
