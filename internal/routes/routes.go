package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/sentinelsec/authcore/internal/auth"
	"github.com/sentinelsec/authcore/internal/handlers"
	"github.com/sentinelsec/authcore/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	twoFactorHandler *handlers.TwoFactorHandler,
	sessionHandler *handlers.SessionHandler,
	adminHandler *handlers.AdminHandler,
	sessionValidator auth.SessionValidator,
	accounts auth.AccountFetcher,
) {
	// Rate limiting config for the unauthenticated login surface
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes - no authentication required. The pending-token endpoints
	// carry their own short-lived JWT, so they stay outside the session
	// middleware but inside the rate limiter.
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/2fa/verify-login", authHandler.VerifyTwoFactorLogin)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/change-password-required", authHandler.ChangePasswordRequired)

	// Protected routes - a valid full session required
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(sessionValidator))

		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/change-password", authHandler.ChangePassword)

		// 2FA enrollment management
		r.Get("/auth/2fa", twoFactorHandler.Status)
		r.Post("/auth/2fa/enable", twoFactorHandler.Enable)
		r.Post("/auth/2fa/verify", twoFactorHandler.Verify)
		r.Post("/auth/2fa/disable", twoFactorHandler.Disable)
		r.Post("/auth/2fa/backup-codes", twoFactorHandler.RegenerateBackupCodes)

		// Session self-service
		r.Get("/sessions", sessionHandler.List)
		r.Get("/sessions/current", sessionHandler.Current)
		r.Delete("/sessions/{id}", sessionHandler.Terminate)
		r.Post("/sessions/terminate-others", sessionHandler.TerminateOthers)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(accounts, "admin"))
			r.Get("/admin/lockouts", adminHandler.ListLockouts)
			r.Post("/admin/lockouts/accounts/{id}/unlock", adminHandler.UnlockAccount)
			r.Post("/admin/lockouts/ips/unlock", adminHandler.UnlockIP)
			r.Delete("/admin/lockouts", adminHandler.ClearLockouts)
		})
	})
}
