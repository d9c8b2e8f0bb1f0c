package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/handlers"
	"github.com/bastionauth/bastion/internal/middleware"
	"github.com/bastionauth/bastion/internal/repositories"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	twoFactorHandler *handlers.TwoFactorHandler,
	deviceHandler *handlers.DeviceHandler,
	adminHandler *handlers.AdminHandler,
	auditHandler *handlers.AuditHandler,
	userRepo *repositories.UserRepository,
) {
	// Per-IP rate limit on the code-accepting endpoints, in front of the
	// per-subject limiter inside the service.
	rateLimitConfig := middleware.DefaultVerifyRateLimit()

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.GatewayIdentity)

		r.Route("/2fa", func(r chi.Router) {
			r.Get("/status", twoFactorHandler.Status)
			r.Post("/gate", twoFactorHandler.Gate)
			r.Post("/setup", twoFactorHandler.InitiateSetup)
			r.Post("/setup/confirm", twoFactorHandler.ConfirmSetup)
			r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/verify", twoFactorHandler.Verify)
			r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/sms/request", twoFactorHandler.RequestSMSCode)
			r.Post("/disable", twoFactorHandler.Disable)
			r.Post("/recovery-codes/regenerate", twoFactorHandler.RegenerateRecoveryCodes)
		})

		r.Get("/audit", auditHandler.ListOwn)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", deviceHandler.List)
			r.Post("/trust", deviceHandler.Trust)
			r.Post("/revoke", deviceHandler.RevokeTrust)
		})

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(userRepo, "admin"))
			r.Post("/unlock", adminHandler.Unlock)
			r.Get("/lockdown/{identity}", adminHandler.LockdownStatus)
			r.Post("/2fa/disable", adminHandler.DisableTwoFactor)
			r.Get("/audit", auditHandler.List)
		})
	})
}
