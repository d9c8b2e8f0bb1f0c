package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/bastionauth/bastion/internal/services"
	pkghttp "github.com/bastionauth/bastion/pkg/http"
)

// AdminHandler handles administrator-only lockdown and override requests
type AdminHandler struct {
	lockdown  *services.LockdownService
	twofactor *services.TwoFactorService
	ipCfg     *pkghttp.IPConfig
	logger    *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(lockdown *services.LockdownService, twofactor *services.TwoFactorService, ipCfg *pkghttp.IPConfig, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		lockdown:  lockdown,
		twofactor: twofactor,
		ipCfg:     ipCfg,
		logger:    logger,
	}
}

// Unlock handles POST /admin/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req AdminUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipCfg)
	if err := h.lockdown.AdminUnlock(r.Context(), req.Identity, identity.UserID, ip); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "No lockdown state for identity")
			return
		}
		h.logger.Error("admin unlock failed", slog.String("identity", req.Identity), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"unlocked": true})
}

// LockdownStatus handles GET /admin/lockdown/{identity}
func (h *AdminHandler) LockdownStatus(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "identity")
	if target == "" {
		pkghttp.WriteBadRequest(w, "identity is required")
		return
	}

	record, err := h.lockdown.Status(r.Context(), target)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSON(w, http.StatusOK, LockdownStatusResponse{Identity: target})
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LockdownStatusResponse{
		Identity:                  record.Identity,
		IsLocked:                  record.LockedNow(time.Now()),
		LockedUntil:               record.LockedUntil,
		LockReason:                string(record.LockReason),
		RequiresAdminIntervention: record.RequiresAdminIntervention,
		ConsecutiveFailures:       record.ConsecutiveFailures,
		LockoutCycles:             record.LockoutCycles,
	})
}

// DisableTwoFactor handles POST /admin/2fa/disable
func (h *AdminHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req AdminDisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if req.UserID == identity.UserID {
		pkghttp.WriteBadRequest(w, "Use the self-service disable endpoint for your own account")
		return
	}

	if err := h.twofactor.AdminDisable(r.Context(), req.UserID, identity.UserID, deviceSignals(r, h.ipCfg)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}
