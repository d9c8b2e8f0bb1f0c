package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/bastionauth/bastion/internal/services"
	pkghttp "github.com/bastionauth/bastion/pkg/http"
)

// TwoFactorHandler handles two-factor HTTP requests
type TwoFactorHandler struct {
	service *services.TwoFactorService
	ipCfg   *pkghttp.IPConfig
	logger  *slog.Logger
}

// NewTwoFactorHandler creates a new two-factor handler
func NewTwoFactorHandler(service *services.TwoFactorService, ipCfg *pkghttp.IPConfig, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		service: service,
		ipCfg:   ipCfg,
		logger:  logger,
	}
}

// deviceSignals collects the request attributes the device tracker keys on.
func deviceSignals(r *http.Request, ipCfg *pkghttp.IPConfig) models.DeviceSignals {
	return models.DeviceSignals{
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		IPAddress:      pkghttp.ExtractClientIP(r, ipCfg),
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// InitiateSetup handles POST /2fa/setup
func (h *TwoFactorHandler) InitiateSetup(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	challenge, err := h.service.InitiateSetup(r.Context(), identity.UserID, deviceSignals(r, h.ipCfg))
	if err != nil {
		h.logger.Error("failed to initiate setup", slog.String("user_id", identity.UserID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SetupResponse{
		Secret:    challenge.Secret,
		QRCode:    challenge.QRCode,
		ExpiresAt: challenge.ExpiresAt,
	})
}

// ConfirmSetup handles POST /2fa/setup/confirm
func (h *TwoFactorHandler) ConfirmSetup(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ConfirmSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.ConfirmSetup(r.Context(), identity.UserID, req.Code, deviceSignals(r, h.ipCfg))
	if err != nil {
		h.logger.Warn("setup confirmation failed", slog.String("user_id", identity.UserID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConfirmSetupResponse{
		Enabled:       true,
		RecoveryCodes: codes,
	})
}

// Verify handles POST /2fa/verify
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	marker, err := h.service.Verify(r.Context(), models.VerificationRequest{
		UserID:         identity.UserID,
		SessionID:      identity.SessionID,
		Code:           req.Code,
		Method:         models.Method(req.Method),
		RememberDevice: req.RememberDevice,
	}, deviceSignals(r, h.ipCfg))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{
		Verified:      true,
		SessionMarker: marker,
	})
}

// Gate handles POST /2fa/gate
func (h *TwoFactorHandler) Gate(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	// An empty body is a valid gate check with no marker.
	var req GateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}

	decision, err := h.service.Gate(r.Context(), identity.UserID, identity.SessionID, req.SessionMarker, deviceSignals(r, h.ipCfg))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GateResponse{
		Required:    decision.Required,
		TrustedSkip: decision.TrustedSkip,
		Satisfied:   decision.Satisfied,
	})
}

// RequestSMSCode handles POST /2fa/sms/request
func (h *TwoFactorHandler) RequestSMSCode(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	if err := h.service.RequestSMSCode(r.Context(), identity.UserID, deviceSignals(r, h.ipCfg)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// Disable handles POST /2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req DisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Disable(r.Context(), identity.UserID, req.Password, deviceSignals(r, h.ipCfg)); err != nil {
		h.logger.Warn("disable rejected", slog.String("user_id", identity.UserID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

// RegenerateRecoveryCodes handles POST /2fa/recovery-codes/regenerate
func (h *TwoFactorHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req RegenerateRecoveryCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.RegenerateRecoveryCodes(r.Context(), identity.UserID, req.Password, deviceSignals(r, h.ipCfg))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RegenerateRecoveryCodesResponse{RecoveryCodes: codes})
}

// Status handles GET /2fa/status
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	status, err := h.service.Status(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
