package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/services"
	pkghttp "github.com/bastionauth/bastion/pkg/http"
)

// DeviceHandler handles device trust HTTP requests
type DeviceHandler struct {
	service *services.DeviceService
	ipCfg   *pkghttp.IPConfig
	logger  *slog.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(service *services.DeviceService, ipCfg *pkghttp.IPConfig, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: service,
		ipCfg:   ipCfg,
		logger:  logger,
	}
}

// List handles GET /devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	devices, err := h.service.List(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("failed to list devices", slog.String("user_id", identity.UserID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	currentFingerprint := services.Fingerprint(deviceSignals(r, h.ipCfg))

	response := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		response = append(response, DeviceResponse{
			ID:          d.ID,
			DisplayName: d.DisplayName,
			BrowserName: d.BrowserName,
			OSName:      d.OSName,
			IsTrusted:   d.IsTrusted,
			FirstSeenAt: d.FirstSeenAt,
			LastSeenAt:  d.LastSeenAt,
			Current:     d.Fingerprint == currentFingerprint,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// Trust handles POST /devices/trust
func (h *DeviceHandler) Trust(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req TrustDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	signals := deviceSignals(r, h.ipCfg)
	if err := h.service.Trust(r.Context(), identity.UserID, req.DeviceID, signals.IPAddress); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"trusted": true})
}

// RevokeTrust handles POST /devices/revoke
func (h *DeviceHandler) RevokeTrust(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req TrustDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	signals := deviceSignals(r, h.ipCfg)
	if err := h.service.RevokeTrust(r.Context(), identity.UserID, req.DeviceID, signals.IPAddress); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"trusted": false})
}
