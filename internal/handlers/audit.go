package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bastionauth/bastion/internal/auth"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/bastionauth/bastion/internal/services"
)

// AuditHandler exposes the audit trail to administrators
type AuditHandler struct {
	service *services.AuditService
	logger  *slog.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(service *services.AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger,
	}
}

func paginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func toAuditEntryResponse(entry *models.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:          entry.ID.String(),
		Action:      entry.Action,
		ActorID:     entry.ActorID,
		SubjectType: entry.SubjectType,
		SubjectID:   entry.SubjectID,
		IPAddress:   entry.IPAddress,
		RiskLevel:   string(entry.RiskLevel),
		Metadata:    entry.Metadata,
		CreatedAt:   entry.CreatedAt,
	}
}

// ListOwn handles GET /audit for the authenticated caller: their own trail,
// paginated, no subject override.
func (h *AuditHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r)
	if identity == nil {
		writeServiceError(w, models.ErrUnauthorized)
		return
	}

	limit, offset := paginationParams(r)

	entries, total, err := h.service.History(r.Context(), identity.UserID, limit, offset)
	if err != nil {
		h.logger.Error("failed to query audit trail",
			slog.String("subject_id", identity.UserID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	response := AuditListResponse{
		Entries: make([]AuditEntryResponse, 0, len(entries)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for _, entry := range entries {
		response.Entries = append(response.Entries, toAuditEntryResponse(entry))
	}

	writeJSON(w, http.StatusOK, response)
}

// List handles GET /audit?subject_id=...  Without a subject filter it
// returns the recent high-risk entries.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		entries, err := h.service.HighRisk(r.Context(), limit, offset)
		if err != nil {
			h.logger.Error("failed to query audit trail", slog.Any("error", err))
			writeServiceError(w, err)
			return
		}

		response := AuditListResponse{
			Entries: make([]AuditEntryResponse, 0, len(entries)),
			Total:   int64(len(entries)),
			Limit:   limit,
			Offset:  offset,
		}
		for _, entry := range entries {
			response.Entries = append(response.Entries, toAuditEntryResponse(entry))
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	entries, total, err := h.service.History(r.Context(), subjectID, limit, offset)
	if err != nil {
		h.logger.Error("failed to query audit trail",
			slog.String("subject_id", subjectID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	response := AuditListResponse{
		Entries: make([]AuditEntryResponse, 0, len(entries)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for _, entry := range entries {
		response.Entries = append(response.Entries, toAuditEntryResponse(entry))
	}

	writeJSON(w, http.StatusOK, response)
}
