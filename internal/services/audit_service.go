package services

import (
	"context"
	"log/slog"

	"github.com/bastionauth/bastion/internal/models"
)

// AuditLogRepository defines the interface for audit trail storage
type AuditLogRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
	GetBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditEntry, error)
	GetByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditEntry, error)
	GetHighRisk(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error)
	CountBySubject(ctx context.Context, subjectID string) (int64, error)
}

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo   AuditLogRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// Record writes one audit entry. The slog line always lands; a database
// failure is logged and swallowed so auditing never fails the operation it
// describes.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditEntry) {
	level := slog.LevelInfo
	if entry.RiskLevel == models.SeverityHigh || entry.RiskLevel == models.SeverityCritical {
		level = slog.LevelWarn
	}

	s.logger.Log(ctx, level, "audit event",
		slog.String("action", entry.Action),
		slog.Any("actor_id", entry.ActorID),
		slog.String("subject_type", entry.SubjectType),
		slog.Any("subject_id", entry.SubjectID),
		slog.String("risk_level", string(entry.RiskLevel)),
		slog.Any("metadata", entry.Metadata),
	)

	if _, err := s.repo.Create(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit entry",
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
	}
}

// LogStateChange records a sensitive state transition with before/after
// snapshots.
func (s *AuditService) LogStateChange(ctx context.Context, action string, actorID *string, subjectType string, subjectID *string, oldValues, newValues models.AuditValues, ipAddress, userAgent string, risk models.Severity) {
	entry := &models.AuditEntry{
		Action:      action,
		ActorID:     actorID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		OldValues:   oldValues,
		NewValues:   newValues,
		RiskLevel:   risk,
	}
	if ipAddress != "" {
		entry.IPAddress = &ipAddress
	}
	if userAgent != "" {
		entry.UserAgent = &userAgent
	}

	s.Record(ctx, entry)
}

// LogSecurityEvent records a classified security event in the audit trail.
func (s *AuditService) LogSecurityEvent(ctx context.Context, event models.SecurityEvent, userAgent string) {
	metadata := make(models.AuditValues, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	metadata["event_type"] = string(event.Type)

	entry := &models.AuditEntry{
		Action:      models.AuditActionSecurityEvent,
		SubjectType: models.AuditSubjectUser,
		Metadata:    metadata,
		RiskLevel:   event.Severity,
	}
	if event.SubjectUserID != "" {
		subjectID := event.SubjectUserID
		entry.SubjectID = &subjectID
	}
	if event.IPAddress != "" {
		ip := event.IPAddress
		entry.IPAddress = &ip
	}
	if userAgent != "" {
		ua := userAgent
		entry.UserAgent = &ua
	}

	s.Record(ctx, entry)
}

// History returns the audit trail for one subject, newest first.
func (s *AuditService) History(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditEntry, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.repo.GetBySubject(ctx, subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.repo.CountBySubject(ctx, subjectID)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// HighRisk returns recent entries at or above high severity.
func (s *AuditService) HighRisk(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetHighRisk(ctx, limit, offset)
}
