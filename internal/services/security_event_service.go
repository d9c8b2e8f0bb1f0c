package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bastionauth/bastion/internal/models"
)

// Notifier delivers alerts for security events that cross the alert bar.
type Notifier interface {
	SendSecurityAlert(ctx context.Context, event models.SecurityEvent) error
}

// alertedTypes always page regardless of severity ordering.
var alertedTypes = map[models.EventType]bool{
	models.EventAdminLockTriggered: true,
	models.EventGlobalAttack:       true,
	models.EventTwoFactorDisabled:  true,
	models.EventAdminDisable2FA:    true,
	models.EventSuspiciousActivity: true,
}

// SecurityEventService classifies raw events and fans them out to the audit
// trail and the notifier. Classification is pure and synchronous; delivery to
// the notifier happens on a background worker so emitters never block on an
// outbound call.
type SecurityEventService struct {
	audit    *AuditService
	notifier Notifier
	logger   *slog.Logger

	queue  chan models.SecurityEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSecurityEventService creates a new SecurityEventService
func NewSecurityEventService(audit *AuditService, notifier Notifier, logger *slog.Logger) *SecurityEventService {
	return &SecurityEventService{
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		queue:    make(chan models.SecurityEvent, 256),
		stopCh:   make(chan struct{}),
	}
}

// Classify converts a raw event into its immutable classified form. Same
// input, same output; nothing here reads clocks or state.
func (s *SecurityEventService) Classify(raw models.RawEvent) models.SecurityEvent {
	return models.SecurityEvent{
		Type:          raw.Type,
		Severity:      severityFor(raw),
		SubjectUserID: raw.SubjectUserID,
		IPAddress:     raw.IPAddress,
		Metadata:      raw.Metadata,
		OccurredAt:    raw.OccurredAt,
	}
}

// severityFor applies the classification rules in order; the first match
// wins.
func severityFor(raw models.RawEvent) models.Severity {
	switch raw.Type {
	case models.EventGlobalAttack, models.EventAdminLockTriggered:
		return models.SeverityCritical
	case models.EventSuspiciousActivity, models.EventTwoFactorDisabled, models.EventAdminDisable2FA:
		return models.SeverityHigh
	case models.EventTwoFactorRequired, models.EventNewDevice, models.EventAccountLocked,
		models.EventRecoveryCodesLow, models.EventDeviceRevoked:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// ShouldAlert reports whether the event warrants an outbound notification.
func ShouldAlert(event models.SecurityEvent) bool {
	if alertedTypes[event.Type] {
		return true
	}
	return event.Severity == models.SeverityMedium ||
		event.Severity == models.SeverityHigh ||
		event.Severity == models.SeverityCritical
}

// Emit classifies the raw event, records it, and queues alert delivery.
// Implements EventSink.
func (s *SecurityEventService) Emit(ctx context.Context, raw models.RawEvent) {
	if raw.OccurredAt.IsZero() {
		raw.OccurredAt = time.Now()
	}
	event := s.Classify(raw)

	s.audit.LogSecurityEvent(ctx, event, raw.UserAgent)

	if !ShouldAlert(event) {
		return
	}

	select {
	case s.queue <- event:
	default:
		// A saturated queue means notifications are already far behind;
		// the audit row above is the durable record either way.
		s.logger.Warn("security event queue full, dropping alert",
			slog.String("event_type", string(event.Type)))
	}
}

// Start launches the delivery worker.
func (s *SecurityEventService) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("security event dispatcher started")
}

// Stop drains in-flight deliveries and stops the worker.
func (s *SecurityEventService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("security event dispatcher stopped")
}

func (s *SecurityEventService) run() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.queue:
			s.deliver(event)
		case <-s.stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event := <-s.queue:
					s.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (s *SecurityEventService) deliver(event models.SecurityEvent) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.notifier.SendSecurityAlert(ctx, event); err != nil {
		s.logger.Error("failed to deliver security alert",
			slog.String("event_type", string(event.Type)),
			slog.String("severity", string(event.Severity)),
			slog.Any("error", err))
	}
}
