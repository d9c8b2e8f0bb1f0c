package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bastionauth/bastion/internal/models"
)

// DeviceRepository defines the interface for device record storage
type DeviceRepository interface {
	Upsert(ctx context.Context, dev *models.DeviceRecord) (*models.DeviceRecord, bool, error)
	GetByFingerprint(ctx context.Context, userID, fingerprint string) (*models.DeviceRecord, error)
	GetByID(ctx context.Context, id string) (*models.DeviceRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*models.DeviceRecord, error)
	SetTrusted(ctx context.Context, deviceID, userID string, trusted bool) error
}

// DeviceService tracks the devices seen per user and their trust state.
// Two requests with identical signals are the same device; fingerprint
// collisions are treated as a match, not an anomaly.
type DeviceService struct {
	repo   DeviceRepository
	events EventSink
	logger *slog.Logger
}

// NewDeviceService creates a new DeviceService
func NewDeviceService(repo DeviceRepository, events EventSink, logger *slog.Logger) *DeviceService {
	return &DeviceService{
		repo:   repo,
		events: events,
		logger: logger,
	}
}

// Fingerprint derives the stable device identifier from request signals.
// The IP is deliberately excluded so a roaming device keeps its identity.
func Fingerprint(signals models.DeviceSignals) string {
	sum := sha256.Sum256([]byte(signals.UserAgent + "|" + signals.AcceptLanguage + "|" + signals.AcceptEncoding))
	return fmt.Sprintf("%x", sum)
}

// Identify records a sighting of the device and returns the stored record.
// First sightings emit a new-device event.
func (s *DeviceService) Identify(ctx context.Context, userID string, signals models.DeviceSignals) (*models.DeviceRecord, bool, error) {
	browser, os := summarizeUserAgent(signals.UserAgent)

	record := &models.DeviceRecord{
		UserID:      userID,
		Fingerprint: Fingerprint(signals),
		DisplayName: displayName(browser, os),
		BrowserName: browser,
		OSName:      os,
		LastIP:      signals.IPAddress,
	}

	stored, isNew, err := s.repo.Upsert(ctx, record)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record device: %w", err)
	}

	if isNew {
		s.logger.Info("new device observed",
			slog.String("user_id", userID),
			slog.String("device", stored.DisplayName))

		s.events.Emit(ctx, models.RawEvent{
			Type:          models.EventNewDevice,
			SubjectUserID: userID,
			IPAddress:     signals.IPAddress,
			UserAgent:     signals.UserAgent,
			Metadata:      map[string]string{"device": stored.DisplayName},
			OccurredAt:    time.Now(),
		})
	}

	return stored, isNew, nil
}

// IsTrusted reports whether the device with these signals is trusted for the
// user. Unknown devices are untrusted.
func (s *DeviceService) IsTrusted(ctx context.Context, userID string, signals models.DeviceSignals) (bool, error) {
	record, err := s.repo.GetByFingerprint(ctx, userID, Fingerprint(signals))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.IsTrusted, nil
}

// Trust marks a device as trusted, skipping the second factor on later
// logins from it.
func (s *DeviceService) Trust(ctx context.Context, userID, deviceID, ipAddress string) error {
	if err := s.repo.SetTrusted(ctx, deviceID, userID, true); err != nil {
		return err
	}

	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventDeviceTrusted,
		SubjectUserID: userID,
		IPAddress:     ipAddress,
		Metadata:      map[string]string{"device_id": deviceID},
		OccurredAt:    time.Now(),
	})
	return nil
}

// RevokeTrust removes trust from a device.
func (s *DeviceService) RevokeTrust(ctx context.Context, userID, deviceID, ipAddress string) error {
	if err := s.repo.SetTrusted(ctx, deviceID, userID, false); err != nil {
		return err
	}

	s.events.Emit(ctx, models.RawEvent{
		Type:          models.EventDeviceRevoked,
		SubjectUserID: userID,
		IPAddress:     ipAddress,
		Metadata:      map[string]string{"device_id": deviceID},
		OccurredAt:    time.Now(),
	})
	return nil
}

// List returns all devices seen for a user, most recently seen first.
func (s *DeviceService) List(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	return s.repo.ListByUser(ctx, userID)
}

// TrustWithSignals trusts the device identified by the current request's
// signals, recording it first if needed.
func (s *DeviceService) TrustWithSignals(ctx context.Context, userID string, signals models.DeviceSignals) error {
	record, _, err := s.Identify(ctx, userID, signals)
	if err != nil {
		return err
	}
	return s.Trust(ctx, userID, record.ID, signals.IPAddress)
}

// browserMarkers maps user agent substrings to display names. Ordered:
// Edge and Opera embed "Chrome", Chrome embeds "Safari".
var browserMarkers = []struct{ marker, name string }{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Firefox/", "Firefox"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
}

var osMarkers = []struct{ marker, name string }{
	{"Windows NT", "Windows"},
	{"Android", "Android"},
	{"iPhone", "iOS"},
	{"iPad", "iOS"},
	{"Mac OS X", "macOS"},
	{"Linux", "Linux"},
}

// summarizeUserAgent extracts a coarse browser and OS name for display. Good
// enough for a device list label; the fingerprint carries the full string.
func summarizeUserAgent(userAgent string) (browser, os string) {
	browser, os = "Unknown", "Unknown"
	for _, m := range browserMarkers {
		if strings.Contains(userAgent, m.marker) {
			browser = m.name
			break
		}
	}
	for _, m := range osMarkers {
		if strings.Contains(userAgent, m.marker) {
			os = m.name
			break
		}
	}
	return browser, os
}

func displayName(browser, os string) string {
	return browser + " on " + os
}
