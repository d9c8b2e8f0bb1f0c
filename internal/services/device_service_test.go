package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/bastionauth/bastion/internal/models"
	"github.com/bastionauth/bastion/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeviceFixture() (*services.DeviceService, *services.MockDeviceRepository, *services.RecordingEventSink) {
	repo := &services.MockDeviceRepository{}
	sink := &services.RecordingEventSink{}
	svc := services.NewDeviceService(repo, sink, testLogger())
	return svc, repo, sink
}

func TestDeviceServiceFingerprint_StableAcrossIPs(t *testing.T) {
	home := testSignals()
	office := testSignals()
	office.IPAddress = "198.51.100.7"

	assert.Equal(t, services.Fingerprint(home), services.Fingerprint(office))
}

func TestDeviceServiceFingerprint_ChangesWithUserAgent(t *testing.T) {
	chrome := testSignals()
	firefox := testSignals()
	firefox.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) Firefox/126.0"

	assert.NotEqual(t, services.Fingerprint(chrome), services.Fingerprint(firefox))
}

func TestDeviceServiceIdentify_NewDeviceEmitsEvent(t *testing.T) {
	svc, repo, sink := newDeviceFixture()

	var upserted *models.DeviceRecord
	repo.UpsertFunc = func(ctx context.Context, dev *models.DeviceRecord) (*models.DeviceRecord, bool, error) {
		upserted = dev
		stored := *dev
		stored.ID = "device-1"
		stored.FirstSeenAt = time.Now()
		stored.LastSeenAt = time.Now()
		return &stored, true, nil
	}

	record, isNew, err := svc.Identify(context.Background(), "user-1", testSignals())
	require.NoError(t, err)

	assert.True(t, isNew)
	assert.Equal(t, "Chrome", record.BrowserName)
	assert.Equal(t, "Windows", record.OSName)
	assert.Equal(t, "Chrome on Windows", record.DisplayName)
	assert.Equal(t, "203.0.113.10", upserted.LastIP)
	assert.Equal(t, services.Fingerprint(testSignals()), upserted.Fingerprint)

	events := sink.ByType(models.EventNewDevice)
	require.Len(t, events, 1)
	assert.Equal(t, "Chrome on Windows", events[0].Metadata["device"])
}

func TestDeviceServiceIdentify_KnownDeviceStaysQuiet(t *testing.T) {
	svc, _, sink := newDeviceFixture()

	_, isNew, err := svc.Identify(context.Background(), "user-1", testSignals())
	require.NoError(t, err)

	assert.False(t, isNew)
	assert.Empty(t, sink.ByType(models.EventNewDevice))
}

func TestDeviceServiceIdentify_UnrecognizedUserAgent(t *testing.T) {
	svc, repo, _ := newDeviceFixture()

	var upserted *models.DeviceRecord
	repo.UpsertFunc = func(ctx context.Context, dev *models.DeviceRecord) (*models.DeviceRecord, bool, error) {
		upserted = dev
		return dev, false, nil
	}

	signals := testSignals()
	signals.UserAgent = "curl/8.4.0"
	_, _, err := svc.Identify(context.Background(), "user-1", signals)
	require.NoError(t, err)

	assert.Equal(t, "Unknown on Unknown", upserted.DisplayName)
}

func TestDeviceServiceIsTrusted_UnknownDeviceUntrusted(t *testing.T) {
	svc, _, _ := newDeviceFixture()

	trusted, err := svc.IsTrusted(context.Background(), "user-1", testSignals())
	assert.NoError(t, err)
	assert.False(t, trusted)
}

func TestDeviceServiceIsTrusted_ReflectsStoredFlag(t *testing.T) {
	svc, repo, _ := newDeviceFixture()

	repo.GetByFingerprintFunc = func(ctx context.Context, userID, fingerprint string) (*models.DeviceRecord, error) {
		return &models.DeviceRecord{ID: "device-1", UserID: userID, Fingerprint: fingerprint, IsTrusted: true}, nil
	}

	trusted, err := svc.IsTrusted(context.Background(), "user-1", testSignals())
	assert.NoError(t, err)
	assert.True(t, trusted)
}

func TestDeviceServiceTrust_EmitsEvent(t *testing.T) {
	svc, repo, sink := newDeviceFixture()

	var gotDeviceID, gotUserID string
	var gotTrusted bool
	repo.SetTrustedFunc = func(ctx context.Context, deviceID, userID string, trusted bool) error {
		gotDeviceID, gotUserID, gotTrusted = deviceID, userID, trusted
		return nil
	}

	err := svc.Trust(context.Background(), "user-1", "device-1", "203.0.113.10")
	require.NoError(t, err)

	assert.Equal(t, "device-1", gotDeviceID)
	assert.Equal(t, "user-1", gotUserID)
	assert.True(t, gotTrusted)

	events := sink.ByType(models.EventDeviceTrusted)
	require.Len(t, events, 1)
	assert.Equal(t, "device-1", events[0].Metadata["device_id"])
}

func TestDeviceServiceRevokeTrust_EmitsEvent(t *testing.T) {
	svc, repo, sink := newDeviceFixture()

	var gotTrusted bool
	repo.SetTrustedFunc = func(ctx context.Context, deviceID, userID string, trusted bool) error {
		gotTrusted = trusted
		return nil
	}

	err := svc.RevokeTrust(context.Background(), "user-1", "device-1", "203.0.113.10")
	require.NoError(t, err)

	assert.False(t, gotTrusted)
	assert.Len(t, sink.ByType(models.EventDeviceRevoked), 1)
}

func TestDeviceServiceTrust_UnknownDevice(t *testing.T) {
	svc, repo, sink := newDeviceFixture()

	repo.SetTrustedFunc = func(ctx context.Context, deviceID, userID string, trusted bool) error {
		return models.ErrNotFound
	}

	err := svc.Trust(context.Background(), "user-1", "device-9", "203.0.113.10")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, sink.ByType(models.EventDeviceTrusted))
}

func TestDeviceServiceTrustWithSignals_RecordsThenTrusts(t *testing.T) {
	svc, repo, sink := newDeviceFixture()

	repo.UpsertFunc = func(ctx context.Context, dev *models.DeviceRecord) (*models.DeviceRecord, bool, error) {
		stored := *dev
		stored.ID = "device-7"
		return &stored, true, nil
	}
	var trustedID string
	repo.SetTrustedFunc = func(ctx context.Context, deviceID, userID string, trusted bool) error {
		trustedID = deviceID
		return nil
	}

	err := svc.TrustWithSignals(context.Background(), "user-1", testSignals())
	require.NoError(t, err)

	assert.Equal(t, "device-7", trustedID)
	assert.Len(t, sink.ByType(models.EventNewDevice), 1)
	assert.Len(t, sink.ByType(models.EventDeviceTrusted), 1)
}
