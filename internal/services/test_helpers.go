package services

import (
	"context"
	"sync"
	"time"

	"github.com/bastionauth/bastion/internal/models"
	"github.com/bastionauth/bastion/internal/repositories"
)

// MockAttemptCounterRepository implements AttemptCounterRepository for testing
type MockAttemptCounterRepository struct {
	IncrementFunc func(ctx context.Context, subjectKey string, action models.ActionType, window time.Duration, ceiling int) (*models.AttemptCounter, error)
	PeekFunc      func(ctx context.Context, subjectKey string, action models.ActionType, window time.Duration) (*models.AttemptCounter, error)
	ResetFunc     func(ctx context.Context, subjectKey string, action models.ActionType) error
}

func (m *MockAttemptCounterRepository) Increment(ctx context.Context, subjectKey string, action models.ActionType, window time.Duration, ceiling int) (*models.AttemptCounter, error) {
	if m.IncrementFunc != nil {
		return m.IncrementFunc(ctx, subjectKey, action, window, ceiling)
	}
	return &models.AttemptCounter{SubjectKey: subjectKey, Action: action, Count: 1, WindowStart: time.Now()}, nil
}

func (m *MockAttemptCounterRepository) Peek(ctx context.Context, subjectKey string, action models.ActionType, window time.Duration) (*models.AttemptCounter, error) {
	if m.PeekFunc != nil {
		return m.PeekFunc(ctx, subjectKey, action, window)
	}
	return nil, models.ErrNotFound
}

func (m *MockAttemptCounterRepository) Reset(ctx context.Context, subjectKey string, action models.ActionType) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, subjectKey, action)
	}
	return nil
}

// MockLockdownRepository implements LockdownRepository for testing
type MockLockdownRepository struct {
	GetFunc               func(ctx context.Context, identity string) (*models.LockdownRecord, error)
	IncrementFailuresFunc func(ctx context.Context, identity string) (*models.LockdownRecord, error)
	ApplyTempLockFunc     func(ctx context.Context, identity string, until time.Time, cycles int, firstCycleAt time.Time, reason models.LockReason) (*models.LockdownRecord, error)
	ApplyAdminLockFunc    func(ctx context.Context, identity string, reason models.LockReason) (*models.LockdownRecord, error)
	ClearOnSuccessFunc    func(ctx context.Context, identity string) error
	AdminUnlockFunc       func(ctx context.Context, identity string) error
}

func (m *MockLockdownRepository) Get(ctx context.Context, identity string) (*models.LockdownRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, identity)
	}
	return nil, models.ErrNotFound
}

func (m *MockLockdownRepository) IncrementFailures(ctx context.Context, identity string) (*models.LockdownRecord, error) {
	if m.IncrementFailuresFunc != nil {
		return m.IncrementFailuresFunc(ctx, identity)
	}
	return &models.LockdownRecord{Identity: identity, ConsecutiveFailures: 1, UpdatedAt: time.Now()}, nil
}

func (m *MockLockdownRepository) ApplyTempLock(ctx context.Context, identity string, until time.Time, cycles int, firstCycleAt time.Time, reason models.LockReason) (*models.LockdownRecord, error) {
	if m.ApplyTempLockFunc != nil {
		return m.ApplyTempLockFunc(ctx, identity, until, cycles, firstCycleAt, reason)
	}
	return &models.LockdownRecord{
		Identity: identity, IsLocked: true, LockedUntil: &until, LockReason: reason,
		LockoutCycles: cycles, FirstCycleAt: &firstCycleAt, UpdatedAt: time.Now(),
	}, nil
}

func (m *MockLockdownRepository) ApplyAdminLock(ctx context.Context, identity string, reason models.LockReason) (*models.LockdownRecord, error) {
	if m.ApplyAdminLockFunc != nil {
		return m.ApplyAdminLockFunc(ctx, identity, reason)
	}
	return &models.LockdownRecord{
		Identity: identity, IsLocked: true, LockReason: reason,
		RequiresAdminIntervention: true, UpdatedAt: time.Now(),
	}, nil
}

func (m *MockLockdownRepository) ClearOnSuccess(ctx context.Context, identity string) error {
	if m.ClearOnSuccessFunc != nil {
		return m.ClearOnSuccessFunc(ctx, identity)
	}
	return nil
}

func (m *MockLockdownRepository) AdminUnlock(ctx context.Context, identity string) error {
	if m.AdminUnlockFunc != nil {
		return m.AdminUnlockFunc(ctx, identity)
	}
	return nil
}

// MockTwoFactorRepository implements TwoFactorRepository for testing
type MockTwoFactorRepository struct {
	GetByUserIDFunc              func(ctx context.Context, userID string) (*models.TwoFactorCredential, error)
	SavePendingSecretFunc        func(ctx context.Context, userID string, encrypted, nonce []byte) error
	EnableFunc                   func(ctx context.Context, userID string, recoveryHashes []string) error
	DisableFunc                  func(ctx context.Context, userID string) error
	AdvanceAcceptedStepFunc      func(ctx context.Context, userID string, step int64) error
	SetPendingSMSFunc            func(ctx context.Context, userID, codeHash string, expiresAt time.Time) error
	TakePendingSMSFunc           func(ctx context.Context, userID string) (string, *time.Time, error)
	SetVerifiedSessionFunc       func(ctx context.Context, userID, sessionID string) error
	ListUnusedRecoveryCodesFunc  func(ctx context.Context, userID string) ([]repositories.RecoveryCodeRow, error)
	ConsumeRecoveryCodeFunc      func(ctx context.Context, codeID string) error
	CountUnusedRecoveryCodesFunc func(ctx context.Context, userID string) (int, error)
	ReplaceRecoveryCodesFunc     func(ctx context.Context, userID string, recoveryHashes []string) error
}

func (m *MockTwoFactorRepository) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorCredential, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTwoFactorRepository) SavePendingSecret(ctx context.Context, userID string, encrypted, nonce []byte) error {
	if m.SavePendingSecretFunc != nil {
		return m.SavePendingSecretFunc(ctx, userID, encrypted, nonce)
	}
	return nil
}

func (m *MockTwoFactorRepository) Enable(ctx context.Context, userID string, recoveryHashes []string) error {
	if m.EnableFunc != nil {
		return m.EnableFunc(ctx, userID, recoveryHashes)
	}
	return nil
}

func (m *MockTwoFactorRepository) Disable(ctx context.Context, userID string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, userID)
	}
	return nil
}

func (m *MockTwoFactorRepository) AdvanceAcceptedStep(ctx context.Context, userID string, step int64) error {
	if m.AdvanceAcceptedStepFunc != nil {
		return m.AdvanceAcceptedStepFunc(ctx, userID, step)
	}
	return nil
}

func (m *MockTwoFactorRepository) SetPendingSMS(ctx context.Context, userID, codeHash string, expiresAt time.Time) error {
	if m.SetPendingSMSFunc != nil {
		return m.SetPendingSMSFunc(ctx, userID, codeHash, expiresAt)
	}
	return nil
}

func (m *MockTwoFactorRepository) TakePendingSMS(ctx context.Context, userID string) (string, *time.Time, error) {
	if m.TakePendingSMSFunc != nil {
		return m.TakePendingSMSFunc(ctx, userID)
	}
	return "", nil, models.ErrNotFound
}

func (m *MockTwoFactorRepository) SetVerifiedSession(ctx context.Context, userID, sessionID string) error {
	if m.SetVerifiedSessionFunc != nil {
		return m.SetVerifiedSessionFunc(ctx, userID, sessionID)
	}
	return nil
}

func (m *MockTwoFactorRepository) ListUnusedRecoveryCodes(ctx context.Context, userID string) ([]repositories.RecoveryCodeRow, error) {
	if m.ListUnusedRecoveryCodesFunc != nil {
		return m.ListUnusedRecoveryCodesFunc(ctx, userID)
	}
	return []repositories.RecoveryCodeRow{}, nil
}

func (m *MockTwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, codeID string) error {
	if m.ConsumeRecoveryCodeFunc != nil {
		return m.ConsumeRecoveryCodeFunc(ctx, codeID)
	}
	return nil
}

func (m *MockTwoFactorRepository) CountUnusedRecoveryCodes(ctx context.Context, userID string) (int, error) {
	if m.CountUnusedRecoveryCodesFunc != nil {
		return m.CountUnusedRecoveryCodesFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockTwoFactorRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string) error {
	if m.ReplaceRecoveryCodesFunc != nil {
		return m.ReplaceRecoveryCodesFunc(ctx, userID, recoveryHashes)
	}
	return nil
}

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockDeviceRepository implements DeviceRepository for testing
type MockDeviceRepository struct {
	UpsertFunc           func(ctx context.Context, dev *models.DeviceRecord) (*models.DeviceRecord, bool, error)
	GetByFingerprintFunc func(ctx context.Context, userID, fingerprint string) (*models.DeviceRecord, error)
	GetByIDFunc          func(ctx context.Context, id string) (*models.DeviceRecord, error)
	ListByUserFunc       func(ctx context.Context, userID string) ([]*models.DeviceRecord, error)
	SetTrustedFunc       func(ctx context.Context, deviceID, userID string, trusted bool) error
}

func (m *MockDeviceRepository) Upsert(ctx context.Context, dev *models.DeviceRecord) (*models.DeviceRecord, bool, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, dev)
	}
	stored := *dev
	stored.ID = "device_1"
	stored.FirstSeenAt = time.Now()
	stored.LastSeenAt = time.Now()
	return &stored, false, nil
}

func (m *MockDeviceRepository) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*models.DeviceRecord, error) {
	if m.GetByFingerprintFunc != nil {
		return m.GetByFingerprintFunc(ctx, userID, fingerprint)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceRepository) GetByID(ctx context.Context, id string) (*models.DeviceRecord, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.DeviceRecord, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return []*models.DeviceRecord{}, nil
}

func (m *MockDeviceRepository) SetTrusted(ctx context.Context, deviceID, userID string, trusted bool) error {
	if m.SetTrustedFunc != nil {
		return m.SetTrustedFunc(ctx, deviceID, userID, trusted)
	}
	return nil
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateFunc         func(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
	GetBySubjectFunc   func(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditEntry, error)
	GetByActionFunc    func(ctx context.Context, action string, limit, offset int) ([]*models.AuditEntry, error)
	GetHighRiskFunc    func(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error)
	CountBySubjectFunc func(ctx context.Context, subjectID string) (int64, error)
}

func (m *MockAuditLogRepository) Create(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, entry)
	}
	return entry, nil
}

func (m *MockAuditLogRepository) GetBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditEntry, error) {
	if m.GetBySubjectFunc != nil {
		return m.GetBySubjectFunc(ctx, subjectID, limit, offset)
	}
	return []*models.AuditEntry{}, nil
}

func (m *MockAuditLogRepository) GetByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditEntry, error) {
	if m.GetByActionFunc != nil {
		return m.GetByActionFunc(ctx, action, limit, offset)
	}
	return []*models.AuditEntry{}, nil
}

func (m *MockAuditLogRepository) GetHighRisk(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error) {
	if m.GetHighRiskFunc != nil {
		return m.GetHighRiskFunc(ctx, limit, offset)
	}
	return []*models.AuditEntry{}, nil
}

func (m *MockAuditLogRepository) CountBySubject(ctx context.Context, subjectID string) (int64, error) {
	if m.CountBySubjectFunc != nil {
		return m.CountBySubjectFunc(ctx, subjectID)
	}
	return 0, nil
}

// RecordingEventSink collects emitted events for assertions
type RecordingEventSink struct {
	mu     sync.Mutex
	Events []models.RawEvent
}

func (s *RecordingEventSink) Emit(ctx context.Context, ev models.RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
}

// ByType returns the emitted events of one type.
func (s *RecordingEventSink) ByType(t models.EventType) []models.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RawEvent
	for _, ev := range s.Events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// RecordingSMSSender captures sent codes
type RecordingSMSSender struct {
	Phone string
	Code  string
	Err   error
}

func (s *RecordingSMSSender) SendCode(ctx context.Context, phone, code string) error {
	if s.Err != nil {
		return s.Err
	}
	s.Phone = phone
	s.Code = code
	return nil
}

// RecordingNotifier captures delivered alerts
type RecordingNotifier struct {
	mu     sync.Mutex
	Alerts []models.SecurityEvent
}

func (n *RecordingNotifier) SendSecurityAlert(ctx context.Context, event models.SecurityEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Alerts = append(n.Alerts, event)
	return nil
}
