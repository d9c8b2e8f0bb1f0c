package repositories

import (
	"context"
	"fmt"

	"github.com/bastionauth/bastion/internal/database"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles append-only audit trail data access.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

func scanAuditRow(row pgx.Row) (*models.AuditEntry, error) {
	var entry models.AuditEntry

	err := row.Scan(
		&entry.ID, &entry.Action, &entry.ActorID, &entry.SubjectType,
		&entry.SubjectID, &entry.OldValues, &entry.NewValues, &entry.IPAddress,
		&entry.UserAgent, &entry.RiskLevel, &entry.Metadata, &entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

func scanAuditRows(rows pgx.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)

	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return entries, nil
}

const auditSelectColumns = `
	id, action, actor_id, subject_type, subject_id, old_values, new_values,
	ip_address, user_agent, risk_level, metadata, created_at`

// Create appends one audit entry.
func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	query := `
		INSERT INTO audit_entries (
			action, actor_id, subject_type, subject_id, old_values, new_values,
			ip_address, user_agent, risk_level, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + auditSelectColumns

	result, err := scanAuditRow(r.pool.QueryRow(
		ctx, query,
		entry.Action, entry.ActorID, entry.SubjectType, entry.SubjectID,
		entry.OldValues, entry.NewValues, entry.IPAddress, entry.UserAgent,
		entry.RiskLevel, entry.Metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit entry: %w", err)
	}

	return result, nil
}

// GetBySubject retrieves audit entries where the user is subject or actor.
func (r *AuditLogRepository) GetBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditSelectColumns + `
		FROM audit_entries
		WHERE subject_id = $1 OR actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, subjectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	return scanAuditRows(rows)
}

// GetByAction retrieves audit entries by action name.
func (r *AuditLogRepository) GetByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditSelectColumns + `
		FROM audit_entries
		WHERE action = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	return scanAuditRows(rows)
}

// GetHighRisk retrieves entries at or above high risk.
func (r *AuditLogRepository) GetHighRisk(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditSelectColumns + `
		FROM audit_entries
		WHERE risk_level IN ($1, $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, models.SeverityHigh, models.SeverityCritical, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query high risk audit entries: %w", err)
	}

	return scanAuditRows(rows)
}

// CountBySubject counts audit entries for a user.
func (r *AuditLogRepository) CountBySubject(ctx context.Context, subjectID string) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_entries WHERE subject_id = $1 OR actor_id = $1`

	var count int64
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	return count, nil
}

// Cleanup removes audit entries older than the retention period.
func (r *AuditLogRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM audit_entries
		WHERE created_at < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1
	`

	result, err := r.pool.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit entries: %w", err)
	}

	return result.RowsAffected(), nil
}
