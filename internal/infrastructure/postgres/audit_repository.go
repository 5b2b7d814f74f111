package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/commission-hub/internal/domain/audit"
)

const auditColumns = `id, audit_id, entity_type, entity_id, action, actor, actor_roles, old_values, new_values,
	reason, risk_level, tags, signature, trace_id, created_at`

// AuditRepository implements audit.Repository. old_values/new_values are json
// columns so the stored bytes match what was signed.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Create(ctx context.Context, entry *audit.AuditLog) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO audit_logs
		(audit_id, entity_type, entity_id, action, actor, actor_roles, old_values, new_values, reason, risk_level, tags, signature, trace_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::json,$8::json,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`, entry.AuditID, entry.EntityType, entry.EntityID, entry.Action, entry.Actor, entry.ActorRoles,
		jsonArg(entry.OldValues), jsonArg(entry.NewValues), entry.Reason, entry.RiskLevel, entry.Tags,
		entry.Signature, entry.TraceID, entry.CreatedAt)
	return row.Scan(&entry.ID)
}

func (r *AuditRepository) GetByID(ctx context.Context, auditID uuid.UUID) (*audit.AuditLog, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE audit_id=$1`, auditID)
	return scanAudit(row)
}

func (r *AuditRepository) Query(ctx context.Context, filter audit.QueryFilter, cursor *audit.Cursor, limit int) ([]*audit.AuditLog, *audit.Cursor, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	args := []interface{}{}
	idx := 1
	if filter.EntityType != nil {
		query += addWhere(query) + " entity_type=$" + itoa(idx)
		args = append(args, *filter.EntityType)
		idx++
	}
	if filter.EntityID != nil {
		query += addWhere(query) + " entity_id=$" + itoa(idx)
		args = append(args, *filter.EntityID)
		idx++
	}
	if filter.Action != nil {
		query += addWhere(query) + " action=$" + itoa(idx)
		args = append(args, *filter.Action)
		idx++
	}
	if filter.Actor != nil {
		query += addWhere(query) + " actor=$" + itoa(idx)
		args = append(args, *filter.Actor)
		idx++
	}
	if filter.RiskLevel != nil {
		query += addWhere(query) + " risk_level=$" + itoa(idx)
		args = append(args, *filter.RiskLevel)
		idx++
	}
	if filter.StartTime != nil {
		query += addWhere(query) + " created_at >= $" + itoa(idx)
		args = append(args, *filter.StartTime)
		idx++
	}
	if filter.EndTime != nil {
		query += addWhere(query) + " created_at <= $" + itoa(idx)
		args = append(args, *filter.EndTime)
		idx++
	}
	if len(filter.Tags) > 0 {
		query += addWhere(query) + " tags @> $" + itoa(idx)
		args = append(args, filter.Tags)
		idx++
	}
	if filter.TraceID != nil {
		query += addWhere(query) + " trace_id=$" + itoa(idx)
		args = append(args, *filter.TraceID)
		idx++
	}
	if cursor != nil {
		query += addWhere(query) + " (created_at, id) < ($" + itoa(idx) + ", $" + itoa(idx+1) + ")"
		args = append(args, cursor.CreatedAt, cursor.ID)
		idx += 2
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT $" + itoa(idx)
		args = append(args, limit)
	}

	logs, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	var next *audit.Cursor
	if limit > 0 && len(logs) == limit {
		last := logs[len(logs)-1]
		next = &audit.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return logs, next, nil
}

func (r *AuditRepository) GetByEntityID(ctx context.Context, entityType audit.EntityType, entityID string) ([]*audit.AuditLog, error) {
	return r.list(ctx, `SELECT `+auditColumns+` FROM audit_logs
		WHERE entity_type=$1 AND entity_id=$2 ORDER BY created_at DESC, id DESC`, entityType, entityID)
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...interface{}) ([]*audit.AuditLog, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []*audit.AuditLog
	for rows.Next() {
		log, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func jsonArg(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func scanAudit(row pgx.Row) (*audit.AuditLog, error) {
	var (
		log       audit.AuditLog
		oldValues *string
		newValues *string
	)
	if err := row.Scan(&log.ID, &log.AuditID, &log.EntityType, &log.EntityID, &log.Action, &log.Actor, &log.ActorRoles,
		&oldValues, &newValues, &log.Reason, &log.RiskLevel, &log.Tags, &log.Signature, &log.TraceID, &log.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if oldValues != nil {
		log.OldValues = []byte(*oldValues)
	}
	if newValues != nil {
		log.NewValues = []byte(*newValues)
	}
	log.CreatedAt = log.CreatedAt.UTC()
	return &log, nil
}
