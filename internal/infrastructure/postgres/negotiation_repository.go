package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/commission-hub/internal/domain/negotiation"
)

const liveSubjectIndex = "uq_commission_negotiations_live_subject"

const negotiationColumns = `id, negotiation_id, manager_id, service_id, negotiation_type,
	offered_percentage::text, counter_percentage::text, final_percentage::text, status,
	manager_notes, admin_id, admin_notes, admin_responded_at, valid_from, valid_until,
	min_order_value::text, max_order_value::text, condition, is_active, version,
	created_at, updated_at, accepted_at, deactivated_at`

// effectiveStatus mirrors Negotiation.EffectiveStatus for the observation time bound to param.
func effectiveStatus(param string) string {
	return `(CASE WHEN status IN ('pending','negotiating') AND valid_until IS NOT NULL AND valid_until < ` + param + ` THEN 'expired' ELSE status END)`
}

// NegotiationRepository implements negotiation.Repository.
type NegotiationRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

func NewNegotiationRepository(pool *pgxpool.Pool) *NegotiationRepository {
	return &NegotiationRepository{pool: pool, tx: NewTxManager(pool)}
}

func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		row := q.QueryRow(ctx, `
			INSERT INTO commission_negotiations
			(negotiation_id, manager_id, service_id, negotiation_type, offered_percentage, counter_percentage, final_percentage,
			 status, manager_notes, admin_id, admin_notes, admin_responded_at, valid_from, valid_until,
			 min_order_value, max_order_value, condition, is_active, version, created_at, updated_at, accepted_at, deactivated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
			RETURNING id
		`, n.NegotiationID, n.ManagerID, n.ServiceID, n.Type, n.OfferedPercentage.String(),
			decimalArg(n.CounterPercentage), decimalArg(n.FinalPercentage), n.Status, n.ManagerNotes,
			n.AdminID, n.AdminNotes, n.AdminRespondedAt, n.ValidFrom, n.ValidUntil,
			decimalArg(n.MinOrderValue), decimalArg(n.MaxOrderValue), n.Condition, n.IsActive, n.Version,
			n.CreatedAt, n.UpdatedAt, n.AcceptedAt, n.DeactivatedAt)
		if err := row.Scan(&n.ID); err != nil {
			return mapNegotiationWriteErr(err)
		}
		return insertHistory(ctx, q, n.NegotiationID, n.History)
	})
}

func (r *NegotiationRepository) Update(ctx context.Context, n *negotiation.Negotiation, expectedVersion int64, appended []negotiation.HistoryEntry) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		tag, err := q.Exec(ctx, `
			UPDATE commission_negotiations
			SET offered_percentage=$1, counter_percentage=$2, final_percentage=$3, status=$4, manager_notes=$5,
				admin_id=$6, admin_notes=$7, admin_responded_at=$8, valid_from=$9, valid_until=$10,
				is_active=$11, updated_at=$12, accepted_at=$13, deactivated_at=$14, version=version+1
			WHERE negotiation_id=$15 AND version=$16
		`, n.OfferedPercentage.String(), decimalArg(n.CounterPercentage), decimalArg(n.FinalPercentage), n.Status,
			n.ManagerNotes, n.AdminID, n.AdminNotes, n.AdminRespondedAt, n.ValidFrom, n.ValidUntil,
			n.IsActive, n.UpdatedAt, n.AcceptedAt, n.DeactivatedAt, n.NegotiationID, expectedVersion)
		if err != nil {
			return mapNegotiationWriteErr(err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("negotiation %s at version %d: %w", n.NegotiationID, expectedVersion, negotiation.ErrStaleState)
		}
		if err := insertHistory(ctx, q, n.NegotiationID, appended); err != nil {
			return err
		}
		n.Version = expectedVersion + 1
		return nil
	})
}

func (r *NegotiationRepository) GetByID(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	q := conn(ctx, r.pool)
	n, err := scanNegotiation(q.QueryRow(ctx, `SELECT `+negotiationColumns+` FROM commission_negotiations WHERE negotiation_id=$1`, negotiationID))
	if err != nil || n == nil {
		return n, err
	}
	if err := loadHistory(ctx, q, []*negotiation.Negotiation{n}); err != nil {
		return nil, err
	}
	return n, nil
}

// FindLive locks the live row of the subject when called inside a transaction.
func (r *NegotiationRepository) FindLive(ctx context.Context, subject negotiation.Subject) (*negotiation.Negotiation, error) {
	q := conn(ctx, r.pool)
	n, err := scanNegotiation(q.QueryRow(ctx, `
		SELECT `+negotiationColumns+` FROM commission_negotiations
		WHERE manager_id=$1 AND service_id IS NOT DISTINCT FROM $2
		  AND is_active AND status IN ('pending','negotiating','accepted')
		FOR UPDATE
	`, subject.ManagerID, subject.ServiceID))
	if err != nil || n == nil {
		return n, err
	}
	if err := loadHistory(ctx, q, []*negotiation.Negotiation{n}); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *NegotiationRepository) ListAccepted(ctx context.Context, managerID uuid.UUID, serviceID *uuid.UUID) ([]*negotiation.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM commission_negotiations
		WHERE manager_id=$1 AND is_active AND status='accepted'`
	args := []interface{}{managerID}
	if serviceID != nil {
		query += " AND service_id=$2"
		args = append(args, *serviceID)
	} else {
		query += " AND service_id IS NULL"
	}
	query += " ORDER BY created_at DESC, id DESC"
	return r.query(ctx, query, args...)
}

func (r *NegotiationRepository) List(ctx context.Context, filter negotiation.Filter, limit, offset int) ([]*negotiation.Negotiation, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	query := `SELECT ` + negotiationColumns + ` FROM commission_negotiations`
	args := []interface{}{}
	idx := 1
	if filter.ManagerID != nil {
		query += addWhere(query) + " manager_id=$" + itoa(idx)
		args = append(args, *filter.ManagerID)
		idx++
	}
	if filter.GlobalOnly {
		query += addWhere(query) + " service_id IS NULL"
	}
	if filter.ServiceID != nil {
		query += addWhere(query) + " service_id=$" + itoa(idx)
		args = append(args, *filter.ServiceID)
		idx++
	}
	if filter.Status != nil {
		query += addWhere(query) + " " + effectiveStatus("$"+itoa(idx)) + "=$" + itoa(idx+1)
		args = append(args, now, string(*filter.Status))
		idx += 2
	}
	if filter.IsActive != nil {
		query += addWhere(query) + " is_active=$" + itoa(idx)
		args = append(args, *filter.IsActive)
		idx++
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT $" + itoa(idx)
		args = append(args, limit)
		idx++
	}
	query += " OFFSET $" + itoa(idx)
	args = append(args, offset)
	return r.query(ctx, query, args...)
}

func (r *NegotiationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*negotiation.Negotiation, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*negotiation.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if err := loadHistory(ctx, q, items); err != nil {
		return nil, err
	}
	return items, nil
}

func insertHistory(ctx context.Context, q querier, negotiationID uuid.UUID, entries []negotiation.HistoryEntry) error {
	for _, h := range entries {
		if _, err := q.Exec(ctx, `
			INSERT INTO negotiation_history
			(negotiation_id, sequence, action, percentage, notes, actor, actor_role, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, negotiationID, h.Sequence, h.Action, decimalArg(h.Percentage), h.Notes, h.Actor, h.ActorRole, h.Timestamp); err != nil {
			return fmt.Errorf("failed to insert negotiation history: %w", err)
		}
	}
	return nil
}

func loadHistory(ctx context.Context, q querier, items []*negotiation.Negotiation) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, 0, len(items))
	byID := make(map[uuid.UUID]*negotiation.Negotiation, len(items))
	for _, n := range items {
		ids = append(ids, n.NegotiationID.String())
		byID[n.NegotiationID] = n
		n.History = []negotiation.HistoryEntry{}
	}
	rows, err := q.Query(ctx, `
		SELECT negotiation_id, sequence, created_at, action, percentage::text, notes, actor, actor_role
		FROM negotiation_history WHERE negotiation_id::text = ANY($1::text[])
		ORDER BY negotiation_id, sequence
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to load negotiation history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  uuid.UUID
			h   negotiation.HistoryEntry
			pct *string
		)
		if err := rows.Scan(&id, &h.Sequence, &h.Timestamp, &h.Action, &pct, &h.Notes, &h.Actor, &h.ActorRole); err != nil {
			return err
		}
		if h.Percentage, err = parseDecimal(pct); err != nil {
			return err
		}
		if n := byID[id]; n != nil {
			n.History = append(n.History, h)
		}
	}
	return rows.Err()
}

func mapNegotiationWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == liveSubjectIndex {
		return negotiation.ErrConflictingOffer
	}
	return err
}

func scanNegotiation(row pgx.Row) (*negotiation.Negotiation, error) {
	var (
		n                                 negotiation.Negotiation
		offered                           string
		counter, final, minValue, maxValue *string
	)
	if err := row.Scan(&n.ID, &n.NegotiationID, &n.ManagerID, &n.ServiceID, &n.Type,
		&offered, &counter, &final, &n.Status,
		&n.ManagerNotes, &n.AdminID, &n.AdminNotes, &n.AdminRespondedAt, &n.ValidFrom, &n.ValidUntil,
		&minValue, &maxValue, &n.Condition, &n.IsActive, &n.Version,
		&n.CreatedAt, &n.UpdatedAt, &n.AcceptedAt, &n.DeactivatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	pct, err := parseDecimal(&offered)
	if err != nil {
		return nil, err
	}
	n.OfferedPercentage = *pct
	if n.CounterPercentage, err = parseDecimal(counter); err != nil {
		return nil, err
	}
	if n.FinalPercentage, err = parseDecimal(final); err != nil {
		return nil, err
	}
	if n.MinOrderValue, err = parseDecimal(minValue); err != nil {
		return nil, err
	}
	if n.MaxOrderValue, err = parseDecimal(maxValue); err != nil {
		return nil, err
	}
	normalizeTimes(&n)
	return &n, nil
}

func normalizeTimes(n *negotiation.Negotiation) {
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	for _, t := range []*time.Time{n.AdminRespondedAt, n.ValidFrom, n.ValidUntil, n.AcceptedAt, n.DeactivatedAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
}
