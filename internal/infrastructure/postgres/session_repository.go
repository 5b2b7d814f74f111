package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/commission-hub/internal/domain/session"
)

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO sessions
		(session_id, token_hash, user_id, created_at, expires_at, last_seen_at, user_agent, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::inet)
		RETURNING id
	`, s.SessionID, s.TokenHash, s.UserID, s.CreatedAt, s.ExpiresAt, s.LastSeenAt, s.UserAgent, s.IPAddress)
	return row.Scan(&s.ID)
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, session_id, token_hash, user_id, created_at, expires_at, last_seen_at, user_agent, host(ip_address)
		FROM sessions WHERE token_hash=$1
	`, tokenHash)
	var s session.Session
	if err := row.Scan(&s.ID, &s.SessionID, &s.TokenHash, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt, &s.UserAgent, &s.IPAddress); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) DeleteByID(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id=$1`, sessionID)
	return err
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash=$1`, tokenHash)
	return err
}

func (r *SessionRepository) UpdateLastSeen(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_seen_at=$1 WHERE session_id=$2`, time.Now().UTC(), sessionID)
	return err
}

// DeleteExpired purges sessions past their expiry and reports how many went.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int, error) {
	res, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}
