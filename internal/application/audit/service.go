package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/commission-hub/internal/domain/audit"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var (
	// ErrNotFound is returned when an audit log does not exist.
	ErrNotFound      = errors.New("audit log not found")
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Service writes signed audit logs and answers admin queries over them.
type Service struct {
	repo    audit.Repository
	signKey []byte
	logger  zerolog.Logger
	pending sync.WaitGroup
}

// NewService creates an audit service. An empty signKey leaves logs unsigned.
func NewService(repo audit.Repository, logger zerolog.Logger, signKey []byte) *Service {
	return &Service{
		repo:    repo,
		signKey: signKey,
		logger:  logger.With().Str("service", "audit").Logger(),
	}
}

// Log writes entry in the background. Failures are logged and never reach
// the caller.
func (s *Service) Log(ctx context.Context, entry *audit.AuditEntry) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.LogSync(context.WithoutCancel(ctx), entry); err != nil {
			s.logger.Error().Err(err).
				Str("entity", string(entry.EntityType)+"/"+entry.EntityID).
				Str("action", string(entry.Action)).
				Msg("audit write failed")
		}
	}()
}

// Flush blocks until every write started by Log has finished.
func (s *Service) Flush() {
	s.pending.Wait()
}

// LogSync validates, signs and stores entry.
func (s *Service) LogSync(ctx context.Context, entry *audit.AuditEntry) error {
	log, err := audit.NewAuditLog(entry)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	if len(s.signKey) > 0 {
		if log.Signature, err = audit.SignAuditLog(log, s.signKey); err != nil {
			return fmt.Errorf("failed to sign audit log: %w", err)
		}
	}
	if err := s.repo.Create(ctx, log); err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}

	event := s.logger.Debug()
	if log.RiskLevel == audit.RiskLevelHigh || log.RiskLevel == audit.RiskLevelCritical {
		event = s.logger.Info()
	}
	event.Str("auditId", log.AuditID.String()).
		Str("entity", string(log.EntityType)+"/"+log.EntityID).
		Str("action", string(log.Action)).
		Str("actor", log.Actor).
		Str("risk", string(log.RiskLevel)).
		Msg("audit log written")
	return nil
}

// Page is one page of audit logs, newest first.
type Page struct {
	Logs       []*audit.AuditLog `json:"logs"`
	NextCursor string            `json:"nextCursor,omitempty"`
	HasMore    bool              `json:"hasMore"`
}

// Query pages through logs matching filter. cursor is the NextCursor of the
// previous page, or empty for the first one.
func (s *Service) Query(ctx context.Context, filter audit.QueryFilter, cursor string, limit int) (*Page, error) {
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	var after *audit.Cursor
	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		after = c
	}

	logs, next, err := s.repo.Query(ctx, filter, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	page := &Page{Logs: logs, HasMore: next != nil}
	if next != nil {
		page.NextCursor = encodeCursor(next)
	}
	return page, nil
}

// Get returns one audit log.
func (s *Service) Get(ctx context.Context, auditID uuid.UUID) (*audit.AuditLog, error) {
	log, err := s.repo.GetByID(ctx, auditID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	if log == nil {
		return nil, ErrNotFound
	}
	return log, nil
}

// EntityHistory returns every log of one entity, newest first.
func (s *Service) EntityHistory(ctx context.Context, entityType audit.EntityType, entityID string) ([]*audit.AuditLog, error) {
	logs, err := s.repo.GetByEntityID(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity history: %w", err)
	}
	return logs, nil
}

// VerifyResult reports the outcome of a signature check.
type VerifyResult struct {
	AuditID  uuid.UUID `json:"auditId"`
	Verified bool      `json:"verified"`
	Message  string    `json:"message"`
}

// Verify recomputes the signature of one log with the service key.
func (s *Service) Verify(ctx context.Context, auditID uuid.UUID) (*VerifyResult, error) {
	log, err := s.Get(ctx, auditID)
	if err != nil {
		return nil, err
	}
	ok, err := audit.VerifyAuditLogSignature(log, s.signKey)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !ok {
		s.logger.Warn().Str("auditId", auditID.String()).Msg("audit signature mismatch")
		return &VerifyResult{AuditID: auditID, Message: "signature mismatch"}, nil
	}
	return &VerifyResult{AuditID: auditID, Verified: true, Message: "signature verified"}, nil
}

func encodeCursor(c *audit.Cursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(raw string) (*audit.Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	var c audit.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
