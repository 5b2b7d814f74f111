package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainAudit "github.com/execution-hub/commission-hub/internal/domain/audit"
	domain "github.com/execution-hub/commission-hub/internal/domain/user"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already exists")
)

// AuditLogger records user administration events.
type AuditLogger interface {
	Log(ctx context.Context, entry *domainAudit.AuditEntry)
}

// Service handles user management.
type Service struct {
	repo   domain.Repository
	audit  AuditLogger
	logger zerolog.Logger
}

// NewService creates a user service.
func NewService(repo domain.Repository, auditLogger AuditLogger, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		audit:  auditLogger,
		logger: logger.With().Str("service", "user").Logger(),
	}
}

// CreateInput defines user creation input.
type CreateInput struct {
	Username    string
	DisplayName string
	Password    string
	Role        domain.Role
	Status      domain.Status
}

// UpdateInput defines user update input.
type UpdateInput struct {
	DisplayName *string
	Role        *domain.Role
	Status      *domain.Status
}

func (s *Service) CreateUser(ctx context.Context, input CreateInput, actor string) (*domain.User, error) {
	username := domain.NormalizeUsername(input.Username)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password, username); err != nil {
		return nil, err
	}
	if err := domain.ValidateRole(input.Role); err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = domain.StatusActive
	}
	if err := domain.ValidateStatus(input.Status); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := domain.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &domain.User{
		UserID:       uuid.New(),
		Username:     username,
		DisplayName:  input.DisplayName,
		PasswordHash: hash,
		Role:         input.Role,
		Status:       input.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().Str("user_id", u.UserID.String()).Str("username", u.Username).Str("role", string(u.Role)).Msg("user created")
	s.logAudit(ctx, u, domainAudit.ActionCreate, actor)
	return u, nil
}

func (s *Service) UpdateUser(ctx context.Context, userID uuid.UUID, input UpdateInput, actor string) (*domain.User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	if input.DisplayName != nil {
		u.DisplayName = *input.DisplayName
	}
	if input.Role != nil {
		if err := domain.ValidateRole(*input.Role); err != nil {
			return nil, err
		}
		u.Role = *input.Role
	}
	if input.Status != nil {
		if err := domain.ValidateStatus(*input.Status); err != nil {
			return nil, err
		}
		u.Status = *input.Status
	}
	u.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	s.logAudit(ctx, u, domainAudit.ActionUpdate, actor)
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, filter domain.Filter, limit, offset int) ([]*domain.User, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) logAudit(ctx context.Context, u *domain.User, action domainAudit.Action, actor string) {
	if s.audit == nil {
		return
	}
	if actor == "" {
		actor = "system"
	}
	s.audit.Log(ctx, &domainAudit.AuditEntry{
		EntityType: domainAudit.EntityTypeUser,
		EntityID:   u.UserID.String(),
		Action:     action,
		Actor:      actor,
		Tags:       []string{"role:" + string(u.Role)},
	})
}
