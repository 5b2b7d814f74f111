package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	domainAudit "github.com/execution-hub/commission-hub/internal/domain/audit"
	domainSession "github.com/execution-hub/commission-hub/internal/domain/session"
	domainUser "github.com/execution-hub/commission-hub/internal/domain/user"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserDisabled       = errors.New("user is disabled")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// AuditLogger records security-relevant events.
type AuditLogger interface {
	Log(ctx context.Context, entry *domainAudit.AuditEntry)
}

// Service handles authentication.
type Service struct {
	userRepo    domainUser.Repository
	sessionRepo domainSession.Repository
	sessionTTL  time.Duration
	audit       AuditLogger
	logger      zerolog.Logger
}

// NewService creates an auth service.
func NewService(userRepo domainUser.Repository, sessionRepo domainSession.Repository, sessionTTL time.Duration, auditLogger AuditLogger, logger zerolog.Logger) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sessionTTL:  sessionTTL,
		audit:       auditLogger,
		logger:      logger.With().Str("service", "auth").Logger(),
	}
}

// LoginResult contains login response.
type LoginResult struct {
	User    *domainUser.User
	Session *domainSession.Session
	Token   string
}

// Login authenticates a user and creates a session.
func (s *Service) Login(ctx context.Context, username, password string, userAgent, ipAddress *string) (*LoginResult, error) {
	username = domainUser.NormalizeUsername(username)
	u, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive() {
		return nil, ErrUserDisabled
	}
	if !domainUser.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	tokenHash := hashToken(token)

	sess := domainSession.New(u.UserID, tokenHash, s.sessionTTL, userAgent, ipAddress, time.Now().UTC())
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info().Str("user_id", u.UserID.String()).Str("role", string(u.Role)).Msg("user login")
	if s.audit != nil {
		s.audit.Log(ctx, &domainAudit.AuditEntry{
			EntityType: domainAudit.EntityTypeSession,
			EntityID:   sess.SessionID.String(),
			Action:     domainAudit.ActionLogin,
			Actor:      "user:" + u.Username,
			ActorRoles: []string{string(u.Role)},
		})
	}
	return &LoginResult{User: u, Session: sess, Token: token}, nil
}

// Authenticate validates a session token and returns the user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domainUser.User, *domainSession.Session, error) {
	if token == "" {
		return nil, nil, ErrUnauthenticated
	}
	tokenHash := hashToken(token)
	sess, err := s.sessionRepo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, ErrUnauthenticated
	}
	if sess.IsExpired(time.Now().UTC()) {
		_ = s.sessionRepo.DeleteByID(ctx, sess.SessionID)
		return nil, nil, ErrUnauthenticated
	}
	u, err := s.userRepo.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	if u == nil || !u.IsActive() {
		return nil, nil, ErrUnauthenticated
	}
	_ = s.sessionRepo.UpdateLastSeen(ctx, sess.SessionID)
	return u, sess, nil
}

// Logout deletes a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessionRepo.DeleteByTokenHash(ctx, hashToken(token))
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
