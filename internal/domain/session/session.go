package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated login, looked up by the sha256 of its bearer token.
type Session struct {
	ID         int64      `json:"id"`
	SessionID  uuid.UUID  `json:"sessionId"`
	TokenHash  string     `json:"-"`
	UserID     uuid.UUID  `json:"userId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	UserAgent  *string    `json:"userAgent,omitempty"`
	IPAddress  *string    `json:"ipAddress,omitempty"`
}

// New opens a session for userID that expires after ttl.
func New(userID uuid.UUID, tokenHash string, ttl time.Duration, userAgent, ipAddress *string, now time.Time) *Session {
	return &Session{
		SessionID:  uuid.New(),
		TokenHash:  tokenHash,
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: &now,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
	}
}

func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
