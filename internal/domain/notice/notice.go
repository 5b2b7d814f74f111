package notice

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_sink.go -package=mocks . Sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a negotiation outcome notice.
type Kind string

const (
	KindOffered  Kind = "OFFERED"
	KindCounter  Kind = "COUNTER"
	KindAccepted Kind = "ACCEPTED"
	KindRejected Kind = "REJECTED"
)

// AdminGroup is the broadcast group every admin connection joins.
const AdminGroup = "role:ADMIN"

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

// Notice is a human-readable message about a negotiation outcome, posted to
// the manager's commission conversation.
type Notice struct {
	NoticeID        uuid.UUID       `json:"noticeId"`
	ConversationKey string          `json:"conversationKey"`
	NegotiationID   uuid.UUID       `json:"negotiationId"`
	Kind            Kind            `json:"kind"`
	Body            string          `json:"body"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	TargetUserID    *string         `json:"targetUserId,omitempty"`
	TargetGroup     *string         `json:"targetGroup,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// ConversationKey returns the conversation a manager's commission notices belong to.
func ConversationKey(managerID uuid.UUID) string {
	return "commission:" + managerID.String()
}

// New creates a notice addressed to the manager and the admin group.
func New(managerID, negotiationID uuid.UUID, kind Kind, body string, payload json.RawMessage) *Notice {
	user := managerID.String()
	group := AdminGroup
	return &Notice{
		NoticeID:        uuid.New(),
		ConversationKey: ConversationKey(managerID),
		NegotiationID:   negotiationID,
		Kind:            kind,
		Body:            body,
		Payload:         payload,
		TargetUserID:    &user,
		TargetGroup:     &group,
		CreatedAt:       time.Now().UTC(),
	}
}

// Sink accepts notices for delivery. Delivery is best effort.
type Sink interface {
	Post(ctx context.Context, n *Notice) error
}

// SSEClient represents a connected SSE client
type SSEClient struct {
	ClientID    string
	UserID      *string
	Groups      []string
	ConnectedAt time.Time
	LastEventAt *time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a new SSE client
func NewSSEClient(clientID string, userID *string, groups []string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		UserID:      userID,
		Groups:      groups,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, 100),
	}
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Retry     *int            `json:"retry,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
