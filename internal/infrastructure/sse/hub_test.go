package sse

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/commission-hub/internal/domain/notice"
)

func TestHub_PostRoutesToManagerAndAdmins(t *testing.T) {
	hub := NewHub()
	managerID := uuid.New()
	managerUser := managerID.String()
	otherUser := uuid.New().String()
	adminUser := uuid.New().String()

	manager := notice.NewSSEClient("c1", &managerUser, nil)
	other := notice.NewSSEClient("c2", &otherUser, nil)
	admin := notice.NewSSEClient("c3", &adminUser, []string{notice.AdminGroup})
	hub.Register(manager)
	hub.Register(other)
	hub.Register(admin)

	n := notice.New(managerID, uuid.New(), notice.KindAccepted, "Commission agreed at 12%", nil)
	require.NoError(t, hub.Post(context.Background(), n))

	require.Len(t, manager.MessageChan, 1)
	assert.Len(t, other.MessageChan, 0)
	assert.Len(t, admin.MessageChan, 1)

	msg := <-manager.MessageChan
	assert.Equal(t, EventNegotiation, msg.Event)
	var got notice.Notice
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, notice.KindAccepted, got.Kind)
	assert.Equal(t, "commission:"+managerID.String(), got.ConversationKey)
}

func TestHub_DeliversOncePerClient(t *testing.T) {
	hub := NewHub()
	managerID := uuid.New()
	user := managerID.String()
	c := notice.NewSSEClient("c1", &user, []string{notice.AdminGroup})
	hub.Register(c)

	require.NoError(t, hub.Post(context.Background(), notice.New(managerID, uuid.New(), notice.KindCounter, "x", nil)))
	assert.Len(t, c.MessageChan, 1)
}

func TestHub_Backlog(t *testing.T) {
	hub := NewHub()
	hub.keep = 3
	managerID := uuid.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Post(context.Background(), notice.New(managerID, uuid.New(), notice.KindOffered, "offer", nil)))
	}

	assert.Len(t, hub.Recent(notice.ConversationKey(managerID), 0), 3)
	assert.Len(t, hub.Recent(notice.ConversationKey(managerID), 2), 2)
	assert.Empty(t, hub.Recent(notice.ConversationKey(uuid.New()), 10))
}

func TestHub_UnregisterAndSend(t *testing.T) {
	hub := NewHub()
	c := notice.NewSSEClient("c1", nil, nil)
	hub.Register(c)
	assert.Equal(t, 1, hub.GetClientCount())

	assert.NoError(t, hub.SendToClient("c1", notice.NewSSEMessage("ping", json.RawMessage(`{}`))))
	hub.Unregister("c1")
	assert.Equal(t, 0, hub.GetClientCount())
	assert.ErrorIs(t, hub.SendToClient("c1", notice.NewSSEMessage("ping", nil)), notice.ErrClientNotFound)
}
