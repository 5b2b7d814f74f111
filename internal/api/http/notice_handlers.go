package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/execution-hub/commission-hub/internal/domain/notice"
	domainUser "github.com/execution-hub/commission-hub/internal/domain/user"
)

// sseEndpoint streams negotiation notices. Managers receive their own
// conversation; admins join the admin group and see every notice.
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	userID := auth.UserID.String()
	var groups []string
	if auth.Role == domainUser.RoleAdmin {
		groups = []string{notice.AdminGroup}
	}
	client := notice.NewSSEClient(clientID, &userID, groups)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(clientID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg := <-client.MessageChan:
			if msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// listNotices returns the recent backlog of a manager's commission conversation.
func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	auth := authUserFromContext(r.Context())
	managerID := auth.UserID
	requested, err := parseOptionalUUID(r, "manager_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid manager_id")
		return
	}
	switch {
	case requested != nil && auth.Role == domainUser.RoleAdmin:
		managerID = *requested
	case requested != nil && *requested != auth.UserID:
		respondError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role")
		return
	case requested == nil && auth.Role == domainUser.RoleAdmin:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "manager_id required")
		return
	}
	limit, _ := s.parseLimitOffset(r)
	key := notice.ConversationKey(managerID)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_key": key,
		"notices":          s.sseHub.Recent(key, limit),
	})
}
