package httpapi

import (
	"context"

	"github.com/google/uuid"

	appNegotiation "github.com/execution-hub/commission-hub/internal/application/negotiation"
	"github.com/execution-hub/commission-hub/internal/domain/user"
)

type authContextKey string

const authUserKey authContextKey = "authUser"

// AuthUser represents the authenticated user in context.
type AuthUser struct {
	UserID    uuid.UUID
	Username  string
	Role      user.Role
	SessionID uuid.UUID
}

func (u AuthUser) ActorString() string {
	return "user:" + u.Username
}

// Actor is the verified actor handed to the negotiation service.
func (u AuthUser) Actor() appNegotiation.Actor {
	return appNegotiation.Actor{UserID: u.UserID, Username: u.Username, Role: u.Role}
}

func withAuthUser(ctx context.Context, u *AuthUser) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, authUserKey, u)
}

func authUserFromContext(ctx context.Context) *AuthUser {
	val := ctx.Value(authUserKey)
	if v, ok := val.(*AuthUser); ok {
		return v
	}
	return nil
}
