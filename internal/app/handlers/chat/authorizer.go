package chat

import (
	"context"
	"strings"

	"ncpwheels/internal/app/identity"
	domainchat "ncpwheels/internal/domain/chat"
)

// Authorizer binds commands to the authenticated caller. Requests without an actor are
// trusted service-to-service calls and pass through, and so do admins.
type Authorizer struct{}

const adminRole = "admin"

func (Authorizer) Authorize(ctx context.Context, message any) error {
	actor, ok := identity.ActorFrom(ctx)
	if !ok || actor.HasRole(adminRole) {
		return nil
	}
	switch m := message.(type) {
	case StartConversationCommand:
		if !sameUser(actor, m.UserA) && !sameUser(actor, m.UserB) {
			return domainchat.ErrUnauthorized
		}
	case ContactSellerCommand:
		return requireSelf(actor, m.BuyerID)
	case SendMessageCommand:
		return requireSelf(actor, m.SenderID)
	case MarkConversationReadCommand:
		return requireSelf(actor, m.UserID)
	case ArchiveConversationCommand:
		return requireSelf(actor, m.UserID)
	case ListConversationsQuery:
		return requireSelf(actor, m.UserID)
	case UnreadTotalQuery:
		return requireSelf(actor, m.UserID)
	case GetConversationQuery:
		return requireSelf(actor, m.ViewerID)
	case ListMessagesQuery:
		return requireSelf(actor, m.ViewerID)
	}
	return nil
}

func sameUser(actor identity.Actor, userID string) bool {
	return actor.UserID == strings.TrimSpace(userID)
}

func requireSelf(actor identity.Actor, userID string) error {
	if !sameUser(actor, userID) {
		return domainchat.ErrUnauthorized
	}
	return nil
}
