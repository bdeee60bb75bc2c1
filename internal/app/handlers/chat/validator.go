package chat

import (
	"context"
	"strings"

	domainchat "ncpwheels/internal/domain/chat"
)

// Validator rejects malformed chat commands and queries before they reach a handler.
type Validator struct{}

func (Validator) Validate(_ context.Context, message any) error {
	switch m := message.(type) {
	case StartConversationCommand:
		return requireFields(map[string]string{"user_a": m.UserA, "user_b": m.UserB, "listing_id": m.ListingID})
	case ContactSellerCommand:
		return requireFields(map[string]string{"buyer_id": m.BuyerID, "listing_id": m.ListingID})
	case SendMessageCommand:
		if err := requireFields(map[string]string{"conversation_id": m.ConversationID, "sender_id": m.SenderID}); err != nil {
			return err
		}
		_, err := domainchat.NormalizeContent(m.Content)
		return err
	case MarkConversationReadCommand:
		return requireFields(map[string]string{"conversation_id": m.ConversationID, "user_id": m.UserID})
	case ArchiveConversationCommand:
		return requireFields(map[string]string{"conversation_id": m.ConversationID, "user_id": m.UserID})
	case GetConversationQuery:
		return requireFields(map[string]string{"conversation_id": m.ConversationID})
	case ListConversationsQuery:
		return requireFields(map[string]string{"user_id": m.UserID})
	case ListMessagesQuery:
		if m.Limit < 0 {
			return domainchat.Invalid("limit must not be negative")
		}
		return requireFields(map[string]string{"conversation_id": m.ConversationID})
	case UnreadTotalQuery:
		return requireFields(map[string]string{"user_id": m.UserID})
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for _, name := range []string{"conversation_id", "user_a", "user_b", "buyer_id", "sender_id", "user_id", "listing_id"} {
		value, ok := fields[name]
		if ok && strings.TrimSpace(value) == "" {
			return domainchat.Invalid("%s is required", name)
		}
	}
	return nil
}
