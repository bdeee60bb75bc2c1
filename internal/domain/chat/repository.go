package chat

import "context"

// Repository persists conversations together with their message logs. Implementations
// return ErrConversationNotFound for unknown ids and wrap driver failures with Transient.
type Repository interface {
	ByID(ctx context.Context, id ConversationID) (*Conversation, error)
	// FindByListing returns conversations about listingID that include participant.
	FindByListing(ctx context.Context, listingID, participant string) ([]*Conversation, error)
	// CreateIfAbsent stores conv unless a conversation with the same id exists. It returns
	// the stored conversation and whether this call created it.
	CreateIfAbsent(ctx context.Context, conv *Conversation) (*Conversation, bool, error)
	// ListByParticipant returns the user's conversations ordered by SortByActivity.
	ListByParticipant(ctx context.Context, userID string) ([]*Conversation, error)
	// AppendMessage appends to the log, replaces the last-message summary and increments
	// the recipient's unread counter.
	AppendMessage(ctx context.Context, id ConversationID, d Delivery) (Message, error)
	// MarkRead zeroes userID's counter and flags the other participant's messages read.
	// It returns the number of messages flipped.
	MarkRead(ctx context.Context, id ConversationID, userID string) (int, error)
	// SetArchived sets userID's archived flag and reports whether it changed.
	SetArchived(ctx context.Context, id ConversationID, userID string, archived bool) (bool, error)
	// Messages returns the log ascending, windowed by page.
	Messages(ctx context.Context, id ConversationID, page MessagePage) ([]Message, error)
}
