package chat

import "time"

const (
	EventConversationStarted  = "chat.conversation_started"
	EventMessageSent          = "chat.message_sent"
	EventConversationRead     = "chat.conversation_read"
	EventConversationArchived = "chat.conversation_archived"
)

type ConversationStarted struct {
	ConversationID ConversationID `json:"conversation_id"`
	ListingID      string         `json:"listing_id"`
	Participants   []string       `json:"participants"`
	At             time.Time      `json:"at"`
}

func (e ConversationStarted) EventName() string     { return EventConversationStarted }
func (e ConversationStarted) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationStarted) OccurredAt() time.Time { return e.At }

type MessageSent struct {
	ConversationID ConversationID `json:"conversation_id"`
	MessageID      MessageID      `json:"message_id"`
	SenderID       string         `json:"sender_id"`
	RecipientID    string         `json:"recipient_id"`
	Participants   []string       `json:"participants"`
	At             time.Time      `json:"at"`
}

func (e MessageSent) EventName() string     { return EventMessageSent }
func (e MessageSent) AggregateID() string   { return string(e.ConversationID) }
func (e MessageSent) OccurredAt() time.Time { return e.At }

type ConversationRead struct {
	ConversationID ConversationID `json:"conversation_id"`
	ReaderID       string         `json:"reader_id"`
	Participants   []string       `json:"participants"`
	Flipped        int            `json:"flipped"`
	At             time.Time      `json:"at"`
}

func (e ConversationRead) EventName() string     { return EventConversationRead }
func (e ConversationRead) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationRead) OccurredAt() time.Time { return e.At }

type ConversationArchived struct {
	ConversationID ConversationID `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Participants   []string       `json:"participants"`
	Archived       bool           `json:"archived"`
	At             time.Time      `json:"at"`
}

func (e ConversationArchived) EventName() string     { return EventConversationArchived }
func (e ConversationArchived) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationArchived) OccurredAt() time.Time { return e.At }
