package dto

import (
	"time"

	"ncpwheels/internal/domain/chat"
)

// LastMessage is the conversation summary line.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation describes one two-party thread.
type Conversation struct {
	ID           string          `json:"id"`
	ListingID    string          `json:"listing_id"`
	Participants []string        `json:"participants"`
	LastMessage  *LastMessage    `json:"last_message,omitempty"`
	UnreadCount  map[string]int  `json:"unread_count"`
	Archived     map[string]bool `json:"archived,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ConversationList struct {
	Items []Conversation `json:"items"`
}

// ConversationRef is returned by the resolver.
type ConversationRef struct {
	ID           string   `json:"id"`
	ListingID    string   `json:"listing_id"`
	Participants []string `json:"participants"`
	Created      bool     `json:"created"`
}

type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

type ChatMessageList struct {
	Items []ChatMessage `json:"items"`
	// NextBefore is the cursor for the previous page, empty on the oldest page.
	NextBefore string `json:"next_before,omitempty"`
}

// SentMessage is the dispatcher result.
type SentMessage struct {
	Message      ChatMessage `json:"message"`
	RecipientID  string      `json:"recipient_id"`
	Participants []string    `json:"participants"`
}

// ReadReceipt is the read-state tracker result.
type ReadReceipt struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id"`
	Flipped        int      `json:"flipped"`
	Changed        bool     `json:"changed"`
	Participants   []string `json:"participants"`
}

// ArchiveState is the archive toggle result.
type ArchiveState struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id"`
	Archived       bool     `json:"archived"`
	Changed        bool     `json:"changed"`
	Participants   []string `json:"participants"`
}

type UnreadTotal struct {
	UserID        string `json:"user_id"`
	Total         int    `json:"total"`
	Conversations int    `json:"conversations"`
}

func MapConversation(conv *chat.Conversation) Conversation {
	if conv == nil {
		return Conversation{}
	}
	out := Conversation{
		ID:           string(conv.ID),
		ListingID:    conv.ListingID,
		Participants: append([]string(nil), conv.Participants...),
		UnreadCount:  make(map[string]int, len(conv.Participants)),
		CreatedAt:    conv.CreatedAt,
	}
	for _, p := range conv.Participants {
		out.UnreadCount[p] = conv.Unread(p)
		if conv.IsArchived(p) {
			if out.Archived == nil {
				out.Archived = make(map[string]bool)
			}
			out.Archived[p] = true
		}
	}
	if conv.LastMessage != nil {
		out.LastMessage = &LastMessage{
			Content:   conv.LastMessage.Content,
			SenderID:  conv.LastMessage.SenderID,
			Timestamp: conv.LastMessage.Timestamp,
		}
	}
	return out
}

func MapConversations(items []*chat.Conversation) ConversationList {
	out := ConversationList{Items: make([]Conversation, 0, len(items))}
	for _, conv := range items {
		out.Items = append(out.Items, MapConversation(conv))
	}
	return out
}

func MapMessage(msg chat.Message) ChatMessage {
	return ChatMessage{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Timestamp:      msg.Timestamp,
		Read:           msg.Read,
	}
}

func MapMessages(items []chat.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(items))
	for _, msg := range items {
		out = append(out, MapMessage(msg))
	}
	return out
}
