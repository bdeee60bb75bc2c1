package grpcserver

import "ncpwheels/internal/app/dto"

type StartConversationRequest struct {
	UserA     string `json:"user_a"`
	UserB     string `json:"user_b"`
	ListingID string `json:"listing_id"`
	Message   string `json:"message,omitempty"`
	ClientKey string `json:"client_key,omitempty"`
}

type ContactSellerRequest struct {
	BuyerID   string `json:"buyer_id"`
	ListingID string `json:"listing_id"`
	Message   string `json:"message,omitempty"`
	ClientKey string `json:"client_key,omitempty"`
}

// StartResult answers both start and contact calls.
type StartResult struct {
	Conversation dto.ConversationRef `json:"conversation"`
	Message      *dto.SentMessage    `json:"message,omitempty"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	ClientKey      string `json:"client_key,omitempty"`
}

type MarkReadRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// ArchiveConversationRequest sets an explicit flag. Unlike REST there is no toggle.
type ArchiveConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Archived       bool   `json:"archived"`
}

type GetConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	ViewerID       string `json:"viewer_id,omitempty"`
}

type ListConversationsRequest struct {
	UserID string `json:"user_id"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	ViewerID       string `json:"viewer_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Before         string `json:"before,omitempty"`
}

type UnreadTotalRequest struct {
	UserID string `json:"user_id"`
}

type SubscribeMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	ViewerID       string `json:"viewer_id,omitempty"`
}

type SubscribeConversationsRequest struct {
	UserID string `json:"user_id"`
}

// MessagesSnapshot is one full state of a conversation's log.
type MessagesSnapshot struct {
	ConversationID string            `json:"conversation_id"`
	Items          []dto.ChatMessage `json:"items"`
}

// ConversationsSnapshot is one full state of a user's conversation list.
type ConversationsSnapshot struct {
	UserID string             `json:"user_id"`
	Items  []dto.Conversation `json:"items"`
}
