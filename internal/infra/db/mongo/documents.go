package mongo

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	domainchat "ncpwheels/internal/domain/chat"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

type lastMessageDocument struct {
	Content   string    `bson:"content"`
	SenderID  string    `bson:"sender_id"`
	Timestamp time.Time `bson:"timestamp"`
}

type conversationDocument struct {
	ID             string               `bson:"_id"`
	Participants   []string             `bson:"participants"`
	ListingID      string               `bson:"listing_id"`
	LastMessage    *lastMessageDocument `bson:"last_message,omitempty"`
	LastMessageSeq int64                `bson:"last_message_seq"`
	LastMessageAt  time.Time            `bson:"last_message_at"`
	UnreadCount    map[string]int       `bson:"unread_count"`
	Archived       map[string]bool      `bson:"archived,omitempty"`
	MessageSeq     int64                `bson:"message_seq"`
	CreatedAt      time.Time            `bson:"created_at"`
}

type messageDocument struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Seq            int64     `bson:"seq"`
	SenderID       string    `bson:"sender_id"`
	Content        string    `bson:"content"`
	Timestamp      time.Time `bson:"timestamp"`
	Read           bool      `bson:"read"`
}

func newConversationDocument(conv *domainchat.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:           string(conv.ID),
		Participants: domainchat.NormalizeParticipants(conv.Participants),
		ListingID:    conv.ListingID,
		UnreadCount:  make(map[string]int, len(conv.Participants)),
		MessageSeq:   conv.MessageSeq,
		CreatedAt:    conv.CreatedAt.UTC(),
	}
	for _, p := range doc.Participants {
		doc.UnreadCount[counterKey(p)] = conv.Unread(p)
		if conv.IsArchived(p) {
			if doc.Archived == nil {
				doc.Archived = make(map[string]bool)
			}
			doc.Archived[counterKey(p)] = true
		}
	}
	if conv.LastMessage != nil {
		doc.LastMessage = &lastMessageDocument{
			Content:   conv.LastMessage.Content,
			SenderID:  conv.LastMessage.SenderID,
			Timestamp: conv.LastMessage.Timestamp.UTC(),
		}
		doc.LastMessageAt = doc.LastMessage.Timestamp
		doc.LastMessageSeq = conv.MessageSeq
	}
	return doc
}

// insertFields is the $setOnInsert body; _id comes from the upsert filter.
func (d conversationDocument) insertFields() bson.M {
	fields := bson.M{
		"participants":     d.Participants,
		"listing_id":       d.ListingID,
		"unread_count":     d.UnreadCount,
		"message_seq":      d.MessageSeq,
		"last_message_seq": d.LastMessageSeq,
		"last_message_at":  d.LastMessageAt,
		"created_at":       d.CreatedAt,
	}
	if d.LastMessage != nil {
		fields["last_message"] = d.LastMessage
	}
	if len(d.Archived) > 0 {
		fields["archived"] = d.Archived
	}
	return fields
}

func (d conversationDocument) toAggregate() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:           domainchat.ConversationID(d.ID),
		Participants: append([]string(nil), d.Participants...),
		ListingID:    d.ListingID,
		UnreadCount:  make(map[string]int, len(d.UnreadCount)),
		MessageSeq:   d.MessageSeq,
		CreatedAt:    d.CreatedAt.UTC(),
	}
	for k, v := range d.UnreadCount {
		conv.UnreadCount[decodeCounterKey(k)] = v
	}
	for k, v := range d.Archived {
		if v {
			if conv.Archived == nil {
				conv.Archived = make(map[string]bool, len(d.Archived))
			}
			conv.Archived[decodeCounterKey(k)] = true
		}
	}
	if d.LastMessage != nil {
		conv.LastMessage = &domainchat.LastMessage{
			Content:   d.LastMessage.Content,
			SenderID:  d.LastMessage.SenderID,
			Timestamp: d.LastMessage.Timestamp.UTC(),
		}
	}
	return conv
}

func (d messageDocument) toMessage() domainchat.Message {
	return domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		SenderID:       d.SenderID,
		Content:        d.Content,
		Timestamp:      d.Timestamp.UTC(),
		Seq:            d.Seq,
		Read:           d.Read,
	}
}

// Field names may not contain '.' or start with '$', so user ids are escaped before
// they become keys of unread_count and archived.
var (
	counterEscaper   = strings.NewReplacer("%", "%25", ".", "%2E", "$", "%24")
	counterUnescaper = strings.NewReplacer("%2E", ".", "%24", "$", "%25", "%")
)

func counterKey(userID string) string {
	return counterEscaper.Replace(userID)
}

func decodeCounterKey(key string) string {
	return counterUnescaper.Replace(key)
}

func unreadField(userID string) string {
	return "unread_count." + counterKey(userID)
}

func archivedField(userID string) string {
	return "archived." + counterKey(userID)
}
