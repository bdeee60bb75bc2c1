package scylla

import (
	"fmt"
	"strings"
	"time"

	domainchat "ncpwheels/internal/domain/chat"
)

const conversationColumns = `id, listing_id, participants, unread_count, message_seq, version, last_message_content, last_message_sender, last_message_at, created_at, archived`

type conversationRow struct {
	ID           string
	ListingID    string
	Participants []string
	UnreadCount  map[string]int
	MessageSeq   int64
	Version      int64
	LastContent  string
	LastSender   string
	LastAt       time.Time
	CreatedAt    time.Time
	Archived     map[string]bool
}

func (r *conversationRow) dest() []interface{} {
	return []interface{}{
		&r.ID, &r.ListingID, &r.Participants, &r.UnreadCount, &r.MessageSeq, &r.Version,
		&r.LastContent, &r.LastSender, &r.LastAt, &r.CreatedAt, &r.Archived,
	}
}

func (r conversationRow) toAggregate() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:           domainchat.ConversationID(r.ID),
		ListingID:    r.ListingID,
		Participants: domainchat.NormalizeParticipants(r.Participants),
		UnreadCount:  make(map[string]int, len(r.Participants)),
		MessageSeq:   r.MessageSeq,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	for _, p := range conv.Participants {
		conv.UnreadCount[p] = r.UnreadCount[p]
		if r.Archived[p] {
			if conv.Archived == nil {
				conv.Archived = make(map[string]bool)
			}
			conv.Archived[p] = true
		}
	}
	if r.MessageSeq > 0 {
		conv.LastMessage = &domainchat.LastMessage{
			Content:   r.LastContent,
			SenderID:  r.LastSender,
			Timestamp: r.LastAt.UTC(),
		}
	}
	return conv
}

type messageRow struct {
	ConversationID string
	Seq            int64
	MessageID      string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	Read           bool
}

const messageColumns = `conversation_id, seq, message_id, sender_id, content, created_at, read`

func (r *messageRow) dest() []interface{} {
	return []interface{}{&r.ConversationID, &r.Seq, &r.MessageID, &r.SenderID, &r.Content, &r.CreatedAt, &r.Read}
}

func (r messageRow) toMessage() domainchat.Message {
	return domainchat.Message{
		ID:             domainchat.MessageID(r.MessageID),
		ConversationID: domainchat.ConversationID(r.ConversationID),
		SenderID:       r.SenderID,
		Content:        r.Content,
		Timestamp:      r.CreatedAt.UTC(),
		Seq:            r.Seq,
		Read:           r.Read,
	}
}

// messagesCQL selects newest first so LIMIT keeps the latest rows; callers reverse.
func messagesCQL(withCursor bool, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(messageColumns)
	b.WriteString(" FROM messages WHERE conversation_id = ?")
	if withCursor {
		b.WriteString(" AND seq < ?")
	}
	b.WriteString(" ORDER BY seq DESC")
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String()
}

// unreadFrom returns the seqs of messages userID has not read yet.
func unreadFrom(rows []messageRow, userID string) []int64 {
	var out []int64
	for _, row := range rows {
		if row.SenderID != userID && !row.Read {
			out = append(out, row.Seq)
		}
	}
	return out
}

func chunk(seqs []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(seqs)
	}
	var out [][]int64
	for len(seqs) > 0 {
		n := size
		if len(seqs) < n {
			n = len(seqs)
		}
		out = append(out, seqs[:n])
		seqs = seqs[n:]
	}
	return out
}
