package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ncpwheels/internal/domain/shared/events"
)

type ConversationID string

// conversationNamespace seeds the UUIDv5 conversation keys. Changing it orphans every
// stored conversation.
var conversationNamespace = uuid.MustParse("6f1f3c52-8a0e-4c55-9a61-2f4b3c7d9e10")

// LastMessage is the denormalized summary of the newest message in a conversation.
type LastMessage struct {
	Content   string
	SenderID  string
	Timestamp time.Time
}

// Conversation is a two-party thread about one listing. Archived holds the participants
// who archived it; archiving only sets that participant's flag and lists still return
// the conversation.
type Conversation struct {
	ID           ConversationID
	Participants []string
	ListingID    string
	LastMessage  *LastMessage
	UnreadCount  map[string]int
	Archived     map[string]bool
	MessageSeq   int64
	CreatedAt    time.Time
	events.EventRecorder
}

type StartParams struct {
	UserA     string
	UserB     string
	ListingID string
	Now       time.Time
}

// DeriveConversationID maps the unordered participant pair and listing onto a stable id,
// so that {A,B,L} and {B,A,L} always resolve to the same conversation.
func DeriveConversationID(userA, userB, listingID string) ConversationID {
	pair := NormalizeParticipants([]string{userA, userB})
	key := strings.Join(append([]string{strings.TrimSpace(listingID)}, pair...), "\x1f")
	return ConversationID(uuid.NewSHA1(conversationNamespace, []byte(key)).String())
}

// Start builds a new conversation with zeroed counters.
func Start(params StartParams) (*Conversation, error) {
	a := strings.TrimSpace(params.UserA)
	b := strings.TrimSpace(params.UserB)
	listing := strings.TrimSpace(params.ListingID)
	if a == "" || b == "" {
		return nil, invalid("both participants are required")
	}
	if listing == "" {
		return nil, invalid("listing id is required")
	}
	if a == b {
		return nil, ErrSelfConversation
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	conv := &Conversation{
		ID:           DeriveConversationID(a, b, listing),
		Participants: NormalizeParticipants([]string{a, b}),
		ListingID:    listing,
		UnreadCount:  map[string]int{a: 0, b: 0},
		CreatedAt:    now.UTC(),
	}
	conv.Record(ConversationStarted{
		ConversationID: conv.ID,
		ListingID:      listing,
		Participants:   append([]string(nil), conv.Participants...),
		At:             conv.CreatedAt,
	})
	return conv, nil
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not userID.
func (c *Conversation) Counterpart(userID string) (string, error) {
	if !c.HasParticipant(userID) {
		return "", ErrNotParticipant
	}
	for _, p := range c.Participants {
		if p != userID {
			return p, nil
		}
	}
	return "", ErrNotParticipant
}

// RecordSent records the MessageSent event for a delivered message.
func (c *Conversation) RecordSent(msg Message, recipientID string) {
	c.Record(MessageSent{
		ConversationID: c.ID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		RecipientID:    recipientID,
		Participants:   append([]string(nil), c.Participants...),
		At:             msg.Timestamp,
	})
}

// RecordRead records the ConversationRead event.
func (c *Conversation) RecordRead(readerID string, flipped int, at time.Time) {
	c.Record(ConversationRead{
		ConversationID: c.ID,
		ReaderID:       readerID,
		Participants:   append([]string(nil), c.Participants...),
		Flipped:        flipped,
		At:             at.UTC(),
	})
}

// RecordArchived records the ConversationArchived event.
func (c *Conversation) RecordArchived(userID string, archived bool, at time.Time) {
	c.Record(ConversationArchived{
		ConversationID: c.ID,
		UserID:         userID,
		Participants:   append([]string(nil), c.Participants...),
		Archived:       archived,
		At:             at.UTC(),
	})
}

// IsArchived reports whether userID archived the conversation.
func (c *Conversation) IsArchived(userID string) bool {
	return c.Archived[userID]
}

// Unread returns the counter for userID, zero when absent.
func (c *Conversation) Unread(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

// LastActivity is the sort key of conversation lists. Conversations without messages
// report the zero time so they sort last.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.Timestamp
}

// Clone returns a deep copy without pending events.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := &Conversation{
		ID:           c.ID,
		Participants: append([]string(nil), c.Participants...),
		ListingID:    c.ListingID,
		MessageSeq:   c.MessageSeq,
		CreatedAt:    c.CreatedAt,
		UnreadCount:  make(map[string]int, len(c.UnreadCount)),
	}
	for k, v := range c.UnreadCount {
		out.UnreadCount[k] = v
	}
	if len(c.Archived) > 0 {
		out.Archived = make(map[string]bool, len(c.Archived))
		for k, v := range c.Archived {
			out.Archived[k] = v
		}
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}

// SortByActivity orders conversations newest first; conversations without messages go
// last, ordered by creation time and then id so the order is stable.
func SortByActivity(items []*Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := items[i].LastActivity(), items[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// NormalizeParticipants trims, de-duplicates and sorts user ids.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SameParticipants compares two participant sets ignoring order.
func SameParticipants(a, b []string) bool {
	an := NormalizeParticipants(a)
	bn := NormalizeParticipants(b)
	if len(an) != len(bn) {
		return false
	}
	for i := range an {
		if an[i] != bn[i] {
			return false
		}
	}
	return true
}
