package chat

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

type MessageID string

// MaxContentLength bounds a single message, in runes.
const MaxContentLength = 4000

// Message is one entry of a conversation's message log.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       string
	Content        string
	Timestamp      time.Time
	Seq            int64
	Read           bool
}

// Delivery is a validated message about to be appended. The store assigns Seq and
// clamps the timestamp so it never precedes the conversation's last message.
type Delivery struct {
	ID          MessageID
	SenderID    string
	RecipientID string
	Content     string
	At          time.Time
}

// NormalizeContent trims content and enforces the non-empty and length rules.
func NormalizeContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", invalid("message content is too long")
	}
	return content, nil
}

// NextTimestamp returns at, or the previous timestamp if at would go backwards.
func NextTimestamp(prev *LastMessage, at time.Time) time.Time {
	at = at.UTC()
	if prev != nil && at.Before(prev.Timestamp) {
		return prev.Timestamp
	}
	return at
}

// SortMessages orders a log ascending by timestamp, ties by insertion sequence.
func SortMessages(items []Message) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.Before(items[j].Timestamp)
		}
		return items[i].Seq < items[j].Seq
	})
}

// MessagePage selects a window of the log. Before is exclusive; zero Limit means all.
type MessagePage struct {
	Limit  int
	Before MessageID
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalized clamps the page size into [1, MaxPageSize].
func (p MessagePage) Normalized() MessagePage {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	p.Before = MessageID(strings.TrimSpace(string(p.Before)))
	return p
}

// Window applies the page to an ascending log, returning the newest Limit messages
// strictly before the cursor, still ascending.
func (p MessagePage) Window(log []Message) []Message {
	end := len(log)
	if p.Before != "" {
		end = 0
		for i := range log {
			if log[i].ID == p.Before {
				end = i
				break
			}
		}
	}
	start := 0
	if p.Limit > 0 && end-p.Limit > start {
		start = end - p.Limit
	}
	out := make([]Message, end-start)
	copy(out, log[start:end])
	return out
}
