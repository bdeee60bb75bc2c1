package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncpwheels/internal/domain/chat"
	"ncpwheels/internal/domain/shared/events"
)

type recordingBox struct {
	records []EventRecord
	failOn  int
}

func (b *recordingBox) Add(_ context.Context, rec EventRecord) error {
	if b.failOn > 0 && len(b.records)+1 == b.failOn {
		return errors.New("box full")
	}
	b.records = append(b.records, rec)
	return nil
}

func (b *recordingBox) Flush(context.Context) error { return nil }

func TestRecordDomainEvents(t *testing.T) {
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	evs := []events.DomainEvent{
		chat.ConversationStarted{ConversationID: "c1", ListingID: "L1", Participants: []string{"a", "b"}, At: at},
		chat.MessageSent{ConversationID: "c1", MessageID: "m1", SenderID: "a", RecipientID: "b", At: at},
	}
	box := &recordingBox{}
	n := 0
	enc := JSONEventEncoder{IDGenerator: func() string { n++; return "evt-" + string(rune('0'+n)) }}

	require.NoError(t, RecordDomainEvents(context.Background(), box, enc, evs))
	require.Len(t, box.records, 2)

	first := box.records[0]
	assert.Equal(t, "evt-1", first.ID)
	assert.Equal(t, chat.EventConversationStarted, first.Name)
	assert.Equal(t, "c1", first.Aggregate)
	assert.Equal(t, chat.EventConversationStarted, first.Headers["event-name"])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(box.records[1].Payload, &payload))
	assert.Equal(t, "b", payload["recipient_id"])
}

func TestRecordDomainEventsStopsOnAddFailure(t *testing.T) {
	box := &recordingBox{failOn: 1}
	err := RecordDomainEvents(context.Background(), box, nil, []events.DomainEvent{chat.ConversationRead{ConversationID: "c"}})
	assert.Error(t, err)
	assert.Empty(t, box.records)
}

func TestRecordDomainEventsNoop(t *testing.T) {
	assert.NoError(t, RecordDomainEvents(context.Background(), nil, nil, nil))
}
