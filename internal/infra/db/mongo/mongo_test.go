package mongo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	domainchat "ncpwheels/internal/domain/chat"
)

func TestCounterKeyRoundTrip(t *testing.T) {
	for _, id := range []string{"user-1", "jane.doe", "$admin", "50%.off", "%2E"} {
		key := counterKey(id)
		assert.NotContains(t, key, ".")
		assert.NotContains(t, key, "$")
		assert.Equal(t, id, decodeCounterKey(key), id)
	}
	assert.Equal(t, "unread_count.jane%2Edoe", unreadField("jane.doe"))
}

func TestConversationDocumentMapping(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	conv, err := domainchat.Start(domainchat.StartParams{UserA: "jane.doe", UserB: "seller", ListingID: "L1", Now: at})
	require.NoError(t, err)
	conv.UnreadCount["jane.doe"] = 3
	conv.LastMessage = &domainchat.LastMessage{Content: "hi", SenderID: "seller", Timestamp: at.Add(time.Minute)}
	conv.MessageSeq = 3
	conv.Archived = map[string]bool{"jane.doe": true}

	doc := newConversationDocument(conv)
	assert.Equal(t, 3, doc.UnreadCount["jane%2Edoe"])
	assert.Equal(t, map[string]bool{"jane%2Edoe": true}, doc.Archived)
	assert.Equal(t, "archived.jane%2Edoe", archivedField("jane.doe"))
	assert.Equal(t, at.Add(time.Minute), doc.LastMessageAt)
	assert.Equal(t, int64(3), doc.LastMessageSeq)
	assert.NotContains(t, doc.insertFields(), "_id")

	back := doc.toAggregate()
	assert.Equal(t, conv.ID, back.ID)
	assert.Equal(t, 3, back.Unread("jane.doe"))
	assert.True(t, back.IsArchived("jane.doe"))
	assert.False(t, back.IsArchived("seller"))
	assert.Equal(t, "hi", back.LastMessage.Content)
	assert.Equal(t, conv.Participants, back.Participants)
}

func TestEmptyConversationSortsLast(t *testing.T) {
	conv, err := domainchat.Start(domainchat.StartParams{UserA: "a", UserB: "b", ListingID: "L"})
	require.NoError(t, err)
	doc := newConversationDocument(conv)
	assert.True(t, doc.LastMessageAt.IsZero())
	assert.NotContains(t, doc.insertFields(), "last_message")
	assert.NotContains(t, doc.insertFields(), "archived")
	assert.Nil(t, doc.toAggregate().Archived)
}

func TestSignalFromChange(t *testing.T) {
	convDoc, err := bson.Marshal(bson.M{"_id": "c1", "participants": []string{"a", "b"}})
	require.NoError(t, err)
	msgDoc, err := bson.Marshal(bson.M{"_id": "m1", "conversation_id": "c1"})
	require.NoError(t, err)

	var ev changeEvent
	ev.NS.Coll = conversationsCollection
	ev.DocumentKey.ID = "c1"
	ev.FullDocument = convDoc
	sig, ok := signalFromChange(ev)
	require.True(t, ok)
	assert.True(t, sig.Conversations)
	assert.False(t, sig.Messages)
	assert.Equal(t, []string{"a", "b"}, sig.Participants)

	ev = changeEvent{}
	ev.NS.Coll = messagesCollection
	ev.FullDocument = msgDoc
	sig, ok = signalFromChange(ev)
	require.True(t, ok)
	assert.True(t, sig.Messages)
	assert.Equal(t, domainchat.ConversationID("c1"), sig.ConversationID)

	ev = changeEvent{}
	ev.NS.Coll = "app_outbox"
	_, ok = signalFromChange(ev)
	assert.False(t, ok)
}

func TestListingDocumentStatus(t *testing.T) {
	assert.True(t, listingDocument{ID: "L1", Status: "Active"}.toListing().Active)
	assert.True(t, listingDocument{ID: "L1"}.toListing().Active)
	assert.False(t, listingDocument{ID: "L1", Status: "sold"}.toListing().Active)
}

func TestFactoryRetryableFollowsTransientLabel(t *testing.T) {
	conflict := domainchat.Transient("mongo upsert conversation", mongo.CommandError{
		Code:   112,
		Name:   "WriteConflict",
		Labels: []string{transientTransactionLabel},
	})
	plain := domainchat.Transient("mongo upsert conversation", mongo.CommandError{Code: 11000})

	tx := Factory{Transactions: true}
	assert.True(t, tx.Retryable(conflict))
	assert.False(t, tx.Retryable(plain))
	assert.False(t, tx.Retryable(errors.New("boom")))
	assert.False(t, Factory{}.Retryable(conflict))
}

func TestUnitTransactional(t *testing.T) {
	assert.False(t, (&Unit{}).Transactional())
}

func TestHelloReplyTransactions(t *testing.T) {
	assert.False(t, helloReply{}.transactions())
	assert.True(t, helloReply{SetName: "rs0"}.transactions())
	assert.True(t, helloReply{Msg: "isdbgrid"}.transactions())
}
