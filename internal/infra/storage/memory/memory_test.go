package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncpwheels/internal/app/live"
	"ncpwheels/internal/app/middleware"
	appoutbox "ncpwheels/internal/app/outbox"
	"ncpwheels/internal/app/policies"
	domainchat "ncpwheels/internal/domain/chat"
)

func seedConversation(t *testing.T, store *ConversationStore) *domainchat.Conversation {
	t.Helper()
	conv, err := domainchat.Start(domainchat.StartParams{UserA: "buyer", UserB: "seller", ListingID: "L1", Now: time.Now()})
	require.NoError(t, err)
	stored, created, err := store.CreateIfAbsent(context.Background(), conv)
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func send(t *testing.T, store *ConversationStore, id domainchat.ConversationID, from, to, content string) domainchat.Message {
	t.Helper()
	msg, err := store.AppendMessage(context.Background(), id, domainchat.Delivery{
		ID:          domainchat.MessageID(content),
		SenderID:    from,
		RecipientID: to,
		Content:     content,
		At:          time.Now(),
	})
	require.NoError(t, err)
	return msg
}

func TestCreateIfAbsentKeepsFirstWriter(t *testing.T) {
	store := NewConversationStore()
	conv := seedConversation(t, store)

	again, created, err := store.CreateIfAbsent(context.Background(), conv)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	_, _, err = store.CreateIfAbsent(context.Background(), &domainchat.Conversation{})
	assert.ErrorIs(t, err, domainchat.ErrValidation)
}

func TestAppendMessageUpdatesSummaryAndCounter(t *testing.T) {
	store := NewConversationStore()
	conv := seedConversation(t, store)

	first := send(t, store, conv.ID, "buyer", "seller", "m1")
	second := send(t, store, conv.ID, "buyer", "seller", "m2")
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.False(t, second.Timestamp.Before(first.Timestamp))

	got, err := store.ByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Unread("seller"))
	assert.Equal(t, 0, got.Unread("buyer"))
	assert.Equal(t, "m2", got.LastMessage.Content)

	_, err = store.AppendMessage(context.Background(), conv.ID, domainchat.Delivery{ID: "x", SenderID: "stranger", Content: "x", At: time.Now()})
	assert.ErrorIs(t, err, domainchat.ErrPermissionDenied)
	_, err = store.AppendMessage(context.Background(), "missing", domainchat.Delivery{ID: "x", SenderID: "buyer", Content: "x"})
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)
}

func TestMarkReadFlipsOnlyIncoming(t *testing.T) {
	store := NewConversationStore()
	conv := seedConversation(t, store)
	send(t, store, conv.ID, "buyer", "seller", "m1")
	send(t, store, conv.ID, "seller", "buyer", "m2")
	send(t, store, conv.ID, "buyer", "seller", "m3")

	flipped, err := store.MarkRead(context.Background(), conv.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, 2, flipped)

	flipped, err = store.MarkRead(context.Background(), conv.ID, "seller")
	require.NoError(t, err)
	assert.Zero(t, flipped)

	msgs, err := store.Messages(context.Background(), conv.ID, domainchat.MessagePage{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].Read)
	assert.False(t, msgs[1].Read)

	_, err = store.MarkRead(context.Background(), conv.ID, "stranger")
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)
}

func TestSetArchivedReportsChange(t *testing.T) {
	store := NewConversationStore()
	conv := seedConversation(t, store)
	var signals int
	stop := store.Watch(func(live.Signal) { signals++ })
	defer stop()

	changed, err := store.SetArchived(context.Background(), conv.ID, "buyer", true)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = store.SetArchived(context.Background(), conv.ID, "buyer", true)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.ByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived("buyer"))
	assert.False(t, got.IsArchived("seller"))

	listed, err := store.ListByParticipant(context.Background(), "buyer")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	changed, err = store.SetArchived(context.Background(), conv.ID, "buyer", false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, signals)

	_, err = store.SetArchived(context.Background(), conv.ID, "stranger", true)
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)
	_, err = store.SetArchived(context.Background(), "missing", "buyer", true)
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)
}

func TestWatchEmitsSignals(t *testing.T) {
	store := NewConversationStore()
	var (
		mu   sync.Mutex
		sigs []live.Signal
	)
	stop := store.Watch(func(sig live.Signal) {
		mu.Lock()
		sigs = append(sigs, sig)
		mu.Unlock()
	})
	conv := seedConversation(t, store)
	send(t, store, conv.ID, "buyer", "seller", "m1")
	_, err := store.MarkRead(context.Background(), conv.ID, "seller")
	require.NoError(t, err)
	stop()
	send(t, store, conv.ID, "buyer", "seller", "m2")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sigs, 3)
	assert.True(t, sigs[0].Conversations)
	assert.False(t, sigs[0].Messages)
	assert.True(t, sigs[1].Messages)
	assert.True(t, sigs[2].Messages)
	assert.ElementsMatch(t, []string{"buyer", "seller"}, sigs[1].Participants)
}

func TestFeedStopsOnCancel(t *testing.T) {
	store := NewConversationStore()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan live.Signal, 4)
	done := make(chan error, 1)
	go func() { done <- Feed{Store: store}.Run(ctx, func(sig live.Signal) { got <- sig }) }()

	require.Eventually(t, func() bool {
		store.lmu.Lock()
		defer store.lmu.Unlock()
		return len(store.listeners) == 1
	}, time.Second, 5*time.Millisecond)
	seedConversation(t, store)
	<-got

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestIdempotencyStoreExpires(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(context.Background(), middleware.IdempotencyRecord{Key: "k", Payload: []byte(`"x"`), OccurredAt: now}))
	_, ok, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutboxKeepsRecordsWhenSinkFails(t *testing.T) {
	fail := true
	var delivered []appoutbox.EventRecord
	box := NewOutbox(func(_ context.Context, recs []appoutbox.EventRecord) error {
		if fail {
			return errors.New("broker down")
		}
		delivered = append(delivered, recs...)
		return nil
	}, nil)

	require.NoError(t, box.Add(context.Background(), appoutbox.EventRecord{ID: "e1"}))
	require.NoError(t, box.Flush(context.Background()))
	assert.Equal(t, 1, box.Pending())
	assert.Empty(t, box.Flushed())

	fail = false
	require.NoError(t, box.Add(context.Background(), appoutbox.EventRecord{ID: "e2"}))
	require.NoError(t, box.Flush(context.Background()))
	assert.Zero(t, box.Pending())
	require.Len(t, delivered, 2)
	assert.Equal(t, "e1", delivered[0].ID)
	assert.Len(t, box.Flushed(), 2)
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "L1", "owner_id": "seller", "title": "Corolla"},
		{"id": "L2", "owner_id": "seller", "active": false},
		{"id": "", "owner_id": "nobody"}
	]`), 0o600))

	dir := NewListingDirectory()
	n, err := dir.LoadFixtures(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	l1, err := dir.Listing(context.Background(), "L1")
	require.NoError(t, err)
	assert.True(t, l1.Active)
	l2, err := dir.Listing(context.Background(), "L2")
	require.NoError(t, err)
	assert.False(t, l2.Active)
	_, err = dir.Listing(context.Background(), "L3")
	assert.ErrorIs(t, err, policies.ErrListingNotFound)

	n, err = dir.LoadFixtures(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
