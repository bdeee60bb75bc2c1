package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncpwheels/internal/domain/chat"
)

type fakeSnapshots struct {
	mu       sync.Mutex
	messages map[chat.ConversationID][]chat.Message
	convs    map[string][]*chat.Conversation
	fail     error
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		messages: map[chat.ConversationID][]chat.Message{},
		convs:    map[string][]*chat.Conversation{},
	}
}

func (f *fakeSnapshots) Messages(_ context.Context, id chat.ConversationID) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return append([]chat.Message(nil), f.messages[id]...), nil
}

func (f *fakeSnapshots) Conversations(_ context.Context, userID string) ([]*chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return append([]*chat.Conversation(nil), f.convs[userID]...), nil
}

func (f *fakeSnapshots) append(id chat.ConversationID, msg chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = append(f.messages[id], msg)
}

type collector[T any] struct {
	mu    sync.Mutex
	calls [][]T
}

func (c *collector[T]) add(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, items)
}

func (c *collector[T]) snapshot() [][]T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]T(nil), c.calls...)
}

func (c *collector[T]) last() []T {
	calls := c.snapshot()
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func TestSubscribeToMessagesDeliversInitialAndUpdates(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.append("c1", chat.Message{ID: "m1"})
	hub := NewHub(snaps)

	got := &collector[chat.Message]{}
	unsubscribe := hub.SubscribeToMessages("c1", got.add)
	defer unsubscribe()

	require.Eventually(t, func() bool { return len(got.last()) == 1 }, time.Second, 5*time.Millisecond)

	snaps.append("c1", chat.Message{ID: "m2"})
	hub.Notify(Signal{ConversationID: "c1", Messages: true})

	require.Eventually(t, func() bool { return len(got.last()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, chat.MessageID("m2"), got.last()[1].ID)
}

func TestNotifyIgnoresOtherKeys(t *testing.T) {
	snaps := newFakeSnapshots()
	hub := NewHub(snaps)

	got := &collector[chat.Message]{}
	unsubscribe := hub.SubscribeToMessages("c1", got.add)
	defer unsubscribe()
	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	hub.Notify(Signal{ConversationID: "other", Messages: true})
	hub.Notify(Signal{ConversationID: "c1", Conversations: true, Participants: []string{"a"}})

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got.snapshot(), 1)
}

func TestConversationSubscriptionsFollowParticipants(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.convs["alice"] = []*chat.Conversation{{ID: "c1"}}
	hub := NewHub(snaps)

	alice := &collector[*chat.Conversation]{}
	bob := &collector[*chat.Conversation]{}
	stopA := hub.SubscribeToConversations("alice", alice.add)
	stopB := hub.SubscribeToConversations("bob", bob.add)
	defer stopA()
	defer stopB()

	require.Eventually(t, func() bool { return len(alice.snapshot()) == 1 && len(bob.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, bob.last())

	snaps.mu.Lock()
	snaps.convs["bob"] = []*chat.Conversation{{ID: "c1"}}
	snaps.mu.Unlock()
	hub.Notify(Signal{ConversationID: "c1", Participants: []string{"alice", "bob"}, Conversations: true})

	require.Eventually(t, func() bool { return len(bob.last()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(alice.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	snaps := newFakeSnapshots()
	hub := NewHub(snaps)

	got := &collector[chat.Message]{}
	unsubscribe := hub.SubscribeToMessages("c1", got.add)
	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, hub.Len())

	snaps.append("c1", chat.Message{ID: "m1"})
	hub.Notify(Signal{ConversationID: "c1", Messages: true})
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got.snapshot(), 1)
}

func TestLoadFailureDeliversEmptyList(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.fail = errors.New("store down")
	hub := NewHub(snaps)

	got := &collector[chat.Message]{}
	unsubscribe := hub.SubscribeToMessages("c1", got.add)
	defer unsubscribe()

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, got.last())
	assert.Empty(t, got.last())
}

func TestSourceFailureDegradesWithoutRetry(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.append("c1", chat.Message{ID: "m1"})
	hub := NewHub(snaps)

	got := &collector[chat.Message]{}
	unsubscribe := hub.SubscribeToMessages("c1", got.add)
	defer unsubscribe()
	require.Eventually(t, func() bool { return len(got.last()) == 1 }, time.Second, 5*time.Millisecond)

	runs := 0
	hub.Run(context.Background(), SourceFunc(func(context.Context, func(Signal)) error {
		runs++
		return errors.New("watch refused")
	}))

	assert.Equal(t, 1, runs)
	assert.True(t, hub.Degraded())
	require.Eventually(t, func() bool {
		calls := got.snapshot()
		return len(calls) == 2 && len(calls[1]) == 0
	}, time.Second, 5*time.Millisecond)

	late := &collector[chat.Message]{}
	stopLate := hub.SubscribeToMessages("c1", late.add)
	defer stopLate()
	require.Eventually(t, func() bool { return len(late.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, late.last())
}

func TestRunReturnsQuietlyOnCancel(t *testing.T) {
	hub := NewHub(newFakeSnapshots())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx, SourceFunc(func(ctx context.Context, emit func(Signal)) error {
			<-ctx.Done()
			return ctx.Err()
		}))
		close(done)
	}()
	cancel()
	<-done
	assert.False(t, hub.Degraded())
}

func TestManySubscribersGetIndependentSnapshots(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.append("c1", chat.Message{ID: "m1"})
	hub := NewHub(snaps)

	subs := make([]*collector[chat.Message], 5)
	for i := range subs {
		subs[i] = &collector[chat.Message]{}
		stop := hub.SubscribeToMessages("c1", subs[i].add)
		defer stop()
	}
	for _, c := range subs {
		c := c
		require.Eventually(t, func() bool { return len(c.last()) == 1 }, time.Second, 5*time.Millisecond)
	}
	subs[0].last()[0].Content = "mutated"
	assert.Empty(t, subs[1].last()[0].Content)
}

func TestNoDeliveryAfterUnsubscribeReturns(t *testing.T) {
	snaps := newFakeSnapshots()
	hub := NewHub(snaps)

	for i := 0; i < 50; i++ {
		var (
			mu      sync.Mutex
			stopped bool
			late    int
		)
		unsubscribe := hub.SubscribeToMessages("c1", func([]chat.Message) {
			mu.Lock()
			if stopped {
				late++
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
		})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 20; j++ {
				hub.Notify(Signal{ConversationID: "c1", Messages: true})
			}
		}()
		unsubscribe()
		mu.Lock()
		stopped = true
		mu.Unlock()
		<-done

		hub.Notify(Signal{ConversationID: "c1", Messages: true})
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		assert.Zero(t, late, "iteration %d", i)
		mu.Unlock()
	}
	assert.Equal(t, 0, hub.Len())
}
