package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ncpwheels/internal/domain/chat"
)

// DefaultLoadTimeout bounds one snapshot read.
const DefaultLoadTimeout = 10 * time.Second

// Hub keeps the live subscriptions of one process.
type Hub struct {
	snapshots   Snapshotter
	logger      *slog.Logger
	loadTimeout time.Duration

	mu       sync.Mutex
	nextID   uint64
	messages map[chat.ConversationID]map[uint64]watcher
	convs    map[string]map[uint64]watcher
	degraded atomic.Bool
}

type HubOption func(*Hub)

func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

func WithLoadTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.loadTimeout = d
		}
	}
}

func NewHub(snapshots Snapshotter, opts ...HubOption) *Hub {
	if snapshots == nil {
		panic("live: snapshotter required")
	}
	h := &Hub{
		snapshots:   snapshots,
		logger:      slog.Default(),
		loadTimeout: DefaultLoadTimeout,
		messages:    make(map[chat.ConversationID]map[uint64]watcher),
		convs:       make(map[string]map[uint64]watcher),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h
}

// Unsubscribe stops delivery to a callback. It is safe to call more than once. It
// waits for a callback already in flight, so it must not be called from inside one;
// once it returns no further callback starts.
type Unsubscribe func()

// SubscribeToMessages delivers the conversation's full message log, ascending, now and
// after every change to it.
func (h *Hub) SubscribeToMessages(id chat.ConversationID, onUpdate func([]chat.Message)) Unsubscribe {
	sub := newSubscription(h, "messages", string(id), func(ctx context.Context) ([]chat.Message, error) {
		return h.snapshots.Messages(ctx, id)
	}, onUpdate)
	subID := h.register(func(reg uint64) {
		set := h.messages[id]
		if set == nil {
			set = make(map[uint64]watcher)
			h.messages[id] = set
		}
		set[reg] = sub
	})
	sub.start()
	return h.unsubscriber(sub, func() {
		delete(h.messages[id], subID)
		if len(h.messages[id]) == 0 {
			delete(h.messages, id)
		}
	})
}

// SubscribeToConversations delivers the user's conversations ordered by last activity,
// now and after every create, summary or counter change.
func (h *Hub) SubscribeToConversations(userID string, onUpdate func([]*chat.Conversation)) Unsubscribe {
	sub := newSubscription(h, "conversations", userID, func(ctx context.Context) ([]*chat.Conversation, error) {
		return h.snapshots.Conversations(ctx, userID)
	}, onUpdate)
	subID := h.register(func(reg uint64) {
		set := h.convs[userID]
		if set == nil {
			set = make(map[uint64]watcher)
			h.convs[userID] = set
		}
		set[reg] = sub
	})
	sub.start()
	return h.unsubscriber(sub, func() {
		delete(h.convs[userID], subID)
		if len(h.convs[userID]) == 0 {
			delete(h.convs, userID)
		}
	})
}

// Notify marks every subscription touched by sig as stale. It never blocks.
func (h *Hub) Notify(sig Signal) {
	if h.degraded.Load() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if sig.Messages {
		for _, w := range h.messages[sig.ConversationID] {
			w.markDirty()
		}
	}
	if sig.Conversations {
		for _, p := range sig.Participants {
			for _, w := range h.convs[p] {
				w.markDirty()
			}
		}
	}
}

// Publish lets the hub stand in as a process-local Publisher.
func (h *Hub) Publish(_ context.Context, sig Signal) error {
	h.Notify(sig)
	return nil
}

// Run feeds signals from src into the hub until ctx is done. When the source fails, every
// subscriber receives an empty list and the hub stays degraded; there is no retry.
func (h *Hub) Run(ctx context.Context, src Source) {
	if src == nil {
		h.degrade(errors.New("live: no signal source configured"))
		return
	}
	err := src.Run(ctx, h.Notify)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("live: signal source stopped")
	}
	h.degrade(err)
}

// Degraded reports whether the hub lost its signal source.
func (h *Hub) Degraded() bool {
	return h.degraded.Load()
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.messages {
		n += len(set)
	}
	for _, set := range h.convs {
		n += len(set)
	}
	return n
}

func (h *Hub) degrade(err error) {
	if !h.degraded.CompareAndSwap(false, true) {
		return
	}
	h.logger.Error("live watch failed, subscriptions degraded", "error", err)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.messages {
		for _, w := range set {
			w.markDirty()
		}
	}
	for _, set := range h.convs {
		for _, w := range set {
			w.markDirty()
		}
	}
}

func (h *Hub) register(add func(id uint64)) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	add(h.nextID)
	return h.nextID
}

func (h *Hub) unsubscriber(w watcher, remove func()) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			w.stop()
			h.mu.Lock()
			remove()
			h.mu.Unlock()
		})
	}
}

type watcher interface {
	markDirty()
	stop()
}

type subscription[T any] struct {
	hub     *Hub
	kind    string
	key     string
	load    func(ctx context.Context) ([]T, error)
	deliver func([]T)

	ctx    context.Context
	cancel context.CancelFunc
	dirty  chan struct{}

	// mu serializes delivery against stop.
	mu     sync.Mutex
	closed atomic.Bool
}

func newSubscription[T any](h *Hub, kind, key string, load func(context.Context) ([]T, error), deliver func([]T)) *subscription[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription[T]{
		hub:     h,
		kind:    kind,
		key:     key,
		load:    load,
		deliver: deliver,
		ctx:     ctx,
		cancel:  cancel,
		dirty:   make(chan struct{}, 1),
	}
	// The initial snapshot is owed to every subscriber.
	s.dirty <- struct{}{}
	return s
}

func (s *subscription[T]) start() {
	go s.loop()
}

func (s *subscription[T]) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) stop() {
	s.cancel()
	s.mu.Lock()
	s.closed.Store(true)
	s.mu.Unlock()
}

func (s *subscription[T]) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.dirty:
		}
		s.refresh()
	}
}

func (s *subscription[T]) refresh() {
	if s.hub.degraded.Load() {
		s.emit([]T{})
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.hub.loadTimeout)
	items, err := s.load(ctx)
	cancel()
	if err != nil {
		if s.closed.Load() {
			return
		}
		s.hub.logger.Warn("live snapshot load failed", "kind", s.kind, "key", s.key, "error", err)
		s.emit([]T{})
		return
	}
	if items == nil {
		items = []T{}
	}
	s.emit(items)
}

func (s *subscription[T]) emit(items []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || s.deliver == nil {
		return
	}
	s.deliver(items)
}
