package memory

import (
	"context"
	"strings"
	"sync"

	"ncpwheels/internal/app/live"
	domainchat "ncpwheels/internal/domain/chat"
)

// ConversationStore keeps conversations and their logs under one lock, so every write
// applies all of its effects at once.
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[domainchat.ConversationID]*domainchat.Conversation
	logs  map[domainchat.ConversationID][]domainchat.Message

	lmu       sync.Mutex
	nextLID   uint64
	listeners map[uint64]func(live.Signal)
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		convs:     make(map[domainchat.ConversationID]*domainchat.Conversation),
		logs:      make(map[domainchat.ConversationID][]domainchat.Message),
		listeners: make(map[uint64]func(live.Signal)),
	}
}

func (s *ConversationStore) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, domainchat.Transient("memory by id", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *ConversationStore) FindByListing(ctx context.Context, listingID, participant string) ([]*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listingID = strings.TrimSpace(listingID)
	var out []*domainchat.Conversation
	for _, conv := range s.convs {
		if conv.ListingID == listingID && conv.HasParticipant(participant) {
			out = append(out, conv.Clone())
		}
	}
	domainchat.SortByActivity(out)
	return out, nil
}

func (s *ConversationStore) CreateIfAbsent(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	if conv == nil || conv.ID == "" {
		return nil, false, domainchat.Invalid("conversation id is required")
	}
	s.mu.Lock()
	if existing, ok := s.convs[conv.ID]; ok {
		out := existing.Clone()
		s.mu.Unlock()
		return out, false, nil
	}
	stored := conv.Clone()
	s.convs[conv.ID] = stored
	out := stored.Clone()
	s.mu.Unlock()

	s.emit(live.Signal{ConversationID: conv.ID, Participants: out.Participants, Conversations: true})
	return out, true, nil
}

func (s *ConversationStore) ListByParticipant(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, domainchat.Transient("memory list", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domainchat.Conversation, 0)
	for _, conv := range s.convs {
		if conv.HasParticipant(userID) {
			out = append(out, conv.Clone())
		}
	}
	domainchat.SortByActivity(out)
	return out, nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, id domainchat.ConversationID, d domainchat.Delivery) (domainchat.Message, error) {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return domainchat.Message{}, domainchat.ErrConversationNotFound
	}
	recipient, err := conv.Counterpart(d.SenderID)
	if err != nil {
		s.mu.Unlock()
		return domainchat.Message{}, err
	}
	conv.MessageSeq++
	msg := domainchat.Message{
		ID:             d.ID,
		ConversationID: id,
		SenderID:       d.SenderID,
		Content:        d.Content,
		Timestamp:      domainchat.NextTimestamp(conv.LastMessage, d.At),
		Seq:            conv.MessageSeq,
	}
	s.logs[id] = append(s.logs[id], msg)
	conv.LastMessage = &domainchat.LastMessage{Content: msg.Content, SenderID: msg.SenderID, Timestamp: msg.Timestamp}
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int, 2)
	}
	conv.UnreadCount[recipient]++
	participants := append([]string(nil), conv.Participants...)
	s.mu.Unlock()

	s.emit(live.Signal{ConversationID: id, Participants: participants, Messages: true, Conversations: true})
	return msg, nil
}

func (s *ConversationStore) MarkRead(ctx context.Context, id domainchat.ConversationID, userID string) (int, error) {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return 0, domainchat.ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		s.mu.Unlock()
		return 0, domainchat.ErrNotParticipant
	}
	hadUnread := conv.UnreadCount[userID] > 0
	conv.UnreadCount[userID] = 0
	flipped := 0
	log := s.logs[id]
	for i := range log {
		if log[i].SenderID != userID && !log[i].Read {
			log[i].Read = true
			flipped++
		}
	}
	participants := append([]string(nil), conv.Participants...)
	s.mu.Unlock()

	if flipped > 0 || hadUnread {
		s.emit(live.Signal{ConversationID: id, Participants: participants, Messages: flipped > 0, Conversations: hadUnread})
	}
	return flipped, nil
}

func (s *ConversationStore) SetArchived(ctx context.Context, id domainchat.ConversationID, userID string, archived bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domainchat.Transient("memory set archived", err)
	}
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return false, domainchat.ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		s.mu.Unlock()
		return false, domainchat.ErrNotParticipant
	}
	if conv.IsArchived(userID) == archived {
		s.mu.Unlock()
		return false, nil
	}
	if conv.Archived == nil {
		conv.Archived = make(map[string]bool)
	}
	if archived {
		conv.Archived[userID] = true
	} else {
		delete(conv.Archived, userID)
	}
	participants := append([]string(nil), conv.Participants...)
	s.mu.Unlock()

	s.emit(live.Signal{ConversationID: id, Participants: participants, Conversations: true})
	return true, nil
}

func (s *ConversationStore) Messages(ctx context.Context, id domainchat.ConversationID, page domainchat.MessagePage) ([]domainchat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, domainchat.Transient("memory messages", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.convs[id]; !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return page.Window(s.logs[id]), nil
}

// Watch registers fn for every change. The returned function removes it.
func (s *ConversationStore) Watch(fn func(live.Signal)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextLID++
	id := s.nextLID
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *ConversationStore) emit(sig live.Signal) {
	s.lmu.Lock()
	fns := make([]func(live.Signal), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(sig)
	}
}

// Feed exposes the store's change notifications as a live.Source.
type Feed struct {
	Store *ConversationStore
}

func (f Feed) Run(ctx context.Context, emit func(live.Signal)) error {
	stop := f.Store.Watch(emit)
	defer stop()
	<-ctx.Done()
	return ctx.Err()
}

var (
	_ domainchat.Repository = (*ConversationStore)(nil)
	_ live.Source           = Feed{}
)
