package grpcserver

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/grpc"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/dto"
	chatapp "ncpwheels/internal/app/handlers/chat"
	"ncpwheels/internal/app/live"
	"ncpwheels/internal/app/queries"
	domainchat "ncpwheels/internal/domain/chat"
)

// MessagingServer is the service contract registered under ServiceName.
type MessagingServer interface {
	StartConversation(context.Context, *StartConversationRequest) (*StartResult, error)
	ContactSeller(context.Context, *ContactSellerRequest) (*StartResult, error)
	SendMessage(context.Context, *SendMessageRequest) (*dto.SentMessage, error)
	MarkRead(context.Context, *MarkReadRequest) (*dto.ReadReceipt, error)
	ArchiveConversation(context.Context, *ArchiveConversationRequest) (*dto.ArchiveState, error)
	GetConversation(context.Context, *GetConversationRequest) (*dto.Conversation, error)
	ListConversations(context.Context, *ListConversationsRequest) (*dto.ConversationList, error)
	ListMessages(context.Context, *ListMessagesRequest) (*dto.ChatMessageList, error)
	UnreadTotal(context.Context, *UnreadTotalRequest) (*dto.UnreadTotal, error)
	SubscribeMessages(*SubscribeMessagesRequest, grpc.ServerStream) error
	SubscribeConversations(*SubscribeConversationsRequest, grpc.ServerStream) error
}

// Subscriber is the subscription side of live.Hub.
type Subscriber interface {
	SubscribeToMessages(id domainchat.ConversationID, onUpdate func([]domainchat.Message)) live.Unsubscribe
	SubscribeToConversations(userID string, onUpdate func([]*domainchat.Conversation)) live.Unsubscribe
}

// Server adapts the command and query buses to MessagingServer.
type Server struct {
	Commands commands.Bus
	Queries  queries.Bus
	Hub      Subscriber
	Logger   *slog.Logger
}

func (s *Server) StartConversation(ctx context.Context, req *StartConversationRequest) (*StartResult, error) {
	ref, err := commands.Dispatch[chatapp.StartConversationCommand, dto.ConversationRef](ctx, s.Commands,
		chatapp.StartConversationCommand{UserA: req.UserA, UserB: req.UserB, ListingID: req.ListingID})
	if err != nil {
		return nil, toStatus(err)
	}
	out := &StartResult{Conversation: ref}
	if strings.TrimSpace(req.Message) == "" {
		return out, nil
	}
	sent, err := commands.Dispatch[chatapp.SendMessageCommand, dto.SentMessage](ctx, s.Commands,
		chatapp.SendMessageCommand{
			ConversationID: ref.ID,
			SenderID:       strings.TrimSpace(req.UserA),
			Content:        req.Message,
			ClientKey:      req.ClientKey,
		})
	if err != nil {
		return nil, toStatus(err)
	}
	out.Message = &sent
	return out, nil
}

func (s *Server) ContactSeller(ctx context.Context, req *ContactSellerRequest) (*StartResult, error) {
	res, err := commands.Dispatch[chatapp.ContactSellerCommand, chatapp.ContactResult](ctx, s.Commands,
		chatapp.ContactSellerCommand{
			BuyerID:   req.BuyerID,
			ListingID: req.ListingID,
			Message:   req.Message,
			ClientKey: req.ClientKey,
		})
	if err != nil {
		return nil, toStatus(err)
	}
	return &StartResult{Conversation: res.Conversation, Message: res.Message}, nil
}

func (s *Server) SendMessage(ctx context.Context, req *SendMessageRequest) (*dto.SentMessage, error) {
	sent, err := commands.Dispatch[chatapp.SendMessageCommand, dto.SentMessage](ctx, s.Commands,
		chatapp.SendMessageCommand{
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Content:        req.Content,
			ClientKey:      req.ClientKey,
		})
	if err != nil {
		return nil, toStatus(err)
	}
	return &sent, nil
}

func (s *Server) MarkRead(ctx context.Context, req *MarkReadRequest) (*dto.ReadReceipt, error) {
	receipt, err := commands.Dispatch[chatapp.MarkConversationReadCommand, dto.ReadReceipt](ctx, s.Commands,
		chatapp.MarkConversationReadCommand{ConversationID: req.ConversationID, UserID: req.UserID})
	if err != nil {
		return nil, toStatus(err)
	}
	return &receipt, nil
}

// ArchiveConversation sets the caller's archive flag to req.Archived.
func (s *Server) ArchiveConversation(ctx context.Context, req *ArchiveConversationRequest) (*dto.ArchiveState, error) {
	archived := req.Archived
	state, err := commands.Dispatch[chatapp.ArchiveConversationCommand, dto.ArchiveState](ctx, s.Commands,
		chatapp.ArchiveConversationCommand{ConversationID: req.ConversationID, UserID: req.UserID, Archived: &archived})
	if err != nil {
		return nil, toStatus(err)
	}
	return &state, nil
}

func (s *Server) GetConversation(ctx context.Context, req *GetConversationRequest) (*dto.Conversation, error) {
	conv, err := queries.Ask[chatapp.GetConversationQuery, dto.Conversation](ctx, s.Queries,
		chatapp.GetConversationQuery{ConversationID: req.ConversationID, ViewerID: req.ViewerID})
	if err != nil {
		return nil, toStatus(err)
	}
	return &conv, nil
}

func (s *Server) ListConversations(ctx context.Context, req *ListConversationsRequest) (*dto.ConversationList, error) {
	list, err := queries.Ask[chatapp.ListConversationsQuery, dto.ConversationList](ctx, s.Queries,
		chatapp.ListConversationsQuery{UserID: req.UserID})
	if err != nil {
		return nil, toStatus(err)
	}
	return &list, nil
}

func (s *Server) ListMessages(ctx context.Context, req *ListMessagesRequest) (*dto.ChatMessageList, error) {
	list, err := queries.Ask[chatapp.ListMessagesQuery, dto.ChatMessageList](ctx, s.Queries,
		chatapp.ListMessagesQuery{
			ConversationID: req.ConversationID,
			ViewerID:       req.ViewerID,
			Limit:          req.Limit,
			Before:         req.Before,
		})
	if err != nil {
		return nil, toStatus(err)
	}
	return &list, nil
}

func (s *Server) UnreadTotal(ctx context.Context, req *UnreadTotalRequest) (*dto.UnreadTotal, error) {
	total, err := queries.Ask[chatapp.UnreadTotalQuery, dto.UnreadTotal](ctx, s.Queries,
		chatapp.UnreadTotalQuery{UserID: req.UserID})
	if err != nil {
		return nil, toStatus(err)
	}
	return &total, nil
}

// SubscribeMessages streams full snapshots of one conversation until the caller leaves.
func (s *Server) SubscribeMessages(req *SubscribeMessagesRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	conv, err := queries.Ask[chatapp.GetConversationQuery, dto.Conversation](ctx, s.Queries,
		chatapp.GetConversationQuery{ConversationID: req.ConversationID, ViewerID: req.ViewerID})
	if err != nil {
		return toStatus(err)
	}
	box := newLatest[*MessagesSnapshot]()
	stop := s.Hub.SubscribeToMessages(domainchat.ConversationID(conv.ID), func(items []domainchat.Message) {
		box.put(&MessagesSnapshot{ConversationID: conv.ID, Items: dto.MapMessages(items)})
	})
	defer stop()
	return pump(ctx, stream, box)
}

// SubscribeConversations streams a user's conversation list. The initial list query runs
// the same caller checks as ListConversations.
func (s *Server) SubscribeConversations(req *SubscribeConversationsRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	userID := strings.TrimSpace(req.UserID)
	if _, err := queries.Ask[chatapp.ListConversationsQuery, dto.ConversationList](ctx, s.Queries,
		chatapp.ListConversationsQuery{UserID: userID}); err != nil {
		return toStatus(err)
	}
	box := newLatest[*ConversationsSnapshot]()
	stop := s.Hub.SubscribeToConversations(userID, func(items []*domainchat.Conversation) {
		box.put(&ConversationsSnapshot{UserID: userID, Items: dto.MapConversations(items).Items})
	})
	defer stop()
	return pump(ctx, stream, box)
}

func pump[T any](ctx context.Context, stream grpc.ServerStream, box *latest[T]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-box.ch:
			if err := stream.SendMsg(v); err != nil {
				return err
			}
		}
	}
}

// latest keeps only the newest undelivered value.
type latest[T any] struct {
	mu sync.Mutex
	ch chan T
}

func newLatest[T any]() *latest[T] {
	return &latest[T]{ch: make(chan T, 1)}
}

func (l *latest[T]) put(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
	default:
	}
	l.ch <- v
}

var _ MessagingServer = (*Server)(nil)
