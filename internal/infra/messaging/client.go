// Package messaging is the typed gRPC client other services use to reach the messaging core.
package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/dynamicpb"

	"ncpwheels/internal/app/dto"
	grpcserver "ncpwheels/internal/infra/grpc"
	"ncpwheels/internal/infra/grpc/messagingpb"
)

var ErrAddressRequired = errors.New("messaging: address required")

// Config defines gRPC client settings.
type Config struct {
	Addr        string
	CallTimeout time.Duration
}

// Client wraps the MessagingService gRPC API.
type Client struct {
	conn        grpc.ClientConnInterface
	closer      io.Closer
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewClient creates a lazily connecting client for cfg.Addr.
func NewClient(cfg Config, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Addr == "" {
		return nil, ErrAddressRequired
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("messaging grpc client ready", "addr", cfg.Addr)
	}
	c := NewClientConn(conn, cfg.CallTimeout, logger)
	c.closer = conn
	return c, nil
}

// NewClientConn wraps an existing connection.
func NewClientConn(conn grpc.ClientConnInterface, callTimeout time.Duration, logger *slog.Logger) *Client {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Client{conn: conn, callTimeout: callTimeout, logger: logger}
}

// WithToken forwards the end user's bearer token on calls made with ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// StartConversation returns the conversation between userA and userB about a listing,
// sending message from userA when one is given.
func (c *Client) StartConversation(ctx context.Context, req grpcserver.StartConversationRequest) (grpcserver.StartResult, error) {
	var out grpcserver.StartResult
	err := c.invoke(ctx, "StartConversation", &req, &out)
	return out, err
}

func (c *Client) ContactSeller(ctx context.Context, req grpcserver.ContactSellerRequest) (grpcserver.StartResult, error) {
	var out grpcserver.StartResult
	err := c.invoke(ctx, "ContactSeller", &req, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, req grpcserver.SendMessageRequest) (dto.SentMessage, error) {
	var out dto.SentMessage
	err := c.invoke(ctx, "SendMessage", &req, &out)
	return out, err
}

func (c *Client) MarkRead(ctx context.Context, conversationID, userID string) (dto.ReadReceipt, error) {
	var out dto.ReadReceipt
	err := c.invoke(ctx, "MarkRead", &grpcserver.MarkReadRequest{ConversationID: conversationID, UserID: userID}, &out)
	return out, err
}

// ArchiveConversation sets userID's archive flag on the conversation.
func (c *Client) ArchiveConversation(ctx context.Context, conversationID, userID string, archived bool) (dto.ArchiveState, error) {
	var out dto.ArchiveState
	err := c.invoke(ctx, "ArchiveConversation",
		&grpcserver.ArchiveConversationRequest{ConversationID: conversationID, UserID: userID, Archived: archived}, &out)
	return out, err
}

func (c *Client) GetConversation(ctx context.Context, conversationID, viewerID string) (dto.Conversation, error) {
	var out dto.Conversation
	err := c.invoke(ctx, "GetConversation", &grpcserver.GetConversationRequest{ConversationID: conversationID, ViewerID: viewerID}, &out)
	return out, err
}

func (c *Client) ListConversations(ctx context.Context, userID string) ([]dto.Conversation, error) {
	var out dto.ConversationList
	if err := c.invoke(ctx, "ListConversations", &grpcserver.ListConversationsRequest{UserID: userID}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListMessages returns one page and the cursor of the previous page.
func (c *Client) ListMessages(ctx context.Context, req grpcserver.ListMessagesRequest) ([]dto.ChatMessage, string, error) {
	var out dto.ChatMessageList
	if err := c.invoke(ctx, "ListMessages", &req, &out); err != nil {
		return nil, "", err
	}
	return out.Items, out.NextBefore, nil
}

func (c *Client) UnreadTotal(ctx context.Context, userID string) (dto.UnreadTotal, error) {
	var out dto.UnreadTotal
	err := c.invoke(ctx, "UnreadTotal", &grpcserver.UnreadTotalRequest{UserID: userID}, &out)
	return out, err
}

// SubscribeMessages calls onSnapshot for every snapshot until ctx ends or the stream
// fails. It returns nil when ctx is cancelled.
func (c *Client) SubscribeMessages(ctx context.Context, conversationID, viewerID string, onSnapshot func(grpcserver.MessagesSnapshot)) error {
	return subscribe(ctx, c, "SubscribeMessages",
		&grpcserver.SubscribeMessagesRequest{ConversationID: conversationID, ViewerID: viewerID}, onSnapshot)
}

func (c *Client) SubscribeConversations(ctx context.Context, userID string, onSnapshot func(grpcserver.ConversationsSnapshot)) error {
	return subscribe(ctx, c, "SubscribeConversations",
		&grpcserver.SubscribeConversationsRequest{UserID: userID}, onSnapshot)
}

// invoke encodes req as the method's input message and decodes the reply into resp.
func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	md := messagingpb.Method(method)
	in, err := messagingpb.Encode(md.Input(), req)
	if err != nil {
		return err
	}
	reply := dynamicpb.NewMessage(md.Output())
	callCtx, cancel := c.wrapCall(ctx)
	defer cancel()
	if err := c.conn.Invoke(callCtx, grpcserver.FullMethod(method), in, reply); err != nil {
		return err
	}
	return messagingpb.Decode(reply, resp)
}

func subscribe[T any](ctx context.Context, c *Client, method string, req any, onSnapshot func(T)) error {
	md := messagingpb.Method(method)
	in, err := messagingpb.Encode(md.Input(), req)
	if err != nil {
		return err
	}
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, grpcserver.FullMethod(method))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		reply := dynamicpb.NewMessage(md.Output())
		if err := stream.RecvMsg(reply); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var snap T
		if err := messagingpb.Decode(reply, &snap); err != nil {
			return err
		}
		onSnapshot(snap)
	}
}

func (c *Client) wrapCall(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.callTimeout)
}
