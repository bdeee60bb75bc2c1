package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"

	"ncpwheels/internal/app/dto"
	chatapp "ncpwheels/internal/app/handlers/chat"
	"ncpwheels/internal/app/live"
	"ncpwheels/internal/app/policies"
	domainchat "ncpwheels/internal/domain/chat"
	"ncpwheels/internal/infra/grpc/messagingpb"
	"ncpwheels/internal/infra/security"
	"ncpwheels/internal/infra/storage/memory"
)

const testSecret = "grpc-secret"

func startServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	store := memory.NewConversationStore()
	cmds, qs := chatapp.NewBuses(chatapp.Deps{
		UoWFactory: memory.Factory{Conversations: store},
		Listings:   memory.NewListingDirectory(policies.Listing{ID: "L1", OwnerID: "seller", Active: true}),
		Outbox:     memory.NewOutbox(nil, nil),
	}, chatapp.Pipeline{Idempotency: memory.NewIdempotencyStore(time.Hour)})
	hub := live.NewHub(live.RepositorySnapshots{Repo: store})
	t.Cleanup(store.Watch(hub.Notify))

	srv := NewServer(&Server{Commands: cmds, Queries: qs, Hub: hub},
		Authenticator{Verifier: security.NewTokenVerifier(testSecret, "")}, nil)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func asUser(t *testing.T, user string) context.Context {
	t.Helper()
	tok, err := security.TokenIssuer{Secret: []byte(testSecret)}.Issue(user)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

// call encodes req with the method's input message and decodes the reply into Resp.
func call[Resp any](t *testing.T, ctx context.Context, conn *grpc.ClientConn, method string, req any) (Resp, error) {
	t.Helper()
	var out Resp
	md := messagingpb.Method(method)
	in, err := messagingpb.Encode(md.Input(), req)
	require.NoError(t, err)
	reply := dynamicpb.NewMessage(md.Output())
	if err := conn.Invoke(ctx, FullMethod(method), in, reply); err != nil {
		return out, err
	}
	require.NoError(t, messagingpb.Decode(reply, &out))
	return out, nil
}

func contact(t *testing.T, conn *grpc.ClientConn, message string) StartResult {
	t.Helper()
	out, err := call[StartResult](t, context.Background(), conn, "ContactSeller",
		&ContactSellerRequest{BuyerID: "buyer", ListingID: "L1", Message: message})
	require.NoError(t, err)
	return out
}

func openStream(t *testing.T, ctx context.Context, conn *grpc.ClientConn, method string, req any) grpc.ClientStream {
	t.Helper()
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: method, ServerStreams: true}, FullMethod(method))
	require.NoError(t, err)
	in, err := messagingpb.Encode(messagingpb.Method(method).Input(), req)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(in))
	require.NoError(t, stream.CloseSend())
	return stream
}

func recvSnapshot[T any](t *testing.T, stream grpc.ClientStream, method string) (T, error) {
	t.Helper()
	var out T
	reply := dynamicpb.NewMessage(messagingpb.Method(method).Output())
	if err := stream.RecvMsg(reply); err != nil {
		return out, err
	}
	require.NoError(t, messagingpb.Decode(reply, &out))
	return out, nil
}

func TestContactSellerAndSend(t *testing.T) {
	conn := startServer(t)
	res := contact(t, conn, "Is it available?")
	assert.True(t, res.Conversation.Created)
	require.NotNil(t, res.Message)
	assert.Equal(t, "seller", res.Message.RecipientID)

	sent, err := call[dto.SentMessage](t, asUser(t, "seller"), conn, "SendMessage",
		&SendMessageRequest{ConversationID: res.Conversation.ID, SenderID: "seller", Content: "yes"})
	require.NoError(t, err)
	assert.Equal(t, "buyer", sent.RecipientID)
	assert.False(t, sent.Message.Timestamp.IsZero())

	list, err := call[dto.ChatMessageList](t, context.Background(), conn, "ListMessages",
		&ListMessagesRequest{ConversationID: res.Conversation.ID, ViewerID: "buyer"})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "Is it available?", list.Items[0].Content)

	total, err := call[dto.UnreadTotal](t, context.Background(), conn, "UnreadTotal", &UnreadTotalRequest{UserID: "buyer"})
	require.NoError(t, err)
	assert.Equal(t, 1, total.Total)
}

func TestPlainProtobufClient(t *testing.T) {
	conn := startServer(t)
	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(ServiceName + ".ContactSeller")
	require.NoError(t, err)
	method := desc.(protoreflect.MethodDescriptor)

	req := dynamicpb.NewMessage(method.Input())
	req.Set(method.Input().Fields().ByName("buyer_id"), protoreflect.ValueOfString("buyer"))
	req.Set(method.Input().Fields().ByName("listing_id"), protoreflect.ValueOfString("L1"))
	req.Set(method.Input().Fields().ByName("message"), protoreflect.ValueOfString("hello"))
	reply := dynamicpb.NewMessage(method.Output())
	require.NoError(t, conn.Invoke(context.Background(), FullMethod("ContactSeller"), req, reply))

	fields := method.Output().Fields()
	ref := reply.Get(fields.ByName("conversation")).Message()
	assert.NotEmpty(t, ref.Get(ref.Descriptor().Fields().ByName("id")).String())
	assert.True(t, ref.Get(ref.Descriptor().Fields().ByName("created")).Bool())
	sent := reply.Get(fields.ByName("message")).Message()
	assert.Equal(t, "seller", sent.Get(sent.Descriptor().Fields().ByName("recipient_id")).String())
}

func TestErrorsMapToCodes(t *testing.T) {
	conn := startServer(t)
	res := contact(t, conn, "")
	ctx := context.Background()

	_, err := call[dto.SentMessage](t, ctx, conn, "SendMessage",
		&SendMessageRequest{ConversationID: res.Conversation.ID, SenderID: "buyer", Content: " "})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = call[dto.SentMessage](t, ctx, conn, "SendMessage",
		&SendMessageRequest{ConversationID: res.Conversation.ID, SenderID: "stranger", Content: "hi"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = call[dto.Conversation](t, ctx, conn, "GetConversation", &GetConversationRequest{ConversationID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = call[StartResult](t, ctx, conn, "ContactSeller", &ContactSellerRequest{BuyerID: "seller", ListingID: "L1"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestTokensBindCallerToRequest(t *testing.T) {
	conn := startServer(t)
	res := contact(t, conn, "")

	_, err := call[dto.SentMessage](t, asUser(t, "mallory"), conn, "SendMessage",
		&SendMessageRequest{ConversationID: res.Conversation.ID, SenderID: "buyer", Content: "hi"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer nope")
	_, err = call[dto.ConversationList](t, bad, conn, "ListConversations", &ListConversationsRequest{UserID: "buyer"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestStartConversationSendsInitialMessage(t *testing.T) {
	conn := startServer(t)
	ctx := context.Background()
	out, err := call[StartResult](t, ctx, conn, "StartConversation",
		&StartConversationRequest{UserA: "buyer", UserB: "seller", ListingID: "L1", Message: "hello"})
	require.NoError(t, err)
	require.NotNil(t, out.Message)
	assert.Equal(t, "buyer", out.Message.Message.SenderID)

	conv, err := call[dto.Conversation](t, ctx, conn, "GetConversation",
		&GetConversationRequest{ConversationID: out.Conversation.ID, ViewerID: "seller"})
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount["seller"])
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hello", conv.LastMessage.Content)

	receipt, err := call[dto.ReadReceipt](t, ctx, conn, "MarkRead",
		&MarkReadRequest{ConversationID: out.Conversation.ID, UserID: "seller"})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Flipped)
}

func TestArchiveConversationSetsFlag(t *testing.T) {
	conn := startServer(t)
	res := contact(t, conn, "hi")
	ctx := asUser(t, "buyer")

	state, err := call[dto.ArchiveState](t, ctx, conn, "ArchiveConversation",
		&ArchiveConversationRequest{ConversationID: res.Conversation.ID, UserID: "buyer", Archived: true})
	require.NoError(t, err)
	assert.True(t, state.Archived)
	assert.True(t, state.Changed)

	again, err := call[dto.ArchiveState](t, ctx, conn, "ArchiveConversation",
		&ArchiveConversationRequest{ConversationID: res.Conversation.ID, UserID: "buyer", Archived: true})
	require.NoError(t, err)
	assert.False(t, again.Changed)

	list, err := call[dto.ConversationList](t, ctx, conn, "ListConversations", &ListConversationsRequest{UserID: "buyer"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, map[string]bool{"buyer": true}, list.Items[0].Archived)

	_, err = call[dto.ArchiveState](t, context.Background(), conn, "ArchiveConversation",
		&ArchiveConversationRequest{ConversationID: res.Conversation.ID, UserID: "stranger", Archived: true})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestSubscribeMessagesStreamsSnapshots(t *testing.T) {
	conn := startServer(t)
	res := contact(t, conn, "first")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := openStream(t, ctx, conn, "SubscribeMessages",
		&SubscribeMessagesRequest{ConversationID: res.Conversation.ID, ViewerID: "seller"})

	snap, err := recvSnapshot[MessagesSnapshot](t, stream, "SubscribeMessages")
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, res.Conversation.ID, snap.ConversationID)

	_, err = call[dto.SentMessage](t, context.Background(), conn, "SendMessage",
		&SendMessageRequest{ConversationID: res.Conversation.ID, SenderID: "seller", Content: "second"})
	require.NoError(t, err)
	for len(snap.Items) < 2 {
		snap, err = recvSnapshot[MessagesSnapshot](t, stream, "SubscribeMessages")
		require.NoError(t, err)
	}
	assert.Equal(t, "second", snap.Items[1].Content)
}

func TestSubscribeRejectsNonParticipant(t *testing.T) {
	conn := startServer(t)
	res := contact(t, conn, "")

	stream := openStream(t, context.Background(), conn, "SubscribeMessages",
		&SubscribeMessagesRequest{ConversationID: res.Conversation.ID, ViewerID: "stranger"})
	_, err := recvSnapshot[MessagesSnapshot](t, stream, "SubscribeMessages")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestEveryMethodResolvesInSchema(t *testing.T) {
	for _, m := range ServiceDesc.Methods {
		md := messagingpb.Method(m.MethodName)
		assert.False(t, md.IsStreamingServer(), m.MethodName)
	}
	for _, s := range ServiceDesc.Streams {
		md := messagingpb.Method(s.StreamName)
		assert.True(t, md.IsStreamingServer(), s.StreamName)
	}
	assert.Equal(t, messagingpb.Service.Methods().Len(), len(ServiceDesc.Methods)+len(ServiceDesc.Streams))
}

func TestToStatus(t *testing.T) {
	assert.NoError(t, toStatus(nil))
	assert.Equal(t, codes.Unauthenticated, status.Code(toStatus(domainchat.ErrUnauthorized)))
	assert.Equal(t, codes.NotFound, status.Code(toStatus(domainchat.ErrConversationNotFound)))
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(domainchat.Transient("op", errors.New("timeout")))))
	assert.Equal(t, codes.Canceled, status.Code(toStatus(domainchat.Transient("op", context.Canceled))))
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("boom"))))
	already := status.Error(codes.Aborted, "x")
	assert.Equal(t, already, toStatus(already))
}

func TestLatestKeepsNewest(t *testing.T) {
	box := newLatest[int]()
	box.put(1)
	box.put(2)
	assert.Equal(t, 2, <-box.ch)
	select {
	case v := <-box.ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}
