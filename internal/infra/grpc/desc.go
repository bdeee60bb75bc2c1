// Package grpcserver exposes the messaging core over gRPC. The wire schema lives in
// messagingpb; handlers here work on plain request structs and DTOs and convert at the
// edge, so the default protobuf codec carries every call.
package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"ncpwheels/internal/infra/grpc/messagingpb"
)

const ServiceName = messagingpb.ServiceName

// ServiceDesc describes MessagingService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartConversation", MessagingServer.StartConversation),
		unary("ContactSeller", MessagingServer.ContactSeller),
		unary("SendMessage", MessagingServer.SendMessage),
		unary("MarkRead", MessagingServer.MarkRead),
		unary("ArchiveConversation", MessagingServer.ArchiveConversation),
		unary("GetConversation", MessagingServer.GetConversation),
		unary("ListConversations", MessagingServer.ListConversations),
		unary("ListMessages", MessagingServer.ListMessages),
		unary("UnreadTotal", MessagingServer.UnreadTotal),
	},
	Streams: []grpc.StreamDesc{
		serverStream("SubscribeMessages", MessagingServer.SubscribeMessages),
		serverStream("SubscribeConversations", MessagingServer.SubscribeConversations),
	},
	Metadata: messagingpb.FilePath,
}

// FullMethod returns the wire name of a MessagingService method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv MessagingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Interceptors see the decoded *Req and the encoded response message.
func unary[Req, Resp any](name string, call func(MessagingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	method := messagingpb.Method(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			wire := dynamicpb.NewMessage(method.Input())
			if err := dec(wire); err != nil {
				return nil, err
			}
			in := new(Req)
			if err := messagingpb.Decode(wire, in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(MessagingServer), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				msg, err := messagingpb.Encode(method.Output(), out)
				if err != nil {
					return nil, status.Errorf(codes.Internal, "encode %s: %v", name, err)
				}
				return msg, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[Req any](name string, call func(MessagingServer, *Req, grpc.ServerStream) error) grpc.StreamDesc {
	method := messagingpb.Method(name)
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			wire := dynamicpb.NewMessage(method.Input())
			if err := stream.RecvMsg(wire); err != nil {
				return err
			}
			in := new(Req)
			if err := messagingpb.Decode(wire, in); err != nil {
				return status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			return call(srv.(MessagingServer), in, &encodingStream{ServerStream: stream, out: method.Output()})
		},
	}
}

// encodingStream converts outgoing snapshots to the stream's response message.
type encodingStream struct {
	grpc.ServerStream
	out protoreflect.MessageDescriptor
}

func (s *encodingStream) SendMsg(m any) error {
	msg, err := messagingpb.Encode(s.out, m)
	if err != nil {
		return status.Errorf(codes.Internal, "encode %s: %v", s.out.FullName(), err)
	}
	return s.ServerStream.SendMsg(msg)
}
