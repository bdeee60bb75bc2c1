// Package messagingpb holds the protobuf schema of the messaging gRPC API and the
// conversion between its messages and the application DTOs.
//
// The file descriptor is assembled at init and registered in protoregistry.GlobalFiles,
// so reflection-based tooling and dynamic clients resolve the same types the server
// speaks. api/messaging.proto is the source-form copy of the schema built here.
package messagingpb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
)

const (
	Package     = "ncpwheels.messaging.v1"
	ServiceName = Package + ".MessagingService"
	FilePath    = "ncpwheels/messaging/v1/messaging.proto"

	timestampType = ".google.protobuf.Timestamp"
)

var (
	File    protoreflect.FileDescriptor
	Service protoreflect.ServiceDescriptor
)

func init() {
	fd, err := protodesc.NewFile(fileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("messagingpb: build %s: %v", FilePath, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("messagingpb: register %s: %v", FilePath, err))
	}
	File = fd
	Service = fd.Services().ByName("MessagingService")
}

// Method returns the descriptor of a MessagingService RPC. It panics on unknown names.
func Method(name string) protoreflect.MethodDescriptor {
	md := Service.Methods().ByName(protoreflect.Name(name))
	if md == nil {
		panic("messagingpb: unknown method " + name)
	}
	return md
}

// Message returns the descriptor of a top-level message. It panics on unknown names.
func Message(name string) protoreflect.MessageDescriptor {
	md := File.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		panic("messagingpb: unknown message " + name)
	}
	return md
}

func fileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(FilePath),
		Package:    proto.String(Package),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
		Options:    &descriptorpb.FileOptions{GoPackage: proto.String("ncpwheels/internal/infra/grpc/messagingpb")},
		MessageType: []*descriptorpb.DescriptorProto{
			message("LastMessage",
				str("content", 1), str("sender_id", 2), timestamp("timestamp", 3)),
			message("Conversation",
				str("id", 1), str("listing_id", 2), strs("participants", 3),
				ref("last_message", 4, "LastMessage"),
				mapOf("unread_count", 5, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				timestamp("created_at", 6),
				mapOf("archived", 7, descriptorpb.FieldDescriptorProto_TYPE_BOOL)),
			message("ConversationList", refs("items", 1, "Conversation")),
			message("ConversationRef",
				str("id", 1), str("listing_id", 2), strs("participants", 3), boolean("created", 4)),
			message("ChatMessage",
				str("id", 1), str("conversation_id", 2), str("sender_id", 3), str("content", 4),
				timestamp("timestamp", 5), boolean("read", 6)),
			message("ChatMessageList", refs("items", 1, "ChatMessage"), str("next_before", 2)),
			message("SentMessage",
				ref("message", 1, "ChatMessage"), str("recipient_id", 2), strs("participants", 3)),
			message("ReadReceipt",
				str("conversation_id", 1), str("user_id", 2), int32f("flipped", 3),
				boolean("changed", 4), strs("participants", 5)),
			message("ArchiveState",
				str("conversation_id", 1), str("user_id", 2), boolean("archived", 3),
				boolean("changed", 4), strs("participants", 5)),
			message("UnreadTotal",
				str("user_id", 1), int32f("total", 2), int32f("conversations", 3)),

			message("StartConversationRequest",
				str("user_a", 1), str("user_b", 2), str("listing_id", 3), str("message", 4), str("client_key", 5)),
			message("ContactSellerRequest",
				str("buyer_id", 1), str("listing_id", 2), str("message", 3), str("client_key", 4)),
			message("StartResult",
				ref("conversation", 1, "ConversationRef"), ref("message", 2, "SentMessage")),
			message("SendMessageRequest",
				str("conversation_id", 1), str("sender_id", 2), str("content", 3), str("client_key", 4)),
			message("MarkReadRequest", str("conversation_id", 1), str("user_id", 2)),
			message("ArchiveConversationRequest",
				str("conversation_id", 1), str("user_id", 2), boolean("archived", 3)),
			message("GetConversationRequest", str("conversation_id", 1), str("viewer_id", 2)),
			message("ListConversationsRequest", str("user_id", 1)),
			message("ListMessagesRequest",
				str("conversation_id", 1), str("viewer_id", 2), int32f("limit", 3), str("before", 4)),
			message("UnreadTotalRequest", str("user_id", 1)),
			message("SubscribeMessagesRequest", str("conversation_id", 1), str("viewer_id", 2)),
			message("SubscribeConversationsRequest", str("user_id", 1)),
			message("MessagesSnapshot", str("conversation_id", 1), refs("items", 2, "ChatMessage")),
			message("ConversationsSnapshot", str("user_id", 1), refs("items", 2, "Conversation")),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("MessagingService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				rpc("StartConversation", "StartConversationRequest", "StartResult", false),
				rpc("ContactSeller", "ContactSellerRequest", "StartResult", false),
				rpc("SendMessage", "SendMessageRequest", "SentMessage", false),
				rpc("MarkRead", "MarkReadRequest", "ReadReceipt", false),
				rpc("ArchiveConversation", "ArchiveConversationRequest", "ArchiveState", false),
				rpc("GetConversation", "GetConversationRequest", "Conversation", false),
				rpc("ListConversations", "ListConversationsRequest", "ConversationList", false),
				rpc("ListMessages", "ListMessagesRequest", "ChatMessageList", false),
				rpc("UnreadTotal", "UnreadTotalRequest", "UnreadTotal", false),
				rpc("SubscribeMessages", "SubscribeMessagesRequest", "MessagesSnapshot", true),
				rpc("SubscribeConversations", "SubscribeConversationsRequest", "ConversationsSnapshot", true),
			},
		}},
	}
}

type fieldSpec struct {
	field *descriptorpb.FieldDescriptorProto
	// mapValue is set for map<string, V> fields.
	mapValue descriptorpb.FieldDescriptorProto_Type
}

func message(name string, specs ...fieldSpec) *descriptorpb.DescriptorProto {
	m := &descriptorpb.DescriptorProto{Name: proto.String(name)}
	for _, s := range specs {
		f := s.field
		if s.mapValue != 0 {
			entry := mapEntryName(f.GetName())
			m.NestedType = append(m.NestedType, &descriptorpb.DescriptorProto{
				Name: proto.String(entry),
				Field: []*descriptorpb.FieldDescriptorProto{
					newField("key", 1, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					newField("value", 2, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, s.mapValue),
				},
				Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
			})
			f.TypeName = proto.String(qualified(name + "." + entry))
		}
		m.Field = append(m.Field, f)
	}
	return m
}

func newField(name string, number int32, label descriptorpb.FieldDescriptorProto_Label, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  label.Enum(),
		Type:   typ.Enum(),
	}
}

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) fieldSpec {
	return fieldSpec{field: newField(name, number, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, typ)}
}

func str(name string, number int32) fieldSpec {
	return scalar(name, number, descriptorpb.FieldDescriptorProto_TYPE_STRING)
}

func boolean(name string, number int32) fieldSpec {
	return scalar(name, number, descriptorpb.FieldDescriptorProto_TYPE_BOOL)
}

func int32f(name string, number int32) fieldSpec {
	return scalar(name, number, descriptorpb.FieldDescriptorProto_TYPE_INT32)
}

func strs(name string, number int32) fieldSpec {
	return fieldSpec{field: newField(name, number, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, descriptorpb.FieldDescriptorProto_TYPE_STRING)}
}

func messageField(name string, number int32, label descriptorpb.FieldDescriptorProto_Label, typeName string) fieldSpec {
	f := newField(name, number, label, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String(typeName)
	return fieldSpec{field: f}
}

func ref(name string, number int32, msg string) fieldSpec {
	return messageField(name, number, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, qualified(msg))
}

func refs(name string, number int32, msg string) fieldSpec {
	return messageField(name, number, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, qualified(msg))
}

func timestamp(name string, number int32) fieldSpec {
	return messageField(name, number, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, timestampType)
}

func mapOf(name string, number int32, value descriptorpb.FieldDescriptorProto_Type) fieldSpec {
	s := messageField(name, number, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, "")
	s.mapValue = value
	return s
}

func rpc(name, in, out string, serverStream bool) *descriptorpb.MethodDescriptorProto {
	m := &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(qualified(in)),
		OutputType: proto.String(qualified(out)),
	}
	if serverStream {
		m.ServerStreaming = proto.Bool(true)
	}
	return m
}

func qualified(name string) string {
	return "." + Package + "." + name
}

// mapEntryName follows protoc: unread_count becomes UnreadCountEntry.
func mapEntryName(field string) string {
	out := make([]byte, 0, len(field)+5)
	upper := true
	for i := 0; i < len(field); i++ {
		c := field[i]
		switch {
		case c == '_':
			upper = true
		case upper && 'a' <= c && c <= 'z':
			out = append(out, c-'a'+'A')
			upper = false
		default:
			out = append(out, c)
			upper = false
		}
	}
	return string(append(out, "Entry"...))
}
