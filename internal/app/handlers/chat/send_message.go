package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/dto"
	"ncpwheels/internal/app/outbox"
	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
)

// SendMessageCommand appends a message on behalf of SenderID.
type SendMessageCommand struct {
	ConversationID string
	SenderID       string
	Content        string
	// ClientKey de-duplicates retried sends of the same message.
	ClientKey string
	Now       time.Time
}

func (c SendMessageCommand) Key() string { return sendMessageKey }

func (c SendMessageCommand) IdempotencyKey() string {
	key := strings.TrimSpace(c.ClientKey)
	if key == "" {
		return ""
	}
	return sendMessageKey + ":" + c.SenderID + ":" + c.ConversationID + ":" + key
}

func (c SendMessageCommand) ResultPrototype() any { return &dto.SentMessage{} }

// SendMessageHandler appends the message, replaces the summary and bumps the recipient's
// unread counter in one repository call.
type SendMessageHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Logger     *slog.Logger
	IDs        func() domainchat.MessageID
}

func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (dto.SentMessage, error) {
	content, err := domainchat.NormalizeContent(cmd.Content)
	if err != nil {
		return dto.SentMessage{}, err
	}
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return dto.SentMessage{}, err
	}
	defer scope.Close()
	repo := scope.Unit.Conversations()

	conv, err := repo.ByID(scope.Ctx, domainchat.ConversationID(strings.TrimSpace(cmd.ConversationID)))
	if err != nil {
		return dto.SentMessage{}, err
	}
	recipient, err := conv.Counterpart(cmd.SenderID)
	if err != nil {
		return dto.SentMessage{}, err
	}

	msg, err := repo.AppendMessage(scope.Ctx, conv.ID, domainchat.Delivery{
		ID:          h.nextID(),
		SenderID:    cmd.SenderID,
		RecipientID: recipient,
		Content:     content,
		At:          now.UTC(),
	})
	if err != nil {
		return dto.SentMessage{}, err
	}
	conv.RecordSent(msg, recipient)
	if err := outbox.RecordDomainEvents(scope.Ctx, h.Outbox, h.Encoder, conv.Drain()); err != nil {
		return dto.SentMessage{}, err
	}
	if err := scope.Commit(); err != nil {
		return dto.SentMessage{}, err
	}

	if h.Logger != nil {
		h.Logger.Debug("message sent", "conversation_id", conv.ID, "message_id", msg.ID, "sender_id", msg.SenderID)
	}
	return dto.SentMessage{
		Message:      dto.MapMessage(msg),
		RecipientID:  recipient,
		Participants: append([]string(nil), conv.Participants...),
	}, nil
}

func (h *SendMessageHandler) nextID() domainchat.MessageID {
	if h.IDs != nil {
		return h.IDs()
	}
	return NewMessageID()
}

// NewMessageID returns a time-ordered UUIDv7.
func NewMessageID() domainchat.MessageID {
	id, err := uuid.NewV7()
	if err != nil {
		return domainchat.MessageID(uuid.NewString())
	}
	return domainchat.MessageID(id.String())
}

var _ commands.Handler[SendMessageCommand, dto.SentMessage] = (*SendMessageHandler)(nil)
