package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/dto"
	"ncpwheels/internal/app/outbox"
	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
)

// MarkConversationReadCommand clears UserID's unread state in a conversation.
type MarkConversationReadCommand struct {
	ConversationID string
	UserID         string
	Now            time.Time
}

func (c MarkConversationReadCommand) Key() string { return markReadKey }

type MarkConversationReadHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Logger     *slog.Logger
}

func (h *MarkConversationReadHandler) Handle(ctx context.Context, cmd MarkConversationReadCommand) (dto.ReadReceipt, error) {
	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return dto.ReadReceipt{}, err
	}
	defer scope.Close()
	repo := scope.Unit.Conversations()

	conv, err := repo.ByID(scope.Ctx, domainchat.ConversationID(strings.TrimSpace(cmd.ConversationID)))
	if err != nil {
		return dto.ReadReceipt{}, err
	}
	if !conv.HasParticipant(cmd.UserID) {
		return dto.ReadReceipt{}, domainchat.ErrNotParticipant
	}
	receipt := dto.ReadReceipt{
		ConversationID: string(conv.ID),
		UserID:         cmd.UserID,
		Participants:   append([]string(nil), conv.Participants...),
	}
	hadUnread := conv.Unread(cmd.UserID) > 0

	// The store flips rows even when the counter is already zero: an append that
	// raced an earlier read can leave an unread row behind a cleared counter.
	flipped, err := repo.MarkRead(scope.Ctx, conv.ID, cmd.UserID)
	if err != nil {
		return dto.ReadReceipt{}, err
	}
	if !hadUnread && flipped == 0 {
		return receipt, nil
	}
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}
	conv.RecordRead(cmd.UserID, flipped, now)
	if err := outbox.RecordDomainEvents(scope.Ctx, h.Outbox, h.Encoder, conv.Drain()); err != nil {
		return dto.ReadReceipt{}, err
	}
	if err := scope.Commit(); err != nil {
		return dto.ReadReceipt{}, err
	}
	if h.Logger != nil {
		h.Logger.Debug("conversation read", "conversation_id", conv.ID, "user_id", cmd.UserID, "flipped", flipped)
	}
	receipt.Flipped = flipped
	receipt.Changed = true
	return receipt, nil
}

var _ commands.Handler[MarkConversationReadCommand, dto.ReadReceipt] = (*MarkConversationReadHandler)(nil)
