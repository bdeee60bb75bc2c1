package chat

import (
	"context"
	"log/slog"
	"time"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/dto"
	"ncpwheels/internal/app/outbox"
	"ncpwheels/internal/app/uow"
)

// ArchiveConversationCommand sets UserID's archived flag. A nil Archived toggles it.
type ArchiveConversationCommand struct {
	ConversationID string
	UserID         string
	Archived       *bool
	Now            time.Time
}

func (c ArchiveConversationCommand) Key() string { return archiveKey }

type ArchiveConversationHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Logger     *slog.Logger
}

func (h *ArchiveConversationHandler) Handle(ctx context.Context, cmd ArchiveConversationCommand) (dto.ArchiveState, error) {
	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return dto.ArchiveState{}, err
	}
	defer scope.Close()
	repo := scope.Unit.Conversations()

	conv, err := loadForViewer(scope.Ctx, repo, cmd.ConversationID, cmd.UserID)
	if err != nil {
		return dto.ArchiveState{}, err
	}
	want := !conv.IsArchived(cmd.UserID)
	if cmd.Archived != nil {
		want = *cmd.Archived
	}
	state := dto.ArchiveState{
		ConversationID: string(conv.ID),
		UserID:         cmd.UserID,
		Archived:       want,
		Participants:   append([]string(nil), conv.Participants...),
	}

	changed, err := repo.SetArchived(scope.Ctx, conv.ID, cmd.UserID, want)
	if err != nil {
		return dto.ArchiveState{}, err
	}
	if !changed {
		return state, nil
	}
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}
	conv.RecordArchived(cmd.UserID, want, now)
	if err := outbox.RecordDomainEvents(scope.Ctx, h.Outbox, h.Encoder, conv.Drain()); err != nil {
		return dto.ArchiveState{}, err
	}
	if err := scope.Commit(); err != nil {
		return dto.ArchiveState{}, err
	}
	if h.Logger != nil {
		h.Logger.Debug("conversation archive state changed", "conversation_id", conv.ID, "user_id", cmd.UserID, "archived", want)
	}
	state.Changed = true
	return state, nil
}

var _ commands.Handler[ArchiveConversationCommand, dto.ArchiveState] = (*ArchiveConversationHandler)(nil)
