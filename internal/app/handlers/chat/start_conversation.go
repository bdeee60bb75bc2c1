package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/dto"
	"ncpwheels/internal/app/outbox"
	"ncpwheels/internal/app/policies"
	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
)

// StartConversationCommand finds or creates the conversation between two users about a
// listing. The pair is unordered.
type StartConversationCommand struct {
	UserA     string
	UserB     string
	ListingID string
	Now       time.Time
}

func (c StartConversationCommand) Key() string { return startConversationKey }

type StartConversationHandler struct {
	UoWFactory uow.UoWFactory
	Listings   policies.ListingDirectory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Logger     *slog.Logger
}

func (h *StartConversationHandler) Handle(ctx context.Context, cmd StartConversationCommand) (dto.ConversationRef, error) {
	candidate, err := domainchat.Start(domainchat.StartParams{
		UserA:     cmd.UserA,
		UserB:     cmd.UserB,
		ListingID: cmd.ListingID,
		Now:       cmd.Now,
	})
	if err != nil {
		return dto.ConversationRef{}, err
	}
	if _, err := lookupListing(ctx, h.Listings, candidate.ListingID); err != nil {
		return dto.ConversationRef{}, err
	}

	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return dto.ConversationRef{}, err
	}
	defer scope.Close()
	repo := scope.Unit.Conversations()

	existing, err := h.findExisting(scope.Ctx, repo, candidate)
	if err != nil {
		return dto.ConversationRef{}, err
	}
	if existing != nil {
		return conversationRef(existing, false), nil
	}

	stored, created, err := repo.CreateIfAbsent(scope.Ctx, candidate)
	if err != nil {
		return dto.ConversationRef{}, err
	}
	if created {
		if err := outbox.RecordDomainEvents(scope.Ctx, h.Outbox, h.Encoder, candidate.Drain()); err != nil {
			return dto.ConversationRef{}, err
		}
	}
	if err := scope.Commit(); err != nil {
		return dto.ConversationRef{}, err
	}
	if created && h.Logger != nil {
		h.Logger.Info("conversation started", "conversation_id", stored.ID, "listing_id", stored.ListingID)
	}
	return conversationRef(stored, created), nil
}

// findExisting checks the derived key first, then falls back to a listing scan for
// conversations stored under other ids.
func (h *StartConversationHandler) findExisting(ctx context.Context, repo domainchat.Repository, candidate *domainchat.Conversation) (*domainchat.Conversation, error) {
	conv, err := repo.ByID(ctx, candidate.ID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, domainchat.ErrNotFound) {
		return nil, err
	}
	matches, err := repo.FindByListing(ctx, candidate.ListingID, candidate.Participants[0])
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if domainchat.SameParticipants(m.Participants, candidate.Participants) {
			return m, nil
		}
	}
	return nil, nil
}

func lookupListing(ctx context.Context, dir policies.ListingDirectory, listingID string) (policies.Listing, error) {
	if dir == nil {
		return policies.Listing{ID: listingID, Active: true}, nil
	}
	listing, err := dir.Listing(ctx, strings.TrimSpace(listingID))
	if err != nil {
		if errors.Is(err, policies.ErrListingNotFound) {
			return policies.Listing{}, domainchat.ErrListingNotFound
		}
		return policies.Listing{}, domainchat.Transient("listing lookup", err)
	}
	if !listing.Active {
		return policies.Listing{}, domainchat.ErrListingNotFound
	}
	return listing, nil
}

func conversationRef(conv *domainchat.Conversation, created bool) dto.ConversationRef {
	return dto.ConversationRef{
		ID:           string(conv.ID),
		ListingID:    conv.ListingID,
		Participants: append([]string(nil), conv.Participants...),
		Created:      created,
	}
}

var _ commands.Handler[StartConversationCommand, dto.ConversationRef] = (*StartConversationHandler)(nil)
