package chat

import (
	"context"
	"strings"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/dto"
	"ncpwheels/internal/app/policies"
	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
)

// ContactSellerCommand opens the buyer's conversation with a listing's owner and
// optionally sends a first message.
type ContactSellerCommand struct {
	BuyerID   string
	ListingID string
	Message   string
	ClientKey string
}

func (c ContactSellerCommand) Key() string { return contactSellerKey }

func (c ContactSellerCommand) IdempotencyKey() string {
	key := strings.TrimSpace(c.ClientKey)
	if key == "" {
		return ""
	}
	return contactSellerKey + ":" + c.BuyerID + ":" + c.ListingID + ":" + key
}

func (c ContactSellerCommand) ResultPrototype() any { return &ContactResult{} }

type ContactResult struct {
	Conversation dto.ConversationRef `json:"conversation"`
	Message      *dto.SentMessage    `json:"message,omitempty"`
}

// ContactSellerHandler guards against owners contacting themselves, then reuses the
// resolver and dispatcher inside one unit of work.
type ContactSellerHandler struct {
	UoWFactory uow.UoWFactory
	Listings   policies.ListingDirectory
	Start      *StartConversationHandler
	Send       *SendMessageHandler
}

func (h *ContactSellerHandler) Handle(ctx context.Context, cmd ContactSellerCommand) (ContactResult, error) {
	if h.Listings == nil {
		return ContactResult{}, domainchat.ErrListingNotFound
	}
	listing, err := lookupListing(ctx, h.Listings, cmd.ListingID)
	if err != nil {
		return ContactResult{}, err
	}
	buyer := strings.TrimSpace(cmd.BuyerID)
	if buyer == listing.OwnerID {
		return ContactResult{}, domainchat.ErrOwnListing
	}

	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return ContactResult{}, err
	}
	defer scope.Close()

	ref, err := h.Start.Handle(scope.Ctx, StartConversationCommand{
		UserA:     buyer,
		UserB:     listing.OwnerID,
		ListingID: strings.TrimSpace(cmd.ListingID),
	})
	if err != nil {
		return ContactResult{}, err
	}
	result := ContactResult{Conversation: ref}
	if strings.TrimSpace(cmd.Message) != "" {
		sent, err := h.Send.Handle(scope.Ctx, SendMessageCommand{
			ConversationID: ref.ID,
			SenderID:       buyer,
			Content:        cmd.Message,
		})
		if err != nil {
			return ContactResult{}, err
		}
		result.Message = &sent
	}
	if err := scope.Commit(); err != nil {
		return ContactResult{}, err
	}
	return result, nil
}

var _ commands.Handler[ContactSellerCommand, ContactResult] = (*ContactSellerHandler)(nil)
