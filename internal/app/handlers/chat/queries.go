package chat

import (
	"context"
	"strings"

	"ncpwheels/internal/app/dto"
	"ncpwheels/internal/app/queries"
	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
)

// GetConversationQuery loads one conversation for a participant.
type GetConversationQuery struct {
	ConversationID string
	ViewerID       string
}

func (q GetConversationQuery) Key() string { return getConversationKey }

type GetConversationHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetConversationHandler) Handle(ctx context.Context, q GetConversationQuery) (dto.Conversation, error) {
	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return dto.Conversation{}, err
	}
	defer scope.Close()

	conv, err := loadForViewer(scope.Ctx, scope.Unit.Conversations(), q.ConversationID, q.ViewerID)
	if err != nil {
		return dto.Conversation{}, err
	}
	return dto.MapConversation(conv), nil
}

type ListConversationsQuery struct {
	UserID string
}

func (q ListConversationsQuery) Key() string { return listConversationsKey }

type ListConversationsHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) (dto.ConversationList, error) {
	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return dto.ConversationList{}, err
	}
	defer scope.Close()

	items, err := scope.Unit.Conversations().ListByParticipant(scope.Ctx, strings.TrimSpace(q.UserID))
	if err != nil {
		return dto.ConversationList{}, err
	}
	return dto.MapConversations(items), nil
}

// ListMessagesQuery pages backwards through a conversation's log.
type ListMessagesQuery struct {
	ConversationID string
	ViewerID       string
	Limit          int
	Before         string
}

func (q ListMessagesQuery) Key() string { return listMessagesKey }

type ListMessagesHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) (dto.ChatMessageList, error) {
	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return dto.ChatMessageList{}, err
	}
	defer scope.Close()
	repo := scope.Unit.Conversations()

	conv, err := loadForViewer(scope.Ctx, repo, q.ConversationID, q.ViewerID)
	if err != nil {
		return dto.ChatMessageList{}, err
	}
	page := domainchat.MessagePage{Limit: q.Limit, Before: domainchat.MessageID(q.Before)}.Normalized()
	// One extra row tells whether an older page exists.
	lookahead := page
	lookahead.Limit++
	items, err := repo.Messages(scope.Ctx, conv.ID, lookahead)
	if err != nil {
		return dto.ChatMessageList{}, err
	}
	out := dto.ChatMessageList{}
	if len(items) > page.Limit {
		items = items[len(items)-page.Limit:]
		out.NextBefore = string(items[0].ID)
	}
	out.Items = dto.MapMessages(items)
	return out, nil
}

// UnreadTotalQuery sums a user's unread counters across conversations.
type UnreadTotalQuery struct {
	UserID string
}

func (q UnreadTotalQuery) Key() string { return unreadTotalKey }

type UnreadTotalHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *UnreadTotalHandler) Handle(ctx context.Context, q UnreadTotalQuery) (dto.UnreadTotal, error) {
	scope, err := uow.Open(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return dto.UnreadTotal{}, err
	}
	defer scope.Close()

	userID := strings.TrimSpace(q.UserID)
	items, err := scope.Unit.Conversations().ListByParticipant(scope.Ctx, userID)
	if err != nil {
		return dto.UnreadTotal{}, err
	}
	out := dto.UnreadTotal{UserID: userID}
	for _, conv := range items {
		if n := conv.Unread(userID); n > 0 {
			out.Total += n
			out.Conversations++
		}
	}
	return out, nil
}

// loadForViewer returns the conversation when viewerID takes part in it. An empty viewer
// is a trusted caller.
func loadForViewer(ctx context.Context, repo domainchat.Repository, id, viewerID string) (*domainchat.Conversation, error) {
	conv, err := repo.ByID(ctx, domainchat.ConversationID(strings.TrimSpace(id)))
	if err != nil {
		return nil, err
	}
	if viewerID != "" && !conv.HasParticipant(viewerID) {
		return nil, domainchat.ErrNotParticipant
	}
	return conv, nil
}

var (
	_ queries.Handler[GetConversationQuery, dto.Conversation]       = (*GetConversationHandler)(nil)
	_ queries.Handler[ListConversationsQuery, dto.ConversationList] = (*ListConversationsHandler)(nil)
	_ queries.Handler[ListMessagesQuery, dto.ChatMessageList]       = (*ListMessagesHandler)(nil)
	_ queries.Handler[UnreadTotalQuery, dto.UnreadTotal]            = (*UnreadTotalHandler)(nil)
)
