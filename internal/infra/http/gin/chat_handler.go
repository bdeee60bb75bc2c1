package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/dto"
	chatapp "ncpwheels/internal/app/handlers/chat"
	"ncpwheels/internal/app/queries"
	domainchat "ncpwheels/internal/domain/chat"
)

const idempotencyHeader = "Idempotency-Key"

// ChatHandler maps the chat REST surface onto the command and query buses. The caller
// always acts as themselves; admins may read another user's lists with ?user_id=.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	userID := targetUser(c, actor.UserID, actor.HasRole("admin"))
	list, err := queries.Ask[chatapp.ListConversationsQuery, dto.ConversationList](c.Request.Context(), h.Queries,
		chatapp.ListConversationsQuery{UserID: userID})
	if err != nil {
		h.respondError(c, err, "list conversations", "user_id", userID)
		return
	}
	c.JSON(http.StatusOK, list)
}

type startConversationRequest struct {
	UserID    string `json:"user_id"`
	ListingID string `json:"listing_id"`
	Message   string `json:"message"`
}

// StartConversation resolves the caller's conversation with user_id about listing_id and
// sends message first when one is given.
func (h ChatHandler) StartConversation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx := c.Request.Context()
	ref, err := commands.Dispatch[chatapp.StartConversationCommand, dto.ConversationRef](ctx, h.Commands,
		chatapp.StartConversationCommand{UserA: actor.UserID, UserB: req.UserID, ListingID: req.ListingID})
	if err != nil {
		h.respondError(c, err, "start conversation", "user_id", actor.UserID, "listing_id", req.ListingID)
		return
	}
	result := chatapp.ContactResult{Conversation: ref}
	if strings.TrimSpace(req.Message) != "" {
		sent, err := commands.Dispatch[chatapp.SendMessageCommand, dto.SentMessage](ctx, h.Commands,
			chatapp.SendMessageCommand{
				ConversationID: ref.ID,
				SenderID:       actor.UserID,
				Content:        req.Message,
				ClientKey:      c.GetHeader(idempotencyHeader),
			})
		if err != nil {
			h.respondError(c, err, "send initial message", "conversation_id", ref.ID, "user_id", actor.UserID)
			return
		}
		result.Message = &sent
	}
	c.JSON(startStatus(ref.Created), result)
}

type contactSellerRequest struct {
	Message string `json:"message"`
}

// ContactSeller opens the caller's conversation with the owner of the listing in the path.
func (h ChatHandler) ContactSeller(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	listingID := strings.TrimSpace(c.Param("id"))
	var req contactSellerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	result, err := commands.Dispatch[chatapp.ContactSellerCommand, chatapp.ContactResult](c.Request.Context(), h.Commands,
		chatapp.ContactSellerCommand{
			BuyerID:   actor.UserID,
			ListingID: listingID,
			Message:   req.Message,
			ClientKey: c.GetHeader(idempotencyHeader),
		})
	if err != nil {
		h.respondError(c, err, "contact seller", "listing_id", listingID, "user_id", actor.UserID)
		return
	}
	c.JSON(startStatus(result.Conversation.Created), result)
}

func (h ChatHandler) GetConversation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	conv, err := queries.Ask[chatapp.GetConversationQuery, dto.Conversation](c.Request.Context(), h.Queries,
		chatapp.GetConversationQuery{ConversationID: id, ViewerID: viewer(actor.UserID, actor.HasRole("admin"))})
	if err != nil {
		h.respondError(c, err, "get conversation", "conversation_id", id, "user_id", actor.UserID)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	list, err := queries.Ask[chatapp.ListMessagesQuery, dto.ChatMessageList](c.Request.Context(), h.Queries,
		chatapp.ListMessagesQuery{
			ConversationID: id,
			ViewerID:       viewer(actor.UserID, actor.HasRole("admin")),
			Limit:          limit,
			Before:         c.Query("before"),
		})
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", id, "user_id", actor.UserID)
		return
	}
	c.JSON(http.StatusOK, list)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sent, err := commands.Dispatch[chatapp.SendMessageCommand, dto.SentMessage](c.Request.Context(), h.Commands,
		chatapp.SendMessageCommand{
			ConversationID: id,
			SenderID:       actor.UserID,
			Content:        req.Content,
			ClientKey:      c.GetHeader(idempotencyHeader),
		})
	if err != nil {
		h.respondError(c, err, "send message", "conversation_id", id, "user_id", actor.UserID)
		return
	}
	c.JSON(http.StatusCreated, sent.Message)
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	receipt, err := commands.Dispatch[chatapp.MarkConversationReadCommand, dto.ReadReceipt](c.Request.Context(), h.Commands,
		chatapp.MarkConversationReadCommand{ConversationID: id, UserID: actor.UserID})
	if err != nil {
		h.respondError(c, err, "mark read", "conversation_id", id, "user_id", actor.UserID)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type archiveRequest struct {
	Archived *bool `json:"archived"`
}

// ArchiveConversation sets the caller's archived flag from the body, or toggles it when
// the body is empty.
func (h ChatHandler) ArchiveConversation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id := c.Param("id")
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	state, err := commands.Dispatch[chatapp.ArchiveConversationCommand, dto.ArchiveState](c.Request.Context(), h.Commands,
		chatapp.ArchiveConversationCommand{ConversationID: id, UserID: actor.UserID, Archived: req.Archived})
	if err != nil {
		h.respondError(c, err, "archive conversation", "conversation_id", id, "user_id", actor.UserID)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h ChatHandler) UnreadTotal(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	userID := targetUser(c, actor.UserID, actor.HasRole("admin"))
	total, err := queries.Ask[chatapp.UnreadTotalQuery, dto.UnreadTotal](c.Request.Context(), h.Queries,
		chatapp.UnreadTotalQuery{UserID: userID})
	if err != nil {
		h.respondError(c, err, "unread total", "user_id", userID)
		return
	}
	c.JSON(http.StatusOK, total)
}

func (h ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError && h.Logger != nil {
		fields := append([]any{"error", err}, attrs...)
		h.Logger.Error(action+" failed", fields...)
	}
	c.JSON(status, gin.H{"error": message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domainchat.ErrUnauthorized):
		return http.StatusUnauthorized, "not allowed to act for this user"
	case errors.Is(err, domainchat.ErrPermissionDenied):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domainchat.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domainchat.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domainchat.ErrTransientStore):
		return http.StatusServiceUnavailable, "messaging store unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func startStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func targetUser(c *gin.Context, self string, admin bool) string {
	if admin {
		if other := strings.TrimSpace(c.Query("user_id")); other != "" {
			return other
		}
	}
	return self
}

// viewer is empty for admins, which the query handlers treat as unrestricted.
func viewer(self string, admin bool) string {
	if admin {
		return ""
	}
	return self
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("invalid limit")
	}
	return v, nil
}

var _ ChatHTTP = ChatHandler{}
