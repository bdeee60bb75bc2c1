// Package chat holds the command and query handlers of the messaging core.
package chat

const (
	startConversationKey = "chat.conversation.start"
	contactSellerKey     = "chat.conversation.contact_seller"
	sendMessageKey       = "chat.message.send"
	markReadKey          = "chat.conversation.mark_read"
	archiveKey           = "chat.conversation.archive"

	getConversationKey   = "chat.conversation.get"
	listConversationsKey = "chat.conversation.list"
	listMessagesKey      = "chat.message.list"
	unreadTotalKey       = "chat.unread.total"
)
