package live

import (
	"encoding/json"
	"fmt"
	"strings"

	"ncpwheels/internal/domain/chat"
)

// SignalFromEvent maps a published chat event onto the keys it touched. The name may
// carry a version suffix ("chat.message_sent.v1"). ok is false for events that do not
// concern live views.
func SignalFromEvent(name string, data []byte) (sig Signal, ok bool, err error) {
	name = strings.TrimSuffix(name, ".v1")
	var body struct {
		ConversationID chat.ConversationID `json:"conversation_id"`
		Participants   []string            `json:"participants"`
		Flipped        int                 `json:"flipped"`
	}
	switch name {
	case chat.EventConversationStarted, chat.EventMessageSent, chat.EventConversationRead, chat.EventConversationArchived:
	default:
		return Signal{}, false, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return Signal{}, false, fmt.Errorf("live: decode %s: %w", name, err)
	}
	if body.ConversationID == "" {
		return Signal{}, false, fmt.Errorf("live: %s without conversation id", name)
	}
	sig = Signal{ConversationID: body.ConversationID, Participants: body.Participants, Conversations: true}
	switch name {
	case chat.EventMessageSent:
		sig.Messages = true
	case chat.EventConversationRead:
		sig.Messages = body.Flipped > 0
	}
	return sig, true, nil
}
