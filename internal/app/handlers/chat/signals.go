package chat

import (
	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/dto"
	"ncpwheels/internal/app/live"
	domainchat "ncpwheels/internal/domain/chat"
)

// SignalsFor reports the live keys touched by a successful chat command.
func SignalsFor(_ commands.Command, result any) []live.Signal {
	switch r := result.(type) {
	case dto.ConversationRef:
		if r.Created {
			return []live.Signal{conversationSignal(r.ID, r.Participants, false)}
		}
	case dto.SentMessage:
		return []live.Signal{conversationSignal(r.Message.ConversationID, r.Participants, true)}
	case dto.ReadReceipt:
		if r.Changed {
			return []live.Signal{conversationSignal(r.ConversationID, r.Participants, true)}
		}
	case dto.ArchiveState:
		if r.Changed {
			return []live.Signal{conversationSignal(r.ConversationID, r.Participants, false)}
		}
	case ContactResult:
		if r.Message != nil {
			return SignalsFor(nil, *r.Message)
		}
		return SignalsFor(nil, r.Conversation)
	}
	return nil
}

func conversationSignal(id string, participants []string, messages bool) live.Signal {
	return live.Signal{
		ConversationID: domainchat.ConversationID(id),
		Participants:   append([]string(nil), participants...),
		Messages:       messages,
		Conversations:  true,
	}
}
