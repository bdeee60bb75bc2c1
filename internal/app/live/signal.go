// Package live fans store changes out to subscribers as full snapshots.
//
// Change notifications arrive as Signals, either from a store's native change feed or
// from a Publisher fed by the command pipeline. The Hub never forwards signal payloads
// to subscribers; it reloads the affected snapshot, so every delivery is a consistent
// view read after the change.
package live

import (
	"context"

	"ncpwheels/internal/domain/chat"
)

// Signal names the keys a write touched.
type Signal struct {
	ConversationID chat.ConversationID `json:"conversation_id"`
	Participants   []string            `json:"participants"`
	// Messages is set when the message log changed (append or read flags).
	Messages bool `json:"messages"`
	// Conversations is set when the conversation row changed (create, summary, counters).
	Conversations bool `json:"conversations"`
}

// Source produces signals until ctx is done or the underlying watch fails.
type Source interface {
	Run(ctx context.Context, emit func(Signal)) error
}

// Publisher broadcasts a signal to every Source listening on the same channel.
type Publisher interface {
	Publish(ctx context.Context, sig Signal) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, emit func(Signal)) error

func (f SourceFunc) Run(ctx context.Context, emit func(Signal)) error {
	return f(ctx, emit)
}

// Snapshotter loads the views delivered to subscribers.
type Snapshotter interface {
	Messages(ctx context.Context, id chat.ConversationID) ([]chat.Message, error)
	Conversations(ctx context.Context, userID string) ([]*chat.Conversation, error)
}

// RepositorySnapshots reads snapshots straight from a repository.
type RepositorySnapshots struct {
	Repo chat.Repository
}

func (r RepositorySnapshots) Messages(ctx context.Context, id chat.ConversationID) ([]chat.Message, error) {
	return r.Repo.Messages(ctx, id, chat.MessagePage{})
}

func (r RepositorySnapshots) Conversations(ctx context.Context, userID string) ([]*chat.Conversation, error) {
	return r.Repo.ListByParticipant(ctx, userID)
}
