package chat

import (
	"log/slog"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/live"
	"ncpwheels/internal/app/middleware"
	"ncpwheels/internal/app/outbox"
	"ncpwheels/internal/app/policies"
	"ncpwheels/internal/app/queries"
	"ncpwheels/internal/app/uow"
)

// Deps are the collaborators shared by the chat handlers.
type Deps struct {
	UoWFactory uow.UoWFactory
	Listings   policies.ListingDirectory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Logger     *slog.Logger
}

// Register binds every chat handler to its bus.
func Register(cmdBus *commands.InMemoryBus, queryBus *queries.InMemoryBus, deps Deps) {
	start := &StartConversationHandler{
		UoWFactory: deps.UoWFactory,
		Listings:   deps.Listings,
		Outbox:     deps.Outbox,
		Encoder:    deps.Encoder,
		Logger:     deps.Logger,
	}
	send := &SendMessageHandler{
		UoWFactory: deps.UoWFactory,
		Outbox:     deps.Outbox,
		Encoder:    deps.Encoder,
		Logger:     deps.Logger,
	}
	commands.RegisterHandler(cmdBus, startConversationKey, start)
	commands.RegisterHandler(cmdBus, sendMessageKey, send)
	commands.RegisterHandler(cmdBus, contactSellerKey, &ContactSellerHandler{
		UoWFactory: deps.UoWFactory,
		Listings:   deps.Listings,
		Start:      start,
		Send:       send,
	})
	commands.RegisterHandler(cmdBus, markReadKey, &MarkConversationReadHandler{
		UoWFactory: deps.UoWFactory,
		Outbox:     deps.Outbox,
		Encoder:    deps.Encoder,
		Logger:     deps.Logger,
	})
	commands.RegisterHandler(cmdBus, archiveKey, &ArchiveConversationHandler{
		UoWFactory: deps.UoWFactory,
		Outbox:     deps.Outbox,
		Encoder:    deps.Encoder,
		Logger:     deps.Logger,
	})

	queries.RegisterHandler(queryBus, getConversationKey, &GetConversationHandler{UoWFactory: deps.UoWFactory})
	queries.RegisterHandler(queryBus, listConversationsKey, &ListConversationsHandler{UoWFactory: deps.UoWFactory})
	queries.RegisterHandler(queryBus, listMessagesKey, &ListMessagesHandler{UoWFactory: deps.UoWFactory})
	queries.RegisterHandler(queryBus, unreadTotalKey, &UnreadTotalHandler{UoWFactory: deps.UoWFactory})
}

// Pipeline holds the optional collaborators of the command chain.
type Pipeline struct {
	Idempotency middleware.IdempotencyStore
	// Signals publishes live signals for stores without a native change feed.
	Signals live.Publisher
}

// NewBuses registers the chat handlers and wraps both buses with the standard chain:
// validation, authorization, signals, outbox flush, transaction, idempotency. The
// idempotency record is written inside the command's unit of work, and the outbox is
// flushed after that unit commits.
func NewBuses(deps Deps, p Pipeline) (commands.Bus, queries.Bus) {
	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	Register(cmdBus, queryBus, deps)

	var signals, idempotency middleware.CommandMiddleware
	if p.Signals != nil {
		signals = middleware.Signals(p.Signals, SignalsFor, deps.Logger)
	}
	if p.Idempotency != nil {
		idempotency = middleware.Idempotency(p.Idempotency, nil, deps.Logger)
	}
	cmds := middleware.ChainCommands(cmdBus,
		middleware.Validation(Validator{}),
		middleware.Authorization(Authorizer{}),
		signals,
		middleware.OutboxFlush(deps.Outbox, deps.Logger),
		middleware.Transaction(deps.UoWFactory, nil),
		idempotency,
	)
	qs := middleware.ChainQueries(queryBus,
		middleware.QueryValidation(Validator{}),
		middleware.QueryAuthorization(Authorizer{}),
	)
	return cmds, qs
}
