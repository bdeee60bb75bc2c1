package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"ncpwheels/internal/app/commands"
	chatapp "ncpwheels/internal/app/handlers/chat"
	"ncpwheels/internal/app/live"
	"ncpwheels/internal/app/middleware"
	appoutbox "ncpwheels/internal/app/outbox"
	"ncpwheels/internal/app/policies"
	"ncpwheels/internal/app/queries"
	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
	"ncpwheels/internal/infra/broker/kafka"
	"ncpwheels/internal/infra/broker/redis"
	"ncpwheels/internal/infra/config"
	mongostore "ncpwheels/internal/infra/db/mongo"
	grpcserver "ncpwheels/internal/infra/grpc"
	ginserver "ncpwheels/internal/infra/http/gin"
	"ncpwheels/internal/infra/inbox"
	"ncpwheels/internal/infra/obs"
	infraoutbox "ncpwheels/internal/infra/outbox"
	"ncpwheels/internal/infra/security"
	"ncpwheels/internal/infra/storage/memory"
	"ncpwheels/internal/infra/storage/scylla"
)

type application struct {
	cfg        config.Config
	logger     *slog.Logger
	instanceID string

	commands commands.Bus
	queries  queries.Bus
	hub      *live.Hub
	verifier security.TokenVerifier
	health   obs.HealthHandlers

	// source feeds the hub; nil when the command pipeline publishes to it directly.
	source live.Source
	worker *infraoutbox.Worker

	wg      sync.WaitGroup
	closers []func()
}

// storage is what one STORE_DRIVER contributes.
type storage struct {
	repo        domainchat.Repository
	factory     uow.UoWFactory
	listings    policies.ListingDirectory
	idempotency middleware.IdempotencyStore
	outbox      appoutbox.Outbox
	claims      infraoutbox.ClaimStore
	feed        live.Source
	ping        obs.Check
	// db is set for the mongo driver only.
	db *mongo.Database
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		cfg:        cfg,
		logger:     logger,
		instanceID: uuid.NewString()[:8],
		verifier:   security.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
	}
	checks := map[string]obs.Check{}

	var publisher *infraoutbox.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		app.closers = append(app.closers, func() { _ = producer.Close() })
		publisher = &infraoutbox.Publisher{Producer: producer, TopicPrefix: cfg.KafkaTopicPrefix}
	}

	st, err := app.openStorage(ctx, publisher)
	if err != nil {
		app.close()
		return nil, err
	}
	checks["store"] = st.ping

	app.hub = live.NewHub(live.RepositorySnapshots{Repo: st.repo}, live.WithLogger(logger))
	checks["live"] = func(context.Context) error {
		if app.hub.Degraded() {
			return fmt.Errorf("live updates degraded")
		}
		return nil
	}

	var signals live.Publisher
	switch cfg.LiveSignals {
	case config.SignalsRedis:
		client := redis.NewClient(cfg.RedisAddr)
		app.closers = append(app.closers, func() { _ = client.Close() })
		rs := redis.Signals{Client: client, Channel: cfg.RedisChannel, Logger: logger}
		signals, app.source = rs, rs
		checks["redis"] = func(ctx context.Context) error { return pingRedis(ctx, client) }
	case config.SignalsKafka:
		// Every instance needs every event, so each one consumes under its own group.
		groupID := cfg.KafkaGroupID + "-" + app.instanceID
		src := kafka.SignalSource{
			Brokers: cfg.KafkaBrokers,
			GroupID: groupID,
			Topics:  []string{infraoutbox.TopicFor(cfg.KafkaTopicPrefix, domainchat.EventMessageSent)},
			Logger:  logger,
		}
		if st.db != nil {
			dedup, err := inbox.NewStore(ctx, st.db, groupID, inbox.DefaultRetention)
			if err != nil {
				app.close()
				return nil, err
			}
			src.Dedup = dedup
		}
		app.source = src
	default:
		if st.feed != nil {
			app.source = st.feed
		} else {
			signals = app.hub
		}
	}

	deps := chatapp.Deps{
		UoWFactory: st.factory,
		Listings:   st.listings,
		Outbox:     st.outbox,
		Logger:     logger,
	}
	app.commands, app.queries = chatapp.NewBuses(deps, chatapp.Pipeline{
		Idempotency: st.idempotency,
		Signals:     signals,
	})

	if st.claims != nil {
		if publisher != nil {
			app.worker = &infraoutbox.Worker{
				Store:     st.claims,
				Publisher: *publisher,
				Interval:  cfg.OutboxPollInterval,
				ID:        "messaging-" + app.instanceID,
				Backoff:   cfg.RetryBackoff,
				Logger:    logger,
			}
		} else {
			logger.Warn("outbox relay disabled, KAFKA_BROKERS is empty")
		}
	}

	app.health = obs.HealthHandlers{Checks: checks}
	return app, nil
}

func (a *application) openStorage(ctx context.Context, publisher *infraoutbox.Publisher) (storage, error) {
	cfg, logger := a.cfg, a.logger
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return storage{}, fmt.Errorf("mongo connect: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close(context.Background()) })
		repo := mongostore.NewConversationRepository(client.DB)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return storage{}, err
		}
		idem, err := mongostore.NewIdempotencyStore(ctx, client.DB, cfg.IdempotencyTTL)
		if err != nil {
			return storage{}, err
		}
		box, err := infraoutbox.NewStore(ctx, client.DB)
		if err != nil {
			return storage{}, err
		}
		transactions := cfg.MongoTransactions
		if transactions {
			ok, err := client.SupportsTransactions(ctx)
			switch {
			case err != nil:
				logger.Warn("mongo topology check failed, keeping transactions on", "error", err)
			case !ok:
				logger.Warn("mongo is a standalone server, transactions disabled")
				transactions = false
			}
		}
		logger.Info("mongo store ready", "db", cfg.MongoDB, "transactions", transactions)
		return storage{
			repo:        repo,
			factory:     mongostore.Factory{DB: client.DB, Conversations: repo, Transactions: transactions},
			listings:    mongostore.NewListingDirectory(client.DB),
			idempotency: idem,
			outbox:      box,
			claims:      box,
			feed:        mongostore.ChangeFeed{DB: client.DB},
			ping:        client.Ping,
			db:          client.DB,
		}, nil

	case config.StoreScylla:
		session, err := scylla.NewSession(ctx, cfg, logger)
		if err != nil {
			return storage{}, fmt.Errorf("scylla init: %w", err)
		}
		a.closers = append(a.closers, session.Close)
		store := scylla.NewStore(session, logger)
		return storage{
			repo:        store,
			factory:     scylla.Factory{Conversations: store},
			listings:    a.fixtureListings(),
			idempotency: memory.NewIdempotencyStore(cfg.IdempotencyTTL),
			outbox:      memory.NewOutbox(sinkFor(publisher), logger),
			ping: func(ctx context.Context) error {
				return session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
			},
		}, nil

	default:
		store := memory.NewConversationStore()
		return storage{
			repo:        store,
			factory:     memory.Factory{Conversations: store},
			listings:    a.fixtureListings(),
			idempotency: memory.NewIdempotencyStore(cfg.IdempotencyTTL),
			outbox:      memory.NewOutbox(sinkFor(publisher), logger),
			feed:        memory.Feed{Store: store},
			ping:        func(context.Context) error { return nil },
		}, nil
	}
}

func (a *application) fixtureListings() *memory.ListingDirectory {
	dir := memory.NewListingDirectory()
	n, err := dir.LoadFixtures(a.cfg.ListingsFixtures)
	if err != nil {
		a.logger.Warn("listing fixtures load failed", "error", err, "path", a.cfg.ListingsFixtures)
		return dir
	}
	a.logger.Info("listing fixtures loaded", "count", n, "path", a.cfg.ListingsFixtures)
	return dir
}

func sinkFor(publisher *infraoutbox.Publisher) memory.Sink {
	if publisher == nil {
		return nil
	}
	return publisher.PublishAll
}

func pingRedis(ctx context.Context, client *goredis.Client) error {
	return client.Ping(ctx).Err()
}

// startBackground runs the hub's signal source and the outbox relay until ctx ends.
func (a *application) startBackground(ctx context.Context) {
	if a.source != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.hub.Run(ctx, a.source)
		}()
	}
	if a.worker != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.worker.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}
}

func (a *application) wait() {
	a.wg.Wait()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *application) httpHandlers() ginserver.Handlers {
	return ginserver.Handlers{
		Chat: ginserver.ChatHandler{Commands: a.commands, Queries: a.queries, Logger: a.logger},
		Live: ginserver.LiveHandler{
			Hub:         a.hub,
			Queries:     a.queries,
			Logger:      a.logger,
			CheckOrigin: allowOrigins(a.cfg.CORSOrigins),
		},
		AuthMiddleware: ginserver.AuthMiddleware{Verifier: a.verifier, Logger: a.logger}.Handle,
	}
}

func (a *application) grpcService() *grpcserver.Server {
	return &grpcserver.Server{Commands: a.commands, Queries: a.queries, Hub: a.hub, Logger: a.logger}
}

func (a *application) grpcAuth() grpcserver.Authenticator {
	return grpcserver.Authenticator{Verifier: a.verifier, Logger: a.logger}
}

// allowOrigins accepts handshakes without an Origin header and from the CORS list.
func allowOrigins(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}
		for _, allowed := range origins {
			if allowed == "*" || strings.EqualFold(allowed, origin) {
				return true
			}
		}
		return false
	}
}
