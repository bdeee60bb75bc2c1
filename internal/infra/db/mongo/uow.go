package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
)

var ErrUnitOfWorkNotConfigured = errors.New("mongo: unit of work factory missing database")

// transientTransactionLabel marks errors after which the server guarantees the
// transaction was aborted and can be rerun from the start.
const transientTransactionLabel = "TransientTransactionError"

// Factory opens a session transaction per write unit when Transactions is set. Read-only
// units and units without transactions run directly against the collections.
type Factory struct {
	DB            *mongo.Database
	Conversations domainchat.Repository
	Transactions  bool
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil || f.Conversations == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	if opts.ReadOnly || !f.Transactions {
		return &Unit{conversations: f.Conversations}, nil
	}
	session, err := f.DB.Client().StartSession()
	if err != nil {
		return nil, domainchat.Transient("mongo start session", err)
	}
	txnOpts := options.Transaction().SetReadConcern(f.DB.ReadConcern()).SetWriteConcern(f.DB.WriteConcern())
	if err := session.StartTransaction(txnOpts); err != nil {
		session.EndSession(ctx)
		return nil, domainchat.Transient("mongo start transaction", err)
	}
	return &Unit{conversations: f.Conversations, session: session}, nil
}

// Retryable reports whether err aborted a transaction the server labelled transient,
// e.g. a write conflict between two concurrent first contacts.
func (f Factory) Retryable(err error) bool {
	if !f.Transactions {
		return false
	}
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorLabel(transientTransactionLabel)
}

type Unit struct {
	conversations domainchat.Repository
	session       mongo.Session
}

func (u *Unit) Conversations() domainchat.Repository { return u.conversations }

func (u *Unit) Transactional() bool { return u.session != nil }

func (u *Unit) Commit(ctx context.Context) error {
	if u.session == nil {
		return nil
	}
	defer u.session.EndSession(ctx)
	if err := u.session.CommitTransaction(ctx); err != nil {
		return domainchat.Transient("mongo commit", err)
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	if u.session == nil {
		return nil
	}
	defer u.session.EndSession(ctx)
	return u.session.AbortTransaction(ctx)
}

// InjectContext binds the session so repository calls join the transaction.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	if u.session == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, u.session)
}

var (
	_ uow.Retrier       = Factory{}
	_ uow.Transactional = (*Unit)(nil)
)
