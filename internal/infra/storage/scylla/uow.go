package scylla

import (
	"context"
	"errors"

	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
)

var ErrFactoryMisconfigured = errors.New("scylla: unit of work factory misconfigured")

// Factory hands out units without a transaction; each Store write is its own
// lightweight transaction.
type Factory struct {
	Conversations domainchat.Repository
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.Conversations == nil {
		return nil, ErrFactoryMisconfigured
	}
	return unit{conversations: f.Conversations}, nil
}

type unit struct {
	conversations domainchat.Repository
}

func (u unit) Conversations() domainchat.Repository { return u.conversations }

func (unit) Commit(context.Context) error   { return nil }
func (unit) Rollback(context.Context) error { return nil }
