package memory

import (
	"context"
	"errors"

	"ncpwheels/internal/app/uow"
	domainchat "ncpwheels/internal/domain/chat"
)

var ErrFactoryMisconfigured = errors.New("memory: unit of work factory misconfigured")

// Factory hands out units over the in-memory store. Each repository write is already
// atomic, so commit and rollback have nothing to do.
type Factory struct {
	Conversations domainchat.Repository
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.Conversations == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{conversations: f.Conversations}, nil
}

type Unit struct {
	conversations domainchat.Repository
}

func (u *Unit) Conversations() domainchat.Repository { return u.conversations }

func (u *Unit) Commit(ctx context.Context) error { return nil }

func (u *Unit) Rollback(ctx context.Context) error { return nil }
