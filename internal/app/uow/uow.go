package uow

import (
	"context"

	"ncpwheels/internal/domain/chat"
)

// UnitOfWork scopes repository access to one transaction boundary.
type UnitOfWork interface {
	Conversations() chat.Repository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UoWFactory starts unit of work instances.
type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

type TxOptions struct {
	ReadOnly bool
}

// Scope is a unit of work either joined from the context or owned by the caller.
type Scope struct {
	Unit      UnitOfWork
	Ctx       context.Context
	owned     bool
	committed bool
}

// Open joins the unit of work carried by ctx, or begins a new one from factory.
func Open(ctx context.Context, factory UoWFactory, opts TxOptions) (*Scope, error) {
	if unit, ok := FromContext(ctx); ok {
		return &Scope{Unit: unit, Ctx: ctx}, nil
	}
	if factory == nil {
		return nil, ErrUnitOfWorkMissing
	}
	unit, err := factory.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	execCtx := ctx
	if injector, ok := unit.(interface {
		InjectContext(context.Context) context.Context
	}); ok {
		execCtx = injector.InjectContext(ctx)
	}
	return &Scope{Unit: unit, Ctx: ContextWithUnitOfWork(execCtx, unit), owned: true}, nil
}

// Commit commits an owned unit. Joined units are committed by whoever began them.
func (s *Scope) Commit() error {
	if !s.owned || s.committed {
		return nil
	}
	if err := s.Unit.Commit(s.Ctx); err != nil {
		return err
	}
	s.committed = true
	return nil
}

// Close rolls back an owned unit that was not committed.
func (s *Scope) Close() {
	if s.owned && !s.committed {
		_ = s.Unit.Rollback(s.Ctx)
	}
}

// Retrier is implemented by factories whose units can fail in ways a fresh attempt
// may clear, such as a transaction write conflict.
type Retrier interface {
	Retryable(err error) bool
}

// Transactional is implemented by units whose writes are discarded on rollback.
type Transactional interface {
	Transactional() bool
}

// IsTransactional reports whether ctx carries a unit that rolls its writes back together.
func IsTransactional(ctx context.Context) bool {
	unit, ok := FromContext(ctx)
	if !ok {
		return false
	}
	tx, ok := unit.(Transactional)
	return ok && tx.Transactional()
}
