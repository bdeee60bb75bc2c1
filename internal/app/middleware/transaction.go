package middleware

import (
	"context"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/uow"
)

// MaxTransactionAttempts bounds how often a command is rerun after a retryable failure.
const MaxTransactionAttempts = 3

type TxOptionsProvider func(cmd commands.Command) uow.TxOptions

// Transaction runs each command inside a unit of work and commits on success. When the
// factory is a uow.Retrier and reports the failure as retryable, the whole command is
// rerun in a fresh unit. A command joining a unit already in ctx runs once.
func Transaction(factory uow.UoWFactory, optsProvider TxOptionsProvider) CommandMiddleware {
	if factory == nil {
		panic("middleware: uow factory required")
	}
	retrier, _ := factory.(uow.Retrier)
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		attempt := func(ctx context.Context, cmd commands.Command, opts uow.TxOptions) (any, error) {
			scope, err := uow.Open(ctx, factory, opts)
			if err != nil {
				return nil, err
			}
			defer scope.Close()

			res, err := nextFn(scope.Ctx, cmd)
			if err != nil {
				return nil, err
			}
			if err := scope.Commit(); err != nil {
				return nil, err
			}
			return res, nil
		}
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			opts := uow.TxOptions{}
			if optsProvider != nil {
				opts = optsProvider(cmd)
			}
			if _, joined := uow.FromContext(ctx); joined || retrier == nil {
				return attempt(ctx, cmd, opts)
			}
			for n := 1; ; n++ {
				res, err := attempt(ctx, cmd, opts)
				if err == nil || n >= MaxTransactionAttempts || ctx.Err() != nil || !retrier.Retryable(err) {
					return res, err
				}
			}
		})
	}
}
