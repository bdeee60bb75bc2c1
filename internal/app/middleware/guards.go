package middleware

import (
	"context"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/queries"
)

// Validator rejects malformed messages before they reach a handler.
type Validator interface {
	Validate(ctx context.Context, message any) error
}

// Authorizer decides whether the caller in ctx may run message.
type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// guard is a precondition checked before the wrapped bus runs. A failed check
// short-circuits the chain with its error.
type guard func(ctx context.Context, message any) error

func (g guard) onCommands() CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := g(ctx, cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func (g guard) onQueries() QueryMiddleware {
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := g(ctx, q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}

func validatorGuard(v Validator) guard {
	if v == nil {
		panic("middleware: validator required")
	}
	return v.Validate
}

func authorizerGuard(a Authorizer) guard {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return a.Authorize
}

func Validation(v Validator) CommandMiddleware { return validatorGuard(v).onCommands() }

func QueryValidation(v Validator) QueryMiddleware { return validatorGuard(v).onQueries() }

func Authorization(a Authorizer) CommandMiddleware { return authorizerGuard(a).onCommands() }

func QueryAuthorization(a Authorizer) QueryMiddleware { return authorizerGuard(a).onQueries() }
