package middleware

import (
	"context"
	"log/slog"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/outbox"
)

// OutboxFlush flushes box after every successful command. It wraps Transaction, so
// records are handed on only once the command's writes are committed. A failed flush
// leaves the records pending for the next flush or the relay worker; the command's
// result still stands.
func OutboxFlush(box outbox.Outbox, logger *slog.Logger) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := nextFn(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if err := box.Flush(ctx); err != nil {
				logger.Warn("outbox flush failed", "command", cmd.Key(), "error", err)
			}
			return res, nil
		})
	}
}
