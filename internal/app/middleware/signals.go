package middleware

import (
	"context"
	"log/slog"

	"ncpwheels/internal/app/commands"
	"ncpwheels/internal/app/live"
)

// SignalExtractor maps a successful command and its result to the live signals it caused.
type SignalExtractor func(cmd commands.Command, result any) []live.Signal

// Signals publishes live signals after successful commands. It serves stores without a
// native change feed. Publish failures are logged; the command already committed.
func Signals(pub live.Publisher, extract SignalExtractor, logger *slog.Logger) CommandMiddleware {
	if pub == nil || extract == nil {
		panic("middleware: signal publisher and extractor required")
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
			for _, sig := range extract(cmd, res) {
				if pubErr := pub.Publish(context.WithoutCancel(ctx), sig); pubErr != nil {
					logger.Warn("live signal publish failed", "command", cmd.Key(), "conversation_id", sig.ConversationID, "error", pubErr)
				}
			}
			return res, nil
		})
	}
}
