package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ncpwheels/internal/app/live"
)

const DefaultChannel = "ncpwheels.chat.signals"

var ErrSubscriptionClosed = errors.New("redis: signal subscription closed")

// Signals carries live signals between instances over one pub/sub channel. It is both
// the Publisher fed by the command pipeline and the Source the hub listens on.
type Signals struct {
	Client  *redis.Client
	Channel string
	Logger  *slog.Logger
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (s Signals) Publish(ctx context.Context, sig live.Signal) error {
	payload, err := encodeSignal(sig)
	if err != nil {
		return err
	}
	if err := s.Client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish signal: %w", err)
	}
	return nil
}

// Run subscribes and forwards signals until ctx is done. A dropped subscription is
// reported as an error; the hub does not retry.
func (s Signals) Run(ctx context.Context, emit func(live.Signal)) error {
	pubsub := s.Client.Subscribe(ctx, s.channel())
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("redis: subscribe %s: %w", s.channel(), err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			sig, err := decodeSignal(msg.Payload)
			if err != nil {
				s.logger().Warn("skipping malformed live signal", "channel", msg.Channel, "error", err)
				continue
			}
			emit(sig)
		}
	}
}

func (s Signals) channel() string {
	if s.Channel != "" {
		return s.Channel
	}
	return DefaultChannel
}

func (s Signals) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func encodeSignal(sig live.Signal) (string, error) {
	if sig.ConversationID == "" {
		return "", errors.New("redis: signal without conversation id")
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("redis: encode signal: %w", err)
	}
	return string(raw), nil
}

func decodeSignal(payload string) (live.Signal, error) {
	var sig live.Signal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return live.Signal{}, fmt.Errorf("redis: decode signal: %w", err)
	}
	if sig.ConversationID == "" {
		return live.Signal{}, errors.New("redis: signal without conversation id")
	}
	return sig, nil
}

var (
	_ live.Publisher = Signals{}
	_ live.Source    = Signals{}
)
