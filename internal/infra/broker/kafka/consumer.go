package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"ncpwheels/internal/app/live"
)

// Deduper records consumed event ids. Seen reports whether id was recorded before.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// SignalSource turns chat events on the broker back into live signals, so every
// instance refreshes its subscribers no matter which instance handled the write.
// GroupID must be unique per instance; a shared group would split the partitions.
type SignalSource struct {
	Brokers []string
	GroupID string
	Topics  []string
	Config  *sarama.Config
	// Dedup drops redelivered events after a rebalance. Optional.
	Dedup  Deduper
	Logger *slog.Logger
}

func (s SignalSource) Run(ctx context.Context, emit func(live.Signal)) error {
	cfg := s.Config
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = false
	group, err := sarama.NewConsumerGroup(s.Brokers, s.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("kafka: consumer group: %w", err)
	}
	defer group.Close()

	handler := signalHandler{emit: emit, dedup: s.Dedup, logger: s.logger()}
	for {
		if err := group.Consume(ctx, s.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return ctx.Err()
			}
			return fmt.Errorf("kafka: consume: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s SignalSource) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

type signalHandler struct {
	emit   func(live.Signal)
	dedup  Deduper
	logger *slog.Logger
}

func (h signalHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h signalHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h signalHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		h.handle(sess.Context(), message)
		sess.MarkMessage(message, "")
	}
	return nil
}

func (h signalHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	id, sig, ok, err := decodeEvent(message.Value)
	if err != nil {
		h.logger.Warn("skipping undecodable chat event", "topic", message.Topic, "offset", message.Offset, "error", err)
		return
	}
	if !ok {
		return
	}
	if h.dedup != nil && id != "" {
		seen, err := h.dedup.Seen(ctx, id)
		if err != nil {
			// A refresh too many is harmless; a missed one is not.
			h.logger.Warn("inbox check failed", "event_id", id, "error", err)
		} else if seen {
			return
		}
	}
	h.emit(sig)
}

// DecodeSignal reads a structured CloudEvent and maps it to a live signal.
func DecodeSignal(value []byte) (live.Signal, bool, error) {
	_, sig, ok, err := decodeEvent(value)
	return sig, ok, err
}

func decodeEvent(value []byte) (string, live.Signal, bool, error) {
	var evt struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(value, &evt); err != nil {
		return "", live.Signal{}, false, fmt.Errorf("kafka: decode cloudevent: %w", err)
	}
	sig, ok, err := live.SignalFromEvent(evt.Type, evt.Data)
	return evt.ID, sig, ok, err
}

var _ live.Source = SignalSource{}
