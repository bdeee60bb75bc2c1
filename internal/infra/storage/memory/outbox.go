package memory

import (
	"context"
	"log/slog"
	"sync"

	appoutbox "ncpwheels/internal/app/outbox"
)

// Sink receives flushed records, e.g. a broker publisher.
type Sink func(ctx context.Context, records []appoutbox.EventRecord) error

// Outbox buffers records per flush and keeps a history of everything flushed.
type Outbox struct {
	mu      sync.Mutex
	pending []appoutbox.EventRecord
	flushed []appoutbox.EventRecord
	sink    Sink
	logger  *slog.Logger
}

func NewOutbox(sink Sink, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{sink: sink, logger: logger}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, record)
	return nil
}

// Flush hands pending records to the sink. Records the sink rejected stay pending for
// the next flush; the caller's command is not failed.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if o.sink != nil {
		if err := o.sink(ctx, batch); err != nil {
			o.logger.Warn("outbox sink failed, keeping records", "count", len(batch), "error", err)
			o.mu.Lock()
			o.pending = append(batch, o.pending...)
			o.mu.Unlock()
			return nil
		}
	}
	o.mu.Lock()
	o.flushed = append(o.flushed, batch...)
	o.mu.Unlock()
	return nil
}

// Flushed returns a copy of every record flushed so far.
func (o *Outbox) Flushed() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]appoutbox.EventRecord(nil), o.flushed...)
}

func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

var _ appoutbox.Outbox = (*Outbox)(nil)
