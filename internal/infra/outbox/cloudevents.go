package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	appoutbox "ncpwheels/internal/app/outbox"
)

const (
	defaultSource    = "app://ncpwheels-messaging"
	cloudEventsMedia = "application/cloudevents+json"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// CloudEvent is the structured-mode envelope written to the broker.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	Time            string          `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	TraceParent     string          `json:"traceparent,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// FormatCloudEvent wraps a record. The event id is the record id, so consumers can drop
// redeliveries.
func FormatCloudEvent(rec appoutbox.EventRecord, source string) ([]byte, map[string]string, error) {
	if !json.Valid(rec.Payload) {
		return nil, nil, fmt.Errorf("outbox: record %s payload is not json", rec.ID)
	}
	if source == "" {
		source = defaultSource
	}
	evt := CloudEvent{
		SpecVersion:     "1.0",
		ID:              rec.ID,
		Type:            rec.Name + ".v1",
		Source:          source,
		Subject:         rec.Aggregate,
		Time:            rec.OccurredAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		DataContentType: "application/json",
		TraceParent:     rec.Headers["traceparent"],
		Data:            json.RawMessage(rec.Payload),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": cloudEventsMedia,
	}
	for k, v := range rec.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

// TopicFor maps "chat.message_sent" to "<prefix>chat.events.v1".
func TopicFor(prefix, name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	return prefix + base + ".events.v1"
}

// Publisher formats records and hands them to a Producer keyed by aggregate id, which
// keeps one conversation's events on one partition.
type Publisher struct {
	Producer    Producer
	TopicPrefix string
	Source      string
}

func (p Publisher) Publish(ctx context.Context, rec appoutbox.EventRecord) error {
	payload, headers, err := FormatCloudEvent(rec, p.Source)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, TopicFor(p.TopicPrefix, rec.Name), rec.Aggregate, payload, headers)
}

// PublishAll publishes records in order and stops at the first failure. Its signature
// matches the in-memory outbox sink.
func (p Publisher) PublishAll(ctx context.Context, records []appoutbox.EventRecord) error {
	for _, rec := range records {
		if err := p.Publish(ctx, rec); err != nil {
			return fmt.Errorf("outbox: publish %s: %w", rec.ID, err)
		}
	}
	return nil
}
