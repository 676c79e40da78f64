package eventlogger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a record of something that happened to a group ledger. Data is
// whatever payload the emitter attached; events read back from storage carry
// it as raw JSON.
type Event struct {
	ID        uuid.UUID         `json:"id,omitempty"`
	Type      string            `json:"event_type,omitempty"`
	GroupCode string            `json:"group_code,omitempty"`
	Data      any               `json:"event_data,omitempty"`
	Metadata  map[string]string `json:"event_metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type EventOption func(*Event)

func WithType(eventType string) EventOption {
	return func(e *Event) {
		e.Type = eventType
	}
}

func WithGroup(groupCode string) EventOption {
	return func(e *Event) {
		e.GroupCode = groupCode
	}
}

func WithData(data any) EventOption {
	return func(e *Event) {
		e.Data = data
	}
}

func WithMetadata(metadata map[string]string) EventOption {
	return func(e *Event) {
		for k, v := range metadata {
			e.Metadata[k] = v
		}
	}
}

func NewEvent(opts ...EventOption) Event {
	e := Event{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

type metadataKey struct{}

// ContextWithMetadata returns a context whose events carry metadata, merged
// over whatever the context already carried.
func ContextWithMetadata(ctx context.Context, metadata map[string]string) context.Context {
	merged := make(map[string]string, len(metadata))
	for k, v := range MetadataFromContext(ctx) {
		merged[k] = v
	}
	for k, v := range metadata {
		if v != "" {
			merged[k] = v
		}
	}
	return context.WithValue(ctx, metadataKey{}, merged)
}

func MetadataFromContext(ctx context.Context) map[string]string {
	metadata, _ := ctx.Value(metadataKey{}).(map[string]string)
	return metadata
}

// DecodeData unmarshals the payload of an event read from storage.
func (e Event) DecodeData(v any) error {
	raw, ok := e.Data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, v)
}

type EventLogger interface {
	Save(ctx context.Context, e Event) error
	GetByGroup(ctx context.Context, groupCode string, limit int) ([]Event, error)
}
