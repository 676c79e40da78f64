package eventlogger

import (
	"context"
	"errors"
	"log/slog"
)

// slogEventLogger writes events to a structured log instead of a table.
// It is used when the ledger runs without Postgres.
type slogEventLogger struct {
	logger *slog.Logger
}

func NewSlogEventLogger(logger *slog.Logger) *slogEventLogger {
	return &slogEventLogger{logger: logger}
}

func (el *slogEventLogger) Save(ctx context.Context, e Event) error {
	el.logger.InfoContext(ctx, "ledger event",
		"event_id", e.ID.String(),
		"event_type", e.Type,
		"group_code", e.GroupCode,
		"event_data", e.Data,
	)
	return nil
}

func (el *slogEventLogger) GetByGroup(context.Context, string, int) ([]Event, error) {
	return nil, errors.New("event history is not kept by the log sink")
}
