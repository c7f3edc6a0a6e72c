package activitymap

import (
	"context"

	authgate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-print"
)

// Handler receives normalized records.
type Handler func(ctx context.Context, record Normalized) error

// Sink is an authgate.ActivitySink that normalizes every event before
// handing it to a Handler.
type Sink struct {
	handler    Handler
	normalizer Normalizer
}

var _ authgate.ActivitySink = (*Sink)(nil)

// NewSink wraps handler. A nil handler drops every record.
func NewSink(handler Handler, opts ...Option) *Sink {
	return &Sink{handler: handler, normalizer: NewNormalizer(opts...)}
}

func (s *Sink) Record(ctx context.Context, event authgate.ActivityEvent) error {
	if s == nil || s.handler == nil {
		return nil
	}
	return s.handler(ctx, s.normalizer.Normalize(event))
}

// LogHandler writes each record to logger at info level.
func LogHandler(logger authgate.Logger) Handler {
	return func(_ context.Context, record Normalized) error {
		if logger == nil {
			return nil
		}
		logger.Info("activity",
			"verb", record.Verb,
			"actor_id", record.ActorID,
			"object_id", record.ObjectID,
			"record", print.MaybePrettyJSON(record),
		)
		return nil
	}
}
