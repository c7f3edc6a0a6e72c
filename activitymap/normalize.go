package activitymap

import (
	"strings"
	"time"

	authgate "github.com/goliatone/go-auth-gate"
)

// Metadata keys added by the Normalizer.
const (
	MetadataKeyForm       = "form"
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Normalizer maps authgate events onto Normalized records.
type Normalizer struct {
	Channel       string
	ObjectType    string
	ActorFallback string
	// ObjectID overrides the default object id, the form name for form
	// events and the user for session events.
	ObjectID func(authgate.ActivityEvent) string
	Now      func() time.Time
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithDefaultChannel sets the channel of every record.
func WithDefaultChannel(channel string) Option {
	return func(n *Normalizer) { n.Channel = strings.TrimSpace(channel) }
}

// WithDefaultObjectType sets the object type of every record.
func WithDefaultObjectType(objectType string) Option {
	return func(n *Normalizer) { n.ObjectType = strings.TrimSpace(objectType) }
}

func WithObjectIDResolver(resolver func(authgate.ActivityEvent) string) Option {
	return func(n *Normalizer) { n.ObjectID = resolver }
}

// WithActorFallback sets the actor used when the event carries no user.
func WithActorFallback(actorID string) Option {
	return func(n *Normalizer) { n.ActorFallback = strings.TrimSpace(actorID) }
}

// NewNormalizer returns a Normalizer for the "authgate" channel and the
// "session" object type.
func NewNormalizer(opts ...Option) Normalizer {
	n := Normalizer{
		Channel:       "authgate",
		ObjectType:    "session",
		ActorFallback: "anonymous",
		Now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&n)
		}
	}
	return n
}

// Normalize maps event with a Normalizer built from opts.
func Normalize(event authgate.ActivityEvent, opts ...Option) Normalized {
	return NewNormalizer(opts...).Normalize(event)
}

func (n Normalizer) Normalize(event authgate.ActivityEvent) Normalized {
	user := strings.TrimSpace(event.UserID)
	form := strings.TrimSpace(event.Form)

	out := Normalized{
		ActorID:    user,
		Verb:       string(event.EventType),
		ObjectType: n.ObjectType,
		ObjectID:   form,
		Channel:    n.Channel,
		Metadata:   n.metadata(event, form),
		OccurredAt: event.OccurredAt,
	}

	if out.ActorID == "" {
		out.ActorID = n.ActorFallback
	}

	switch {
	case n.ObjectID != nil:
		out.ObjectID = strings.TrimSpace(n.ObjectID(event))
	case out.ObjectID == "":
		out.ObjectID = user
	}

	if out.OccurredAt.IsZero() {
		now := n.Now
		if now == nil {
			now = time.Now
		}
		out.OccurredAt = now().UTC()
	}

	return out
}

// metadata copies the event metadata and adds the form and status keys.
// A form already present in the event metadata wins.
func (n Normalizer) metadata(event authgate.ActivityEvent, form string) map[string]any {
	extra := map[string]string{
		MetadataKeyFromStatus: string(event.FromStatus),
		MetadataKeyToStatus:   string(event.ToStatus),
	}
	if _, ok := event.Metadata[MetadataKeyForm]; !ok {
		extra[MetadataKeyForm] = form
	}

	var out map[string]any
	for k, v := range event.Metadata {
		if out == nil {
			out = make(map[string]any, len(event.Metadata)+len(extra))
		}
		out[k] = v
	}

	for k, v := range extra {
		if v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(extra))
		}
		out[k] = v
	}

	return out
}
