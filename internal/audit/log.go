package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"opsgate.io/internal/auth"
	"opsgate.io/internal/ids"
	"opsgate.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so recorded
// events can be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder persists security events and mirrors each one into the structured
// log. Persistence failures are logged and swallowed: an audit write must
// never fail the operation that produced it.
type Recorder struct {
	store auth.Store
	log   obs.Logger
	now   func() time.Time
}

var _ auth.EventRecorder = (*Recorder)(nil)

// NewRecorder constructs a Recorder. A nil logger falls back to a no-op one.
func NewRecorder(store auth.Store, log obs.Logger) *Recorder {
	if log == nil {
		log = obs.NewNop()
	}
	return &Recorder{store: store, log: log, now: time.Now}
}

// Record fills in missing identity fields and appends the event.
func (r *Recorder) Record(ctx context.Context, e *auth.SecurityEvent) {
	if e == nil || strings.TrimSpace(e.Kind) == "" {
		return
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		if _, ok := e.Fields["request_id"]; !ok {
			e.Fields["request_id"] = rid
		}
	}

	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("kind", e.Kind),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.AccountID != "" {
		fields = append(fields, zap.String("account_id", e.AccountID))
	}
	if e.Email != "" {
		fields = append(fields, zap.String("email", e.Email))
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if len(e.Fields) > 0 {
		fields = append(fields, zap.Any("fields", e.Fields))
	}
	r.log.Info("security event", fields...)

	if r.store == nil {
		return
	}
	if err := r.store.Events(ctx).Append(ctx, e); err != nil {
		r.log.Error("security event not persisted",
			zap.String("kind", e.Kind), zap.Error(err))
	}
}

// Recent returns the newest persisted events.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]*auth.SecurityEvent, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.Events(ctx).List(ctx, limit)
}
