package log

import (
	"context"
	"log/slog"

	"github.com/ErlanBelekov/pwchain/internal/requestid"
)

type (
	workchainKey struct{}
	workerKey    struct{}
)

// WithWorkchainID returns a copy of ctx that tags every log record with the
// workchain ID.
func WithWorkchainID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workchainKey{}, id)
}

// WorkchainIDFromContext returns "" if ctx carries no workchain ID.
func WorkchainIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workchainKey{}).(string)
	return id
}

// WithWorkerID tags records with the scheduler worker that owns ctx.
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// ContextHandler copies request_id, worker_id and workchain_id from the
// record's context into its attributes.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler returns a handler that enriches every record with
// context values before delegating to inner.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if id, ok := ctx.Value(workerKey{}).(string); ok && id != "" {
		r.AddAttrs(slog.String("worker_id", id))
	}
	if id := WorkchainIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("workchain_id", id))
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}
