// Package ctxutil provides shared context key accessors.
//
// The gateway stamps a request id and an audit trail on the context of each
// tool call. Both mcp and the root package read them without importing each other.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyAudit     contextKey = "audit"
)

// WithRequestID returns a new context carrying id. An empty id is replaced
// with a fresh UUID.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request id from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithAudit returns a new context carrying meta.
func WithAudit(ctx context.Context, meta *AuditMeta) context.Context {
	return context.WithValue(ctx, keyAudit, meta)
}

// AuditFromContext extracts the audit trail from the context.
func AuditFromContext(ctx context.Context) *AuditMeta {
	if v, ok := ctx.Value(keyAudit).(*AuditMeta); ok {
		return v
	}
	return nil
}
