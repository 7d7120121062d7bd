package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// UserIDKey is the context key for the chat user a request belongs to
	UserIDKey ContextKey = "user_id"
	// UpdateIDKey is the context key for the transport update being handled
	UpdateIDKey ContextKey = "update_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID  string
	UserID   string
	UpdateID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithUserID adds a user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithUpdateID adds a transport update ID to the context
func WithUpdateID(ctx context.Context, updateID string) context.Context {
	return context.WithValue(ctx, UpdateIDKey, updateID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetUserID retrieves the user ID from the context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetUpdateID retrieves the update ID from the context
func GetUpdateID(ctx context.Context) string {
	if updateID, ok := ctx.Value(UpdateIDKey).(string); ok {
		return updateID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:  GetTraceID(ctx),
		UserID:   GetUserID(ctx),
		UpdateID: GetUpdateID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.UserID != "" {
		ctx = WithUserID(ctx, tc.UserID)
	}
	if tc.UpdateID != "" {
		ctx = WithUpdateID(ctx, tc.UpdateID)
	}
	return ctx
}

// NewRequestContext creates a context for one inbound message with a fresh trace ID.
func NewRequestContext(ctx context.Context, userID string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	if userID != "" {
		ctx = WithUserID(ctx, userID)
	}
	return ctx
}
