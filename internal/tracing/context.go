// Package tracing carries per-update identifiers through contexts and into log lines.
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
	// GroupIDKey is the context key for the chat the update came from
	GroupIDKey ContextKey = "group_id"
	// UserIDKey is the context key for the message author
	UserIDKey ContextKey = "user_id"
	// UpdateIDKey is the context key for the Telegram update id
	UpdateIDKey ContextKey = "update_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID  string
	GroupID  int64
	UserID   int64
	UpdateID int
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithGroupID adds the chat id to the context
func WithGroupID(ctx context.Context, groupID int64) context.Context {
	return context.WithValue(ctx, GroupIDKey, groupID)
}

// WithUserID adds the author id to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithUpdateID adds the Telegram update id to the context
func WithUpdateID(ctx context.Context, updateID int) context.Context {
	return context.WithValue(ctx, UpdateIDKey, updateID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetGroupID returns the chat id, or 0 if none is set.
func GetGroupID(ctx context.Context) int64 {
	if id, ok := ctx.Value(GroupIDKey).(int64); ok {
		return id
	}
	return 0
}

// GetUserID returns the author id, or 0 if none is set.
func GetUserID(ctx context.Context) int64 {
	if id, ok := ctx.Value(UserIDKey).(int64); ok {
		return id
	}
	return 0
}

// GetUpdateID returns the update id, or 0 if none is set.
func GetUpdateID(ctx context.Context) int {
	if id, ok := ctx.Value(UpdateIDKey).(int); ok {
		return id
	}
	return 0
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:  GetTraceID(ctx),
		GroupID:  GetGroupID(ctx),
		UserID:   GetUserID(ctx),
		UpdateID: GetUpdateID(ctx),
	}
}

// NewContext creates a new context with tracing information. Zero fields are skipped.
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.GroupID != 0 {
		ctx = WithGroupID(ctx, tc.GroupID)
	}
	if tc.UserID != 0 {
		ctx = WithUserID(ctx, tc.UserID)
	}
	if tc.UpdateID != 0 {
		ctx = WithUpdateID(ctx, tc.UpdateID)
	}
	return ctx
}

// NewUpdateContext starts a trace for one incoming Telegram update.
func NewUpdateContext(ctx context.Context, updateID int, groupID, userID int64) context.Context {
	return NewContext(ctx, &TraceContext{
		TraceID:  NewTraceID(),
		GroupID:  groupID,
		UserID:   userID,
		UpdateID: updateID,
	})
}
