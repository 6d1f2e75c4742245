package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the context's tracing fields to logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.GroupID != 0 {
		lc = lc.Int64("group_id", tc.GroupID)
	}
	if tc.UserID != 0 {
		lc = lc.Int64("user_id", tc.UserID)
	}
	if tc.UpdateID != 0 {
		lc = lc.Int("update_id", tc.UpdateID)
	}
	return lc.Logger()
}

// MergeContext copies tracing fields from source that target does not already carry.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.GroupID != 0 && GetGroupID(target) == 0 {
		target = WithGroupID(target, tc.GroupID)
	}
	if tc.UserID != 0 && GetUserID(target) == 0 {
		target = WithUserID(target, tc.UserID)
	}
	if tc.UpdateID != 0 && GetUpdateID(target) == 0 {
		target = WithUpdateID(target, tc.UpdateID)
	}

	return target
}

// Detach keeps the tracing fields of ctx but drops its deadline and cancellation,
// for work that must finish after the update's context is done.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
