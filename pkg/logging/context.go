package logging

import (
	"context"
)

type contextKey struct{}

// FromContext returns the logger stored in ctx, or the global logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(contextKey{}).(*Logger); ok {
			return logger
		}
	}
	return GetGlobalLogger()
}

// IntoContext returns a copy of ctx carrying logger.
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// LoggerForRequest returns a logger carrying the request line of an API call.
func LoggerForRequest(api, method, path string) *Logger {
	return GetGlobalLogger().WithName(api).WithValues("method", method, "path", path)
}

// LoggerForOVN returns the logger of a Northbound operation made while
// serving ctx.
func LoggerForOVN(ctx context.Context, operation string) *Logger {
	return FromContext(ctx).WithName("ovn").WithValues("operation", operation)
}

// LoggerForAuth returns a logger for an auth plugin.
func LoggerForAuth(plugin string) *Logger {
	return GetGlobalLogger().WithName("auth").WithValues("plugin", plugin)
}
