package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with an operation name and, when known,
// the frame request id the operation belongs to.
func WithOperation(logger *zap.Logger, operation string, requestID uint64) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != 0 {
		fields = append(fields, zap.Uint64("request_id", requestID))
	}
	return logger.With(fields...)
}

// WithConnection enriches the logger with a connection identifier.
func WithConnection(logger *zap.Logger, connID string) *zap.Logger {
	if connID == "" {
		return logger
	}
	return logger.With(zap.String("conn_id", connID))
}
