package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	FieldProvider    = "ai_provider"
	FieldModel       = "ai_model"
	FieldLocation    = "location"
	FieldContentHash = "content_hash"
	FieldRunID       = "run_id"
)

// StringField is a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts key/value pairs into zap fields. Keys and values are
// trimmed and pairs with an empty side are dropped.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		value := strings.TrimSpace(field.Value)
		if key == "" || value == "" {
			continue
		}
		result = append(result, zap.String(key, value))
	}
	return result
}

// WithFields attaches fields to logger. A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// CommonFields describes the remote model behind a component.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, CommonFields(provider, model)...)
}

// DocumentFields identifies a corpus document in log entries.
func DocumentFields(location, contentHash string) []zap.Field {
	return StringFields(
		StringField{Key: FieldLocation, Value: location},
		StringField{Key: FieldContentHash, Value: contentHash},
	)
}

// WithRun tags every entry of an import run.
func WithRun(logger *zap.Logger, runID string) *zap.Logger {
	return WithFields(logger, StringFields(StringField{Key: FieldRunID, Value: runID})...)
}
