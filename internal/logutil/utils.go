package logutil

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Values groups a set of zap.Fields under a single "values" object field.
func Values(fields ...zap.Field) zap.Field {
	return zap.Object("values", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for _, f := range fields {
			f.AddTo(enc)
		}
		return nil
	}))
}

// Doc logs a match document as a "doc" object, one field per top-level
// key. Values go through zap.Any.
func Doc(doc map[string]any) zap.Field {
	return zap.Object("doc", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for k, v := range doc {
			zap.Any(k, v).AddTo(enc)
		}
		return nil
	}))
}
