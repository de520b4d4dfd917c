package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// ZapAdapter routes watermill's internal logging into zap.
type ZapAdapter struct {
	log *zap.Logger
}

// NewZapAdapter returns a watermill.LoggerAdapter backed by log.
func NewZapAdapter(log *zap.Logger) watermill.LoggerAdapter {
	return ZapAdapter{log: log.Named("watermill")}
}

func (a ZapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, append(toZap(fields), zap.Error(err))...)
}

func (a ZapAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(msg, toZap(fields)...)
}

func (a ZapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, toZap(fields)...)
}

// Trace is folded into debug.
func (a ZapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, toZap(fields)...)
}

func (a ZapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return ZapAdapter{log: a.log.With(toZap(fields)...)}
}

func toZap(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
