package telemetry

import "go.uber.org/zap"

// leveled adapts zap to retryablehttp.LeveledLogger. Retry chatter is demoted to debug.
type leveled struct{ s *zap.SugaredLogger }

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

func (l leveled) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l leveled) Warn(msg string, kv ...interface{}) { l.s.Warnw(msg, kv...) }
