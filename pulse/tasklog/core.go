package tasklog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// core is a zapcore.Core that writes into a Collector.
type core struct {
	zapcore.LevelEnabler
	c      *Collector
	fields []zapcore.Field
}

// NewCore returns a zapcore.Core writing entries at or above level into c.
func NewCore(c *Collector, level zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: level, c: c}
}

// Tee returns l with every entry also written into c.
func Tee(l *zap.SugaredLogger, c *Collector) *zap.SugaredLogger {
	return l.Desugar().WithOptions(zap.WrapCore(func(inner zapcore.Core) zapcore.Core {
		return zapcore.NewTee(inner, NewCore(c, zapcore.DebugLevel))
	})).Sugar()
}

func (x *core) With(fields []zapcore.Field) zapcore.Core {
	clone := *x
	clone.fields = append(append([]zapcore.Field{}, x.fields...), fields...)
	return &clone
}

func (x *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if x.Enabled(ent.Level) {
		return ce.AddCore(ent, x)
	}
	return ce
}

func (x *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range x.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	r := Record{
		Level:     levelName(ent.Level),
		Message:   ent.Message,
		Timestamp: ent.Time,
	}
	if v, ok := enc.Fields["error"]; ok {
		r.Exception = fmt.Sprint(v)
		delete(enc.Fields, "error")
		delete(enc.Fields, "errorVerbose")
	}
	if len(enc.Fields) > 0 {
		r.Fields = enc.Fields
	}
	x.c.add(r)
	return nil
}

func (x *core) Sync() error { return nil }

func levelName(l zapcore.Level) string {
	switch {
	case l <= zapcore.DebugLevel:
		return LevelDebug
	case l == zapcore.InfoLevel:
		return LevelInfo
	case l == zapcore.WarnLevel:
		return LevelWarning
	case l == zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelCritical
	}
}
