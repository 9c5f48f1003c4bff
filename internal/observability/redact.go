package observability

import (
	"slices"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redactedMarker = "[REDACTED]"

// minSecretLen keeps short or placeholder values from masking ordinary text.
const minSecretLen = 8

var secrets atomic.Pointer[[]string]

// RegisterSecrets masks every occurrence of values in log messages, string
// fields and error fields written through the global logger. Values shorter
// than eight characters are ignored.
func RegisterSecrets(values ...string) {
	for {
		old := secrets.Load()
		var next []string
		if old != nil {
			next = slices.Clone(*old)
		}
		for _, v := range values {
			v = strings.TrimSpace(v)
			if len(v) >= minSecretLen && !slices.Contains(next, v) {
				next = append(next, v)
			}
		}
		if secrets.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Redact replaces registered secrets in s.
func Redact(s string) string {
	list := secrets.Load()
	if list == nil {
		return s
	}
	for _, v := range *list {
		s = strings.ReplaceAll(s, v, redactedMarker)
	}
	return s
}

// redactingCore applies Redact to everything that reaches the wrapped core.
type redactingCore struct {
	zapcore.Core
}

func (c redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return redactingCore{c.Core.With(redactFields(fields))}
}

func (c redactingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c redactingCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	e.Message = Redact(e.Message)
	return c.Core.Write(e, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	if list := secrets.Load(); list == nil || len(*list) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = Redact(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok && err != nil {
				f = zap.String(f.Key, Redact(err.Error()))
			}
		}
		out[i] = f
	}
	return out
}
