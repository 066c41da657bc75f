// Package zap adapts go.uber.org/zap to fieldsync.Logger. The daemon logs
// through it by default.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/fieldsync"
)

var _ fieldsync.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New wraps l; a nil l logs nowhere.
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l}
}

// Named returns a child logger, e.g. Named("coordinator").
func (z Logger) Named(component string) Logger { return Logger{L: z.L.Named(component)} }

func (z Logger) Debug(msg string, f fieldsync.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f fieldsync.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f fieldsync.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f fieldsync.Fields) { z.L.Error(msg, zf(f)...) }

// zf emits fields in key order so log lines diff cleanly.
func zf(f fieldsync.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
