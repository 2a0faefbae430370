package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/repohelper"
)

var _ repohelper.Logger = Logger{}

type Logger struct{ L *zap.Logger }

func (z Logger) Debug(msg string, f repohelper.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f repohelper.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f repohelper.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f repohelper.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f repohelper.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for _, k := range f.Keys() {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
