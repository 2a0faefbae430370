// Package ctxd adapts bool64/ctxd loggers. Ctx carries request-scoped fields
// the ctxd logger may add; it defaults to context.Background.
package ctxd

import (
	"context"

	"github.com/bool64/ctxd"

	"github.com/unkn0wn-root/repohelper"
)

var _ repohelper.Logger = Logger{}

type Logger struct {
	L   ctxd.Logger
	Ctx context.Context
}

func (l Logger) Debug(msg string, f repohelper.Fields) { l.L.Debug(l.ctx(), msg, kv(f)...) }
func (l Logger) Info(msg string, f repohelper.Fields)  { l.L.Info(l.ctx(), msg, kv(f)...) }
func (l Logger) Warn(msg string, f repohelper.Fields)  { l.L.Warn(l.ctx(), msg, kv(f)...) }
func (l Logger) Error(msg string, f repohelper.Fields) { l.L.Error(l.ctx(), msg, kv(f)...) }

func (l Logger) ctx() context.Context {
	if l.Ctx == nil {
		return context.Background()
	}
	return l.Ctx
}

func kv(f repohelper.Fields) []interface{} {
	out := make([]interface{}, 0, 2*len(f))
	for _, k := range f.Keys() {
		out = append(out, k, f[k])
	}
	return out
}
