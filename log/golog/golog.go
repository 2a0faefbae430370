// Package golog adapts ipfs/go-log subsystem loggers.
package golog

import (
	logging "github.com/ipfs/go-log/v2"

	"github.com/unkn0wn-root/repohelper"
)

var _ repohelper.Logger = Logger{}

type Logger struct{ L *logging.ZapEventLogger }

// New returns a Logger for the named go-log subsystem, e.g. "repohelper".
// Levels are controlled with logging.SetLogLevel(system, level).
func New(system string) Logger { return Logger{L: logging.Logger(system)} }

func (l Logger) Debug(msg string, f repohelper.Fields) { l.L.Debugw(msg, kv(f)...) }
func (l Logger) Info(msg string, f repohelper.Fields)  { l.L.Infow(msg, kv(f)...) }
func (l Logger) Warn(msg string, f repohelper.Fields)  { l.L.Warnw(msg, kv(f)...) }
func (l Logger) Error(msg string, f repohelper.Fields) { l.L.Errorw(msg, kv(f)...) }

func kv(f repohelper.Fields) []any {
	if len(f) == 0 {
		return nil
	}
	out := make([]any, 0, 2*len(f))
	for _, k := range f.Keys() {
		out = append(out, k, f[k])
	}
	return out
}
