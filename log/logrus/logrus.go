package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/repohelper"
)

var _ repohelper.Logger = Logger{}

// Logger logs through a logrus entry. An "err" field holding an error is
// attached with WithError so logrus formatters treat it as the error.
type Logger struct{ E *logrus.Entry }

func New(l *logrus.Logger) Logger { return Logger{E: logrus.NewEntry(l)} }

func (l Logger) Debug(msg string, f repohelper.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f repohelper.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f repohelper.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f repohelper.Fields) { l.with(f).Error(msg) }

func (l Logger) with(f repohelper.Fields) *logrus.Entry {
	e := l.E
	if len(f) == 0 {
		return e
	}
	fields := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		fields[k] = v
	}
	return e.WithFields(fields)
}
