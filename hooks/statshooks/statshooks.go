// Package statshooks reports helper events to a bool64/stats tracker.
package statshooks

import (
	"context"

	"github.com/bool64/stats"

	"github.com/unkn0wn-root/repohelper"
)

// Metric names.
const (
	MetricRemoteFetched     = "repohelper_remote_fetched"
	MetricRemoteFetchFailed = "repohelper_remote_fetch_failed"
	MetricThrottleSkipped   = "repohelper_throttle_skipped"
	MetricWriteRolledBack   = "repohelper_write_rolled_back"
	MetricRollbackFailed    = "repohelper_rollback_failed"
	MetricSelfHeal          = "repohelper_self_heal"
)

type Hooks struct {
	stat stats.Tracker
	name string
}

var _ repohelper.Hooks = (*Hooks)(nil)

// New returns hooks that label every metric with name. A nil tracker discards.
func New(t stats.Tracker, name string) *Hooks {
	if t == nil {
		t = stats.NoOp{}
	}
	return &Hooks{stat: t, name: name}
}

func (h *Hooks) add(metric string, labels ...string) {
	lv := make([]string, 0, 2+len(labels))
	lv = append(lv, "name", h.name)
	lv = append(lv, labels...)
	h.stat.Add(context.Background(), metric, 1, lv...)
}

func (h *Hooks) RemoteFetched(_ string, found bool) {
	if found {
		h.add(MetricRemoteFetched, "found", "true")
		return
	}
	h.add(MetricRemoteFetched, "found", "false")
}

func (h *Hooks) RemoteFetchFailed(string, error)       { h.add(MetricRemoteFetchFailed) }
func (h *Hooks) ThrottleSkipped(string)                { h.add(MetricThrottleSkipped) }
func (h *Hooks) WriteRolledBack(op, _ string, _ error) { h.add(MetricWriteRolledBack, "op", op) }
func (h *Hooks) RollbackFailed(op, _ string, _ error)  { h.add(MetricRollbackFailed, "op", op) }
func (h *Hooks) SelfHeal(_, reason string)             { h.add(MetricSelfHeal, "reason", reason) }
