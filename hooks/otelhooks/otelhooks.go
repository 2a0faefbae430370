// Package otelhooks counts helper events with OpenTelemetry metrics.
package otelhooks

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/unkn0wn-root/repohelper"
)

const scope = "github.com/unkn0wn-root/repohelper"

// Counter names.
const (
	MetricRemoteFetched     = "repohelper.remote.fetched"
	MetricRemoteFetchFailed = "repohelper.remote.fetch_failed"
	MetricThrottleSkipped   = "repohelper.throttle.skipped"
	MetricWriteRolledBack   = "repohelper.write.rolled_back"
	MetricRollbackFailed    = "repohelper.write.rollback_failed"
	MetricSelfHeal          = "repohelper.cache.self_heal"
)

type Hooks struct {
	fetched      metric.Int64Counter
	fetchFailed  metric.Int64Counter
	skipped      metric.Int64Counter
	rolledBack   metric.Int64Counter
	rollbackFail metric.Int64Counter
	selfHeal     metric.Int64Counter
}

var _ repohelper.Hooks = (*Hooks)(nil)

// New registers the counters on mp. A nil mp uses the global provider.
func New(mp metric.MeterProvider) (*Hooks, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(scope)

	var (
		h   Hooks
		err error
	)
	if h.fetched, err = m.Int64Counter(MetricRemoteFetched,
		metric.WithDescription("Remote fetches that completed, by found")); err != nil {
		return nil, err
	}
	if h.fetchFailed, err = m.Int64Counter(MetricRemoteFetchFailed,
		metric.WithDescription("Refresh branches that failed")); err != nil {
		return nil, err
	}
	if h.skipped, err = m.Int64Counter(MetricThrottleSkipped,
		metric.WithDescription("Refresh branches skipped by the throttle")); err != nil {
		return nil, err
	}
	if h.rolledBack, err = m.Int64Counter(MetricWriteRolledBack,
		metric.WithDescription("Writes whose cache change was rolled back, by op")); err != nil {
		return nil, err
	}
	if h.rollbackFail, err = m.Int64Counter(MetricRollbackFailed,
		metric.WithDescription("Rollbacks that failed, by op")); err != nil {
		return nil, err
	}
	if h.selfHeal, err = m.Int64Counter(MetricSelfHeal,
		metric.WithDescription("Unreadable cache entries dropped, by reason")); err != nil {
		return nil, err
	}
	return &h, nil
}

func (h *Hooks) RemoteFetched(_ string, found bool) {
	h.fetched.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("found", found)))
}

func (h *Hooks) RemoteFetchFailed(string, error) {
	h.fetchFailed.Add(context.Background(), 1)
}

func (h *Hooks) ThrottleSkipped(string) {
	h.skipped.Add(context.Background(), 1)
}

func (h *Hooks) WriteRolledBack(op, _ string, _ error) {
	h.rolledBack.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

func (h *Hooks) RollbackFailed(op, _ string, _ error) {
	h.rollbackFail.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

func (h *Hooks) SelfHeal(_, reason string) {
	h.selfHeal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
