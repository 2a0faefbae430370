// Package throttle decides whether a key may hit the remote source again.
//
// A key may be accessed when it has no recorded access or when the last
// recorded access is strictly older than the cooldown. Every decision uses the
// time the caller passes in, never the wall clock, so a fake or frozen clock
// behaves the same as time.Now.
package throttle

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultCooldown is used when Config.Cooldown is zero.
const DefaultCooldown = 3 * time.Second

type Config struct {
	Cooldown time.Duration // 0 => DefaultCooldown

	// Retention is how long past its access time a record is kept; never
	// shorter than Cooldown. 0 => 2 * Cooldown. Records are pruned by LogAccess
	// once last+Retention is before the time it is given, so a pruned record
	// has already left its cooldown.
	Retention time.Duration
}

type Throttle struct {
	cooldown  time.Duration
	retention time.Duration
	last      *ttlcache.Cache[string, time.Time]

	pruneMu   sync.Mutex
	lastPrune time.Time
}

func New(cfg Config) *Throttle {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	retention := cfg.Retention
	if retention == 0 {
		retention = 2 * cooldown
	}
	if retention < cooldown {
		retention = cooldown
	}

	// no item TTL: expiry would follow the wall clock instead of the caller's
	last := ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	return &Throttle{cooldown: cooldown, retention: retention, last: last}
}

func (t *Throttle) Cooldown() time.Duration { return t.cooldown }

// CanAccessNow reports whether hash has no access recorded or last+cooldown < now.
// At exactly last+cooldown access is still refused.
func (t *Throttle) CanAccessNow(hash string, now time.Time) bool {
	item := t.last.Get(hash)
	if item == nil {
		return true
	}
	return item.Value().Add(t.cooldown).Before(now)
}

// LogAccess records a successful remote access for hash at now and, at most
// once per retention period, prunes records that expired before now.
func (t *Throttle) LogAccess(hash string, now time.Time) {
	t.last.Set(hash, now, ttlcache.NoTTL)
	t.maybePrune(now)
}

func (t *Throttle) maybePrune(now time.Time) {
	t.pruneMu.Lock()
	defer t.pruneMu.Unlock()
	if !t.lastPrune.IsZero() && now.Sub(t.lastPrune) < t.retention {
		return
	}
	t.lastPrune = now
	t.prune(now)
}

// prune drops records with last+retention before now.
func (t *Throttle) prune(now time.Time) {
	var stale []string
	t.last.Range(func(item *ttlcache.Item[string, time.Time]) bool {
		if item.Value().Add(t.retention).Before(now) {
			stale = append(stale, item.Key())
		}
		return true
	})
	for _, k := range stale {
		t.last.Delete(k)
	}
}

// Forget drops the record for hash so the next CanAccessNow returns true.
func (t *Throttle) Forget(hash string) {
	t.last.Delete(hash)
}

// Len reports the number of keys with a recorded access.
func (t *Throttle) Len() int { return t.last.Len() }

// Close drops every record.
func (t *Throttle) Close() { t.last.DeleteAll() }
