package genstore

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	gen       uint64
	updatedAt time.Time
}

type LocalConfig struct {
	// Retention drops generations not bumped for this long. Keep it well above
	// the provider TTL: a dropped generation makes the stored frame stale.
	// 0 keeps generations forever.
	Retention time.Duration
	// CleanupInterval is how often the prune loop runs. 0 => Retention / 4.
	CleanupInterval time.Duration
}

// Local keeps generations in-process. Generations restart at 0 with the
// process, so frames left in a shared provider by a previous run read as stale.
type Local struct {
	mu   sync.RWMutex
	gens map[string]localEntry

	retention time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ GenStore = (*Local)(nil)

func NewLocal(cfg LocalConfig) *Local {
	s := &Local{
		gens:      make(map[string]localEntry),
		retention: cfg.Retention,
	}
	if cfg.Retention <= 0 {
		return s
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = cfg.Retention / 4
	}
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				s.prune(now.Add(-s.retention))
			case <-s.stopCh:
				return
			}
		}
	}()
	return s
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[k]
	s.mu.RUnlock()
	return e.gen, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	e := s.gens[k]
	e.gen++
	e.updatedAt = now
	s.gens[k] = e
	s.mu.Unlock()
	return e.gen, nil
}

// Len reports how many keys have a generation.
func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *Local) prune(cutoff time.Time) {
	s.mu.Lock()
	for k, e := range s.gens {
		if e.updatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

// Close stops the prune loop. Safe to call multiple times.
func (s *Local) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
