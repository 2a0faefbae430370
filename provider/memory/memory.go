// Package memory is an in-process Provider on top of a TTL map. It is the
// default store for tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	pr "github.com/unkn0wn-root/repohelper/provider"
)

type Provider struct {
	c    *ttlcache.Cache[string, []byte]
	stop sync.Once
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// Capacity caps the number of entries (least recently used go first). 0 = unlimited.
	Capacity uint64
}

// New starts the expiry loop; Close stops it.
func New(cfg Config) *Provider {
	opts := []ttlcache.Option[string, []byte]{
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](cfg.Capacity))
	}
	c := ttlcache.New[string, []byte](opts...)
	go c.Start()
	return &Provider{c: c}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := p.c.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	p.c.Set(key, value, ttl)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Delete(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.stop.Do(p.c.Stop)
	return nil
}

// Len reports the number of stored entries, expired ones included until swept.
func (p *Provider) Len() int { return p.c.Len() }
