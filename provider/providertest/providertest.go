// Package providertest checks that a provider.Provider honours the contract
// cachestore relies on.
package providertest

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/repohelper/provider"
)

// Run exercises p with keys under prefix. p must start out without those keys.
func Run(t *testing.T, p pr.Provider, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := func(s string) string { return fmt.Sprintf("%s%s", prefix, s) }

	t.Run("miss", func(t *testing.T) {
		v, ok, err := p.Get(ctx, key("missing"))
		if err != nil || ok || v != nil {
			t.Fatalf("Get(missing) = %q, %v, %v; want nil, false, nil", v, ok, err)
		}
	})

	t.Run("round trip is byte exact", func(t *testing.T) {
		want := []byte{0, 1, 2, 0xff, 'R', 'H'}
		ok, err := p.Set(ctx, key("rt"), want, time.Minute)
		if err != nil || !ok {
			t.Fatalf("Set: ok=%v err=%v", ok, err)
		}
		got, ok, err := p.Get(ctx, key("rt"))
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get = %x, want %x", got, want)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		if _, err := p.Set(ctx, key("ow"), []byte("one"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if _, err := p.Set(ctx, key("ow"), []byte("two"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, ok, err := p.Get(ctx, key("ow"))
		if err != nil || !ok || string(got) != "two" {
			t.Fatalf("Get = %q, %v, %v; want two", got, ok, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if _, err := p.Set(ctx, key("del"), []byte("x"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := p.Del(ctx, key("del")); err != nil {
			t.Fatalf("Del: %v", err)
		}
		if _, ok, _ := p.Get(ctx, key("del")); ok {
			t.Fatalf("key still present after Del")
		}
		if err := p.Del(ctx, key("del")); err != nil {
			t.Fatalf("Del of missing key: %v", err)
		}
	})
}
