package repohelper

import (
	"fmt"
	"time"
)

// DefaultCooldown is the minimum gap between two remote accesses for one key.
const DefaultCooldown = 3 * time.Second

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func sprintHash[K any](key K) string { return fmt.Sprint(key) }

// goExecutor runs every task on its own goroutine.
func goExecutor(task func()) { go task() }
