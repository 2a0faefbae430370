package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/repohelper"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ThrottleSkipEvery uint64
	SelfHealEvery     uint64
	// Optional redactor for hashes and storage keys. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	skipCtr     atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ repohelper.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) RemoteFetched(hash string, found bool) {
	if h.l == nil {
		return
	}
	h.l.Debug("repohelper.remote_fetched",
		"key", h.redact(hash),
		"found", found)
}

func (h *Hooks) RemoteFetchFailed(hash string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("repohelper.remote_fetch_failed",
		"key", h.redact(hash),
		"err", err)
}

func (h *Hooks) ThrottleSkipped(hash string) {
	if h.l == nil || !sample(h.opts.ThrottleSkipEvery, &h.skipCtr) {
		return
	}
	h.l.Debug("repohelper.throttle_skipped",
		"key", h.redact(hash))
}

func (h *Hooks) WriteRolledBack(op, hash string, cause error) {
	if h.l == nil {
		return
	}
	h.l.Warn("repohelper.write_rolled_back",
		"op", op,
		"key", h.redact(hash),
		"cause", cause)
}

func (h *Hooks) RollbackFailed(op, hash string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("repohelper.rollback_failed",
		"op", op,
		"key", h.redact(hash),
		"err", err)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("repohelper.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}
