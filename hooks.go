package repohelper

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: they run inline on read and
// write paths. Wrap slow sinks with hooks/async.
type Hooks interface {
	// The refresh branch of Select got an answer from the remote source.
	RemoteFetched(hash string, found bool)

	// The refresh branch of Select failed (fetch or the follow-up cache write).
	RemoteFetchFailed(hash string, err error)

	// The refresh branch of Select was skipped because the key is cooling down.
	ThrottleSkipped(hash string)

	// A remote write failed and the cache was put back to its backup.
	// op ∈ {"upsert", "delete"}
	WriteRolledBack(op, hash string, cause error)

	// A remote write failed and restoring the backup failed too.
	RollbackFailed(op, hash string, err error)

	// A cache adapter dropped an unreadable entry on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) RemoteFetched(string, bool)            {}
func (NopHooks) RemoteFetchFailed(string, error)       {}
func (NopHooks) ThrottleSkipped(string)                {}
func (NopHooks) WriteRolledBack(string, string, error) {}
func (NopHooks) RollbackFailed(string, string, error)  {}
func (NopHooks) SelfHeal(string, string)               {}
