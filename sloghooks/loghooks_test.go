package sloghooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSON(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(ln), &m))
		out = append(out, m)
	}
	return out
}

func TestRedactsByDefault(t *testing.T) {
	var buf bytes.Buffer
	h := New(newJSON(&buf), Options{})

	h.WriteRolledBack("upsert", "user:42", errors.New("remote down"))

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "repohelper.write_rolled_back", got[0]["msg"])
	assert.Equal(t, "WARN", got[0]["level"])
	assert.Equal(t, "upsert", got[0]["op"])
	assert.Len(t, got[0]["key"], 16)
	assert.NotEqual(t, "user:42", got[0]["key"])
	assert.Equal(t, "remote down", got[0]["cause"])
}

func TestCustomRedactAndLevels(t *testing.T) {
	var buf bytes.Buffer
	h := New(newJSON(&buf), Options{Redact: func(s string) string { return s }})

	h.RemoteFetched("1", false)
	h.RemoteFetchFailed("2", errors.New("x"))
	h.RollbackFailed("delete", "3", errors.New("y"))

	got := lines(t, &buf)
	require.Len(t, got, 3)
	assert.Equal(t, "DEBUG", got[0]["level"])
	assert.Equal(t, false, got[0]["found"])
	assert.Equal(t, "WARN", got[1]["level"])
	assert.Equal(t, "ERROR", got[2]["level"])
	assert.Equal(t, "3", got[2]["key"])
}

func TestSampling(t *testing.T) {
	var buf bytes.Buffer
	h := New(newJSON(&buf), Options{ThrottleSkipEvery: 3, SelfHealEvery: 1})

	for i := 0; i < 9; i++ {
		h.ThrottleSkipped("k")
	}
	h.SelfHeal("rh:ns:k", "corrupt")
	h.SelfHeal("rh:ns:k", "gen_mismatch")

	got := lines(t, &buf)
	require.Len(t, got, 5)
	assert.Equal(t, "gen_mismatch", got[4]["reason"])
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	h.RemoteFetched("1", true)
	h.RemoteFetchFailed("1", errors.New("x"))
	h.ThrottleSkipped("1")
	h.WriteRolledBack("upsert", "1", nil)
	h.RollbackFailed("upsert", "1", nil)
	h.SelfHeal("1", "corrupt")
}
