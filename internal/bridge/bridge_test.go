package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jademind/statusd/internal/agentmodel"
)

func writeRegistryEntry(t *testing.T, dir string, pid int, updatedAt time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "registry"), 0o700))
	entry := agentmodel.BridgeRegistryEntry{PID: pid, UpdatedAt: float64(updatedAt.UnixMilli())}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry", strconv.Itoa(pid)+".json"), raw, 0o600))
}

func TestIsLive_StaleRegistryEntryRejected(t *testing.T) {
	dir := t.TempDir()
	writeRegistryEntry(t, dir, os.Getpid(), time.Now().Add(-time.Hour))

	c := NewClient(dir, 10_000, nil)
	assert.False(t, c.IsLive(os.Getpid()))
}

func TestIsLive_FreshEntryForRunningPIDAccepted(t *testing.T) {
	dir := t.TempDir()
	writeRegistryEntry(t, dir, os.Getpid(), time.Now())

	c := NewClient(dir, 10_000, nil)
	assert.True(t, c.IsLive(os.Getpid()))
}

func TestIsLive_MissingEntryRejected(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(dir, 10_000, nil)
	assert.False(t, c.IsLive(os.Getpid()))
}

func TestClassifyAck(t *testing.T) {
	assert.True(t, classifyAck(agentmodel.BridgeAck{Status: "delivered"}).Delivered)

	rl := classifyAck(agentmodel.BridgeAck{Status: "failed", Error: "rate_limited"})
	assert.False(t, rl.Delivered)
	assert.True(t, rl.RateLimited)

	other := classifyAck(agentmodel.BridgeAck{Status: "failed", Error: "bad_pid"})
	assert.False(t, other.RateLimited)
}

func TestSend_WritesEnvelopeAndTimesOutWithoutAck(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(dir, 10_000, nil)

	res := c.Send(context.Background(), 4242, "hello", "queued", 1, 80*time.Millisecond)
	assert.False(t, res.Delivered)
	assert.Equal(t, "ack_timeout", res.Error)

	entries, err := os.ReadDir(filepath.Join(dir, "inbox", "4242"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
