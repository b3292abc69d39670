package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jademind/statusd/internal/agentmodel"
)

func writeInstance(t *testing.T, dir, name string, inst agentmodel.TelemetryInstance) {
	t.Helper()
	raw, err := json.Marshal(inst)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func TestInstances_StalenessBoundary(t *testing.T) {
	dir := t.TempDir()
	const nowMS = int64(1_700_000_000_000)
	const staleMS = int64(10_000)

	writeInstance(t, dir, "a.json", agentmodel.TelemetryInstance{
		Process: agentmodel.TelemetryProcess{PID: 111, UpdatedAt: float64(nowMS - staleMS)},
	})
	writeInstance(t, dir, "b.json", agentmodel.TelemetryInstance{
		Process: agentmodel.TelemetryProcess{PID: 222, UpdatedAt: float64(nowMS - staleMS - 1)},
	})

	r := NewReader(dir, staleMS, nil)
	r.nowMS = func() int64 { return nowMS }
	r.liveness = func(pid int) bool { return true }

	got := r.Instances(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, 111, got[0].Process.PID)
}

func TestInstances_LivenessDrop(t *testing.T) {
	dir := t.TempDir()
	writeInstance(t, dir, "a.json", agentmodel.TelemetryInstance{
		Process: agentmodel.TelemetryProcess{PID: 999, UpdatedAt: 1000},
	})

	r := NewReader(dir, 10_000, nil)
	r.nowMS = func() int64 { return 1000 }
	r.liveness = func(pid int) bool { return false }

	got := r.Instances(context.Background())
	assert.Empty(t, got)
}

func TestInstances_InvalidPIDDropped(t *testing.T) {
	dir := t.TempDir()
	writeInstance(t, dir, "a.json", agentmodel.TelemetryInstance{
		Process: agentmodel.TelemetryProcess{PID: 0, UpdatedAt: 1000},
	})

	r := NewReader(dir, 10_000, nil)
	r.nowMS = func() int64 { return 1000 }
	r.liveness = func(pid int) bool { return true }

	got := r.Instances(context.Background())
	assert.Empty(t, got)
}

func TestInstances_MalformedJSONDropped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("not json"), 0o644))
	writeInstance(t, dir, "b.json", agentmodel.TelemetryInstance{
		Process: agentmodel.TelemetryProcess{PID: 5, UpdatedAt: 1000},
	})

	r := NewReader(dir, 10_000, nil)
	r.nowMS = func() int64 { return 1000 }
	r.liveness = func(pid int) bool { return true }

	got := r.Instances(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Process.PID)
}

func TestInstances_EmptyDirFallsBackToCLI(t *testing.T) {
	dir := t.TempDir()

	r := NewReader(dir, 10_000, nil)
	r.cliPath = "/nonexistent/pi-telemetry-snapshot"
	r.nowMS = func() int64 { return 1000 }
	r.liveness = func(pid int) bool { return true }

	got := r.Instances(context.Background())
	assert.Empty(t, got)
}
