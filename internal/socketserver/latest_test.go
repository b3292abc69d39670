package socketserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/sessionfile"
)

type fakeDumper struct {
	text string
	ok   bool
}

func (f fakeDumper) DumpPane(mux, session string) (string, bool) { return f.text, f.ok }

func strp(s string) *string { return &s }

func TestLatestHandler_UnknownPID(t *testing.T) {
	h := NewLatestHandler(LatestDeps{
		Scan: func(ctx context.Context) agentmodel.ScanResult { return agentmodel.ScanResult{} },
	})
	got := h(context.Background(), 42)
	m := got.(map[string]any)
	assert.Equal(t, false, m["ok"])
}

func TestLatestHandler_PrefersSessionFileOverRuntimePreview(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"message","message":{"role":"assistant","content":"hello from transcript"}}`+"\n"), 0o644))

	h := NewLatestHandler(LatestDeps{
		Scan: func(ctx context.Context) agentmodel.ScanResult {
			return agentmodel.ScanResult{Agents: []agentmodel.Agent{{PID: 7, SessionFile: strp(path)}}}
		},
		Sessions: sessionfile.NewParser(),
		Dumper:   fakeDumper{text: "should not be used", ok: true},
	})

	got := h(context.Background(), 7)
	m := got.(map[string]any)
	assert.Equal(t, "session_file", m["source"])
	assert.Contains(t, m["latest_message_full"], "hello from transcript")
}

func TestLatestHandler_FallsBackToRuntimeDump(t *testing.T) {
	h := NewLatestHandler(LatestDeps{
		Scan: func(ctx context.Context) agentmodel.ScanResult {
			return agentmodel.ScanResult{Agents: []agentmodel.Agent{{PID: 9, Mux: strp("tmux"), MuxSession: strp("sess")}}}
		},
		Sessions: sessionfile.NewParser(),
		Dumper:   fakeDumper{text: "raw pane text", ok: true},
	})

	got := h(context.Background(), 9)
	m := got.(map[string]any)
	assert.Equal(t, "runtime_preview", m["source"])
	assert.Equal(t, "raw pane text", m["latest_message_full"])
}

func TestLatestHandler_CachesRuntimeDumpWithinTTL(t *testing.T) {
	calls := 0
	dumper := fakeDumperFunc(func(mux, session string) (string, bool) {
		calls++
		return "dump", true
	})
	h := NewLatestHandler(LatestDeps{
		Scan: func(ctx context.Context) agentmodel.ScanResult {
			return agentmodel.ScanResult{Agents: []agentmodel.Agent{{PID: 3, Mux: strp("tmux"), MuxSession: strp("sess")}}}
		},
		Sessions: sessionfile.NewParser(),
		Dumper:   dumper,
	})

	h(context.Background(), 3)
	h(context.Background(), 3)
	assert.Equal(t, 1, calls)
}

type fakeDumperFunc func(mux, session string) (string, bool)

func (f fakeDumperFunc) DumpPane(mux, session string) (string, bool) { return f(mux, session) }

func TestLatestHandler_FallsBackToScanFieldWhenNoTranscriptOrMux(t *testing.T) {
	h := NewLatestHandler(LatestDeps{
		Scan: func(ctx context.Context) agentmodel.ScanResult {
			return agentmodel.ScanResult{Agents: []agentmodel.Agent{{PID: 5, LatestMessageFull: "scan value"}}}
		},
		Sessions: sessionfile.NewParser(),
	})

	got := h(context.Background(), 5)
	m := got.(map[string]any)
	assert.Equal(t, "scan", m["source"])
	assert.Equal(t, "scan value", m["latest_message_full"])
}
