package socketserver

import (
	"context"
	"sync"
	"time"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/common/constants"
	"github.com/jademind/statusd/internal/sessionfile"
)

// ScreenDumper captures a multiplexer pane's visible buffer, used as the
// runtime-preview fallback for `latest` when no session transcript is
// configured for the target agent.
type ScreenDumper interface {
	DumpPane(mux, session string) (string, bool)
}

// LatestDeps bundles the collaborators the `latest` command re-derives a
// message from: a fresh scan to locate the target agent, the session-file
// parser for its transcript (C4), and a mux screen dumper for the
// runtime-preview fallback (§4.8).
type LatestDeps struct {
	Scan     func(ctx context.Context) agentmodel.ScanResult
	Sessions *sessionfile.Parser
	Dumper   ScreenDumper
}

type runtimePreviewCache struct {
	mu      sync.Mutex
	entries map[int]previewEntry
	order   []int
	cap     int
}

type previewEntry struct {
	text string
	at   time.Time
}

func newRuntimePreviewCache(capacity int) *runtimePreviewCache {
	return &runtimePreviewCache{entries: make(map[int]previewEntry), cap: capacity}
}

func (c *runtimePreviewCache) get(pid int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pid]
	if !ok || time.Since(e.at) > constants.RuntimePreviewCacheTTL {
		return "", false
	}
	return e.text, true
}

func (c *runtimePreviewCache) put(pid int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[pid]; !exists {
		c.order = append(c.order, pid)
		if len(c.order) > c.cap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[pid] = previewEntry{text: text, at: time.Now()}
}

// NewLatestHandler builds the `latest <pid>` dispatch function (§4.8):
// re-derive the most recent message for one agent by re-parsing its
// session file, or falling back to a cached or freshly-dumped mux screen
// buffer, cleaned with the same rules C4 applies to transcripts.
func NewLatestHandler(deps LatestDeps) func(ctx context.Context, pid int) any {
	cache := newRuntimePreviewCache(constants.RuntimePreviewCacheCap)

	return func(ctx context.Context, pid int) any {
		snap := deps.Scan(ctx)
		var target *agentmodel.Agent
		for i := range snap.Agents {
			if snap.Agents[i].PID == pid {
				target = &snap.Agents[i]
				break
			}
		}
		if target == nil {
			return map[string]any{"ok": false, "error": "pid not found"}
		}

		if target.SessionFile != nil && *target.SessionFile != "" && deps.Sessions != nil {
			if res, ok := deps.Sessions.Parse(*target.SessionFile); ok {
				return map[string]any{"ok": true, "pid": pid, "latest_message_full": res.Text, "at": res.AtMS, "source": "session_file"}
			}
		}

		if cached, ok := cache.get(pid); ok {
			return map[string]any{"ok": true, "pid": pid, "latest_message_full": cached, "source": "runtime_preview_cache"}
		}

		if target.Mux != nil && target.MuxSession != nil && deps.Dumper != nil {
			if raw, ok := deps.Dumper.DumpPane(*target.Mux, *target.MuxSession); ok {
				cleaned := sessionfile.CleanRuntimeText(raw)
				cache.put(pid, cleaned)
				return map[string]any{"ok": true, "pid": pid, "latest_message_full": cleaned, "source": "runtime_preview"}
			}
		}

		return map[string]any{"ok": true, "pid": pid, "latest_message_full": target.LatestMessageFull, "source": "scan"}
	}
}
