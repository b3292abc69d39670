// Package watch implements the watch engine (C9): fingerprint-based
// change detection over repeated scans, surfaced as long-poll responses
// to both the socket server and the HTTP gateway.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/common/constants"
	"github.com/jademind/statusd/internal/fingerprint"
)

// Scanner is the minimal surface the watch engine needs from C6: a
// snapshot of the fleet. The engine normalizes and fingerprints each scan
// itself (C11).
type Scanner interface {
	Scan(ctx context.Context) agentmodel.ScanResult
}

// Engine drives repeated scans at an interval within
// [WatchPollIntervalMin, WatchPollIntervalMax], diffing fingerprints
// against a caller-supplied baseline.
type Engine struct {
	scanner  Scanner
	interval func() time.Duration
}

// New builds an Engine over scanner, polling at a fixed midpoint
// interval between the configured min/max bounds.
func New(scanner Scanner) *Engine {
	mid := (constants.WatchPollIntervalMin + constants.WatchPollIntervalMax) / 2
	return &Engine{scanner: scanner, interval: func() time.Duration { return mid }}
}

// ClampTimeout bounds a caller-supplied watch deadline to
// [WatchTimeoutMin, WatchTimeoutMax], defaulting to WatchTimeoutDefault
// when d is zero.
func ClampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return constants.WatchTimeoutDefault
	}
	if d < constants.WatchTimeoutMin {
		return constants.WatchTimeoutMin
	}
	if d > constants.WatchTimeoutMax {
		return constants.WatchTimeoutMax
	}
	return d
}

// Global runs the §4.9 whole-fleet long-poll. An empty baseline
// fingerprint means "no prior state": the engine returns the first
// snapshot immediately with event=snapshot. A non-empty baseline that
// already differs from the current snapshot returns immediately with
// event=status_changed. Otherwise the engine polls until a change is
// observed or timeout elapses.
func (e *Engine) Global(ctx context.Context, timeout time.Duration, baseline string) agentmodel.WatchResult {
	timeout = ClampTimeout(timeout)
	deadline := time.Now().Add(timeout)

	first := fingerprint.Normalize(e.scanner.Scan(ctx))
	if baseline == "" {
		return agentmodel.WatchResult{
			OK:          true,
			Event:       agentmodel.EventSnapshot,
			Fingerprint: first.Fingerprint,
			Timestamp:   time.Now().Unix(),
			Snapshot:    &first,
		}
	}
	if first.Fingerprint != baseline {
		// No local prior snapshot to diff against, only a client-supplied
		// baseline fingerprint: every agent reports as agent_updated.
		return globalChanged(first, nil)
	}

	prev := first
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return agentmodel.WatchResult{OK: true, Event: agentmodel.EventTimeout, Fingerprint: prev.Fingerprint, Timestamp: time.Now().Unix()}
		}

		select {
		case <-ctx.Done():
			return agentmodel.WatchResult{OK: true, Event: agentmodel.EventTimeout, Fingerprint: prev.Fingerprint, Timestamp: time.Now().Unix()}
		case <-time.After(minDuration(e.interval(), remaining)):
		}

		snap := fingerprint.Normalize(e.scanner.Scan(ctx))
		if snap.Fingerprint != prev.Fingerprint {
			return globalChanged(snap, prev.Agents)
		}
		prev = snap
	}
}

func globalChanged(snap agentmodel.ScanResult, prevAgents []agentmodel.Agent) agentmodel.WatchResult {
	return agentmodel.WatchResult{
		OK:          true,
		Event:       agentmodel.EventStatusChanged,
		Fingerprint: snap.Fingerprint,
		Timestamp:   time.Now().Unix(),
		Snapshot:    &snap,
		Changes:     DiffAgents(prevAgents, snap.Agents, true),
	}
}

// Agent runs the §4.9 per-agent long-poll over a single PID. A missing
// PID at first scan returns a structured not-found failure. A
// non-empty baseline fingerprint that already differs returns
// immediately as out_of_sync.
func (e *Engine) Agent(ctx context.Context, pid int, timeout time.Duration, baseline string) agentmodel.WatchResult {
	timeout = ClampTimeout(timeout)
	deadline := time.Now().Add(timeout)

	prev, ok := e.findAgent(ctx, pid)
	if !ok {
		return agentmodel.WatchResult{OK: false, Error: "pid not found", Timestamp: time.Now().Unix()}
	}
	prevFP := fingerprint.Agent(prev)
	if baseline != "" && baseline != prevFP {
		a := prev
		return agentmodel.WatchResult{OK: true, Event: agentmodel.EventOutOfSync, Fingerprint: prevFP, Timestamp: time.Now().Unix(), Agent: &a}
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return agentmodel.WatchResult{OK: true, Event: agentmodel.EventTimeout, Fingerprint: prevFP, Timestamp: time.Now().Unix()}
		}

		select {
		case <-ctx.Done():
			return agentmodel.WatchResult{OK: true, Event: agentmodel.EventTimeout, Fingerprint: prevFP, Timestamp: time.Now().Unix()}
		case <-time.After(minDuration(e.interval(), remaining)):
		}

		cur, ok := e.findAgent(ctx, pid)
		if !ok {
			return agentmodel.WatchResult{OK: true, Event: agentmodel.EventAgentGone, Fingerprint: prevFP, Timestamp: time.Now().Unix()}
		}
		curFP := fingerprint.Agent(cur)
		if curFP == prevFP {
			continue
		}
		a := cur
		return agentmodel.WatchResult{
			OK:          true,
			Event:       classifyAgentChange(prev, cur),
			Fingerprint: curFP,
			Timestamp:   time.Now().Unix(),
			Agent:       &a,
		}
	}
}

// Peek returns the current state of a single agent without polling,
// used by transports (e.g. SSE resume) that need an immediate
// fingerprint comparison rather than a long-poll.
func (e *Engine) Peek(ctx context.Context, pid int) (agentmodel.Agent, bool) {
	return e.findAgent(ctx, pid)
}

func (e *Engine) findAgent(ctx context.Context, pid int) (agentmodel.Agent, bool) {
	snap := fingerprint.Normalize(e.scanner.Scan(ctx))
	for _, a := range snap.Agents {
		if a.PID == pid {
			return a, true
		}
	}
	return agentmodel.Agent{}, false
}

// classifyAgentChange applies the §4.9 classification precedence:
// message change first, then activity change, else a generic update.
func classifyAgentChange(before, after agentmodel.Agent) agentmodel.WatchEventKind {
	if deref(before.LatestMessageID) != deref(after.LatestMessageID) {
		return agentmodel.EventMessageUpdated
	}
	if before.Activity != after.Activity {
		return agentmodel.EventActivityChanged
	}
	return agentmodel.EventAgentUpdated
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DiffAgents builds minimal per-PID change records for a global watch
// response. When before is nil (first observation, or a baseline
// mismatch with no prior local snapshot to diff against), every agent
// in after is reported as agent_updated if hadBaseline, else omitted
// (the full snapshot already carries that information).
func DiffAgents(before, after []agentmodel.Agent, hadBaseline bool) []agentmodel.ChangeRecord {
	if !hadBaseline {
		return nil
	}
	byPID := make(map[int]agentmodel.Agent, len(before))
	for _, a := range before {
		byPID[a.PID] = a
	}
	seen := make(map[int]struct{}, len(after))

	var changes []agentmodel.ChangeRecord
	for _, cur := range after {
		seen[cur.PID] = struct{}{}
		prev, existed := byPID[cur.PID]
		if !existed {
			c := cur
			changes = append(changes, agentmodel.ChangeRecord{PID: cur.PID, Kind: agentmodel.EventAgentUpdated, After: &c})
			continue
		}
		if fingerprint.Agent(prev) == fingerprint.Agent(cur) {
			continue
		}
		p, c := prev, cur
		changes = append(changes, agentmodel.ChangeRecord{PID: cur.PID, Kind: classifyAgentChange(prev, cur), Before: &p, After: &c})
	}
	for _, prev := range before {
		if _, ok := seen[prev.PID]; ok {
			continue
		}
		p := prev
		changes = append(changes, agentmodel.ChangeRecord{PID: prev.PID, Kind: agentmodel.EventAgentGone, Before: &p})
	}
	return changes
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// ErrPIDNotFound is a convenience sentinel for transports that want a Go
// error alongside the structured WatchResult.
var ErrPIDNotFound = fmt.Errorf("pid not found")
