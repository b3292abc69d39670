// Package fingerprint implements the status normalizer (C11): derives
// stable per-message IDs and computes per-agent and whole-fleet
// fingerprints. Every function here is pure; the package performs no I/O.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/jademind/statusd/internal/agentmodel"
)

// MessageID derives the stable latest_message_id for one agent's message
// preview: the first 16 hex characters of sha1("{pid}|{at}|{full}").
// Absent when there is no message text.
func MessageID(pid int, atMS int64, full string) string {
	if full == "" {
		return ""
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%d|%d|%s", pid, atMS, full)))
	return hex.EncodeToString(sum[:])[:16]
}

// Agent computes the per-agent fingerprint: sha1 over a compact tuple of
// (pid, activity, latest_message_id).
func Agent(a agentmodel.Agent) string {
	msgID := ""
	if a.LatestMessageID != nil {
		msgID = *a.LatestMessageID
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%d|%s|%s", a.PID, a.Activity, msgID)))
	return hex.EncodeToString(sum[:])
}

// Fleet computes the whole-fleet fingerprint: sha1 over the sorted list of
// per-agent fingerprints, order-independent of the input slice.
func Fleet(agents []agentmodel.Agent) string {
	parts := make([]string, 0, len(agents))
	for _, a := range agents {
		parts = append(parts, fmt.Sprintf("%d:%s", a.PID, Agent(a)))
	}
	sort.Strings(parts)

	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize attaches latest_message_id and fingerprint to every agent in
// result and sets the whole-fleet fingerprint. It is idempotent: calling
// it twice over its own output yields the same IDs and fingerprints.
func Normalize(result agentmodel.ScanResult) agentmodel.ScanResult {
	agents := make([]agentmodel.Agent, len(result.Agents))
	copy(agents, result.Agents)

	for i := range agents {
		a := &agents[i]
		if id := MessageID(a.PID, latestAtMS(a), a.LatestMessageFull); id != "" {
			a.LatestMessageID = &id
		} else {
			a.LatestMessageID = nil
		}
		a.Fingerprint = Agent(*a)
	}

	result.Agents = agents
	result.Fingerprint = Fleet(agents)
	return result
}

func latestAtMS(a *agentmodel.Agent) int64 {
	if a.LatestMessageAt == nil {
		return 0
	}
	return *a.LatestMessageAt
}
