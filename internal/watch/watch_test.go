package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/fingerprint"
)

type scriptedScanner struct {
	mu      sync.Mutex
	results []agentmodel.ScanResult
	idx     int
}

func (s *scriptedScanner) Scan(ctx context.Context) agentmodel.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[s.idx]
	if s.idx < len(s.results)-1 {
		s.idx++
	}
	return r
}

func engineWithFastPoll(scanner Scanner) *Engine {
	e := New(scanner)
	e.interval = func() time.Duration { return 5 * time.Millisecond }
	return e
}

// agentWith builds a fixture agent. The engine normalizes every scan,
// which derives latest_message_id from the message text, so the fixture
// carries the text and the ID derived from it.
func agentWith(pid int, activity agentmodel.Activity, msg string) agentmodel.Agent {
	a := agentmodel.Agent{PID: pid, Activity: activity}
	if msg != "" {
		a.LatestMessageFull = msg
		id := fingerprint.MessageID(pid, 0, msg)
		a.LatestMessageID = &id
	}
	return a
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, 20*time.Second, ClampTimeout(0))
	assert.Equal(t, 250*time.Millisecond, ClampTimeout(100*time.Millisecond))
	assert.Equal(t, 60*time.Second, ClampTimeout(time.Hour))
	assert.Equal(t, 5*time.Second, ClampTimeout(5*time.Second))
}

func TestGlobal_NoBaselineReturnsSnapshotImmediately(t *testing.T) {
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{
		{Agents: []agentmodel.Agent{agentWith(1, agentmodel.ActivityRunning, "")}},
	}}
	e := engineWithFastPoll(scanner)
	res := e.Global(context.Background(), 50*time.Millisecond, "")
	assert.Equal(t, agentmodel.EventSnapshot, res.Event)
	require.NotNil(t, res.Snapshot)
}

func TestGlobal_MismatchedBaselineReturnsImmediately(t *testing.T) {
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{
		{Agents: []agentmodel.Agent{agentWith(1, agentmodel.ActivityRunning, "")}},
	}}
	e := engineWithFastPoll(scanner)
	res := e.Global(context.Background(), 50*time.Millisecond, "stale-fingerprint")
	assert.Equal(t, agentmodel.EventStatusChanged, res.Event)
}

func TestGlobal_TimesOutWhenNothingChanges(t *testing.T) {
	snap := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(1, agentmodel.ActivityRunning, "")}}
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{snap, snap, snap}}
	e := engineWithFastPoll(scanner)

	first := e.Global(context.Background(), 50*time.Millisecond, "")
	res := e.Global(context.Background(), 30*time.Millisecond, first.Fingerprint)
	assert.Equal(t, agentmodel.EventTimeout, res.Event)
}

func TestGlobal_DetectsChangeDuringPoll(t *testing.T) {
	before := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(1, agentmodel.ActivityRunning, "")}}
	after := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(1, agentmodel.ActivityWaitingInput, "")}}
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{before, before, after}}
	e := engineWithFastPoll(scanner)

	first := e.Global(context.Background(), 50*time.Millisecond, "")
	res := e.Global(context.Background(), 200*time.Millisecond, first.Fingerprint)
	assert.Equal(t, agentmodel.EventStatusChanged, res.Event)
}

func TestGlobal_ChangeDuringPollClassifiesBeyondAgentUpdated(t *testing.T) {
	before := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(1, agentmodel.ActivityRunning, "")}}
	after := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(1, agentmodel.ActivityWaitingInput, "")}}
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{before, before, after}}
	e := engineWithFastPoll(scanner)

	first := e.Global(context.Background(), 50*time.Millisecond, "")
	res := e.Global(context.Background(), 200*time.Millisecond, first.Fingerprint)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, agentmodel.EventActivityChanged, res.Changes[0].Kind)
}

func TestAgent_MissingPIDReturnsNotFound(t *testing.T) {
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{{Agents: nil}}}
	e := engineWithFastPoll(scanner)
	res := e.Agent(context.Background(), 999, 20*time.Millisecond, "")
	assert.False(t, res.OK)
	assert.Equal(t, "pid not found", res.Error)
}

func TestAgent_BaselineMismatchReturnsOutOfSync(t *testing.T) {
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{
		{Agents: []agentmodel.Agent{agentWith(7, agentmodel.ActivityRunning, "")}},
	}}
	e := engineWithFastPoll(scanner)
	res := e.Agent(context.Background(), 7, 20*time.Millisecond, "stale")
	assert.Equal(t, agentmodel.EventOutOfSync, res.Event)
}

func TestAgent_MessageUpdateTakesPrecedenceOverActivity(t *testing.T) {
	before := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(3, agentmodel.ActivityRunning, "m1")}}
	after := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(3, agentmodel.ActivityWaitingInput, "m2")}}
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{before, before, after}}
	e := engineWithFastPoll(scanner)

	res := e.Agent(context.Background(), 3, 200*time.Millisecond, "")
	assert.Equal(t, agentmodel.EventMessageUpdated, res.Event)
}

func TestAgent_ActivityChangedWhenMessageStable(t *testing.T) {
	before := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(3, agentmodel.ActivityRunning, "m1")}}
	after := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(3, agentmodel.ActivityWaitingInput, "m1")}}
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{before, before, after}}
	e := engineWithFastPoll(scanner)

	res := e.Agent(context.Background(), 3, 200*time.Millisecond, "")
	assert.Equal(t, agentmodel.EventActivityChanged, res.Event)
}

func TestAgent_GoneDuringWatch(t *testing.T) {
	before := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(9, agentmodel.ActivityRunning, "")}}
	gone := agentmodel.ScanResult{Agents: nil}
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{before, before, gone}}
	e := engineWithFastPoll(scanner)

	res := e.Agent(context.Background(), 9, 200*time.Millisecond, "")
	assert.Equal(t, agentmodel.EventAgentGone, res.Event)
}

func TestAgent_TimesOutWhenStable(t *testing.T) {
	snap := agentmodel.ScanResult{Agents: []agentmodel.Agent{agentWith(4, agentmodel.ActivityRunning, "")}}
	scanner := &scriptedScanner{results: []agentmodel.ScanResult{snap, snap, snap}}
	e := engineWithFastPoll(scanner)

	res := e.Agent(context.Background(), 4, 30*time.Millisecond, "")
	assert.Equal(t, agentmodel.EventTimeout, res.Event)
}

func TestDiffAgents_NoBaselineReturnsNil(t *testing.T) {
	after := []agentmodel.Agent{agentWith(1, agentmodel.ActivityRunning, "")}
	assert.Nil(t, DiffAgents(nil, after, false))
}

func TestDiffAgents_DetectsAddedChangedAndGone(t *testing.T) {
	before := []agentmodel.Agent{
		agentWith(1, agentmodel.ActivityRunning, "m1"),
		agentWith(2, agentmodel.ActivityRunning, ""),
	}
	after := []agentmodel.Agent{
		agentWith(1, agentmodel.ActivityWaitingInput, "m1"),
		agentWith(3, agentmodel.ActivityRunning, ""),
	}
	changes := DiffAgents(before, after, true)
	require.Len(t, changes, 3)

	byPID := make(map[int]agentmodel.ChangeRecord)
	for _, c := range changes {
		byPID[c.PID] = c
	}
	assert.Equal(t, agentmodel.EventActivityChanged, byPID[1].Kind)
	assert.Equal(t, agentmodel.EventAgentGone, byPID[2].Kind)
	assert.Equal(t, agentmodel.EventAgentUpdated, byPID[3].Kind)
}
