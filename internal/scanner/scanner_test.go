package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/cwdresolve"
	"github.com/jademind/statusd/internal/procscan"
)

func TestActivityFromProcess(t *testing.T) {
	cases := []struct {
		name       string
		row        agentmodel.ProcessRow
		activity   agentmodel.Activity
		confidence agentmodel.Confidence
	}{
		{"running state wins", agentmodel.ProcessRow{State: "R+", CPU: 0, TTY: "ttys001"}, agentmodel.ActivityRunning, agentmodel.ConfidenceHigh},
		{"high cpu without R state", agentmodel.ProcessRow{State: "S", CPU: 1.0, TTY: "??"}, agentmodel.ActivityRunning, agentmodel.ConfidenceMedium},
		{"sleeping with tty", agentmodel.ProcessRow{State: "S", CPU: 0.1, TTY: "ttys002"}, agentmodel.ActivityWaitingInput, agentmodel.ConfidenceMedium},
		{"sleeping without tty", agentmodel.ProcessRow{State: "S", CPU: 0.1, TTY: "??"}, agentmodel.ActivityUnknown, agentmodel.ConfidenceLow},
		{"unknown state", agentmodel.ProcessRow{State: "Z", CPU: 0, TTY: "??"}, agentmodel.ActivityUnknown, agentmodel.ConfidenceLow},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			activity, confidence := activityFromProcess(c.row)
			assert.Equal(t, c.activity, activity)
			assert.Equal(t, c.confidence, confidence)
		})
	}
}

func TestActivityFromTelemetry(t *testing.T) {
	trueVal, falseVal := true, false

	cases := []struct {
		name  string
		state agentmodel.TelemetryState
		want  agentmodel.Activity
	}{
		{"working enum", agentmodel.TelemetryState{Activity: "working"}, agentmodel.ActivityRunning},
		{"waiting_input enum", agentmodel.TelemetryState{Activity: "waiting_input"}, agentmodel.ActivityWaitingInput},
		{"legacy waitingForInput", agentmodel.TelemetryState{WaitingForInput: &trueVal}, agentmodel.ActivityWaitingInput},
		{"legacy busy", agentmodel.TelemetryState{Busy: &trueVal}, agentmodel.ActivityRunning},
		{"legacy isIdle false", agentmodel.TelemetryState{IsIdle: &falseVal}, agentmodel.ActivityRunning},
		{"legacy isIdle true", agentmodel.TelemetryState{IsIdle: &trueVal}, agentmodel.ActivityUnknown},
		{"nothing set", agentmodel.TelemetryState{}, agentmodel.ActivityUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, activityFromTelemetry(c.state))
		})
	}
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		name   string
		agents []agentmodel.Agent
		color  string
		label  string
	}{
		{"empty fleet", nil, "gray", "No Pi agents"},
		{
			"all running",
			[]agentmodel.Agent{{Activity: agentmodel.ActivityRunning}, {Activity: agentmodel.ActivityRunning}},
			"red", "All agents running",
		},
		{
			"all waiting",
			[]agentmodel.Agent{{Activity: agentmodel.ActivityWaitingInput}, {Activity: agentmodel.ActivityWaitingInput}},
			"green", "All agents waiting for input",
		},
		{
			"mixed",
			[]agentmodel.Agent{{Activity: agentmodel.ActivityRunning}, {Activity: agentmodel.ActivityWaitingInput}},
			"yellow", "Some agents waiting for input",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := Summarize(c.agents)
			assert.Equal(t, c.color, s.Color)
			assert.Equal(t, c.label, s.Label)
			assert.Equal(t, len(c.agents), s.Total)
		})
	}
}

func TestScan_UnionsProcessFallbackAgentsWithTelemetry(t *testing.T) {
	sc := &Scanner{cwdResolver: cwdresolve.NewResolver()}

	rows := []agentmodel.ProcessRow{
		{PID: 100, PPID: 1, Comm: "pi", State: "S", TTY: "ttys001", CPU: 0.1},
		{PID: 200, PPID: 1, Comm: "pi", State: "S", TTY: "ttys002", CPU: 0.1},
	}
	byPID := procscan.ByPID(rows)
	instances := []agentmodel.TelemetryInstance{
		{Process: agentmodel.TelemetryProcess{PID: 100}},
	}

	telemetryAgents := sc.agentsFromTelemetry(context.Background(), instances, rows, byPID)
	processAgents := sc.agentsFromProcesses(context.Background(), rows, byPID, pidSet(telemetryAgents))
	agents := append(telemetryAgents, processAgents...)

	pids := make([]int, 0, len(agents))
	for _, a := range agents {
		pids = append(pids, a.PID)
	}
	assert.ElementsMatch(t, []int{100, 200}, pids)

	// PID 200 never appeared in telemetry, so it must come from the
	// process-fallback pass, not be silently dropped by the union.
	for _, a := range agents {
		if a.PID == 200 {
			assert.False(t, a.HasTelemetry)
		}
		if a.PID == 100 {
			assert.True(t, a.HasTelemetry)
		}
	}
}

func TestPreviewOf_ShortPassesThrough(t *testing.T) {
	assert.Equal(t, "hello world", previewOf("hello   world"))
}

func TestPreviewOf_LongTailTruncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = byte('a' + i%26)
	}
	got := previewOf(string(long))
	assert.LessOrEqual(t, len(got), 420)
	assert.Equal(t, string(long[len(long)-417:]), got[3:])
	assert.Equal(t, "...", got[:3])
}
