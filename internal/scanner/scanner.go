// Package scanner implements the fusion core (C6): one scan composes the
// process table, telemetry, cwd, session-file, and mux/terminal readers
// into the canonical agent set.
package scanner

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/cwdresolve"
	"github.com/jademind/statusd/internal/muxinfer"
	"github.com/jademind/statusd/internal/procscan"
	"github.com/jademind/statusd/internal/sessionfile"
	"github.com/jademind/statusd/internal/telemetry"
)

// BridgeLiveness reports whether a PID currently has a live file-bridge
// registry entry (§6.2); wired in by the caller to avoid an import cycle
// with the bridge package.
type BridgeLiveness func(pid int) bool

// Scanner composes the individual readers into full fleet scans (§4.6).
type Scanner struct {
	procReader  *procscan.Reader
	cwdResolver *cwdresolve.Resolver
	telemetry   *telemetry.Reader
	sessions    *sessionfile.Parser
	bridgeLive  BridgeLiveness
}

// New builds a Scanner. bridgeLive may be nil, in which case
// bridge_available is always false.
func New(procReader *procscan.Reader, cwdResolver *cwdresolve.Resolver, telemetryReader *telemetry.Reader, sessions *sessionfile.Parser, bridgeLive BridgeLiveness) *Scanner {
	return &Scanner{
		procReader:  procReader,
		cwdResolver: cwdResolver,
		telemetry:   telemetryReader,
		sessions:    sessions,
		bridgeLive:  bridgeLive,
	}
}

// Scan performs one full fleet scan (§4.6 steps 1-6).
func (s *Scanner) Scan(ctx context.Context) agentmodel.ScanResult {
	rows := s.procReader.Rows()
	byPID := procscan.ByPID(rows)

	instances := s.telemetry.Instances(ctx)

	var agents []agentmodel.Agent
	var source agentmodel.Source

	if len(instances) > 0 {
		telemetryAgents := s.agentsFromTelemetry(ctx, instances, rows, byPID)
		// §4.6 step 4: union by PID, telemetry overriding process-fallback —
		// a "pi" process telemetry never reported must still show up.
		processAgents := s.agentsFromProcesses(ctx, rows, byPID, pidSet(telemetryAgents))
		agents = append(telemetryAgents, processAgents...)
		source = agentmodel.SourceTelemetry
	} else {
		agents = s.agentsFromProcesses(ctx, rows, byPID, nil)
		source = agentmodel.SourceProcessFallback
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].PID < agents[j].PID })

	return agentmodel.ScanResult{
		OK:        true,
		Timestamp: time.Now().Unix(),
		Agents:    agents,
		Summary:   Summarize(agents),
		Version:   2,
		Source:    source,
	}
}

// agentsFromProcesses builds agents from the raw process table for every
// "pi" row, skipping any PID already present in covered (the telemetry-
// derived set, when this is being used as the process-fallback half of a
// union rather than the sole source).
func (s *Scanner) agentsFromProcesses(ctx context.Context, rows []agentmodel.ProcessRow, byPID map[int]agentmodel.ProcessRow, covered map[int]bool) []agentmodel.Agent {
	var piRows []agentmodel.ProcessRow
	var pids []int
	for _, r := range rows {
		if r.Comm == "pi" && !covered[r.PID] {
			piRows = append(piRows, r)
			pids = append(pids, r.PID)
		}
	}
	cwdMap := s.cwdResolver.Map(ctx, pids)

	agents := make([]agentmodel.Agent, 0, len(piRows))
	for _, row := range piRows {
		activity, confidence := activityFromProcess(row)
		mux := muxinfer.InferMux(row, byPID)
		clientPID := muxinfer.FindMuxClientPID(mux.Mux, mux.Session, row.TTY, rows)

		agent := agentmodel.Agent{
			PID:        row.PID,
			PPID:       row.PPID,
			State:      row.State,
			TTY:        row.TTY,
			CPU:        row.CPU,
			Activity:   activity,
			Confidence: confidence,
		}
		if cwd, ok := cwdMap[row.PID]; ok {
			agent.CWD = &cwd
		}
		applyMux(&agent, mux, clientPID)
		applyTerminal(&agent, row.PID, byPID)
		s.applyLatestMessage(&agent, nil)
		agent.BridgeAvailable = s.isBridgeLive(row.PID)

		agents = append(agents, agent)
	}
	return agents
}

func (s *Scanner) agentsFromTelemetry(ctx context.Context, instances []agentmodel.TelemetryInstance, rows []agentmodel.ProcessRow, byPID map[int]agentmodel.ProcessRow) []agentmodel.Agent {
	pids := make([]int, 0, len(instances))
	for _, inst := range instances {
		if inst.Process.PID > 0 {
			pids = append(pids, inst.Process.PID)
		}
	}
	cwdMap := s.cwdResolver.Map(ctx, pids)

	agents := make([]agentmodel.Agent, 0, len(instances))
	for _, inst := range instances {
		pid := inst.Process.PID
		if pid <= 0 {
			continue
		}

		row, hasRow := byPID[pid]
		tty := "??"
		if hasRow && row.TTY != "" {
			tty = row.TTY
		}

		var mux agentmodel.MuxInfo
		var clientPID int
		if hasRow {
			mux = muxinfer.InferMux(row, byPID)
			clientPID = muxinfer.FindMuxClientPID(mux.Mux, mux.Session, tty, rows)
		}
		if inst.Routing.Mux != "" {
			mux.Mux = agentmodel.Mux(inst.Routing.Mux)
			mux.Session = inst.Routing.MuxSession
			clientPID = muxinfer.FindMuxClientPID(mux.Mux, mux.Session, tty, rows)
		}

		ppid := inst.Process.PPID
		if ppid == 0 && hasRow {
			ppid = row.PPID
		}
		state := "?"
		if hasRow && row.State != "" {
			state = row.State
		}
		cpu := 0.0
		if hasRow {
			cpu = row.CPU
		}

		agent := agentmodel.Agent{
			PID:        pid,
			PPID:       ppid,
			State:      state,
			TTY:        tty,
			CPU:        cpu,
			Activity:   activityFromTelemetry(inst.State),
			Confidence: agentmodel.ConfidenceHigh,
		}

		cwd := inst.Workspace.CWD
		if cwd == "" {
			cwd = cwdMap[pid]
		}
		if cwd != "" {
			agent.CWD = &cwd
		}

		applyMux(&agent, mux, clientPID)
		applyTerminal(&agent, pid, byPID)
		applyTelemetryEnrichment(&agent, inst)
		s.applyLatestMessage(&agent, &inst)
		agent.BridgeAvailable = s.isBridgeLive(pid)
		agent.HasTelemetry = true

		agents = append(agents, agent)
	}
	return agents
}

// pidSet collects the PIDs already represented by agents, used to keep a
// process-fallback pass from duplicating a telemetry-covered PID.
func pidSet(agents []agentmodel.Agent) map[int]bool {
	m := make(map[int]bool, len(agents))
	for _, a := range agents {
		m[a.PID] = true
	}
	return m
}

func (s *Scanner) isBridgeLive(pid int) bool {
	if s.bridgeLive == nil {
		return false
	}
	return s.bridgeLive(pid)
}

func (s *Scanner) applyLatestMessage(agent *agentmodel.Agent, inst *agentmodel.TelemetryInstance) {
	if s.sessions == nil {
		return
	}
	path := ""
	if inst != nil {
		path = inst.Session.SessionFile
	}
	if path == "" {
		return
	}

	result, ok := s.sessions.Parse(path)
	if !ok {
		return
	}

	agent.LatestMessageFull = result.Text
	agent.LatestMessage = previewOf(result.Text)
	agent.LatestMessageHTML = htmlOf(result.Text)
	at := result.AtMS
	agent.LatestMessageAt = &at
}

func applyMux(agent *agentmodel.Agent, mux agentmodel.MuxInfo, clientPID int) {
	if mux.Mux == agentmodel.MuxNone {
		return
	}
	m := string(mux.Mux)
	agent.Mux = &m
	if mux.Session != "" {
		agent.MuxSession = &mux.Session
	}
	if clientPID != 0 {
		agent.ClientPID = &clientPID
		agent.AttachedWindow = true
	}
}

// applyTerminal records the host terminal application hosting pid, found
// by the same ancestor walk used for mux classification (§4.5).
func applyTerminal(agent *agentmodel.Agent, pid int, byPID map[int]agentmodel.ProcessRow) {
	term := muxinfer.DetectTerminal(pid, byPID)
	if term.App != "" {
		agent.TerminalApp = &term.App
	}
}

func applyTelemetryEnrichment(agent *agentmodel.Agent, inst agentmodel.TelemetryInstance) {
	source := inst.Source
	if source == "" {
		source = string(agentmodel.SourceTelemetry)
	}
	agent.TelemetrySource = &source

	if inst.Model.Provider != "" {
		agent.ModelProvider = &inst.Model.Provider
	}
	if inst.Model.ID != "" {
		agent.ModelID = &inst.Model.ID
	}
	if inst.Model.Name != "" {
		agent.ModelName = &inst.Model.Name
	}
	if inst.Session.ID != "" {
		agent.SessionID = &inst.Session.ID
	}
	if inst.Session.Name != "" {
		agent.SessionName = &inst.Session.Name
	}
	if inst.Session.SessionFile != "" {
		agent.SessionFile = &inst.Session.SessionFile
	}

	agent.ContextWindow = agentmodel.ContextWindow{
		Percent:         inst.Context.Percent,
		Pressure:        inst.Context.Pressure,
		CloseToLimit:    inst.Context.CloseToLimit,
		NearLimit:       inst.Context.NearLimit,
		Tokens:          inst.Context.Tokens,
		Window:          inst.Context.Window,
		RemainingTokens: inst.Context.RemainingTokens,
	}
}

// activityFromProcess implements the process-fallback activity/confidence
// table (§3.1).
func activityFromProcess(row agentmodel.ProcessRow) (agentmodel.Activity, agentmodel.Confidence) {
	if strings.HasPrefix(row.State, "R") {
		return agentmodel.ActivityRunning, agentmodel.ConfidenceHigh
	}
	if row.CPU >= 1.0 {
		return agentmodel.ActivityRunning, agentmodel.ConfidenceMedium
	}
	if strings.HasPrefix(row.State, "S") && row.TTY != "??" {
		return agentmodel.ActivityWaitingInput, agentmodel.ConfidenceMedium
	}
	return agentmodel.ActivityUnknown, agentmodel.ConfidenceLow
}

// activityFromTelemetry implements the telemetry activity mapping (§3.1),
// including the legacy boolean-triple compatibility path.
func activityFromTelemetry(state agentmodel.TelemetryState) agentmodel.Activity {
	switch state.Activity {
	case "working":
		return agentmodel.ActivityRunning
	case "waiting_input":
		return agentmodel.ActivityWaitingInput
	}

	if state.WaitingForInput != nil && *state.WaitingForInput {
		return agentmodel.ActivityWaitingInput
	}
	if (state.Busy != nil && *state.Busy) || (state.IsIdle != nil && !*state.IsIdle) {
		return agentmodel.ActivityRunning
	}
	return agentmodel.ActivityUnknown
}

// Summarize computes the fleet summary (§3.2).
func Summarize(agents []agentmodel.Agent) agentmodel.Summary {
	s := agentmodel.Summary{Total: len(agents)}
	for _, a := range agents {
		switch a.Activity {
		case agentmodel.ActivityRunning:
			s.Running++
		case agentmodel.ActivityWaitingInput:
			s.WaitingInput++
		default:
			s.Unknown++
		}
	}

	switch {
	case s.Total == 0:
		s.Color = "gray"
		s.Label = "No Pi agents"
	case s.WaitingInput == 0 && s.Unknown == 0:
		s.Color = "red"
		s.Label = "All agents running"
	case s.WaitingInput == s.Total && s.Unknown == 0:
		s.Color = "green"
		s.Label = "All agents waiting for input"
	default:
		s.Color = "yellow"
		s.Label = "Some agents waiting for input"
	}
	return s
}

// previewOf derives latest_message from latest_message_full by
// whitespace-collapse followed by tail-truncation: when the collapsed
// text overflows the cap, the preview keeps the tail and marks the
// omitted head with a leading ellipsis (§3.1 invariant).
func previewOf(full string) string {
	collapsed := strings.Join(strings.Fields(full), " ")
	const max = 420
	if len(collapsed) <= max {
		return collapsed
	}
	if max <= 3 {
		return collapsed[len(collapsed)-max:]
	}
	return "..." + collapsed[len(collapsed)-(max-3):]
}

func htmlOf(full string) string {
	escaped := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	).Replace(full)
	lines := strings.Split(escaped, "\n")
	return "<p>" + strings.Join(lines, "<br>") + "</p>"
}
