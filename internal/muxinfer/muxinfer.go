// Package muxinfer implements mux and terminal-host inference (C5):
// classify which multiplexer (if any) contains an agent PID by walking its
// ancestor chain, and separately locate the host terminal application.
package muxinfer

import (
	"path/filepath"
	"strings"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/common/constants"
)

// InferMux walks the ancestors of row (up to MaxAncestorHops, cycle
// guarded) looking for the first ancestor whose argv contains a known mux
// marker (§4.5).
func InferMux(row agentmodel.ProcessRow, byPID map[int]agentmodel.ProcessRow) agentmodel.MuxInfo {
	visited := make(map[int]struct{})
	cur := row.PPID
	hops := 0

	for cur != 0 {
		if _, seen := visited[cur]; seen || hops >= constants.MaxAncestorHops {
			break
		}
		visited[cur] = struct{}{}
		hops++

		anc, ok := byPID[cur]
		if !ok {
			break
		}

		low := strings.ToLower(anc.Args)
		switch {
		case strings.Contains(low, "zellij"):
			return agentmodel.MuxInfo{Mux: agentmodel.MuxZellij, Session: extractZellijSession(anc.Args)}
		case strings.Contains(low, "tmux"):
			return agentmodel.MuxInfo{Mux: agentmodel.MuxTmux, Session: extractTmuxSession(anc.Args)}
		case strings.Contains(low, "screen"):
			return agentmodel.MuxInfo{Mux: agentmodel.MuxScreen}
		}

		cur = anc.PPID
	}

	return agentmodel.MuxInfo{}
}

func extractZellijSession(args string) string {
	parts := strings.Fields(args)
	for i, p := range parts {
		if (p == "-s" || p == "--session") && i+1 < len(parts) {
			return parts[i+1]
		}
		if p == "--server" && i+1 < len(parts) {
			return filepath.Base(parts[i+1])
		}
	}
	return ""
}

func extractTmuxSession(args string) string {
	parts := strings.Fields(args)
	for i, p := range parts {
		if (p == "-L" || p == "-S") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// FindMuxClientPID scans the process list for the attached mux client:
// first preferring an explicit client command line matching the session,
// falling back to any process on the same TTY running that mux (§4.5).
func FindMuxClientPID(mux agentmodel.Mux, session, tty string, rows []agentmodel.ProcessRow) int {
	if mux == agentmodel.MuxNone {
		return 0
	}

	if session != "" {
		for _, r := range rows {
			args := r.Args
			switch mux {
			case agentmodel.MuxZellij:
				if strings.Contains(args, "zellij") && !strings.Contains(args, "--server") && strings.Contains(args, session) {
					return r.PID
				}
			case agentmodel.MuxTmux:
				if strings.Contains(args, "tmux") && strings.Contains(args, session) {
					return r.PID
				}
			case agentmodel.MuxScreen:
				if strings.Contains(args, "screen") && strings.Contains(args, session) {
					return r.PID
				}
			}
		}
	}

	if tty != "" && tty != "??" {
		for _, r := range rows {
			if r.TTY != tty {
				continue
			}
			args := r.Args
			switch mux {
			case agentmodel.MuxZellij:
				if strings.Contains(args, "zellij") && !strings.Contains(args, "--server") {
					return r.PID
				}
			case agentmodel.MuxTmux:
				if strings.Contains(args, "tmux") {
					return r.PID
				}
			case agentmodel.MuxScreen:
				if strings.Contains(args, "screen") {
					return r.PID
				}
			}
		}
	}

	return 0
}

// DetectTerminal walks the ancestors of pid looking for a known host
// terminal executable name in comm or args (§4.5).
func DetectTerminal(pid int, byPID map[int]agentmodel.ProcessRow) agentmodel.TerminalInfo {
	visited := make(map[int]struct{})
	cur := pid

	for cur != 0 {
		if _, seen := visited[cur]; seen {
			break
		}
		visited[cur] = struct{}{}

		row, ok := byPID[cur]
		if !ok {
			break
		}

		comm := strings.ToLower(row.Comm)
		args := strings.ToLower(row.Args)

		switch {
		case strings.Contains(comm, "ghostty") || strings.Contains(args, "ghostty"):
			return agentmodel.TerminalInfo{App: "Ghostty", PID: cur}
		case strings.Contains(comm, "iterm") || strings.Contains(args, "iterm"):
			return agentmodel.TerminalInfo{App: "iTerm2", PID: cur}
		case comm == "terminal" || strings.Contains(args, "terminal.app/contents/macos/terminal"):
			return agentmodel.TerminalInfo{App: "Terminal", PID: cur}
		}

		cur = row.PPID
	}

	return agentmodel.TerminalInfo{}
}

// BuildFocusHints assembles the ordered, deduplicated hint list `jump`
// uses to locate a window (§4.9 original `_build_focus_hints`).
func BuildFocusHints(muxSession, cwd, tty, clientTTY string) []string {
	var hints []string
	if muxSession != "" {
		hints = append(hints, muxSession)
		if strings.HasPrefix(muxSession, "agent-") {
			hints = append(hints, strings.TrimPrefix(muxSession, "agent-"))
		}
	}
	if cwd != "" {
		hints = append(hints, filepath.Base(cwd))
	}
	if tty != "" && tty != "??" {
		hints = append(hints, tty)
	}
	if clientTTY != "" && clientTTY != "??" {
		hints = append(hints, clientTTY)
	}

	seen := make(map[string]struct{}, len(hints))
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		key := strings.ToLower(h)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}
