package router

import (
	"context"
	"os/exec"

	"github.com/jademind/statusd/internal/agentmodel"
)

// MuxCommandWriter issues the mux-native "write characters" and "press
// enter" command pair (§4.7 stage 2), one external process per step.
type MuxCommandWriter struct{}

// NewMuxCommandWriter builds the default mux command writer.
func NewMuxCommandWriter() *MuxCommandWriter {
	return &MuxCommandWriter{}
}

// WriteAndEnter sends text into session via the given mux's binary, then
// issues its carriage-return equivalent.
func (MuxCommandWriter) WriteAndEnter(ctx context.Context, mux agentmodel.Mux, session, text string) bool {
	switch mux {
	case agentmodel.MuxTmux:
		if !run(ctx, "tmux", "send-keys", "-t", session, "-l", text) {
			return false
		}
		return run(ctx, "tmux", "send-keys", "-t", session, "Enter")
	case agentmodel.MuxZellij:
		if !run(ctx, "zellij", "--session", session, "action", "write-chars", text) {
			return false
		}
		return run(ctx, "zellij", "--session", session, "action", "write", "13")
	default:
		return false
	}
}

func run(ctx context.Context, name string, args ...string) bool {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Run() == nil
}
