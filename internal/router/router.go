// Package router implements the message router (C7): an ordered
// pipeline of delivery strategies over a live agent, stopping at the
// first stage that succeeds.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/bridge"
	"github.com/jademind/statusd/internal/common/constants"
	"github.com/jademind/statusd/internal/common/logger"
	"github.com/jademind/statusd/internal/muxinfer"
	"github.com/jademind/statusd/internal/terminalio"
)

// Target describes the routing information the router needs for one
// send, gathered by the caller from the scanner/telemetry/mux inference
// (§4.7 step 1 routing override already applied by the time this is
// built).
type Target struct {
	PID         int
	TTY         string
	Mux         agentmodel.Mux
	MuxSession  string
	TerminalApp string
	TerminalPID int
	BridgeLive  bool
}

// Result is the outcome of a send, reporting which transport (if any)
// delivered the message.
type Result struct {
	OK       bool     `json:"ok"`
	Delivery string   `json:"delivery,omitempty"`
	Error    string   `json:"error,omitempty"`
	Attempts []string `json:"attempts,omitempty"`
}

// Options configures the bridge retry ladder (§4.7 stage 3, clamped by
// the config loader before reaching here).
type Options struct {
	AckTimeout     time.Duration
	SendRetries    int
	RetryBackoffMS int64
}

// Router executes the send pipeline over a single target.
type Router struct {
	bridge   bridgeSender
	mux      muxWriter
	scripter terminalio.Scripter
	injector *terminalio.Injector
	focuser  terminalio.Focuser
	log      *logger.Logger
}

// muxWriter issues the mux-specific "write characters"+"enter" command
// pair (§4.7 stage 2); implemented separately from Scripter because the
// mux command set differs per multiplexer binary.
type muxWriter interface {
	WriteAndEnter(ctx context.Context, mux agentmodel.Mux, session, text string) bool
}

// bridgeSender is the subset of *bridge.Client the stage-3 pipeline
// needs; narrowed to an interface so tests can script rate-limit/ack
// outcomes without a real bridge directory.
type bridgeSender interface {
	Send(ctx context.Context, pid int, text, mode string, attempt int, ackTimeout time.Duration) bridge.SendResult
}

// New builds a Router from its collaborators. Any collaborator may be
// nil, in which case the corresponding stage is skipped.
func New(bridgeClient bridgeSender, mux muxWriter, scripter terminalio.Scripter, injector *terminalio.Injector, focuser terminalio.Focuser, log *logger.Logger) *Router {
	return &Router{bridge: bridgeClient, mux: mux, scripter: scripter, injector: injector, focuser: focuser, log: log}
}

// Send executes the §4.7 pipeline for one message. Precondition: message
// is non-empty after trim (enforced by the caller, matching the spec's
// precondition split between transport layers).
func (r *Router) Send(ctx context.Context, target Target, message string, opts Options) Result {
	var attempts []string

	// Stage 2: primary mux injection.
	knownMux := target.Mux != agentmodel.MuxNone
	if knownMux && target.MuxSession != "" && r.mux != nil {
		attempts = append(attempts, string(target.Mux))
		cctx, cancel := context.WithTimeout(ctx, constants.MuxCommandTimeout)
		ok := r.mux.WriteAndEnter(cctx, target.Mux, target.MuxSession, message)
		cancel()
		if ok {
			return Result{OK: true, Delivery: string(target.Mux), Attempts: attempts}
		}
	}

	// Stage 3: file bridge, with rate-limit retries.
	bridgeRateLimited := false
	if target.BridgeLive && r.bridge != nil {
		attempts = append(attempts, "pi-bridge")
		res := r.sendViaBridge(ctx, target.PID, message, opts)
		if res.Delivered {
			return Result{OK: true, Delivery: "pi-bridge", Attempts: attempts}
		}
		if !res.RateLimited {
			return Result{OK: false, Error: failureOrDefault(res.Error, "bridge_delivery_failed"), Attempts: attempts}
		}
		bridgeRateLimited = true
	}

	// Stage 4: a known multiplexer with no successful direct send fails
	// fast here. Raw TTY injection, terminal scripting, or synthetic
	// keystrokes would land in the wrong pane for a session-managed mux,
	// so none of the remaining stages apply — unless the bridge stage
	// exhausted its retries on rate-limiting rather than a hard failure,
	// in which case the terminal-level fallbacks still get a turn (§9).
	if knownMux && !bridgeRateLimited {
		return Result{OK: false, Error: "mux delivery failed, no fallback for session-managed terminal", Attempts: attempts}
	}

	// Stage 5: terminal scripting.
	if target.TTY != "" && target.TTY != "??" && target.TerminalApp != "" && r.scripter != nil {
		attempts = append(attempts, "terminal-script")
		if r.scripter.RunTerminalScript(message, target.TTY, target.TerminalApp) {
			return Result{OK: true, Delivery: "terminal-script", Attempts: attempts}
		}
	}

	// Stage 6: raw TTY input injection.
	if target.TTY != "" && target.TTY != "??" && r.injector != nil {
		attempts = append(attempts, "tty-input")
		if r.injector.Inject(devPath(target.TTY), message) {
			return Result{OK: true, Delivery: "tty-input", Attempts: attempts}
		}
	}

	// Stage 7: synthetic keystrokes via window focus.
	if r.focuser != nil {
		attempts = append(attempts, "ui-keystroke")
		hints := muxinfer.BuildFocusHints(target.MuxSession, "", target.TTY, "")
		if r.focuser.FocusByPID(target.TerminalPID, hints) || r.focuser.FocusByTTY(target.TTY) {
			return Result{OK: true, Delivery: "ui-keystroke", Attempts: attempts}
		}
	}

	return Result{OK: false, Error: "no transport delivered message", Attempts: attempts}
}

func (r *Router) sendViaBridge(ctx context.Context, pid int, message string, opts Options) bridge.SendResult {
	retries := opts.SendRetries
	if retries < constants.MinBridgeSendRetries {
		retries = constants.DefaultBridgeSendRetries
	}
	backoff := time.Duration(opts.RetryBackoffMS) * time.Millisecond
	if backoff <= 0 {
		backoff = constants.DefaultBridgeSendRetryBackoffMS * time.Millisecond
	}
	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = time.Duration(constants.DefaultBridgeAckTimeoutMS) * time.Millisecond
	}

	var last bridge.SendResult
	for attempt := 1; attempt <= retries; attempt++ {
		last = r.bridge.Send(ctx, pid, message, "queued", attempt, ackTimeout)
		if last.Delivered || !last.RateLimited {
			return last
		}
		if attempt < retries {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(backoff):
			}
		}
	}
	return last
}

// SendResponse builds the JSON-marshalable body for a send result (§7,
// §8): success carries pid/delivery, failure carries pid/error/attempts,
// and the agent's mux/terminal context rides along either way so a
// caller debugging a failed delivery doesn't need a second round trip.
func SendResponse(pid int, res Result, agent agentmodel.Agent) map[string]any {
	out := map[string]any{"ok": res.OK, "pid": pid}
	if res.OK {
		out["delivery"] = res.Delivery
	} else {
		out["error"] = res.Error
		out["attempts"] = res.Attempts
	}
	out["tty"] = agent.TTY
	out["terminal_app"] = derefOrEmpty(agent.TerminalApp)
	out["mux"] = derefOrEmpty(agent.Mux)
	out["mux_session"] = derefOrEmpty(agent.MuxSession)
	return out
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func failureOrDefault(err, fallback string) string {
	if err == "" {
		return fallback
	}
	return err
}

func devPath(tty string) string {
	if strings.HasPrefix(tty, "/dev/") {
		return tty
	}
	return "/dev/" + tty
}
