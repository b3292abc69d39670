// Package main is the statusd daemon entry point. It wires the scanner,
// router, and watch engine into the local socket server and HTTP gateway,
// or — in one-shot mode — prints a single scan and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/bridge"
	"github.com/jademind/statusd/internal/common/config"
	"github.com/jademind/statusd/internal/common/logger"
	"github.com/jademind/statusd/internal/cwdresolve"
	"github.com/jademind/statusd/internal/fingerprint"
	"github.com/jademind/statusd/internal/httpgateway"
	"github.com/jademind/statusd/internal/muxinfer"
	"github.com/jademind/statusd/internal/procscan"
	"github.com/jademind/statusd/internal/router"
	"github.com/jademind/statusd/internal/scanner"
	"github.com/jademind/statusd/internal/sessionfile"
	"github.com/jademind/statusd/internal/socketserver"
	"github.com/jademind/statusd/internal/telemetry"
	"github.com/jademind/statusd/internal/terminalio"
	"github.com/jademind/statusd/internal/watch"
)

func main() {
	once := flag.Bool("once", false, "print one scan as JSON and exit, instead of running the server loop")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	bridgeClient := bridge.NewClient(cfg.Bridge.Dir, cfg.Bridge.RegistryStaleMS, log)
	sc := buildScanner(cfg, bridgeClient, log)

	if *once {
		result := fingerprint.Normalize(sc.Scan(context.Background()))
		enc := json.NewEncoder(os.Stdout)
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode scan: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rt := buildRouter(bridgeClient, log)
	opts := routerOptions(cfg)
	eng := watch.New(sc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := socketserver.New(config.SocketPath(), buildSocketHandlers(sc, eng, rt, opts, log), log)
	gw := httpgateway.New(cfg.HTTP, cfg.HTTPS, buildGatewayHandlers(sc, eng, rt, opts, log), log)

	errCh := make(chan error, 3)
	go func() { errCh <- sock.ListenAndServe(ctx) }()
	go func() { errCh <- gw.ListenAndServe(ctx) }()
	go func() { errCh <- gw.ListenAndServeTLS(ctx) }()

	log.Info("statusd started",
		zap.String("socket", config.SocketPath()),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Bool("https_enabled", cfg.HTTPS.Enabled),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("statusd shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error("statusd listener failed", zap.Error(err))
		}
		cancel()
	}

	for i := 0; i < cap(errCh); i++ {
		if err := <-errCh; err != nil {
			log.Warn("statusd listener exited with error", zap.Error(err))
		}
	}
	log.Info("statusd stopped")
}

func buildScanner(cfg *config.Config, bridgeClient *bridge.Client, log *logger.Logger) *scanner.Scanner {
	telemetryReader := telemetry.NewReader(cfg.Telemetry.Dir, cfg.Telemetry.StaleMS, log)
	return scanner.New(
		procscan.NewReader(),
		cwdresolve.NewResolver(),
		telemetryReader,
		sessionfile.NewParser(),
		bridgeClient.IsLive,
	)
}

func buildRouter(bridgeClient *bridge.Client, log *logger.Logger) *router.Router {
	return router.New(
		bridgeClient,
		router.NewMuxCommandWriter(),
		terminalio.NewAppleScriptScripter(),
		terminalio.NewInjector(),
		terminalio.NewAppleScriptCollaborator(),
		log,
	)
}

func routerOptions(cfg *config.Config) router.Options {
	return router.Options{
		AckTimeout:     time.Duration(cfg.Bridge.AckTimeoutMS) * time.Millisecond,
		SendRetries:    cfg.Bridge.SendRetries,
		RetryBackoffMS: cfg.Bridge.SendRetryBackoffMS,
	}
}

// targetFor re-derives routing information for pid from a fresh scan plus
// a fresh ancestor walk, the same "re-derive rather than cache" approach
// the `latest` runtime-preview path takes (§4.7 step 1, §4.5).
func targetFor(ctx context.Context, sc *scanner.Scanner, pid int) (router.Target, agentmodel.Agent, bool) {
	snap := sc.Scan(ctx)
	var agent agentmodel.Agent
	found := false
	for _, a := range snap.Agents {
		if a.PID == pid {
			agent, found = a, true
			break
		}
	}
	if !found {
		return router.Target{}, agentmodel.Agent{}, false
	}

	rows := procscan.NewReader().Rows()
	byPID := procscan.ByPID(rows)
	term := muxinfer.DetectTerminal(pid, byPID)

	target := router.Target{
		PID:         pid,
		TTY:         agent.TTY,
		TerminalApp: term.App,
		TerminalPID: term.PID,
		BridgeLive:  agent.BridgeAvailable,
	}
	if agent.Mux != nil {
		target.Mux = agentmodel.Mux(*agent.Mux)
	}
	if agent.MuxSession != nil {
		target.MuxSession = *agent.MuxSession
	}
	return target, agent, true
}

func buildSocketHandlers(sc *scanner.Scanner, eng *watch.Engine, rt *router.Router, opts router.Options, log *logger.Logger) socketserver.Handlers {
	focuser := terminalio.NewAppleScriptCollaborator()
	dumper := terminalio.NewMuxScreenDumper()
	sessions := sessionfile.NewParser()

	latest := socketserver.NewLatestHandler(socketserver.LatestDeps{
		Scan:     sc.Scan,
		Sessions: sessions,
		Dumper:   dumper,
	})

	return socketserver.Handlers{
		Scan: func(ctx context.Context) any { return fingerprint.Normalize(sc.Scan(ctx)) },
		Ping: func() any { return map[string]any{"ok": true, "pong": true, "timestamp": time.Now().Unix()} },
		Jump: func(ctx context.Context, pid int) any {
			_, agent, found := targetFor(ctx, sc, pid)
			if !found {
				return map[string]any{"ok": false, "error": "pid not found"}
			}
			hints := muxinfer.BuildFocusHints(strPtr(agent.MuxSession), strPtr(agent.CWD), agent.TTY, "")
			rows := procscan.NewReader().Rows()
			term := muxinfer.DetectTerminal(pid, procscan.ByPID(rows))
			if focuser.FocusByPID(term.PID, hints) || focuser.FocusByTTY(agent.TTY) {
				return map[string]any{"ok": true}
			}
			return map[string]any{"ok": false, "error": "could not focus window"}
		},
		Latest: latest,
		Send: func(ctx context.Context, pid int, message string) any {
			target, agent, found := targetFor(ctx, sc, pid)
			if !found {
				return map[string]any{"ok": false, "error": "pid not found"}
			}
			res := rt.Send(ctx, target, message, opts)
			return router.SendResponse(pid, res, agent)
		},
		Watch: func(ctx context.Context, timeout time.Duration, fp string) any {
			return eng.Global(ctx, timeout, fp)
		},
	}
}

func buildGatewayHandlers(sc *scanner.Scanner, eng *watch.Engine, rt *router.Router, opts router.Options, log *logger.Logger) httpgateway.Handlers {
	return httpgateway.Handlers{
		Scan: func(ctx context.Context) agentmodel.ScanResult { return fingerprint.Normalize(sc.Scan(ctx)) },
		Watch: func(ctx context.Context, timeout time.Duration, fp string) agentmodel.WatchResult {
			return eng.Global(ctx, timeout, fp)
		},
		WatchAgent: func(ctx context.Context, pid int, timeout time.Duration, fp string) agentmodel.WatchResult {
			return eng.Agent(ctx, pid, timeout, fp)
		},
		PeekAgent: func(ctx context.Context, pid int) (agentmodel.Agent, bool) {
			return eng.Peek(ctx, pid)
		},
		Send: func(ctx context.Context, pid int, message string) (router.Result, agentmodel.Agent) {
			target, agent, found := targetFor(ctx, sc, pid)
			if !found {
				return router.Result{Error: "pid not found"}, agentmodel.Agent{}
			}
			return rt.Send(ctx, target, message, opts), agent
		},
	}
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
