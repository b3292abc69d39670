// Package socketserver implements the local socket server (C8): a
// per-user UNIX stream socket speaking a one-request-per-connection line
// protocol over the scanner, router, and watch engine.
package socketserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jademind/statusd/internal/common/constants"
	"github.com/jademind/statusd/internal/common/logger"
)

// Handlers is the set of domain operations the wire protocol dispatches
// to (§4.8). Each handler returns a JSON-marshalable response.
type Handlers struct {
	Scan   func(ctx context.Context) any
	Ping   func() any
	Jump   func(ctx context.Context, pid int) any
	Latest func(ctx context.Context, pid int) any
	Send   func(ctx context.Context, pid int, message string) any
	Watch  func(ctx context.Context, timeout time.Duration, fingerprint string) any
}

// Server listens on a UNIX socket at path, serving one request per
// accepted connection.
type Server struct {
	path     string
	handlers Handlers
	log      *logger.Logger
}

// New builds a Server bound to path.
func New(path string, handlers Handlers, log *logger.Logger) *Server {
	return &Server{path: path, handlers: handlers, log: log}
}

// ListenAndServe removes any stale socket file, listens, and serves
// connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		_ = os.Remove(s.path)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn("socketserver: accept failed", zap.Error(err))
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn processes exactly one request on conn, regardless of
// outcome, then closes it. A panic or parse error in one connection
// never brings down the accept loop.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("socketserver: connection handler panicked", zap.Any("recover", r))
		}
	}()

	reader := bufio.NewReaderSize(conn, constants.SocketReadBufferBytes)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}
	line = strings.TrimRight(line, "\r\n")

	resp := s.dispatch(ctx, line)
	raw, err := json.Marshal(resp)
	if err != nil {
		raw = []byte(`{"ok":false,"error":"internal encode error"}`)
	}
	raw = append(raw, '\n')
	_, _ = conn.Write(raw)
}

func (s *Server) dispatch(ctx context.Context, line string) any {
	fields := strings.Fields(line)
	cmd := "status"
	if len(fields) > 0 {
		cmd = fields[0]
	}

	switch cmd {
	case "status", "":
		return s.handlers.Scan(ctx)

	case "ping":
		return s.handlers.Ping()

	case "jump":
		pid, ok := parsePID(fields, 1)
		if !ok {
			return errorResponse("usage: jump <pid>")
		}
		return s.handlers.Jump(ctx, pid)

	case "latest":
		pid, ok := parsePID(fields, 1)
		if !ok {
			return errorResponse("usage: latest <pid>")
		}
		return s.handlers.Latest(ctx, pid)

	case "send":
		if len(fields) < 3 {
			return errorResponse("usage: send <pid> <message...>")
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil || pid <= 0 {
			return errorResponse("usage: send <pid> <message...>")
		}
		message := strings.Join(fields[2:], " ")
		return s.handlers.Send(ctx, pid, message)

	case "watch":
		timeout := constants.WatchTimeoutDefault
		fingerprint := ""
		if len(fields) >= 2 {
			if ms, err := strconv.Atoi(fields[1]); err == nil {
				timeout = clampWatchTimeout(time.Duration(ms) * time.Millisecond)
			}
		}
		if len(fields) >= 3 {
			fingerprint = fields[2]
		}
		return s.handlers.Watch(ctx, timeout, fingerprint)

	default:
		return errorResponse("unknown request: " + line)
	}
}

func clampWatchTimeout(d time.Duration) time.Duration {
	if d < constants.WatchTimeoutMin {
		return constants.WatchTimeoutMin
	}
	if d > constants.WatchTimeoutMax {
		return constants.WatchTimeoutMax
	}
	return d
}

func parsePID(fields []string, idx int) (int, bool) {
	if len(fields) <= idx {
		return 0, false
	}
	pid, err := strconv.Atoi(fields[idx])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func errorResponse(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}
