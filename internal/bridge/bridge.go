// Package bridge implements the file bridge contract (§6.2): a registry
// of live agent-side consumers, and an inbox/ack protocol used by the
// message router's bridge stage.
package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/common/constants"
	"github.com/jademind/statusd/internal/common/logger"
)

// Client talks to the file bridge rooted at Dir (§6.2).
type Client struct {
	dir             string
	registryStaleMS int64
	log             *logger.Logger
}

// NewClient builds a Client rooted at dir.
func NewClient(dir string, registryStaleMS int64, log *logger.Logger) *Client {
	if registryStaleMS < 1000 {
		registryStaleMS = constants.DefaultBridgeRegistryStaleMS
	}
	return &Client{dir: dir, registryStaleMS: registryStaleMS, log: log}
}

// IsLive reports whether pid has a live registry entry: a fresh
// updatedAt timestamp and a passing signal-0 liveness probe (§6.2).
func (c *Client) IsLive(pid int) bool {
	raw, err := os.ReadFile(filepath.Join(c.dir, "registry", strconv.Itoa(pid)+".json"))
	if err != nil {
		return false
	}
	var entry agentmodel.BridgeRegistryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false
	}
	if entry.PID != pid {
		return false
	}
	nowMS := time.Now().UnixMilli()
	if nowMS-int64(entry.UpdatedAt) > c.registryStaleMS {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// RateLimitedErrors enumerates ack error strings classified retryable
// (§4.7 stage 3).
var RateLimitedErrors = map[string]bool{
	"rate_limited":        true,
	"bridge_rate_limited": true,
	"pi_rate_limited":     true,
}

// SendResult is the outcome of one bridge delivery attempt.
type SendResult struct {
	Delivered    bool
	RateLimited  bool
	Error        string
	ResolvedMode string
}

// Send enqueues one envelope for pid and waits up to ackTimeout for an
// ack, polling every BridgeAckPollTick (short-circuited by an fsnotify
// watch on the ack directory when available) (§4.7 stage 3).
func (c *Client) Send(ctx context.Context, pid int, text, mode string, attempt int, ackTimeout time.Duration) SendResult {
	id := uuid.New().String()
	now := time.Now().UTC()

	env := agentmodel.BridgeEnvelope{
		V:         1,
		ID:        id,
		PID:       pid,
		Text:      text,
		Source:    "statusbar",
		CreatedAt: now.Format("2006-01-02T15:04:05.000Z"),
		ExpiresAt: now.Add(60 * time.Second).Format("2006-01-02T15:04:05.000Z"),
		Delivery:  agentmodel.BridgeDelivery{Mode: mode},
		Meta:      agentmodel.BridgeMeta{RequestID: id, Attempt: attempt},
	}

	if err := c.writeEnvelope(pid, id, env); err != nil {
		return SendResult{Error: "bridge_write_failed"}
	}

	return c.pollAck(ctx, pid, id, ackTimeout)
}

func (c *Client) writeEnvelope(pid int, id string, env agentmodel.BridgeEnvelope) error {
	dir := filepath.Join(c.dir, "inbox", strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	target := filepath.Join(dir, id+".json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (c *Client) pollAck(ctx context.Context, pid int, id string, timeout time.Duration) SendResult {
	ackDir := filepath.Join(c.dir, "acks", strconv.Itoa(pid))
	ackPath := filepath.Join(ackDir, id+".json")

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(constants.BridgeAckPollTick)
	defer ticker.Stop()

	watcher, werr := fsnotify.NewWatcher()
	if werr == nil {
		defer watcher.Close()
		if err := os.MkdirAll(ackDir, 0o700); err == nil {
			_ = watcher.Add(ackDir)
		}
	}

	var watchEvents <-chan fsnotify.Event
	if watcher != nil {
		watchEvents = watcher.Events
	}

	for {
		if ack, ok := c.readAck(ackPath); ok {
			return classifyAck(ack)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return SendResult{Error: "ack_timeout"}
		}

		select {
		case <-ctx.Done():
			return SendResult{Error: "cancelled"}
		case <-time.After(remaining):
			return SendResult{Error: "ack_timeout"}
		case <-watchEvents:
			continue
		case <-ticker.C:
			continue
		}
	}
}

func (c *Client) readAck(path string) (agentmodel.BridgeAck, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return agentmodel.BridgeAck{}, false
	}
	var ack agentmodel.BridgeAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		if c.log != nil {
			c.log.Debug("bridge: malformed ack, ignoring")
		}
		return agentmodel.BridgeAck{}, false
	}
	if ack.Status == "" {
		return agentmodel.BridgeAck{}, false
	}
	return ack, true
}

func classifyAck(ack agentmodel.BridgeAck) SendResult {
	if ack.Status == "delivered" {
		return SendResult{Delivered: true, ResolvedMode: ack.ResolvedMode}
	}
	return SendResult{
		Error:       ack.Error,
		RateLimited: RateLimitedErrors[ack.Error],
	}
}
