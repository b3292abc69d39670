// Package telemetry implements the telemetry reader (C3): per-instance
// JSON snapshots filtered by liveness and staleness, with an optional CLI
// fallback when the directory yields nothing.
package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/common/constants"
	"github.com/jademind/statusd/internal/common/logger"
)

// Reader reads telemetry instance snapshots from a directory, falling
// back to an external CLI when the directory yields no valid snapshot.
type Reader struct {
	dir      string
	staleMS  int64
	cliPath  string
	log      *logger.Logger
	nowMS    func() int64
	liveness func(pid int) bool
}

// NewReader builds a Reader rooted at dir, dropping snapshots older than
// staleMS (§4.3).
func NewReader(dir string, staleMS int64, log *logger.Logger) *Reader {
	if staleMS <= 0 {
		staleMS = constants.DefaultTelemetryStaleMS
	}
	return &Reader{
		dir:      dir,
		staleMS:  staleMS,
		cliPath:  "pi-telemetry-snapshot",
		log:      log,
		nowMS:    nowMillis,
		liveness: isAlive,
	}
}

// Instances returns the ordered set of valid telemetry instances (§4.3).
// Every external touch point (file read, JSON parse, liveness probe, CLI
// invocation) degrades independently: a bad entry is dropped, never fatal.
func (r *Reader) Instances(ctx context.Context) []agentmodel.TelemetryInstance {
	instances := r.fromDir()
	if len(instances) > 0 {
		return instances
	}
	return r.fromCLI(ctx)
}

func (r *Reader) fromDir() []agentmodel.TelemetryInstance {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	now := r.nowMS()
	out := make([]agentmodel.TelemetryInstance, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}
		inst, ok := r.parse(raw, now)
		if !ok {
			continue
		}
		out = append(out, inst)
	}
	return out
}

func (r *Reader) parse(raw []byte, nowMS int64) (agentmodel.TelemetryInstance, bool) {
	var inst agentmodel.TelemetryInstance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return agentmodel.TelemetryInstance{}, false
	}
	if inst.Process.PID <= 0 {
		return agentmodel.TelemetryInstance{}, false
	}
	if nowMS-int64(inst.Process.UpdatedAt) > r.staleMS {
		return agentmodel.TelemetryInstance{}, false
	}
	if !r.liveness(inst.Process.PID) {
		return agentmodel.TelemetryInstance{}, false
	}
	return inst, true
}

type cliSnapshot struct {
	Instances []agentmodel.TelemetryInstance `json:"instances"`
}

func (r *Reader) fromCLI(ctx context.Context) []agentmodel.TelemetryInstance {
	cctx, cancel := context.WithTimeout(ctx, constants.TelemetryCLITimeout)
	defer cancel()

	out, err := exec.CommandContext(cctx, r.cliPath).Output()
	if err != nil {
		return nil
	}

	var snap cliSnapshot
	if err := json.Unmarshal(out, &snap); err != nil {
		if r.log != nil {
			r.log.Debug("telemetry: malformed CLI fallback output")
		}
		return nil
	}

	now := r.nowMS()
	valid := make([]agentmodel.TelemetryInstance, 0, len(snap.Instances))
	for _, inst := range snap.Instances {
		if inst.Process.PID <= 0 {
			continue
		}
		if now-int64(inst.Process.UpdatedAt) > r.staleMS {
			continue
		}
		if !r.liveness(inst.Process.PID) {
			continue
		}
		valid = append(valid, inst)
	}
	return valid
}

func isAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
