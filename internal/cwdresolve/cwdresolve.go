// Package cwdresolve implements the working-directory resolver (C2): one
// cwd query per PID via lsof, with a per-process timeout.
package cwdresolve

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/jademind/statusd/internal/common/constants"
)

// Resolver maps PIDs to their current working directory.
type Resolver struct {
	lsofPath string
}

// NewResolver builds a Resolver using the system `lsof` binary.
func NewResolver() *Resolver {
	return &Resolver{lsofPath: "/usr/sbin/lsof"}
}

// Map performs one cwd query per requested PID (§4.2). Failures are
// per-PID: a PID whose query fails or times out is simply absent from the
// returned map.
func (r *Resolver) Map(ctx context.Context, pids []int) map[int]string {
	out := make(map[int]string, len(pids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, pid := range pids {
		pid := pid
		wg.Add(1)
		go func() {
			defer wg.Done()
			cwd, ok := r.one(ctx, pid)
			if !ok {
				return
			}
			mu.Lock()
			out[pid] = cwd
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (r *Resolver) one(ctx context.Context, pid int) (string, bool) {
	qctx, cancel := context.WithTimeout(ctx, constants.CWDQueryTimeout)
	defer cancel()

	cmd := exec.CommandContext(qctx, r.lsofPath, "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn")
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "n") {
			return line[1:], true
		}
	}
	return "", false
}
