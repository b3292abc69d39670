// Package procscan implements the process table reader (C1): a single
// platform query producing pid/ppid/comm/state/tty/cpu/args rows.
package procscan

import (
	"bufio"
	"bytes"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jademind/statusd/internal/agentmodel"
)

// Reader reads the OS process table via a single `ps` invocation.
type Reader struct {
	// psPath is overridable in tests.
	psPath string
}

// NewReader builds a Reader using the system `ps` binary.
func NewReader() *Reader {
	return &Reader{psPath: "/bin/ps"}
}

// Rows performs one shot enumeration of OS processes (§4.1). Malformed
// numeric fields are dropped silently; a failed `ps` invocation yields an
// empty set, never an error, since the scanner must degrade gracefully
// (§7 propagation policy).
func (r *Reader) Rows() []agentmodel.ProcessRow {
	out, err := exec.Command(r.psPath, "-axo", "pid=,ppid=,comm=,state=,tty=,pcpu=,args=").Output()
	if err != nil {
		return nil
	}
	return ParseRows(out)
}

// ParseRows parses `ps -axo pid=,ppid=,comm=,state=,tty=,pcpu=,args=`
// output. Exported for unit testing without shelling out.
func ParseRows(out []byte) []agentmodel.ProcessRow {
	var rows []agentmodel.ProcessRow
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := splitFields(line, 7)
		if len(parts) < 6 {
			continue
		}
		pid, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		cpu, err := strconv.ParseFloat(parts[5], 64)
		if err != nil {
			continue
		}
		args := ""
		if len(parts) >= 7 {
			args = parts[6]
		}
		rows = append(rows, agentmodel.ProcessRow{
			PID:   pid,
			PPID:  ppid,
			Comm:  parts[2],
			State: parts[3],
			TTY:   parts[4],
			CPU:   cpu,
			Args:  args,
		})
	}
	return rows
}

// splitFields mimics Python's str.split(None, maxsplit) semantics: split on
// arbitrary whitespace runs, keeping the trailing field (args, which may
// itself contain spaces) intact.
func splitFields(line string, maxFields int) []string {
	var fields []string
	rest := line
	for len(fields) < maxFields-1 {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return fields
		}
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			fields = append(fields, rest)
			return fields
		}
		fields = append(fields, rest[:idx])
		rest = rest[idx:]
	}
	rest = strings.TrimLeft(rest, " \t")
	if rest != "" {
		fields = append(fields, rest)
	}
	return fields
}

// ByPID indexes rows by PID for O(1) ancestor lookups (C5/C6).
func ByPID(rows []agentmodel.ProcessRow) map[int]agentmodel.ProcessRow {
	m := make(map[int]agentmodel.ProcessRow, len(rows))
	for _, r := range rows {
		m[r.PID] = r
	}
	return m
}
