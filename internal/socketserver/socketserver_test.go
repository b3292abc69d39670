package socketserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jademind/statusd/internal/common/logger"
)

func testServer(t *testing.T, h Handlers) (string, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statusd.sock")
	srv := New(path, h, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.ListenAndServe(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", path)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 5*time.Millisecond)

	return path, func() {
		cancel()
		<-done
	}
}

func roundTrip(t *testing.T, path, line string) map[string]any {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(reply), &out))
	return out
}

func TestDispatch_StatusAndEmptyBothScan(t *testing.T) {
	h := Handlers{
		Scan: func(ctx context.Context) any { return map[string]any{"ok": true, "agents": []int{}} },
	}
	path, stop := testServer(t, h)
	defer stop()

	for _, line := range []string{"status", ""} {
		got := roundTrip(t, path, line)
		assert.Equal(t, true, got["ok"])
	}
}

func TestDispatch_Ping(t *testing.T) {
	h := Handlers{
		Ping: func() any { return map[string]any{"ok": true, "pong": true} },
	}
	path, stop := testServer(t, h)
	defer stop()

	got := roundTrip(t, path, "ping")
	assert.Equal(t, true, got["pong"])
}

func TestDispatch_JumpRequiresPID(t *testing.T) {
	h := Handlers{
		Jump: func(ctx context.Context, pid int) any { return map[string]any{"ok": true, "pid": pid} },
	}
	path, stop := testServer(t, h)
	defer stop()

	got := roundTrip(t, path, "jump abc")
	assert.Equal(t, false, got["ok"])

	got = roundTrip(t, path, "jump 123")
	assert.Equal(t, true, got["ok"])
	assert.EqualValues(t, 123, got["pid"])
}

func TestDispatch_SendJoinsMessageWords(t *testing.T) {
	var gotMessage string
	h := Handlers{
		Send: func(ctx context.Context, pid int, message string) any {
			gotMessage = message
			return map[string]any{"ok": true}
		},
	}
	path, stop := testServer(t, h)
	defer stop()

	roundTrip(t, path, "send 42 hello there world")
	assert.Equal(t, "hello there world", gotMessage)
}

func TestDispatch_WatchClampsTimeout(t *testing.T) {
	var gotTimeout time.Duration
	h := Handlers{
		Watch: func(ctx context.Context, timeout time.Duration, fingerprint string) any {
			gotTimeout = timeout
			return map[string]any{"ok": true}
		},
	}
	path, stop := testServer(t, h)
	defer stop()

	roundTrip(t, path, "watch 1")
	assert.Equal(t, 250*time.Millisecond, gotTimeout)

	roundTrip(t, path, "watch 999999999")
	assert.Equal(t, 60*time.Second, gotTimeout)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	path, stop := testServer(t, Handlers{})
	defer stop()

	got := roundTrip(t, path, "bogus command")
	assert.Equal(t, false, got["ok"])
	assert.Contains(t, got["error"], "unknown request")
}

func TestConnection_FailureIsolatedFromSubsequentRequests(t *testing.T) {
	calls := 0
	h := Handlers{
		Ping: func() any {
			calls++
			return map[string]any{"ok": true}
		},
	}
	path, stop := testServer(t, h)
	defer stop()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	conn.Close()

	got := roundTrip(t, path, "ping")
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, 1, calls)
}
