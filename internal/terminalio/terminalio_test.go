package terminalio

import (
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanHints_DropsEmpty(t *testing.T) {
	got := cleanHints([]string{"a", "", "b", ""})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestResolvePreferredApp_PrefersConfiguredWhenAvailable(t *testing.T) {
	available := map[string]bool{"iTerm2": true, "Ghostty": false}
	got := ResolvePreferredApp("iTerm2", func(app string) bool { return available[app] })
	assert.Equal(t, "iTerm2", got)
}

func TestResolvePreferredApp_FallsBackToDefaultOrder(t *testing.T) {
	available := map[string]bool{"Terminal": true}
	got := ResolvePreferredApp("", func(app string) bool { return available[app] })
	assert.Equal(t, "Terminal", got)
}

func TestResolvePreferredApp_NoneAvailableDefaultsToTerminal(t *testing.T) {
	got := ResolvePreferredApp("", func(app string) bool { return false })
	assert.Equal(t, "Terminal", got)
}

func TestInjector_PushesBytesOverPTY(t *testing.T) {
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()

	injector := NewInjector()
	ok := injector.Inject(tty.Name(), "hi")
	assert.True(t, ok)

	buf := make([]byte, 16)
	n, err := ptmx.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(buf[:n]))
}
