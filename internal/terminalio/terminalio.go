// Package terminalio implements the core's TTY input-injection transport
// (§4.7 stage 6) and the thin external-collaborator interfaces for
// terminal focus/scripting (§6.3). The focus/scripting side is
// inherently platform-specific and best-effort by design: every method
// returns a bare bool, never an error, so a missing or unsupported host
// terminal degrades the router gracefully instead of failing the scan.
package terminalio

import (
	"os"
	"os/exec"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Focuser raises a terminal window to the foreground. All methods are
// best-effort; a false return means "could not confirm," not an error.
type Focuser interface {
	FocusByPID(appPID int, hints []string) bool
	FocusByTTY(tty string) bool
	FocusByTitle(hint string) bool
	OpenShell(command, cwd string) bool
}

// ScreenDumper extracts the visible screen buffer of a mux pane/window,
// used by the socket server's `latest` runtime-preview path (§4.8).
type ScreenDumper interface {
	DumpPane(mux, session string) (string, bool)
}

// Scripter writes text into a terminal pane by title/TTY targeting
// instead of raw TTY injection (§4.7 stage 5).
type Scripter interface {
	RunTerminalScript(text, tty, app string) bool
}

// osascriptCollaborator is the macOS AppleScript-backed implementation of
// Focuser and Scripter. It shells out to `osascript`; every failure is
// swallowed into a false return per §6.3.
type osascriptCollaborator struct {
	runner func(script string) (string, error)
}

// NewAppleScriptCollaborator builds the macOS terminal-focus collaborator.
func NewAppleScriptCollaborator() Focuser {
	return &osascriptCollaborator{runner: runOsascript}
}

// NewAppleScriptScripter builds the macOS terminal-scripting collaborator
// (§4.7 stage 5), backed by the same AppleScript runner as the focuser.
func NewAppleScriptScripter() Scripter {
	return &osascriptCollaborator{runner: runOsascript}
}

func runOsascript(script string) (string, error) {
	out, err := exec.Command("/usr/bin/osascript", "-e", script).Output()
	return strings.TrimSpace(string(out)), err
}

func (o *osascriptCollaborator) FocusByPID(appPID int, hints []string) bool {
	cleaned := cleanHints(hints)
	if len(cleaned) == 0 || appPID == 0 {
		return false
	}
	script := activateByPIDScript(appPID, cleaned)
	out, err := o.runner(script)
	return err == nil && out == "ok"
}

func (o *osascriptCollaborator) FocusByTTY(tty string) bool {
	if tty == "" || tty == "??" {
		return false
	}
	out, err := o.runner(focusByTTYScript(tty))
	return err == nil && out == "ok"
}

func (o *osascriptCollaborator) FocusByTitle(hint string) bool {
	if hint == "" {
		return false
	}
	out, err := o.runner(focusByTitleScript(hint))
	return err == nil && out == "ok"
}

func (o *osascriptCollaborator) OpenShell(command, cwd string) bool {
	out, err := o.runner(openShellScript(command, cwd))
	return err == nil && out == "ok"
}

// RunTerminalScript types text into the tab matching tty, falling back to
// activating the frontmost Terminal window of app when the tty can't be
// matched directly.
func (o *osascriptCollaborator) RunTerminalScript(text, tty, app string) bool {
	if text == "" {
		return false
	}
	out, err := o.runner(typeIntoTTYScript(text, tty, app))
	return err == nil && out == "ok"
}

func cleanHints(hints []string) []string {
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

func escapeAS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func activateByPIDScript(appPID int, hints []string) string {
	var quoted []string
	for _, h := range hints {
		quoted = append(quoted, `"`+escapeAS(h)+`"`)
	}
	return `tell application "System Events"
  try
    set targetProcess to first process whose unix id is ` + itoaAS(appPID) + `
  on error
    return "no"
  end try
  repeat with w in windows of targetProcess
    try
      set n to (name of w as text)
      repeat with needle in {` + strings.Join(quoted, ", ") + `}
        if n contains needle then
          set frontmost of targetProcess to true
          perform action "AXRaise" of w
          return "ok"
        end if
      end repeat
    end try
  end repeat
  return "no"
end tell`
}

func focusByTTYScript(tty string) string {
	t := escapeAS(tty)
	return `tell application "Terminal"
  repeat with w in windows
    repeat with tb in tabs of w
      try
        if (tty of tb as text) ends with "` + t + `" then
          set selected of tb to true
          activate
          return "ok"
        end if
      end try
    end repeat
  end repeat
end tell
return "no"`
}

func focusByTitleScript(hint string) string {
	h := escapeAS(hint)
	return `tell application "Terminal"
  repeat with w in windows
    repeat with tb in tabs of w
      try
        if (custom title of tb as text) contains "` + h + `" then
          set selected of tb to true
          activate
          return "ok"
        end if
      end try
    end repeat
  end repeat
end tell
return "no"`
}

func typeIntoTTYScript(text, tty, app string) string {
	t := escapeAS(tty)
	body := escapeAS(text)
	target := app
	if target == "" {
		target = "Terminal"
	}
	return `tell application "Terminal"
  repeat with w in windows
    repeat with tb in tabs of w
      try
        if (tty of tb as text) ends with "` + t + `" then
          set selected of tb to true
          activate
          tell application "System Events" to keystroke "` + body + `"
          tell application "System Events" to key code 36
          return "ok"
        end if
      end try
    end repeat
  end repeat
end tell
tell application "` + target + `" to activate
return "no"`
}

func openShellScript(command, cwd string) string {
	parts := []string{}
	if cwd != "" {
		parts = append(parts, "cd "+shQuote(cwd))
	}
	if command != "" {
		parts = append(parts, "exec "+shQuote(defaultShell())+" -lc "+shQuote(command))
	} else {
		parts = append(parts, "exec "+shQuote(defaultShell())+" -l")
	}
	cmd := escapeAS(strings.Join(parts, "; "))
	return `tell application "Terminal"
  activate
  do script "` + cmd + `"
end tell
return "ok"`
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func defaultShell() string {
	if sh := strings.TrimSpace(os.Getenv("SHELL")); sh != "" {
		return sh
	}
	return "/bin/zsh"
}

func itoaAS(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Injector pushes a payload into a TTY's input queue character by
// character via TIOCSTI, as if typed at the terminal (§4.7 stage 6).
type Injector struct{}

// NewInjector builds the raw TTY input injector.
func NewInjector() *Injector {
	return &Injector{}
}

// Inject opens ttyPath read-write without becoming its controlling
// terminal, then pushes text followed by a newline one byte at a time.
func (Injector) Inject(ttyPath, text string) bool {
	fd, err := unix.Open(ttyPath, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)

	for _, b := range []byte(text + "\n") {
		if err := pushByte(fd, b); err != nil {
			return false
		}
	}
	return true
}

// pushByte issues a raw TIOCSTI ioctl, the standard Linux mechanism for
// queuing a byte into a TTY's input buffer as though it had been typed.
func pushByte(fd int, b byte) error {
	ch := b
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TIOCSTI), uintptr(unsafe.Pointer(&ch)))
	if errno != 0 {
		return errno
	}
	return nil
}

// MuxScreenDumper implements ScreenDumper using each multiplexer's own
// pane-capture command, used by the socket server's `latest` path to
// recover a preview when telemetry/session-file data is absent.
type MuxScreenDumper struct{}

// NewMuxScreenDumper builds the default mux screen dumper.
func NewMuxScreenDumper() *MuxScreenDumper {
	return &MuxScreenDumper{}
}

// DumpPane captures the visible contents of session under mux.
func (MuxScreenDumper) DumpPane(mux, session string) (string, bool) {
	if session == "" {
		return "", false
	}

	var cmd *exec.Cmd
	switch mux {
	case "tmux":
		cmd = exec.Command("tmux", "capture-pane", "-p", "-t", session)
	case "screen":
		return "", false
	case "zellij":
		cmd = exec.Command("zellij", "--session", session, "action", "dump-screen", "-")
	default:
		return "", false
	}

	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}

// ResolvePreferredApp picks the terminal application to target for
// open/focus operations: an explicitly configured app if available,
// otherwise the first available app from the default preference order
// (§6.3, supplementing the configuration surface the distilled spec
// omits).
func ResolvePreferredApp(configured string, available func(app string) bool) string {
	if configured != "" && available(configured) {
		return configured
	}
	for _, app := range []string{"Ghostty", "iTerm2", "Terminal"} {
		if available(app) {
			return app
		}
	}
	return "Terminal"
}

// AppAvailable probes whether app's application bundle can be resolved
// by `open -Ra`, the macOS app-lookup mechanism the original used.
func AppAvailable(app string) bool {
	bundle := app + ".app"
	switch app {
	case "Ghostty":
		bundle = "Ghostty.app"
	case "iTerm2":
		bundle = "iTerm.app"
	case "Terminal":
		bundle = "Terminal.app"
	}
	cmd := exec.Command("/usr/bin/open", "-Ra", bundle)
	return cmd.Run() == nil
}
