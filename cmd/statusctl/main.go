// Package main implements statusctl, a thin CLI client for statusd's local
// socket (§6.1, §6.6 mode b): it writes one request line, reads the one
// JSON response line, prints it, and exits.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/jademind/statusd/internal/common/config"
)

const dialTimeout = 2 * time.Second
const readTimeout = 25 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: statusctl <status|ping|jump <pid>|latest <pid>|send <pid> <message...>|watch [timeout_ms] [fingerprint]>")
		os.Exit(2)
	}

	request := strings.Join(os.Args[1:], " ")

	resp, err := roundTrip(config.SocketPath(), request)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statusctl: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(resp)
}

// roundTrip dials the statusd socket, writes request as a single line,
// and returns the single JSON response line the server sends back before
// closing the connection (§4.8).
func roundTrip(path, request string) (string, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(readTimeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	if _, err := fmt.Fprintln(conn, request); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read response: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}
