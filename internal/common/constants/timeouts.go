// Package constants provides application-wide timeouts and bounds for the
// status daemon.
package constants

import "time"

// Per-call timeouts for external queries and transports (§4.2, §4.3, §4.7,
// §5).
const (
	// CWDQueryTimeout bounds a single lsof cwd lookup (§4.2).
	CWDQueryTimeout = 1500 * time.Millisecond

	// TelemetryCLITimeout bounds the pi-telemetry-snapshot fallback (§4.3).
	TelemetryCLITimeout = 1200 * time.Millisecond

	// MuxCommandTimeout bounds the primary mux stage's write-and-enter
	// command pair as a whole (§4.7).
	MuxCommandTimeout = 1200 * time.Millisecond

	// DefaultTelemetryStaleMS is the default telemetry staleness window
	// in milliseconds (§4.3, $PI_TELEMETRY_STALE_MS).
	DefaultTelemetryStaleMS int64 = 10_000

	// DefaultBridgeRegistryStaleMS is the default bridge registry liveness
	// window in milliseconds (§6.2, $PI_BRIDGE_REGISTRY_STALE_MS).
	DefaultBridgeRegistryStaleMS int64 = 10_000

	// DefaultBridgeAckTimeoutMS is the default per-attempt ack wait in
	// milliseconds (§4.7 stage 3, $PI_BRIDGE_ACK_TIMEOUT_MS).
	DefaultBridgeAckTimeoutMS int64 = 1200

	// BridgeAckPollTick is the poll interval while waiting for an ack
	// (§4.7 stage 3, §5).
	BridgeAckPollTick = 50 * time.Millisecond

	// DefaultBridgeSendRetries is the default attempt count
	// ($PI_BRIDGE_SEND_RETRIES), clamp [1,8].
	DefaultBridgeSendRetries = 3
	MinBridgeSendRetries     = 1
	MaxBridgeSendRetries     = 8

	// DefaultBridgeSendRetryBackoffMS is the default retry backoff
	// ($PI_BRIDGE_SEND_RETRY_BACKOFF_MS), clamp [100,3000].
	DefaultBridgeSendRetryBackoffMS = 450
	MinBridgeSendRetryBackoffMS     = 100
	MaxBridgeSendRetryBackoffMS     = 3000

	// WatchPollIntervalMin/Max bound the watch engine's internal scan
	// cadence (§4.9: "periodic scans every 400-600ms").
	WatchPollIntervalMin = 400 * time.Millisecond
	WatchPollIntervalMax = 600 * time.Millisecond

	// WatchTimeoutMin/Max/Default bound a long-poll deadline (§4.8, §8).
	WatchTimeoutMin     = 250 * time.Millisecond
	WatchTimeoutMax     = 60 * time.Second
	WatchTimeoutDefault = 20 * time.Second

	// SSEKeepaliveInterval is the idle comment-keepalive cadence (§4.10).
	SSEKeepaliveInterval = 15 * time.Second

	// SocketReadBufferBytes is the initial per-request read buffer (§5).
	SocketReadBufferBytes = 4096

	// SocketBacklog is the UNIX socket listen backlog (§5).
	SocketBacklog = 32

	// HTTPBodyCapBytes bounds a /send request body (§4.10, §8).
	HTTPBodyCapBytes = 100_000

	// MessageCapBytes bounds a cleaned /send message (§4.10, §8).
	MessageCapBytes = 4000

	// SendRateLimitWindow is the sliding window for the /send per-client-IP
	// rate limiter (§4.10).
	SendRateLimitWindow = 10 * time.Second

	// LatestMessagePreviewChars bounds Agent.LatestMessage (§3.1).
	LatestMessagePreviewChars = 420

	// LatestMessageFullChars bounds Agent.LatestMessageFull (§3.1, §4.4).
	LatestMessageFullChars = 12_000

	// MaxAncestorHops bounds the ancestor walk used by mux/terminal
	// inference (§4.5, Design Note §9).
	MaxAncestorHops = 20

	// RuntimePreviewCacheTTL bounds how long a C8 `latest` runtime preview
	// (mux screen-buffer dump) is cached per PID (§5).
	RuntimePreviewCacheTTL = 4 * time.Second

	// SessionFileTailBytes bounds how much of a transcript C4 reads from
	// the tail (§4.4).
	SessionFileTailBytes = 512 * 1024

	// SessionFileCacheCap and RuntimePreviewCacheCap bound the session-file
	// and runtime-preview caches per Design Note §9 "Caches." Both evict the
	// oldest-inserted entry first.
	SessionFileCacheCap    = 256
	RuntimePreviewCacheCap = 256
)
