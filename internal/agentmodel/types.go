// Package agentmodel defines the canonical record types shared across the
// daemon: raw process rows, telemetry snapshots, fused agent records, scan
// results, and the bridge wire envelopes. Keeping these as tagged structs
// (rather than indexing into generic maps, as the original implementation
// did) lets the JSON boundary enforce the schema once, at the parser.
package agentmodel

// ProcessRow is one row from the process table reader (C1).
type ProcessRow struct {
	PID   int
	PPID  int
	Comm  string
	State string
	TTY   string
	CPU   float64
	Args  string
}

// Activity classifies whether an agent appears to be working or idle.
type Activity string

const (
	ActivityRunning      Activity = "running"
	ActivityWaitingInput Activity = "waiting_input"
	ActivityUnknown      Activity = "unknown"
)

// Confidence grades how sure the daemon is about an Activity classification.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Mux identifies the terminal multiplexer, if any, containing an agent.
type Mux string

const (
	MuxNone   Mux = ""
	MuxTmux   Mux = "tmux"
	MuxScreen Mux = "screen"
	MuxZellij Mux = "zellij"
)

// MuxInfo is the result of ancestor-walk multiplexer classification (C5).
type MuxInfo struct {
	Mux       Mux
	Session   string
	ClientPID int // 0 when absent
}

// TerminalInfo is the result of host-terminal-app ancestor detection (C5).
type TerminalInfo struct {
	App string // e.g. "Ghostty", "iTerm2", "Terminal"; "" when absent
	PID int     // ancestor PID hosting the terminal app; 0 when absent
}

// ContextWindow carries telemetry-reported model context usage.
type ContextWindow struct {
	Percent         *float64 `json:"context_percent,omitempty"`
	Pressure        *string  `json:"context_pressure,omitempty"`
	CloseToLimit    *bool    `json:"context_close_to_limit,omitempty"`
	NearLimit       *bool    `json:"context_near_limit,omitempty"`
	Tokens          *int64   `json:"context_tokens,omitempty"`
	Window          *int64   `json:"context_window,omitempty"`
	RemainingTokens *int64   `json:"context_remaining_tokens,omitempty"`
}

// Agent is the canonical per-agent entity, keyed by PID (§3.1).
type Agent struct {
	PID   int    `json:"pid"`
	PPID  int    `json:"ppid"`
	State string `json:"state"`
	TTY   string `json:"tty"`
	CPU   float64 `json:"cpu"`

	CWD *string `json:"cwd,omitempty"`

	Activity   Activity   `json:"activity"`
	Confidence Confidence `json:"confidence"`

	Mux            *string `json:"mux,omitempty"`
	MuxSession     *string `json:"mux_session,omitempty"`
	ClientPID      *int    `json:"client_pid,omitempty"`
	AttachedWindow bool    `json:"attached_window"`
	TerminalApp    *string `json:"terminal_app,omitempty"`

	// Telemetry enrichment; only populated when Source == telemetry.
	TelemetrySource *string `json:"telemetry_source,omitempty"`
	ModelProvider   *string `json:"model_provider,omitempty"`
	ModelID         *string `json:"model_id,omitempty"`
	ModelName       *string `json:"model_name,omitempty"`
	SessionID       *string `json:"session_id,omitempty"`
	SessionName     *string `json:"session_name,omitempty"`
	SessionFile     *string `json:"session_file,omitempty"`
	ContextWindow

	LatestMessage     string  `json:"latest_message,omitempty"`
	LatestMessageFull string  `json:"latest_message_full,omitempty"`
	LatestMessageHTML string  `json:"latest_message_html,omitempty"`
	LatestMessageAt   *int64  `json:"latest_message_at,omitempty"`
	LatestMessageID   *string `json:"latest_message_id,omitempty"`

	HasTelemetry   bool `json:"has_telemetry"`
	BridgeAvailable bool `json:"bridge_available"`

	// Fingerprint is attached by the status normalizer (C11), not by the
	// scanner; it is omitted from raw scan output and present in
	// normalized output.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Summary is the aggregate over an agent set (§3.2).
type Summary struct {
	Total        int    `json:"total"`
	Running      int    `json:"running"`
	WaitingInput int    `json:"waiting_input"`
	Unknown      int    `json:"unknown"`
	Color        string `json:"color"`
	Label        string `json:"label"`
}

// Source identifies which fusion path produced a ScanResult.
type Source string

const (
	SourceTelemetry       Source = "pi-telemetry"
	SourceProcessFallback Source = "process-fallback"
)

// ScanResult is the top-level scanner output (§4.6 step 6).
type ScanResult struct {
	OK        bool          `json:"ok"`
	Timestamp int64         `json:"timestamp"`
	Agents    []Agent       `json:"agents"`
	Summary   Summary       `json:"summary"`
	Version   int           `json:"version"`
	Source    Source        `json:"source"`
	Fingerprint string      `json:"fingerprint,omitempty"`
}

// TelemetryInstance is a single per-instance JSON snapshot (§4.3).
type TelemetryInstance struct {
	Source  string              `json:"source"`
	Process TelemetryProcess    `json:"process"`
	State   TelemetryState      `json:"state"`
	Workspace TelemetryWorkspace `json:"workspace"`
	Context TelemetryContext    `json:"context"`
	Model   TelemetryModel      `json:"model"`
	Session TelemetrySession    `json:"session"`
	Routing TelemetryRouting    `json:"routing"`
}

type TelemetryProcess struct {
	PID       int     `json:"pid"`
	PPID      int     `json:"ppid"`
	UpdatedAt float64 `json:"updatedAt"`
}

type TelemetryState struct {
	Activity       string `json:"activity"`
	WaitingForInput *bool  `json:"waitingForInput,omitempty"`
	Busy            *bool  `json:"busy,omitempty"`
	IsIdle          *bool  `json:"isIdle,omitempty"`
}

type TelemetryWorkspace struct {
	CWD string `json:"cwd"`
}

type TelemetryContext struct {
	Percent         *float64 `json:"percent,omitempty"`
	Pressure        *string  `json:"pressure,omitempty"`
	CloseToLimit    *bool    `json:"closeToLimit,omitempty"`
	NearLimit       *bool    `json:"nearLimit,omitempty"`
	Tokens          *int64   `json:"tokens,omitempty"`
	Window          *int64   `json:"window,omitempty"`
	RemainingTokens *int64   `json:"remainingTokens,omitempty"`
}

type TelemetryModel struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

type TelemetrySession struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SessionFile string `json:"sessionFile"`
}

type TelemetryRouting struct {
	Mux        string `json:"mux"`
	MuxSession string `json:"muxSession"`
}

// BridgeEnvelope is the message queued through the file bridge (§3.3).
type BridgeEnvelope struct {
	V         int          `json:"v"`
	ID        string       `json:"id"`
	PID       int          `json:"pid"`
	Text      string       `json:"text"`
	Source    string       `json:"source"`
	CreatedAt string       `json:"createdAt"`
	ExpiresAt string       `json:"expiresAt"`
	Delivery  BridgeDelivery `json:"delivery"`
	Meta      BridgeMeta   `json:"meta"`
}

type BridgeDelivery struct {
	Mode string `json:"mode"` // "interrupt" | "queued"
}

type BridgeMeta struct {
	RequestID string `json:"requestId"`
	Attempt   int    `json:"attempt"`
}

// BridgeAck is the consumer-written acknowledgement envelope.
type BridgeAck struct {
	Status       string `json:"status"`
	ResolvedMode string `json:"resolvedMode,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BridgeRegistryEntry is published by the agent-side bridge consumer.
type BridgeRegistryEntry struct {
	PID       int     `json:"pid"`
	UpdatedAt float64 `json:"updatedAt"`
}

// WatchEventKind is the sum type of watch-engine events (§4.9).
type WatchEventKind string

const (
	EventSnapshot       WatchEventKind = "snapshot"
	EventStatusChanged  WatchEventKind = "status_changed"
	EventOutOfSync      WatchEventKind = "out_of_sync"
	EventTimeout        WatchEventKind = "timeout"
	EventMessageUpdated WatchEventKind = "message_updated"
	EventActivityChanged WatchEventKind = "activity_changed"
	EventAgentUpdated   WatchEventKind = "agent_updated"
	EventAgentGone      WatchEventKind = "agent_gone"
	EventError          WatchEventKind = "error"
)

// ChangeRecord is a minimal per-PID change entry in a global watch diff.
type ChangeRecord struct {
	PID    int    `json:"pid"`
	Kind   WatchEventKind `json:"event"`
	Before *Agent `json:"before,omitempty"`
	After  *Agent `json:"after,omitempty"`
}

// WatchResult is the response body for both global and per-agent watches.
type WatchResult struct {
	OK          bool           `json:"ok"`
	Event       WatchEventKind `json:"event"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Timestamp   int64          `json:"timestamp"`
	Snapshot    *ScanResult    `json:"snapshot,omitempty"`
	Agent       *Agent         `json:"agent,omitempty"`
	Changes     []ChangeRecord `json:"changes,omitempty"`
	Error       string         `json:"error,omitempty"`
}
