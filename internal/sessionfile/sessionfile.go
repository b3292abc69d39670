// Package sessionfile implements the session file parser (C4): reading
// the trailing slice of a JSONL transcript and recovering the most recent
// assistant message chunk, with a small mtime-keyed cache.
package sessionfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/jademind/statusd/internal/common/constants"
)

// Result is the outcome of parsing a session transcript file.
type Result struct {
	Text string
	AtMS int64
}

type cacheKey struct {
	path  string
	mtime int64
	size  int64
}

// Parser reads session transcript files and caches the last parsed
// result per (path, mtime, size) so repeat scans of an unchanged file are
// free.
type Parser struct {
	mu    sync.Mutex
	cache map[cacheKey]Result
	order []cacheKey
	cap   int
}

// NewParser builds a Parser with the default cache capacity. When the
// cache is full the oldest-inserted entry is evicted; cache hits do not
// change the eviction order.
func NewParser() *Parser {
	return &Parser{
		cache: make(map[cacheKey]Result),
		cap:   constants.SessionFileCacheCap,
	}
}

// Parse extracts the latest assistant message chunk from the transcript
// at path, or ok=false when nothing usable was found (§4.4).
func (p *Parser) Parse(path string) (Result, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return Result{}, false
	}
	key := cacheKey{path: path, mtime: fi.ModTime().UnixNano(), size: fi.Size()}

	p.mu.Lock()
	if cached, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return cached, cached.Text != ""
	}
	p.mu.Unlock()

	tail, err := readTail(path, constants.SessionFileTailBytes)
	if err != nil {
		return Result{}, false
	}

	result := parseTail(tail)

	p.mu.Lock()
	p.store(key, result)
	p.mu.Unlock()

	return result, result.Text != ""
}

func (p *Parser) store(key cacheKey, result Result) {
	if _, ok := p.cache[key]; !ok {
		p.order = append(p.order, key)
	}
	p.cache[key] = result
	for len(p.order) > p.cap {
		evict := p.order[0]
		p.order = p.order[1:]
		delete(p.cache, evict)
	}
}

func readTail(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	start := int64(0)
	if size > maxBytes {
		start = size - maxBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

type transcriptLine struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Message json.RawMessage `json:"message"`
	Content json.RawMessage `json:"content"`
	Text    string          `json:"text"`
	Output  string          `json:"output"`
	TS      json.Number     `json:"ts"`
}

var skipRoles = map[string]bool{
	"tool": true, "reasoning": true, "thinking": true, "tool_result": true, "system": true,
}

// parseTail scans lines backwards (last line first) collecting a
// contiguous run of assistant message chunks, stopping at the first
// non-JSON line once that run has started, or upon crossing into a user
// role (§4.4 steps 1-4).
func parseTail(tail []byte) Result {
	lines := splitLines(tail)

	var chunks []string
	var lastTS int64
	started := false

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		var tl transcriptLine
		if err := json.Unmarshal([]byte(line), &tl); err != nil {
			if started {
				break
			}
			continue
		}

		role := tl.Role
		typ := tl.Type
		var inner transcriptLine
		if typ == "message" && len(tl.Message) > 0 {
			if err := json.Unmarshal(tl.Message, &inner); err == nil {
				if inner.Role != "" {
					role = inner.Role
				}
				if len(inner.Content) > 0 {
					tl.Content = inner.Content
				}
				if inner.Text != "" {
					tl.Text = inner.Text
				}
			}
		}

		if role == "user" && started {
			break
		}
		if skipRoles[role] || skipRoles[typ] {
			continue
		}

		text := extractText(tl)
		if text == "" {
			continue
		}

		text = cleanText(text)
		if text == "" {
			continue
		}

		if isToolTrace(text) {
			continue
		}
		if isThinkingStatus(text) {
			continue
		}

		chunks = mergeChunk(chunks, text)
		started = true
		if ts, err := tl.TS.Int64(); err == nil && ts > 0 {
			lastTS = ts
		}
	}

	if len(chunks) == 0 {
		return Result{}
	}

	merged := strings.Join(chunks, "\n")
	merged = capText(merged, constants.LatestMessageFullChars)

	at := lastTS
	if at == 0 {
		at = time.Now().UnixMilli()
	}
	return Result{Text: merged, AtMS: at}
}

func splitLines(b []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func extractText(tl transcriptLine) string {
	if len(tl.Content) > 0 {
		if text := extractFromContent(tl.Content); text != "" {
			return text
		}
	}
	if tl.Text != "" {
		return tl.Text
	}
	return tl.Output
}

func extractFromContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var parts []string
		for _, item := range list {
			var obj struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(item, &obj); err == nil {
				if obj.Type == "text" || obj.Type == "output_text" {
					if obj.Text != "" {
						parts = append(parts, obj.Text)
					}
					continue
				}
			}
			var nested string
			if err := json.Unmarshal(item, &nested); err == nil && nested != "" {
				parts = append(parts, nested)
			}
		}
		return strings.Join(parts, "")
	}
	return ""
}

var (
	csiPattern     = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	blankRunRegexp = regexp.MustCompile(`\n{3,}`)
)

// CleanRuntimeText applies the §4.4 step 6 cleaning rules to text pulled
// from a live runtime source (a mux screen-buffer dump) rather than a
// session transcript, so the socket server's `latest` runtime-preview
// path produces output consistent with the cached transcript path.
func CleanRuntimeText(s string) string {
	return cleanText(s)
}

// cleanText strips ANSI control sequences, drops non-printable control
// bytes (keeping \n and \t), right-trims each line, and collapses three
// or more consecutive blank lines down to two (§4.4 step 6).
func cleanText(s string) string {
	s = ansi.Strip(s)
	s = csiPattern.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankRunRegexp.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var toolTracePrefixes = []string{
	"edit ", "write ", "read ", "bash ", "rg ", "find ", "python3 ",
}

func isToolTrace(text string) bool {
	low := strings.ToLower(text)
	for _, p := range toolTracePrefixes {
		if strings.HasPrefix(low, p) {
			return true
		}
	}
	return strings.Contains(low, "tool_uses") || strings.Contains(low, "recipient_name")
}

var thinkingMarkers = []string{"thinking", "reasoning", "working...", "visual latest"}

func isThinkingStatus(text string) bool {
	low := strings.ToLower(text)
	for _, m := range thinkingMarkers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}

// mergeChunk appends a newly discovered (older, since we scan backwards)
// chunk to the front of the accumulated run. If the existing newest chunk
// starts with this older one, the older one is a prefix of a streamed
// message and is replaced; exact duplicates are dropped (§4.4 step 8).
func mergeChunk(chunks []string, text string) []string {
	if len(chunks) == 0 {
		return []string{text}
	}
	newest := chunks[0]
	if newest == text {
		return chunks
	}
	if strings.HasPrefix(newest, text) {
		return chunks
	}
	return append([]string{text}, chunks...)
}

func capText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
