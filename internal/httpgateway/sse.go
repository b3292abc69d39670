package httpgateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/common/constants"
	"github.com/jademind/statusd/internal/fingerprint"
)

// serveSSE implements the §4.10 per-agent event stream: resume via
// Last-Event-ID, periodic keepalive comments, silent close on broken
// pipe.
func (g *Gateway) serveSSE(c *gin.Context, pid int) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	ctx := c.Request.Context()

	agent, ok := g.handlers.PeekAgent(ctx, pid)
	if !ok {
		writeSSEEvent(c.Writer, agentmodel.EventError, "", agentmodel.WatchResult{OK: false, Error: "pid not found"})
		flushIf(flusher, canFlush)
		return
	}
	baseline := fingerprint.Agent(agent)

	lastEventID := c.GetHeader("Last-Event-ID")
	switch {
	case lastEventID == "":
		a := agent
		writeSSEEvent(c.Writer, agentmodel.EventSnapshot, sseEventID(pid, baseline), agentmodel.WatchResult{OK: true, Event: agentmodel.EventSnapshot, Fingerprint: baseline, Agent: &a})
		flushIf(flusher, canFlush)
	case lastEventID == sseEventID(pid, baseline):
		// Duplicate of current state: suppress, proceed straight to poll.
	default:
		a := agent
		writeSSEEvent(c.Writer, agentmodel.EventOutOfSync, sseEventID(pid, baseline), agentmodel.WatchResult{OK: true, Event: agentmodel.EventOutOfSync, Fingerprint: baseline, Agent: &a})
		flushIf(flusher, canFlush)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		res := g.handlers.WatchAgent(ctx, pid, constants.SSEKeepaliveInterval, baseline)
		if ctx.Err() != nil {
			return
		}

		if res.Event == agentmodel.EventTimeout {
			if _, err := c.Writer.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flushIf(flusher, canFlush)
			continue
		}

		baseline = res.Fingerprint
		if err := writeSSEEvent(c.Writer, res.Event, sseEventID(pid, baseline), res); err != nil {
			return
		}
		flushIf(flusher, canFlush)

		if res.Event == agentmodel.EventAgentGone {
			return
		}
	}
}

func flushIf(f http.Flusher, ok bool) {
	if ok {
		f.Flush()
	}
}

func sseEventID(pid int, fp string) string {
	return strconv.Itoa(pid) + ":" + fp
}

func writeSSEEvent(w http.ResponseWriter, event agentmodel.WatchEventKind, id string, payload agentmodel.WatchResult) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var b strings.Builder
	if id != "" {
		b.WriteString("id: ")
		b.WriteString(id)
		b.WriteString("\n")
	}
	b.WriteString("event: ")
	b.WriteString(string(event))
	b.WriteString("\n")
	b.WriteString("data: ")
	b.Write(raw)
	b.WriteString("\n\n")
	_, err = w.Write([]byte(b.String()))
	return err
}
