// Package httpgateway implements the HTTP gateway (C10): a gin router
// exposing the status surface over HTTP and optional HTTPS, fronting the
// same scan/watch/send operations the socket server offers locally.
package httpgateway

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jademind/statusd/internal/agentmodel"
	"github.com/jademind/statusd/internal/common/config"
	"github.com/jademind/statusd/internal/common/constants"
	"github.com/jademind/statusd/internal/common/httpmw"
	"github.com/jademind/statusd/internal/common/logger"
	"github.com/jademind/statusd/internal/fingerprint"
	"github.com/jademind/statusd/internal/router"
)

// Handlers is the set of domain operations the gateway proxies to,
// mirroring the socket server's protocol (§4.10 control flow: C10→C8).
type Handlers struct {
	Scan       func(ctx context.Context) agentmodel.ScanResult
	Watch      func(ctx context.Context, timeout time.Duration, fingerprint string) agentmodel.WatchResult
	WatchAgent func(ctx context.Context, pid int, timeout time.Duration, fingerprint string) agentmodel.WatchResult
	PeekAgent  func(ctx context.Context, pid int) (agentmodel.Agent, bool)
	Send       func(ctx context.Context, pid int, message string) (router.Result, agentmodel.Agent)
}

// Gateway binds the gin router and optional TLS listener.
type Gateway struct {
	httpCfg  config.HTTPConfig
	httpsCfg config.HTTPSConfig
	handlers Handlers
	log      *logger.Logger
	limiter  *slidingWindowLimiter
	engine   *gin.Engine
}

// New builds a Gateway. gin runs in release mode; the teacher's own
// servers set this explicitly rather than relying on gin's default.
func New(httpCfg config.HTTPConfig, httpsCfg config.HTTPSConfig, handlers Handlers, log *logger.Logger) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	g := &Gateway{
		httpCfg:  httpCfg,
		httpsCfg: httpsCfg,
		handlers: handlers,
		log:      log,
		limiter:  newSlidingWindowLimiter(httpCfg.SendRatePer10s),
	}
	g.engine = g.buildEngine()
	return g
}

func (g *Gateway) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmw.RequestLogger(g.log, "httpgateway"))
	r.Use(authorize(g.httpCfg))

	r.GET("/", g.handleBanner)
	r.GET("/health", g.handleHealth)
	r.GET("/tls", g.handleTLS)
	r.GET("/status", g.handleStatus)
	r.GET("/watch", g.handleWatchGlobal)
	r.GET("/watch/:pid", g.handleWatchAgent)
	r.POST("/send", g.handleSend)

	return r
}

// ListenAndServe runs the plain-HTTP listener, blocking until ctx is
// cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	return g.serve(ctx, fmt.Sprintf("%s:%d", g.httpCfg.Host, g.httpCfg.Port), false)
}

// ListenAndServeTLS runs the optional HTTPS listener when enabled in
// config, blocking until ctx is cancelled.
func (g *Gateway) ListenAndServeTLS(ctx context.Context) error {
	if !g.httpsCfg.Enabled {
		return nil
	}
	return g.serve(ctx, fmt.Sprintf("%s:%d", g.httpsCfg.Host, g.httpsCfg.Port), true)
}

func (g *Gateway) serve(ctx context.Context, addr string, useTLS bool) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: g.engine,
	}
	if useTLS {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS(g.httpsCfg.CertPath, g.httpsCfg.KeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) handleBanner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "service": "statusd", "api_version": 3})
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "pong": true, "timestamp": time.Now().Unix()})
}

func (g *Gateway) handleTLS(c *gin.Context) {
	resp := gin.H{"ok": true, "https_enabled": g.httpsCfg.Enabled, "https_port": g.httpsCfg.Port}
	if g.httpsCfg.Enabled && g.httpsCfg.CertPath != "" {
		if sum, err := certSHA256(g.httpsCfg.CertPath); err == nil {
			resp["cert_sha256"] = sum
		}
	}
	c.JSON(http.StatusOK, resp)
}

func certSHA256(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (g *Gateway) handleStatus(c *gin.Context) {
	scan := fingerprint.Normalize(g.handlers.Scan(c.Request.Context()))
	c.JSON(http.StatusOK, scan)
}

func (g *Gateway) handleWatchGlobal(c *gin.Context) {
	timeout := parseTimeoutMS(c.Query("timeout_ms"))
	baseline := c.Query("fingerprint")
	res := g.handlers.Watch(c.Request.Context(), timeout, baseline)
	c.JSON(http.StatusOK, res)
}

func (g *Gateway) handleWatchAgent(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid pid"})
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		g.serveSSE(c, pid)
		return
	}

	timeout := parseTimeoutMS(c.Query("timeout_ms"))
	baseline := c.Query("fingerprint")
	res := g.handlers.WatchAgent(c.Request.Context(), pid, timeout, baseline)
	c.JSON(http.StatusOK, res)
}

func (g *Gateway) handleSend(c *gin.Context) {
	if c.Request.ContentLength <= 0 || c.Request.ContentLength > constants.HTTPBodyCapBytes {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid content length"})
		return
	}

	if !g.limiter.Allow(c.ClientIP(), time.Now()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": "rate limit exceeded"})
		return
	}

	var body struct {
		PID     int    `json:"pid"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "malformed request body"})
		return
	}
	if body.PID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "pid must be a positive integer"})
		return
	}

	message := normalizeMessage(body.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "message is empty after normalization"})
		return
	}
	if len(message) > constants.MessageCapBytes {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "message too long"})
		return
	}

	res, agent := g.handlers.Send(c.Request.Context(), body.PID, message)
	c.JSON(http.StatusOK, router.SendResponse(body.PID, res, agent))
}

// normalizeMessage substitutes embedded newlines with spaces and
// collapses whitespace runs, per §4.10's body constraints.
func normalizeMessage(raw string) string {
	replaced := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(raw)
	return strings.Join(strings.Fields(replaced), " ")
}

func parseTimeoutMS(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
