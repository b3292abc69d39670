package httpgateway

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jademind/statusd/internal/common/config"
)

// authorize applies the §4.10 authorization ladder: CIDR allow-list,
// then loopback exemption, then bearer/header token.
func authorize(cfg config.HTTPConfig) gin.HandlerFunc {
	nets := parseCIDRs(cfg.AllowCIDRs)

	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())

		if len(nets) > 0 && (ip == nil || !ipInAny(ip, nets)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "client not in allow-list"})
			return
		}

		if cfg.AllowLoopbackUnauth && ip != nil && ip.IsLoopback() {
			c.Next()
			return
		}

		if cfg.Token == "" || !tokenMatches(c, cfg.Token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}

		c.Next()
	}
}

func tokenMatches(c *gin.Context, token string) bool {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if strings.TrimPrefix(auth, "Bearer ") == token {
			return true
		}
	}
	return c.GetHeader("X-Statusd-Token") == token
}

func parseCIDRs(raw []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			if ip := net.ParseIP(c); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				c = c + "/" + strconv.Itoa(bits)
			}
		}
		_, n, err := net.ParseCIDR(c)
		if err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

func ipInAny(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

