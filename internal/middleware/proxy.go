package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies makes c.RealIP() return the client address when the app
// sits behind a reverse proxy. Forwarding headers are only believed when
// the direct peer falls inside one of trustedCIDRs.
//
// Login throttling and failed-login audit records key on this address.
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	e.IPExtractor = buildIPExtractor(trustedCIDRs)
}

func buildIPExtractor(trustedCIDRs []string) echo.IPExtractor {
	var trusted []*net.IPNet
	for _, cidr := range trustedCIDRs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR", slog.String("cidr", cidr))
			continue
		}
		trusted = append(trusted, network)
	}

	return func(req *http.Request) string {
		peer := extractDirectIP(req.RemoteAddr)
		if !isTrusted(peer, trusted) {
			return peer
		}

		// X-Forwarded-For is appended to by every hop. Walk it from the
		// right and stop at the first address that is not one of our own
		// proxies: anything further left is client-controlled.
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			for i := len(hops) - 1; i >= 0; i-- {
				hop := strings.TrimSpace(hops[i])
				if net.ParseIP(hop) == nil {
					break
				}
				if !isTrusted(hop, trusted) || i == 0 {
					return hop
				}
			}
		}

		if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
			return realIP
		}

		return peer
	}
}

// extractDirectIP strips the port from a RemoteAddr.
func extractDirectIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isTrusted(ipStr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
