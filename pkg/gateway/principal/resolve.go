// Package principal identifies who is calling, for rate limits and session
// caps. Authenticated callers are keyed by API key, others by client IP.
package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/meetingmod/moderator/pkg/gateway/auth"
	"github.com/meetingmod/moderator/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindIP     Kind = "ip"
	KindAnon   Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Key is hashed and safe to log or use as a map key.
	Key string
}

var anonymous = Resolved{Kind: KindAnon, Key: "anonymous"}

// Resolve prefers the authenticated API key. Proxy headers are only trusted
// when trustProxyHeaders is set.
func Resolve(r *http.Request, trustProxyHeaders bool) Resolved {
	if r == nil {
		return anonymous
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		return Resolved{Kind: KindAPIKey, Key: ratelimit.PrincipalKeyFromAPIKey(p.APIKey)}
	}
	ip := clientIP(r, trustProxyHeaders)
	if ip == "" {
		return anonymous
	}
	return Resolved{Kind: KindIP, Key: ratelimit.PrincipalKeyFromIP(ip)}
}

func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		for _, header := range []string{"CF-Connecting-IP", "X-Real-IP"} {
			if ip := parseIP(r.Header.Get(header)); ip != "" {
				return ip
			}
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// Left-most entry is the original client.
			if ip := parseIP(strings.Split(raw, ",")[0]); ip != "" {
				return ip
			}
		}
	}
	return parseIP(r.RemoteAddr)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
