package audit

import (
	"net"
	"net/http"
	"strings"
)

// RequestIDHeader carries the caller's request id.
const RequestIDHeader = "X-Request-ID"

// WithRequest returns a copy of e with the origin fields taken from r. The
// first X-Forwarded-For hop wins over the peer address.
func (e Event) WithRequest(r *http.Request) Event {
	e.IPAddress = clientIP(r)
	e.UserAgent = r.UserAgent()
	e.RequestID = r.Header.Get(RequestIDHeader)
	return e
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
