package auth

import (
	"net/http"
	"strings"
)

// WSProtocol is the Sec-WebSocket-Protocol marker that precedes a token when
// browsers cannot set an Authorization header on the upgrade request.
const WSProtocol = "bearer"

// ExtractToken returns the bearer credential from, in order, the
// Authorization header, the "token" query parameter, or the
// Sec-WebSocket-Protocol list ("bearer, <token>"). It returns "" when absent.
func ExtractToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	for _, line := range r.Header.Values("Sec-WebSocket-Protocol") {
		parts := strings.Split(line, ",")
		for i := 0; i+1 < len(parts); i++ {
			if strings.EqualFold(strings.TrimSpace(parts[i]), WSProtocol) {
				return strings.TrimSpace(parts[i+1])
			}
		}
	}
	return ""
}
