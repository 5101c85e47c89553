// Package sysutil holds process-level helpers shared by the command line,
// the HTTP layer and the socket gateway.
package sysutil

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// ParseLevel maps a LOG_LEVEL value onto a zerolog level. Matching is
// case-insensitive; "warning" is accepted for warn and anything unknown
// (including "") yields info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel configures the global zerolog level (see ParseLevel).
func SetLogLevel(lvl string) {
	zerolog.SetGlobalLevel(ParseLevel(lvl))
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
// If all values are blank, it returns "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// EmbeddingOrigin returns the page a widget request comes from: the Origin
// header, or the Referer when the browser omitted Origin.
func EmbeddingOrigin(h http.Header) string {
	return FirstNonEmpty(h.Get("Origin"), h.Get("Referer"))
}
