// Package presence tracks online widget visitors per channel with TTL keys.
// Expiry is passive: a visitor who stops heartbeating drops out of the count
// within one TTL window.
package presence

import (
	"context"
	"strings"
	"time"
)

// Store records heartbeats and counts live visitors.
type Store interface {
	// Touch marks visitorID online on channelID for ttl.
	Touch(ctx context.Context, channelID, visitorID string, ttl time.Duration) error
	// Count returns the number of distinct live visitors on channelID.
	Count(ctx context.Context, channelID string) (int, error)
}

// Coalescer bounds broadcast fan-out per channel.
type Coalescer interface {
	// Allow reports whether a broadcast for channelID may go out at now and,
	// if so, records it as the latest one.
	Allow(ctx context.Context, channelID string, now time.Time) (bool, error)
}

// Channel ids are free-form. The key segment percent-encodes the characters
// that delimit it, and the braces make it the cluster hash tag so one
// channel's keys share a slot.
var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "{", "%7B", "}", "%7D")

// globEscaper quotes SCAN MATCH metacharacters.
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func channelSegment(channelID string) string {
	return "{" + segmentEscaper.Replace(channelID) + "}"
}

// Key is the shared-store key for one visitor heartbeat.
func Key(channelID, visitorID string) string {
	return "presence:" + channelSegment(channelID) + ":" + visitorID
}

// channelPattern matches exactly the heartbeat keys of channelID.
func channelPattern(channelID string) string {
	return "presence:" + globEscaper.Replace(channelSegment(channelID)) + ":*"
}

// coalesceKey lives outside the heartbeat keyspace so it is never counted.
func coalesceKey(channelID string) string {
	return "presence-coalesce:" + channelSegment(channelID)
}
