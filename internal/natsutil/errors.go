// Package natsutil holds small helpers shared by the NATS-facing packages.
package natsutil

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/docqueue/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
// The fetch loop uses it to pick a longer backoff and a quieter log level while the
// broker is away.
//
// Kept in internal/natsutil to avoid importing NATS dependencies in types/ package.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, types.ErrConnectivity) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsNoResponders reports whether a publish or request found no listener on the subject.
// For JetStream publishes this means no stream captures the subject.
func IsNoResponders(err error) bool {
	return errors.Is(err, nats.ErrNoResponders) || errors.Is(err, jetstream.ErrNoStreamResponse)
}

// SanitizeToken turns an arbitrary string into a single NATS subject token.
//
// Whitespace, the subject separator '.', wildcards '*' and '>', path separators and
// non-printable characters are replaced with '_'. An empty input yields "unknown".
func SanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r <= 0x20 || r == 0x7f:
			b.WriteByte('_')
		case r == '.' || r == '*' || r == '>' || r == '/' || r == '\\':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}
