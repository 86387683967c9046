package handshake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"webime/internal/channel"
)

var (
	// ErrTokenCount means the version string did not split into the expected
	// number of tokens.
	ErrTokenCount = errors.New("unexpected token count")
	// ErrMajorVersion means the first token is not an integer.
	ErrMajorVersion = errors.New("major version is not an integer")
	// ErrUnknownVersion means no channel kind serves the major version.
	ErrUnknownVersion = errors.New("unknown major version")
)

// NegotiationError reports a malformed or unsupported version string.
type NegotiationError struct {
	Input  string
	Reason error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("handshake: version %q: %v", e.Input, e.Reason)
}

func (e *NegotiationError) Unwrap() error { return e.Reason }

// ProtocolVersion is the parsed capability string returned by the content.
type ProtocolVersion struct {
	Major  int
	Tokens []string
}

// ParseVersion splits s on delim and requires exactly tokens parts, the
// first of which is the integer major version.
func ParseVersion(s, delim string, tokens int) (ProtocolVersion, error) {
	parts := strings.Split(s, delim)
	if len(parts) != tokens {
		return ProtocolVersion{}, &NegotiationError{
			Input:  s,
			Reason: fmt.Errorf("%w: got %d, want %d", ErrTokenCount, len(parts), tokens),
		}
	}
	major, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return ProtocolVersion{Tokens: parts}, &NegotiationError{Input: s, Reason: ErrMajorVersion}
	}
	return ProtocolVersion{Major: major, Tokens: parts}, nil
}

var kindsByMajor = map[int]channel.Kind{
	1: channel.KindWebSocket,
}

// KindForMajor maps a major protocol version to the channel serving it.
func KindForMajor(major int) (channel.Kind, bool) {
	k, ok := kindsByMajor[major]
	return k, ok
}

// KindTable returns the static table extended with extra. Entries in extra
// never replace a static mapping.
func KindTable(extra map[int]channel.Kind) map[int]channel.Kind {
	t := make(map[int]channel.Kind, len(kindsByMajor)+len(extra))
	for m, k := range extra {
		t[m] = k
	}
	for m, k := range kindsByMajor {
		t[m] = k
	}
	return t
}
