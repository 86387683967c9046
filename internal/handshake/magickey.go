// Package handshake authenticates the loaded web content and negotiates the
// protocol channel used to talk to it.
package handshake

import (
	"crypto/rand"
	"crypto/subtle"
	"io"
	"sync"
)

// DefaultAlphabet is the alphanumeric range magic keys are drawn from.
const DefaultAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// MaxAlphabet is the longest alphabet a single random byte can index.
const MaxAlphabet = 256

// MagicKeyManager hands out the process-lifetime authentication token. The
// key is generated on first use and never changes afterwards.
type MagicKeyManager struct {
	length   int
	alphabet string
	random   io.Reader

	once sync.Once
	key  string
}

// NewMagicKeyManager returns a manager producing keys of length characters
// drawn from alphabet. Only the first MaxAlphabet bytes of alphabet are used.
func NewMagicKeyManager(length int, alphabet string) *MagicKeyManager {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if len(alphabet) > MaxAlphabet {
		alphabet = alphabet[:MaxAlphabet]
	}
	return &MagicKeyManager{length: length, alphabet: alphabet, random: rand.Reader}
}

// Key returns the magic key, generating it on the first call.
func (m *MagicKeyManager) Key() string {
	m.once.Do(func() {
		m.key = m.generate()
	})
	return m.key
}

// Matches reports whether candidate equals the key.
func (m *MagicKeyManager) Matches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(m.Key())) == 1
}

func (m *MagicKeyManager) generate() string {
	n := len(m.alphabet)
	// Bytes at or above limit are rejected so every character is equally likely.
	limit := 256 - 256%n
	out := make([]byte, 0, m.length)
	buf := make([]byte, m.length)
	for len(out) < m.length {
		if _, err := io.ReadFull(m.random, buf); err != nil {
			panic("handshake: random source failed: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, m.alphabet[int(b)%n])
			if len(out) == m.length {
				break
			}
		}
	}
	return string(out)
}
