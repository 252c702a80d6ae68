// Package shared holds small helpers used by more than one of the
// connection/session/link engines, kept separate so none of them has to
// import the others just to generate a name or compare sequence numbers.
package shared

import (
	"crypto/rand"
	"github.com/google/uuid"
)

// RandomName returns a unique name suitable for a link name or a
// container-id when the caller didn't supply one.
func RandomName() string {
	return uuid.New().String()
}

const randStringAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns a random string of length n, suitable for a
// default link name when the caller didn't supply one.
func RandString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return RandomName()
	}
	out := make([]byte, n)
	for i, c := range b {
		out[i] = randStringAlphabet[int(c)%len(randStringAlphabet)]
	}
	return string(out)
}

// Sequence is a uint32 that wraps per RFC 1982 serial-number arithmetic,
// as AMQP delivery-id, transfer-number and sequence-no fields do.
type Sequence uint32

// After reports whether s comes after other in sequence order, accounting
// for wraparound (RFC 1982 §3.2).
func (s Sequence) After(other Sequence) bool {
	return (other < s && s-other < 1<<31) || (other > s && other-s > 1<<31)
}

// Add returns s+delta with uint32 wraparound.
func (s Sequence) Add(delta uint32) Sequence {
	return Sequence(uint32(s) + delta)
}
