// Package dedupe compares a received segment against the copy already held
// in the segment store.
//
// Duplicate detection itself is keyed on (address, reference, count,
// sequence) by the store lookup. This package only reports whether the two
// payloads actually agree, so that a mismatch can be logged without ever
// writing user data to the log: only lengths and truncated BLAKE2b
// fingerprints are exposed.
package dedupe

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the number of digest bytes kept in a Fingerprint.
const FingerprintSize = 8

// Fingerprint is a truncated BLAKE2b-256 digest of a payload.
type Fingerprint [FingerprintSize]byte

// Of computes the fingerprint of a payload.
func Of(pdu []byte) Fingerprint {
	sum := blake2b.Sum256(pdu)
	var fp Fingerprint
	copy(fp[:], sum[:FingerprintSize])
	return fp
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Comparison describes how a stored payload relates to a received one.
type Comparison struct {
	Identical      bool
	StoredLength   int
	ReceivedLength int
	Stored         Fingerprint
	Received       Fingerprint
}

// Compare checks a stored payload against a newly received one.
func Compare(stored, received []byte) Comparison {
	return Comparison{
		Identical:      bytes.Equal(stored, received),
		StoredLength:   len(stored),
		ReceivedLength: len(received),
		Stored:         Of(stored),
		Received:       Of(received),
	}
}

// LogAttrs returns slog key/value pairs describing the comparison.
func (c Comparison) LogAttrs() []any {
	return []any{
		"stored_len", c.StoredLength,
		"received_len", c.ReceivedLength,
		"stored_fp", c.Stored.String(),
		"received_fp", c.Received.String(),
	}
}
