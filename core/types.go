// Package core holds the small value types shared by every layer of the
// inbound message pipeline: message format families, delivery outcomes
// reported back to transports, and reserved destination ports.
package core

// Format identifies which family of message encoding a segment belongs to.
type Format int

const (
	// Format3GPP is the GSM/UMTS/LTE family. Stored payloads carry a
	// length-prefixed user data header that must be stripped before the
	// user data can be concatenated.
	Format3GPP Format = iota
	// Format3GPP2 is the CDMA (alternate) family. Stored payloads are
	// already plain user data.
	Format3GPP2
)

func (f Format) String() string {
	switch f {
	case Format3GPP:
		return "3gpp"
	case Format3GPP2:
		return "3gpp2"
	default:
		return "unknown"
	}
}

// IsAlternate reports whether f is the alternate (3GPP2) format family.
func (f Format) IsAlternate() bool {
	return f == Format3GPP2
}

// Outcome is the result of submitting a segment, returned to the transport.
type Outcome int

const (
	// Handled means the segment was accepted or rejected as a duplicate.
	// The transport should acknowledge receipt and stop retransmission.
	Handled Outcome = iota
	// GenericError means the segment could not be persisted. The transport
	// should not acknowledge it and may retry per its own policy.
	GenericError
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case GenericError:
		return "generic_error"
	default:
		return "unknown"
	}
}

const (
	// PortNone marks a message that is not addressed to an application port.
	PortNone = -1

	// PortWapPush is the reserved destination port for WAP push payloads.
	PortWapPush = 2948
)
