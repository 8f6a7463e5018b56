// Package multipart reassembles concatenated messages from their stored
// segment rows.
//
// Rows arrive in whatever order the store returns them. Each row's sequence
// number, shifted by the tracker's index offset, gives its slot in the
// output. Assembly is pure: it never touches the store, so callers decide
// what to do with incomplete or malformed groups.
package multipart

import (
	"errors"
	"fmt"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/codec"
	"github.com/kabili207/smsinbound/core/sms"
)

var (
	// ErrIncomplete is returned when fewer segments are stored than the
	// message count requires. The caller should keep waiting for more.
	ErrIncomplete = errors.New("message segments incomplete")

	// ErrSequenceOutOfRange is returned when a stored row's sequence maps
	// outside [0, count).
	ErrSequenceOutOfRange = errors.New("segment sequence out of range")
)

// Assembled is a complete message ready for delivery.
type Assembled struct {
	// PDUs holds one stored payload per segment, ordered by sequence.
	PDUs [][]byte

	// DestPort is the port taken from the first segment, or core.PortNone.
	DestPort int
}

// Single wraps a single-segment tracker in the same shape as a reassembled
// message.
func Single(t sms.Tracker) *Assembled {
	return &Assembled{PDUs: [][]byte{t.PDU}, DestPort: t.DestPort}
}

// Assemble orders rows belonging to the multipart message t. rows must be
// the result of looking up t.MessageSelector().
//
// The destination port of the segment at index 0 overrides the tracker's
// port, since only the first segment of a ported message is guaranteed to
// carry the port element.
func Assemble(rows []*sms.Row, t sms.Tracker) (*Assembled, error) {
	if len(rows) < t.Count {
		return nil, fmt.Errorf("%w: have %d of %d", ErrIncomplete, len(rows), t.Count)
	}

	out := &Assembled{
		PDUs:     make([][]byte, t.Count),
		DestPort: t.DestPort,
	}
	offset := t.IndexOffset()
	for _, r := range rows {
		idx := r.Sequence - offset
		if idx < 0 || idx >= t.Count {
			return nil, fmt.Errorf("%w: sequence %d for count %d (offset %d)",
				ErrSequenceOutOfRange, r.Sequence, t.Count, offset)
		}
		out.PDUs[idx] = r.PDU
		if idx == 0 && r.DestPort != nil {
			if port := sms.RealDestPort(*r.DestPort); port != core.PortNone {
				out.DestPort = port
			}
		}
	}

	for i, p := range out.PDUs {
		if p == nil {
			return nil, fmt.Errorf("%w: slot %d empty", ErrIncomplete, i)
		}
	}
	return out, nil
}

// Concat joins the user data of every segment into one payload. Payloads in
// the 3GPP format have their user data header stripped first.
func (a *Assembled) Concat(format core.Format) ([]byte, error) {
	var out []byte
	for i, p := range a.PDUs {
		if !format.IsAlternate() {
			ud, err := codec.ExtractUserData(p)
			if err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
			p = ud
		}
		out = append(out, p...)
	}
	return out, nil
}
