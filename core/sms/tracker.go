package sms

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/kabili207/smsinbound/core"
)

var ErrInvalidTracker = errors.New("invalid tracker")

// Tracker describes one received segment. It is a value: copies are
// independent and nothing in the pipeline modifies a Tracker after it has
// been built.
type Tracker struct {
	PDU       []byte
	Timestamp int64
	DestPort  int
	Format    core.Format
	Class0    bool

	// Multi-segment fields. Zero for single-segment trackers.
	Address         string
	ReferenceNumber int
	SequenceNumber  int
	Count           int

	// ZeroBasedSequence is set for alternate-format binary push segments,
	// whose sequence numbers start at 0 instead of 1.
	ZeroBasedSequence bool
}

// NewSingleTracker creates a tracker for a message that is not concatenated.
func NewSingleTracker(pdu []byte, timestamp int64, destPort int, format core.Format, class0 bool) Tracker {
	return Tracker{
		PDU:       bytes.Clone(pdu),
		Timestamp: timestamp,
		DestPort:  destPort,
		Format:    format,
		Class0:    class0,
		Count:     1,
	}
}

// NewMultiTracker creates a tracker for one segment of a concatenated message.
func NewMultiTracker(pdu []byte, timestamp int64, destPort int, format core.Format,
	address string, ref, seq, count int, zeroBased bool) (Tracker, error) {
	t := Tracker{
		PDU:               bytes.Clone(pdu),
		Timestamp:         timestamp,
		DestPort:          destPort,
		Format:            format,
		Address:           address,
		ReferenceNumber:   ref,
		SequenceNumber:    seq,
		Count:             count,
		ZeroBasedSequence: zeroBased,
	}
	if err := t.Validate(); err != nil {
		return Tracker{}, err
	}
	return t, nil
}

// TrackerFromMessage derives a tracker from a decoded message. timestamp
// replaces the message timestamp when the latter is zero.
func TrackerFromMessage(msg *Message, fallbackTimestamp int64) (Tracker, error) {
	if len(msg.PDU) == 0 {
		return Tracker{}, ErrNoUserData
	}
	ts := msg.Timestamp
	if ts == 0 {
		ts = fallbackTimestamp
	}
	if !msg.IsConcatenated() {
		return NewSingleTracker(msg.PDU, ts, msg.DestPort(), msg.Format, msg.Class0), nil
	}
	ref := msg.Header.ConcatRef
	t, err := NewMultiTracker(msg.PDU, ts, msg.DestPort(), msg.Format,
		msg.Address, ref.RefNumber, ref.SeqNumber, ref.MsgCount, msg.ZeroBasedSequence)
	if err != nil {
		return Tracker{}, err
	}
	t.Class0 = msg.Class0
	return t, nil
}

// TrackerFromRow rebuilds the tracker that produced a stored row.
func TrackerFromRow(r *Row) Tracker {
	col := DestPortFlagNoPort
	if r.DestPort != nil {
		col = *r.DestPort
	}
	t := Tracker{
		PDU:       bytes.Clone(r.PDU),
		Timestamp: r.Date,
		DestPort:  RealDestPort(col),
		Format:    FormatFromDestPort(col),
		Count:     r.Count,
	}
	if t.Count <= 1 {
		t.Count = 1
		return t
	}
	t.Address = r.Address
	t.ReferenceNumber = r.ReferenceNumber
	t.SequenceNumber = r.Sequence
	t.ZeroBasedSequence = col&DestPortFlag3GPP2WapPush != 0
	return t
}

// Validate checks the tracker invariants.
func (t Tracker) Validate() error {
	if t.Count < 1 {
		return fmt.Errorf("%w: segment count %d", ErrInvalidTracker, t.Count)
	}
	if t.Count == 1 {
		return nil
	}
	idx := t.SequenceNumber - t.IndexOffset()
	if idx < 0 || idx >= t.Count {
		return fmt.Errorf("%w: sequence %d outside 1..%d (offset %d)",
			ErrInvalidTracker, t.SequenceNumber, t.Count, t.IndexOffset())
	}
	return nil
}

// IsMultipart reports whether the tracker is one segment of several.
func (t Tracker) IsMultipart() bool {
	return t.Count > 1
}

// IndexOffset converts a sequence number into a zero-based array index.
func (t Tracker) IndexOffset() int {
	if t.ZeroBasedSequence {
		return 0
	}
	return 1
}

// Row returns the row to insert for this tracker. The ID is left zero for
// the store to assign.
func (t Tracker) Row() *Row {
	port := EncodeDestPort(t)
	r := &Row{
		PDU:      bytes.Clone(t.PDU),
		DestPort: &port,
		Date:     t.Timestamp,
		Count:    t.Count,
	}
	if t.IsMultipart() {
		r.Sequence = t.SequenceNumber
		r.ReferenceNumber = t.ReferenceNumber
		r.Address = t.Address
	}
	return r
}

// SegmentSelector matches the row for exactly this segment. Only meaningful
// for multipart trackers.
func (t Tracker) SegmentSelector() Selector {
	return BySequence(t.Address, t.ReferenceNumber, t.Count, t.SequenceNumber)
}

// MessageSelector matches every stored segment of this tracker's message.
// Only meaningful for multipart trackers.
func (t Tracker) MessageSelector() Selector {
	return ByReference(t.Address, t.ReferenceNumber, t.Count)
}

// Persisted is a tracker whose row has been written to the segment store,
// together with the selector that removes its row(s) once delivered.
type Persisted struct {
	Tracker
	RowID  int64
	Delete Selector
}

// Persist records the outcome of inserting t as row id. Single-segment
// messages are deleted by row id; multipart messages delete every segment
// of the message at once.
func Persist(t Tracker, id int64) Persisted {
	p := Persisted{Tracker: t, RowID: id}
	if t.IsMultipart() {
		p.Delete = t.MessageSelector()
	} else {
		p.Delete = ByID(id)
	}
	return p
}
