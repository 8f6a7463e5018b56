package sms

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Row is one persisted segment. Column names follow the stored schema:
// pdu, sequence, destination_port, date, reference_number, count, address, id.
type Row struct {
	ID              int64
	PDU             []byte
	Sequence        int
	DestPort        *int
	Date            int64
	ReferenceNumber int
	Count           int
	Address         string
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	c := *r
	c.PDU = bytes.Clone(r.PDU)
	if r.DestPort != nil {
		p := *r.DestPort
		c.DestPort = &p
	}
	return &c
}

// SelectorKind identifies which columns a Selector constrains.
type SelectorKind int

const (
	SelectByID SelectorKind = iota + 1
	SelectByReference
	SelectBySequence
)

// Selector is a predicate over stored rows, used both to look rows up and
// to delete them.
type Selector struct {
	Kind            SelectorKind
	ID              int64
	Address         string
	ReferenceNumber int
	Count           int
	Sequence        int
}

// ByID selects a single row by its store-assigned id.
func ByID(id int64) Selector {
	return Selector{Kind: SelectByID, ID: id}
}

// ByReference selects every segment of one concatenated message.
func ByReference(address string, ref, count int) Selector {
	return Selector{Kind: SelectByReference, Address: address, ReferenceNumber: ref, Count: count}
}

// BySequence selects one segment of one concatenated message.
func BySequence(address string, ref, count, seq int) Selector {
	return Selector{Kind: SelectBySequence, Address: address, ReferenceNumber: ref, Count: count, Sequence: seq}
}

// IsZero reports whether the selector is unset.
func (s Selector) IsZero() bool {
	return s.Kind == 0
}

// Matches reports whether r satisfies the selector.
func (s Selector) Matches(r *Row) bool {
	switch s.Kind {
	case SelectByID:
		return r.ID == s.ID
	case SelectByReference:
		return r.Address == s.Address && r.ReferenceNumber == s.ReferenceNumber && r.Count == s.Count
	case SelectBySequence:
		return r.Address == s.Address && r.ReferenceNumber == s.ReferenceNumber &&
			r.Count == s.Count && r.Sequence == s.Sequence
	default:
		return false
	}
}

// Where returns the SQL predicate and positional arguments ($1, $2, ...)
// for the selector.
func (s Selector) Where() (string, []any) {
	switch s.Kind {
	case SelectByID:
		return "id = $1", []any{s.ID}
	case SelectByReference:
		return "address = $1 AND reference_number = $2 AND count = $3",
			[]any{s.Address, s.ReferenceNumber, s.Count}
	case SelectBySequence:
		return "address = $1 AND reference_number = $2 AND count = $3 AND sequence = $4",
			[]any{s.Address, s.ReferenceNumber, s.Count, s.Sequence}
	default:
		return "false", nil
	}
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectByID:
		return "id=" + strconv.FormatInt(s.ID, 10)
	case SelectByReference, SelectBySequence:
		var b strings.Builder
		fmt.Fprintf(&b, "address=%s ref=%d count=%d", s.Address, s.ReferenceNumber, s.Count)
		if s.Kind == SelectBySequence {
			fmt.Fprintf(&b, " seq=%d", s.Sequence)
		}
		return b.String()
	default:
		return "none"
	}
}
