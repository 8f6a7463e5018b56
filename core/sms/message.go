// Package sms models received message segments as they move through the
// inbound pipeline: the decoded Message handed over by a transport, the
// immutable Tracker derived from it, the Persisted form that knows how to
// delete itself, and the Row stored in the segment store.
package sms

import (
	"errors"
	"fmt"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/codec"
)

var ErrNoUserData = errors.New("segment carries no user data")

// Message is a decoded inbound segment as delivered by a transport.
type Message struct {
	// PDU is the payload stored and handed to subscribers. For Format3GPP it
	// uses the codec.PackUserData layout; for Format3GPP2 it is plain user data.
	PDU []byte

	// Timestamp is the service centre timestamp in Unix milliseconds.
	// Zero means unknown.
	Timestamp int64

	// Address is the originating address.
	Address string

	Format core.Format

	// Header is the parsed user data header, or nil when none was present.
	Header *codec.UserDataHeader

	// Class0 marks a message for immediate display.
	Class0 bool

	// ZeroBasedSequence is set for Format3GPP2 push segments whose
	// concatenation sequence starts at 0.
	ZeroBasedSequence bool
}

// FromFrame converts a segment frame received from a modem or broker.
func FromFrame(f *codec.SegmentFrame) (*Message, error) {
	msg := &Message{
		Timestamp: f.Timestamp,
		Address:   f.Address,
		Class0:    f.HasFlag(codec.FlagClass0),
	}
	if f.HasFlag(codec.Flag3GPP2) {
		msg.Format = core.Format3GPP2
	}

	if !f.HasFlag(codec.FlagUDHI) {
		if msg.Format == core.Format3GPP {
			pdu, err := codec.PackUserData(nil, f.UserData)
			if err != nil {
				return nil, err
			}
			msg.PDU = pdu
		} else {
			msg.PDU = f.UserData
		}
		return msg, nil
	}

	hdr, body, err := codec.UnpackUserData(f.UserData)
	if err != nil {
		return nil, fmt.Errorf("decoding user data header: %w", err)
	}
	msg.Header = hdr
	if msg.Format == core.Format3GPP2 && f.HasFlag(codec.FlagSeq0) {
		msg.ZeroBasedSequence = true
		hdr.ConcatRef = hdr.ZeroBasedConcatRef()
	}
	if msg.Format == core.Format3GPP {
		msg.PDU = f.UserData
	} else {
		msg.PDU = body
	}
	return msg, nil
}

// FromElements builds a message from a transport that already split the
// user data header into information elements (e.g. SMPP libraries).
func FromElements(address string, timestamp int64, ies []codec.InformationElement, body []byte) (*Message, error) {
	msg := &Message{
		Timestamp: timestamp,
		Address:   address,
		Format:    core.Format3GPP,
	}
	var hdr *codec.UserDataHeader
	if len(ies) > 0 {
		hdr = codec.HeaderFromElements(ies)
		msg.Header = hdr
	}
	pdu, err := codec.PackUserData(hdr, body)
	if err != nil {
		return nil, err
	}
	msg.PDU = pdu
	return msg, nil
}

// DestPort returns the addressed application port or core.PortNone.
func (m *Message) DestPort() int {
	if m.Header == nil || m.Header.PortAddrs == nil {
		return core.PortNone
	}
	return m.Header.PortAddrs.DestPort
}

// IsConcatenated reports whether the message is one segment of several.
func (m *Message) IsConcatenated() bool {
	return m.Header != nil && m.Header.ConcatRef != nil
}
