package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Frame types, carried in the first byte of every frame.
	FrameTypeSegment = 0x01 // Inbound message segment from the modem or broker
	FrameTypeAck     = 0x02 // Acknowledgement returned to the modem

	// Segment frame flags.
	FlagUDHI   = 0x01 // User data starts with a UDHL-prefixed header
	Flag3GPP2  = 0x02 // Segment uses the alternate (3GPP2) format family
	FlagClass0 = 0x04 // Class 0 (immediate display) message
	FlagSeq0   = 0x08 // 3GPP2 push segment numbered from 0

	// Ack outcomes.
	AckHandled = 0x00
	AckError   = 0x01

	segmentFixedSize = 1 + 2 + 1 + 8 + 1 // type, id, flags, timestamp, address length
	ackFrameSize     = 1 + 2 + 1
)

var (
	ErrFrameEmpty       = errors.New("frame is empty")
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrSegmentTooShort  = errors.New("segment frame too short")
	ErrAddressTooLong   = errors.New("originating address too long")
)

// SegmentFrame is one received message segment as carried over MQTT or a
// serial link.
//
// Wire format: [type 1][id 2 BE][flags 1][timestamp ms 8 BE][addr len 1][addr][user data]
type SegmentFrame struct {
	ID        uint16
	Flags     uint8
	Timestamp int64
	Address   string
	UserData  []byte
}

// HasFlag reports whether all bits in f are set.
func (s *SegmentFrame) HasFlag(f uint8) bool {
	return s.Flags&f == f
}

// WriteTo serializes the frame.
func (s *SegmentFrame) WriteTo() ([]byte, error) {
	if len(s.Address) > 255 {
		return nil, ErrAddressTooLong
	}
	out := make([]byte, segmentFixedSize, segmentFixedSize+len(s.Address)+len(s.UserData))
	out[0] = FrameTypeSegment
	binary.BigEndian.PutUint16(out[1:3], s.ID)
	out[3] = s.Flags
	binary.BigEndian.PutUint64(out[4:12], uint64(s.Timestamp))
	out[12] = byte(len(s.Address))
	out = append(out, s.Address...)
	out = append(out, s.UserData...)
	return out, nil
}

// ReadFrom parses a serialized segment frame.
func (s *SegmentFrame) ReadFrom(data []byte) error {
	if len(data) < segmentFixedSize {
		return fmt.Errorf("%w: %d bytes", ErrSegmentTooShort, len(data))
	}
	if data[0] != FrameTypeSegment {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownFrameType, data[0])
	}
	addrLen := int(data[12])
	if len(data) < segmentFixedSize+addrLen {
		return fmt.Errorf("%w: address wants %d bytes", ErrSegmentTooShort, addrLen)
	}
	s.ID = binary.BigEndian.Uint16(data[1:3])
	s.Flags = data[3]
	s.Timestamp = int64(binary.BigEndian.Uint64(data[4:12]))
	s.Address = string(data[segmentFixedSize : segmentFixedSize+addrLen])
	rest := data[segmentFixedSize+addrLen:]
	s.UserData = make([]byte, len(rest))
	copy(s.UserData, rest)
	return nil
}

// AckFrame acknowledges a segment frame by ID.
type AckFrame struct {
	ID      uint16
	Outcome uint8
}

// WriteTo serializes the ack frame.
func (a *AckFrame) WriteTo() []byte {
	out := make([]byte, ackFrameSize)
	out[0] = FrameTypeAck
	binary.BigEndian.PutUint16(out[1:3], a.ID)
	out[3] = a.Outcome
	return out
}

// ReadFrom parses a serialized ack frame.
func (a *AckFrame) ReadFrom(data []byte) error {
	if len(data) < ackFrameSize {
		return fmt.Errorf("%w: ack frame %d bytes", ErrSegmentTooShort, len(data))
	}
	if data[0] != FrameTypeAck {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownFrameType, data[0])
	}
	a.ID = binary.BigEndian.Uint16(data[1:3])
	a.Outcome = data[3]
	return nil
}

// FrameType returns the type byte of a serialized frame.
func FrameType(data []byte) (byte, error) {
	if len(data) == 0 {
		return 0, ErrFrameEmpty
	}
	switch data[0] {
	case FrameTypeSegment, FrameTypeAck:
		return data[0], nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownFrameType, data[0])
	}
}
