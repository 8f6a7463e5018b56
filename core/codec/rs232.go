package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// FrameMagic is the magic number that starts every RS232 link frame.
	FrameMagic uint16 = 0xC03E
	// MaxTransUnit is the maximum payload size of a link frame. A segment
	// frame with a 20-digit address and 140 bytes of user data fits easily.
	MaxTransUnit = 256
	// FrameHeaderSize is the size of the link frame header (magic 2 + length 2).
	FrameHeaderSize = 4
	// FrameChecksumSize is the size of the trailing Fletcher-16 checksum.
	FrameChecksumSize = 2
	// MinFrameSize is the smallest possible link frame (empty payload).
	MinFrameSize = FrameHeaderSize + FrameChecksumSize
)

var (
	ErrFrameTooShort    = errors.New("frame too short")
	ErrInvalidMagic     = errors.New("invalid frame magic")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrIncompleteFrame  = errors.New("incomplete frame")
)

var magicBytes = [2]byte{byte(FrameMagic >> 8), byte(FrameMagic & 0xff)}

// RS232Frame is one decoded link frame from a serial modem.
type RS232Frame struct {
	Payload []byte
}

// DecodeRS232Frame decodes the link frame at the start of data and returns
// it along with the bytes that follow it. On error the input is returned
// unchanged as the remainder.
//
// Frame format: [0xC03E (2 BE)][length (2 BE)][payload][Fletcher-16 (2 BE)]
func DecodeRS232Frame(data []byte) (*RS232Frame, []byte, error) {
	if len(data) < MinFrameSize {
		return nil, data, ErrFrameTooShort
	}
	if binary.BigEndian.Uint16(data[0:2]) != FrameMagic {
		return nil, data, ErrInvalidMagic
	}

	n := int(binary.BigEndian.Uint16(data[2:4]))
	if n > MaxTransUnit {
		return nil, data, ErrPayloadTooLarge
	}
	end := FrameHeaderSize + n + FrameChecksumSize
	if len(data) < end {
		return nil, data, ErrIncompleteFrame
	}

	payload := data[FrameHeaderSize : FrameHeaderSize+n]
	sum := binary.BigEndian.Uint16(data[FrameHeaderSize+n : end])
	if !ValidateChecksum(payload, sum) {
		return nil, data, fmt.Errorf("%w: expected %04x, got %04x",
			ErrChecksumMismatch, Fletcher16(payload), sum)
	}

	return &RS232Frame{Payload: bytes.Clone(payload)}, data[end:], nil
}

// EncodeRS232Frame wraps payload in a link frame.
func EncodeRS232Frame(payload []byte) ([]byte, error) {
	if len(payload) > MaxTransUnit {
		return nil, ErrPayloadTooLarge
	}
	frame := make([]byte, FrameHeaderSize+len(payload)+FrameChecksumSize)
	binary.BigEndian.PutUint16(frame[0:2], FrameMagic)
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[FrameHeaderSize:], payload)
	binary.BigEndian.PutUint16(frame[FrameHeaderSize+len(payload):], Fletcher16(payload))
	return frame, nil
}

// SplitRS232Frames extracts every complete frame from buf. Corrupt frames
// are skipped by resynchronizing on the next magic sequence. The returned
// remainder holds a trailing partial frame, if any, to be prepended to the
// next read.
func SplitRS232Frames(buf []byte) (frames []*RS232Frame, rest []byte, dropped int) {
	for len(buf) >= MinFrameSize {
		frame, remaining, err := DecodeRS232Frame(buf)
		if err == nil {
			frames = append(frames, frame)
			buf = remaining
			continue
		}
		if errors.Is(err, ErrIncompleteFrame) {
			return frames, buf, dropped
		}
		dropped++
		idx := bytes.Index(buf[1:], magicBytes[:])
		if idx < 0 {
			return frames, nil, dropped
		}
		buf = buf[1+idx:]
	}
	return frames, buf, dropped
}
