package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Information element identifiers understood by the header parser.
const (
	IEConcat8    = 0x00 // Concatenated message, 8-bit reference
	IEPortAddr8  = 0x04 // Application port addressing, 8-bit ports
	IEPortAddr16 = 0x05 // Application port addressing, 16-bit ports
	IEConcat16   = 0x08 // Concatenated message, 16-bit reference
)

var (
	ErrHeaderTruncated = errors.New("user data header truncated")
	ErrHeaderTooLong   = errors.New("user data header exceeds maximum length")
)

// MaxHeaderLength is the largest header a UDHL byte can describe.
const MaxHeaderLength = 255

// InformationElement is one TLV entry of a user data header.
type InformationElement struct {
	ID   byte
	Data []byte
}

// ConcatRef describes the position of a segment within a concatenated message.
type ConcatRef struct {
	RefNumber int
	SeqNumber int // 1-based, 0-based from ZeroBasedConcatRef
	MsgCount  int
	Is8Bit    bool
}

// PortAddrs holds application port addressing.
type PortAddrs struct {
	DestPort     int
	OrigPort     int
	AreEightBits bool
}

// UserDataHeader is a parsed user data header. Elements keeps every element
// in wire order, including ones the parser does not interpret.
type UserDataHeader struct {
	ConcatRef *ConcatRef
	PortAddrs *PortAddrs
	Elements  []InformationElement
}

// ParseUserDataHeader parses header bytes (without the leading UDHL byte).
// Concatenation elements with a zero count, zero sequence, or a sequence
// beyond the count are kept in Elements but not promoted to ConcatRef.
func ParseUserDataHeader(data []byte) (*UserDataHeader, error) {
	var ies []InformationElement
	for off := 0; off < len(data); {
		if off+2 > len(data) {
			return nil, fmt.Errorf("%w: element header at offset %d", ErrHeaderTruncated, off)
		}
		id := data[off]
		n := int(data[off+1])
		off += 2
		if off+n > len(data) {
			return nil, fmt.Errorf("%w: element 0x%02x wants %d bytes, %d left",
				ErrHeaderTruncated, id, n, len(data)-off)
		}
		ie := InformationElement{ID: id, Data: make([]byte, n)}
		copy(ie.Data, data[off:off+n])
		ies = append(ies, ie)
		off += n
	}
	return HeaderFromElements(ies), nil
}

// HeaderFromElements interprets a list of information elements. It is used
// by transports whose libraries already split the header into elements.
func HeaderFromElements(ies []InformationElement) *UserDataHeader {
	h := &UserDataHeader{Elements: ies}
	for _, ie := range ies {
		switch ie.ID {
		case IEConcat8:
			if len(ie.Data) != 3 {
				continue
			}
			if ref := newConcatRef(int(ie.Data[0]), int(ie.Data[2]), int(ie.Data[1]), true, false); ref != nil {
				h.ConcatRef = ref
			}
		case IEConcat16:
			if len(ie.Data) != 4 {
				continue
			}
			ref := int(binary.BigEndian.Uint16(ie.Data[0:2]))
			if c := newConcatRef(ref, int(ie.Data[3]), int(ie.Data[2]), false, false); c != nil {
				h.ConcatRef = c
			}
		case IEPortAddr8:
			if len(ie.Data) != 2 {
				continue
			}
			h.PortAddrs = &PortAddrs{
				DestPort:     int(ie.Data[0]),
				OrigPort:     int(ie.Data[1]),
				AreEightBits: true,
			}
		case IEPortAddr16:
			if len(ie.Data) != 4 {
				continue
			}
			h.PortAddrs = &PortAddrs{
				DestPort: int(binary.BigEndian.Uint16(ie.Data[0:2])),
				OrigPort: int(binary.BigEndian.Uint16(ie.Data[2:4])),
			}
		}
	}
	return h
}

// ZeroBasedConcatRef reinterprets the concatenation element for senders
// that number segments from 0. It returns nil when no element fits.
func (h *UserDataHeader) ZeroBasedConcatRef() *ConcatRef {
	var out *ConcatRef
	for _, ie := range h.Elements {
		switch {
		case ie.ID == IEConcat8 && len(ie.Data) == 3:
			if c := newConcatRef(int(ie.Data[0]), int(ie.Data[2]), int(ie.Data[1]), true, true); c != nil {
				out = c
			}
		case ie.ID == IEConcat16 && len(ie.Data) == 4:
			ref := int(binary.BigEndian.Uint16(ie.Data[0:2]))
			if c := newConcatRef(ref, int(ie.Data[3]), int(ie.Data[2]), false, true); c != nil {
				out = c
			}
		}
	}
	return out
}

func newConcatRef(ref, seq, count int, is8Bit, zeroBased bool) *ConcatRef {
	first := 1
	if zeroBased {
		first = 0
	}
	if count == 0 || seq < first || seq-first >= count {
		return nil
	}
	return &ConcatRef{RefNumber: ref, SeqNumber: seq, MsgCount: count, Is8Bit: is8Bit}
}

// NewUserDataHeader builds a header from optional concatenation and port
// information. Either argument may be nil.
func NewUserDataHeader(concat *ConcatRef, ports *PortAddrs) *UserDataHeader {
	h := &UserDataHeader{ConcatRef: concat, PortAddrs: ports}
	if concat != nil {
		if concat.Is8Bit {
			h.Elements = append(h.Elements, InformationElement{
				ID:   IEConcat8,
				Data: []byte{byte(concat.RefNumber), byte(concat.MsgCount), byte(concat.SeqNumber)},
			})
		} else {
			d := make([]byte, 4)
			binary.BigEndian.PutUint16(d[0:2], uint16(concat.RefNumber))
			d[2] = byte(concat.MsgCount)
			d[3] = byte(concat.SeqNumber)
			h.Elements = append(h.Elements, InformationElement{ID: IEConcat16, Data: d})
		}
	}
	if ports != nil {
		if ports.AreEightBits {
			h.Elements = append(h.Elements, InformationElement{
				ID:   IEPortAddr8,
				Data: []byte{byte(ports.DestPort), byte(ports.OrigPort)},
			})
		} else {
			d := make([]byte, 4)
			binary.BigEndian.PutUint16(d[0:2], uint16(ports.DestPort))
			binary.BigEndian.PutUint16(d[2:4], uint16(ports.OrigPort))
			h.Elements = append(h.Elements, InformationElement{ID: IEPortAddr16, Data: d})
		}
	}
	return h
}

// Marshal encodes the header elements without the UDHL byte.
func (h *UserDataHeader) Marshal() ([]byte, error) {
	var out []byte
	for _, ie := range h.Elements {
		if len(ie.Data) > 255 {
			return nil, fmt.Errorf("%w: element 0x%02x has %d bytes", ErrHeaderTooLong, ie.ID, len(ie.Data))
		}
		out = append(out, ie.ID, byte(len(ie.Data)))
		out = append(out, ie.Data...)
	}
	if len(out) > MaxHeaderLength {
		return nil, ErrHeaderTooLong
	}
	return out, nil
}
