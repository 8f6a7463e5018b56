package push

import (
	"errors"
	"fmt"
)

// WSP PDU types carrying a push.
const (
	PDUTypePush          = 0x06
	PDUTypeConfirmedPush = 0x07
)

var (
	ErrNotPush       = errors.New("not a WSP push PDU")
	ErrTruncated     = errors.New("WSP PDU truncated")
	ErrUintvarTooBig = errors.New("uintvar exceeds 32 bits")
)

// wellKnownTypes maps WSP well-known content type codes to media types.
var wellKnownTypes = map[byte]string{
	0x02: "text/html",
	0x03: "text/plain",
	0x08: "text/vnd.wap.wml",
	0x2E: "application/vnd.wap.sic",
	0x30: "application/vnd.wap.slc",
	0x3E: "application/vnd.wap.mms-message",
	0x44: "application/vnd.syncml.notification",
}

// PDU is a decoded WSP push.
type PDU struct {
	TransactionID byte
	Type          byte
	ContentType   string
	// Headers holds the raw header bytes following the content type.
	Headers []byte
	Body    []byte
}

// ParsePDU decodes a connectionless WSP push: transaction id, PDU type,
// header length, content type, headers and body.
func ParsePDU(data []byte) (*PDU, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	p := &PDU{TransactionID: data[0], Type: data[1]}
	if p.Type != PDUTypePush && p.Type != PDUTypeConfirmedPush {
		return nil, fmt.Errorf("%w: type 0x%02x", ErrNotPush, p.Type)
	}

	hdrLen, n, err := readUintvar(data[2:])
	if err != nil {
		return nil, err
	}
	start := 2 + n
	end := start + int(hdrLen)
	if hdrLen > uint32(len(data)) || end > len(data) {
		return nil, fmt.Errorf("%w: header length %d, %d bytes left", ErrTruncated, hdrLen, len(data)-start)
	}

	ct, used, err := readContentType(data[start:end])
	if err != nil {
		return nil, err
	}
	p.ContentType = ct
	p.Headers = data[start+used : end]
	p.Body = data[end:]
	return p, nil
}

// readUintvar decodes a WSP variable-length unsigned integer: seven bits
// per byte, high bit set on every byte but the last.
func readUintvar(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < len(b) && i < 5; i++ {
		if v > 0x1FFFFFF {
			return 0, 0, ErrUintvarTooBig
		}
		v = v<<7 | uint32(b[i]&0x7F)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: unterminated uintvar", ErrTruncated)
}

// readContentType decodes the content-type field in any of its three
// encodings and returns the media type and bytes consumed.
func readContentType(b []byte) (string, int, error) {
	if len(b) == 0 {
		return "", 0, fmt.Errorf("%w: missing content type", ErrTruncated)
	}
	switch first := b[0]; {
	case first >= 0x80:
		return wellKnown(first & 0x7F), 1, nil
	case first <= 0x1F:
		// Content-general-form: value-length then media type and parameters.
		length, n := int(first), 1
		if first == 0x1F {
			l, used, err := readUintvar(b[1:])
			if err != nil {
				return "", 0, err
			}
			length, n = int(l), 1+used
		}
		if n+length > len(b) || length == 0 {
			return "", 0, fmt.Errorf("%w: content type length %d", ErrTruncated, length)
		}
		media, _, err := readContentType(b[n : n+length])
		if err != nil {
			return "", 0, err
		}
		return media, n + length, nil
	default:
		for i, c := range b {
			if c == 0 {
				return string(b[:i]), i + 1, nil
			}
		}
		return "", 0, fmt.Errorf("%w: unterminated content type", ErrTruncated)
	}
}

func wellKnown(code byte) string {
	if ct, ok := wellKnownTypes[code]; ok {
		return ct
	}
	return fmt.Sprintf("application/x-wap-0x%02x", code)
}
