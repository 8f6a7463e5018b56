package codec

import (
	"errors"
	"fmt"
)

var ErrUserDataTooShort = errors.New("user data too short")

// PackUserData lays out a stored 3GPP payload: one UDHL byte, the header
// bytes, then the body. UDHL is zero when hdr is nil or empty.
func PackUserData(hdr *UserDataHeader, body []byte) ([]byte, error) {
	var raw []byte
	if hdr != nil {
		var err error
		if raw, err = hdr.Marshal(); err != nil {
			return nil, err
		}
	}
	out := make([]byte, 0, 1+len(raw)+len(body))
	out = append(out, byte(len(raw)))
	out = append(out, raw...)
	out = append(out, body...)
	return out, nil
}

// UnpackUserData splits a stored 3GPP payload into its header and body.
// The returned header is nil when UDHL is zero.
func UnpackUserData(pdu []byte) (*UserDataHeader, []byte, error) {
	if len(pdu) < 1 {
		return nil, nil, ErrUserDataTooShort
	}
	udhl := int(pdu[0])
	if 1+udhl > len(pdu) {
		return nil, nil, fmt.Errorf("%w: UDHL %d, %d bytes", ErrHeaderTruncated, udhl, len(pdu)-1)
	}
	body := pdu[1+udhl:]
	if udhl == 0 {
		return nil, body, nil
	}
	hdr, err := ParseUserDataHeader(pdu[1 : 1+udhl])
	if err != nil {
		return nil, nil, err
	}
	return hdr, body, nil
}

// ExtractUserData returns the body of a stored 3GPP payload, dropping the
// header. The result aliases pdu.
func ExtractUserData(pdu []byte) ([]byte, error) {
	if len(pdu) < 1 {
		return nil, ErrUserDataTooShort
	}
	udhl := int(pdu[0])
	if 1+udhl > len(pdu) {
		return nil, fmt.Errorf("%w: UDHL %d, %d bytes", ErrHeaderTruncated, udhl, len(pdu)-1)
	}
	return pdu[1+udhl:], nil
}
