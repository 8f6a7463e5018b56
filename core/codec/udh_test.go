package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserDataHeader_Concat8(t *testing.T) {
	h, err := ParseUserDataHeader([]byte{IEConcat8, 0x03, 0x2A, 0x03, 0x02})
	require.NoError(t, err)
	require.NotNil(t, h.ConcatRef)
	assert.Equal(t, ConcatRef{RefNumber: 0x2A, SeqNumber: 2, MsgCount: 3, Is8Bit: true}, *h.ConcatRef)
	assert.Nil(t, h.PortAddrs)
}

func TestParseUserDataHeader_Concat16AndPorts(t *testing.T) {
	data := []byte{
		IEConcat16, 0x04, 0x12, 0x34, 0x02, 0x01,
		IEPortAddr16, 0x04, 0x0B, 0x84, 0x23, 0xF0,
	}
	h, err := ParseUserDataHeader(data)
	require.NoError(t, err)
	require.NotNil(t, h.ConcatRef)
	assert.Equal(t, 0x1234, h.ConcatRef.RefNumber)
	assert.Equal(t, 1, h.ConcatRef.SeqNumber)
	assert.Equal(t, 2, h.ConcatRef.MsgCount)
	assert.False(t, h.ConcatRef.Is8Bit)
	require.NotNil(t, h.PortAddrs)
	assert.Equal(t, 2948, h.PortAddrs.DestPort)
	assert.Equal(t, 9200, h.PortAddrs.OrigPort)
	assert.Len(t, h.Elements, 2)
}

func TestParseUserDataHeader_InvalidConcatIgnored(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"zero count", []byte{IEConcat8, 0x03, 0x01, 0x00, 0x01}},
		{"zero seq", []byte{IEConcat8, 0x03, 0x01, 0x02, 0x00}},
		{"seq beyond count", []byte{IEConcat8, 0x03, 0x01, 0x02, 0x03}},
		{"wrong length", []byte{IEConcat8, 0x02, 0x01, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseUserDataHeader(tt.data)
			require.NoError(t, err)
			assert.Nil(t, h.ConcatRef)
			assert.Len(t, h.Elements, 1)
		})
	}
}

func TestParseUserDataHeader_Truncated(t *testing.T) {
	_, err := ParseUserDataHeader([]byte{IEConcat8})
	assert.ErrorIs(t, err, ErrHeaderTruncated)

	_, err = ParseUserDataHeader([]byte{IEConcat8, 0x03, 0x01})
	assert.ErrorIs(t, err, ErrHeaderTruncated)
}

func TestNewUserDataHeader_Marshal(t *testing.T) {
	h := NewUserDataHeader(
		&ConcatRef{RefNumber: 7, SeqNumber: 1, MsgCount: 2, Is8Bit: true},
		&PortAddrs{DestPort: 16, OrigPort: 0, AreEightBits: true},
	)
	raw, err := h.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{IEConcat8, 3, 7, 2, 1, IEPortAddr8, 2, 16, 0}, raw)

	parsed, err := ParseUserDataHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, h.ConcatRef, parsed.ConcatRef)
	assert.Equal(t, h.PortAddrs, parsed.PortAddrs)
}

func TestUserDataHeader_MarshalTooLong(t *testing.T) {
	h := &UserDataHeader{Elements: []InformationElement{{ID: 0x70, Data: make([]byte, 254)}}}
	_, err := h.Marshal()
	assert.ErrorIs(t, err, ErrHeaderTooLong)
}

func TestPackUnpackUserData(t *testing.T) {
	body := []byte("hello")
	t.Run("no header", func(t *testing.T) {
		pdu, err := PackUserData(nil, body)
		require.NoError(t, err)
		assert.Equal(t, byte(0), pdu[0])

		hdr, got, err := UnpackUserData(pdu)
		require.NoError(t, err)
		assert.Nil(t, hdr)
		assert.Equal(t, body, got)
	})

	t.Run("with header", func(t *testing.T) {
		h := NewUserDataHeader(&ConcatRef{RefNumber: 1, SeqNumber: 2, MsgCount: 2, Is8Bit: true}, nil)
		pdu, err := PackUserData(h, body)
		require.NoError(t, err)
		assert.Equal(t, byte(5), pdu[0])

		hdr, got, err := UnpackUserData(pdu)
		require.NoError(t, err)
		require.NotNil(t, hdr)
		assert.Equal(t, 2, hdr.ConcatRef.SeqNumber)
		assert.Equal(t, body, got)

		extracted, err := ExtractUserData(pdu)
		require.NoError(t, err)
		assert.Equal(t, body, extracted)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ExtractUserData(nil)
		assert.ErrorIs(t, err, ErrUserDataTooShort)
		_, err = ExtractUserData([]byte{0x05, 0x00})
		assert.ErrorIs(t, err, ErrHeaderTruncated)
		_, _, err = UnpackUserData([]byte{})
		assert.ErrorIs(t, err, ErrUserDataTooShort)
	})
}

func TestZeroBasedConcatRef(t *testing.T) {
	h, err := ParseUserDataHeader([]byte{IEConcat8, 3, 0x11, 2, 0})
	require.NoError(t, err)
	assert.Nil(t, h.ConcatRef)

	c := h.ZeroBasedConcatRef()
	require.NotNil(t, c)
	assert.Equal(t, ConcatRef{RefNumber: 0x11, SeqNumber: 0, MsgCount: 2, Is8Bit: true}, *c)

	h, err = ParseUserDataHeader([]byte{IEConcat16, 4, 0x01, 0x02, 2, 1})
	require.NoError(t, err)
	c = h.ZeroBasedConcatRef()
	require.NotNil(t, c)
	assert.Equal(t, 0x0102, c.RefNumber)
	assert.Equal(t, 1, c.SeqNumber)

	// Sequence 2 of 2 is past the end when numbering starts at 0.
	h, err = ParseUserDataHeader([]byte{IEConcat8, 3, 0x11, 2, 2})
	require.NoError(t, err)
	assert.Nil(t, h.ZeroBasedConcatRef())
}
