package sms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/codec"
)

func TestNewMultiTracker_Validation(t *testing.T) {
	_, err := NewMultiTracker([]byte{1}, 1, core.PortNone, core.Format3GPP, "123", 9, 0, 3, false)
	assert.ErrorIs(t, err, ErrInvalidTracker)

	_, err = NewMultiTracker([]byte{1}, 1, core.PortNone, core.Format3GPP, "123", 9, 4, 3, false)
	assert.ErrorIs(t, err, ErrInvalidTracker)

	tr, err := NewMultiTracker([]byte{1}, 1, core.PortNone, core.Format3GPP2, "123", 9, 0, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.IndexOffset())
}

func TestTracker_DoesNotAliasInput(t *testing.T) {
	pdu := []byte{1, 2, 3}
	tr := NewSingleTracker(pdu, 1, core.PortNone, core.Format3GPP, false)
	pdu[0] = 9
	assert.Equal(t, byte(1), tr.PDU[0])
}

func TestTrackerFromMessage(t *testing.T) {
	t.Run("single with port", func(t *testing.T) {
		hdr := codec.NewUserDataHeader(nil, &codec.PortAddrs{DestPort: 5000})
		msg := &Message{PDU: []byte{0, 'x'}, Header: hdr, Address: "555"}
		tr, err := TrackerFromMessage(msg, 42)
		require.NoError(t, err)
		assert.Equal(t, 1, tr.Count)
		assert.Equal(t, 5000, tr.DestPort)
		assert.Equal(t, int64(42), tr.Timestamp)
		assert.Empty(t, tr.Address)
	})

	t.Run("multipart", func(t *testing.T) {
		hdr := codec.NewUserDataHeader(&codec.ConcatRef{RefNumber: 3, SeqNumber: 2, MsgCount: 3, Is8Bit: true}, nil)
		msg := &Message{PDU: []byte{0, 'y'}, Header: hdr, Address: "555", Timestamp: 7}
		tr, err := TrackerFromMessage(msg, 42)
		require.NoError(t, err)
		assert.True(t, tr.IsMultipart())
		assert.Equal(t, "555", tr.Address)
		assert.Equal(t, 3, tr.ReferenceNumber)
		assert.Equal(t, 2, tr.SequenceNumber)
		assert.Equal(t, int64(7), tr.Timestamp)
		assert.Equal(t, core.PortNone, tr.DestPort)
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := TrackerFromMessage(&Message{}, 1)
		assert.ErrorIs(t, err, ErrNoUserData)
	})
}

func TestTracker_RowRoundTrip(t *testing.T) {
	tr, err := NewMultiTracker([]byte{0, 'a'}, 99, 2948, core.Format3GPP2, "555", 4, 0, 2, true)
	require.NoError(t, err)

	row := tr.Row()
	require.NotNil(t, row.DestPort)
	assert.Equal(t, 2948, RealDestPort(*row.DestPort))
	assert.Equal(t, 0, row.Sequence)

	back := TrackerFromRow(row)
	assert.Equal(t, tr, back)
}

func TestTrackerFromRow_Single(t *testing.T) {
	tr := NewSingleTracker([]byte{0, 'a'}, 5, core.PortNone, core.Format3GPP, false)
	row := tr.Row()
	row.ID = 17
	back := TrackerFromRow(row)
	assert.Equal(t, tr, back)

	row.DestPort = nil
	assert.Equal(t, core.PortNone, TrackerFromRow(row).DestPort)
}

func TestPersist_DeleteSelector(t *testing.T) {
	single := NewSingleTracker([]byte{1}, 1, core.PortNone, core.Format3GPP, false)
	p := Persist(single, 12)
	assert.Equal(t, ByID(12), p.Delete)

	multi, err := NewMultiTracker([]byte{1}, 1, core.PortNone, core.Format3GPP, "555", 4, 2, 3, false)
	require.NoError(t, err)
	p = Persist(multi, 13)
	assert.Equal(t, ByReference("555", 4, 3), p.Delete)
	assert.Equal(t, int64(13), p.RowID)
}

func TestRealDestPort(t *testing.T) {
	assert.Equal(t, core.PortNone, RealDestPort(DestPortFlagNoPort|DestPortFlag3GPP))
	assert.Equal(t, core.PortNone, RealDestPort(DestPortFlag3GPP))
	assert.Equal(t, 2948, RealDestPort(2948|DestPortFlag3GPP2))
	assert.Equal(t, core.Format3GPP2, FormatFromDestPort(2948|DestPortFlag3GPP2))
	assert.Equal(t, core.Format3GPP, FormatFromDestPort(DestPortFlag3GPP))
}
