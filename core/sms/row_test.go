package sms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelector_Matches(t *testing.T) {
	row := &Row{ID: 3, Address: "555", ReferenceNumber: 7, Count: 3, Sequence: 2}

	assert.True(t, ByID(3).Matches(row))
	assert.False(t, ByID(4).Matches(row))
	assert.True(t, ByReference("555", 7, 3).Matches(row))
	assert.False(t, ByReference("555", 7, 4).Matches(row))
	assert.True(t, BySequence("555", 7, 3, 2).Matches(row))
	assert.False(t, BySequence("555", 7, 3, 1).Matches(row))
	assert.False(t, Selector{}.Matches(row))
}

func TestSelector_Where(t *testing.T) {
	where, args := BySequence("555", 7, 3, 2).Where()
	assert.Equal(t, "address = $1 AND reference_number = $2 AND count = $3 AND sequence = $4", where)
	assert.Equal(t, []any{"555", 7, 3, 2}, args)

	where, args = ByID(9).Where()
	assert.Equal(t, "id = $1", where)
	assert.Equal(t, []any{int64(9)}, args)

	where, args = Selector{}.Where()
	assert.Equal(t, "false", where)
	assert.Nil(t, args)
}

func TestSelector_String(t *testing.T) {
	assert.Equal(t, "id=9", ByID(9).String())
	assert.Equal(t, "address=555 ref=7 count=3 seq=2", BySequence("555", 7, 3, 2).String())
	assert.Equal(t, "none", Selector{}.String())
}

func TestRow_Clone(t *testing.T) {
	port := 5
	r := &Row{ID: 1, PDU: []byte{1}, DestPort: &port}
	c := r.Clone()
	c.PDU[0] = 2
	*c.DestPort = 6
	assert.Equal(t, byte(1), r.PDU[0])
	assert.Equal(t, 5, *r.DestPort)
}
