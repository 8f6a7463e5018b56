package sms

import "github.com/kabili207/smsinbound/core"

// Flags OR'd into the stored destination_port column. The low 16 bits hold
// the real port; the flags record the format family so that rows can be
// turned back into trackers after a restart.
const (
	DestPortFlagNoPort       = 1 << 16
	DestPortFlag3GPP         = 1 << 17
	DestPortFlag3GPP2        = 1 << 18
	DestPortFlag3GPP2WapPush = 1 << 19
	DestPortMask             = 0xffff
)

// EncodeDestPort builds the destination_port column value for a tracker.
func EncodeDestPort(t Tracker) int {
	v := t.DestPort
	if v == core.PortNone {
		v = DestPortFlagNoPort
	} else {
		v &= DestPortMask
	}
	if t.Format.IsAlternate() {
		v |= DestPortFlag3GPP2
	} else {
		v |= DestPortFlag3GPP
	}
	if t.ZeroBasedSequence {
		v |= DestPortFlag3GPP2WapPush
	}
	return v
}

// RealDestPort strips the format flags from a stored column value. It
// returns core.PortNone for the no-port flag and for a masked value of 0.
func RealDestPort(column int) int {
	if column&DestPortFlagNoPort != 0 {
		return core.PortNone
	}
	port := column & DestPortMask
	if port == 0 {
		return core.PortNone
	}
	return port
}

// FormatFromDestPort recovers the format family recorded in a column value.
func FormatFromDestPort(column int) core.Format {
	if column&DestPortFlag3GPP2 != 0 {
		return core.Format3GPP2
	}
	return core.Format3GPP
}
