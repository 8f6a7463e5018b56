// Package codec implements the byte-level encodings used on the inbound
// message path: the TP-User-Data header (3GPP TS 23.040 §9.2.3.24) that
// carries concatenation and application port information, the
// length-prefixed user data layout used for stored 3GPP payloads, the
// segment and acknowledgement frames exchanged with modems and brokers,
// and the RS232 link framing used on serial connections.
package codec
