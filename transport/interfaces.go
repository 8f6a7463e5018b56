// Package transport provides the interfaces shared by the links that carry
// inbound message segments: MQTT brokers, serial modems and SMPP sessions.
package transport

import (
	"context"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/sms"
)

// Transport is the base interface for all transport implementations.
type Transport interface {
	// Start begins the transport's connection and message handling.
	// The provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool
	// SetSegmentHandler sets the callback for incoming segments.
	SetSegmentHandler(fn SegmentHandler)
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
}

// SegmentHandler is called for every segment received. The transport
// acknowledges the segment to the network only when it returns
// core.Handled; any other outcome leaves it for retransmission.
type SegmentHandler func(ctx context.Context, msg *sms.Message, source Source) core.Outcome

// StateHandler is called when the transport state changes.
type StateHandler func(transport Transport, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Source indicates where a segment originated from.
type Source int

const (
	// SourceMQTT indicates the segment came from an MQTT broker.
	SourceMQTT Source = iota
	// SourceSerial indicates the segment came from a serial modem.
	SourceSerial
	// SourceSMPP indicates the segment came from an SMPP session.
	SourceSMPP
	// SourceLocal indicates the segment was injected locally.
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceMQTT:
		return "mqtt"
	case SourceSerial:
		return "serial"
	case SourceSMPP:
		return "smpp"
	case SourceLocal:
		return "local"
	default:
		return "unknown"
	}
}
