// Package serial provides a serial transport for receiving message segments
// from a modem.
//
// The modem sends segment frames wrapped in RS232 link frames with
// Fletcher-16 checksums. Every segment frame is answered with an ack frame
// carrying the same ID; the modem keeps the segment and retransmits it
// unless the ack reports it as handled.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/codec"
	"github.com/kabili207/smsinbound/core/sms"
	"github.com/kabili207/smsinbound/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate for modem connections.
	DefaultBaudRate = 115200

	// readBufSize is the size of the serial read buffer.
	readBufSize = 1024
)

var errNotConnected = errors.New("not connected")

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a serial connection.
type Transport struct {
	cfg            Config
	port           serial.Port
	writer         io.Writer
	log            *slog.Logger
	mu             sync.RWMutex
	writeMu        sync.Mutex
	connected      bool
	ctx            context.Context
	cancel         context.CancelFunc
	done           chan struct{}
	segmentHandler transport.SegmentHandler
	stateHandler   transport.StateHandler
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("serial"),
		ctx: context.Background(),
	}
}

// Start opens the serial port and begins reading segments.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	mode := &serial.Mode{
		BaudRate: t.cfg.BaudRate,
	}

	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.port = port
	t.writer = port
	t.connected = true
	t.done = make(chan struct{})
	t.ctx = readCtx
	t.cancel = cancel
	handler := t.stateHandler
	t.mu.Unlock()

	go t.readLoop(readCtx)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate)

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	return nil
}

// Stop closes the serial port and stops the read loop.
func (t *Transport) Stop() error {
	t.mu.Lock()
	handler := t.stateHandler
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	t.writer = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}

	// Wait for read loop to finish
	if done != nil {
		<-done
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}

	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetSegmentHandler sets the callback for incoming segments.
func (t *Transport) SetSegmentHandler(fn transport.SegmentHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segmentHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// readLoop continuously reads from the serial port and assembles RS232 frames.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)

	buf := make([]byte, readBufSize)
	var assemblyBuf []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return // context cancelled, clean shutdown
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.log.Error("serial read error", "error", err)
			}
			t.handleDisconnect(err)
			return
		}

		if n == 0 {
			continue
		}

		assemblyBuf = append(assemblyBuf, buf[:n]...)
		assemblyBuf = t.processFrames(assemblyBuf)
	}
}

// processFrames handles every complete RS232 frame in data and returns the
// bytes of a trailing partial frame.
func (t *Transport) processFrames(data []byte) []byte {
	frames, rest, dropped := codec.SplitRS232Frames(data)
	if dropped > 0 {
		t.log.Debug("discarded corrupt frames", "count", dropped)
	}
	for _, f := range frames {
		t.handleFrame(f.Payload)
	}
	return rest
}

// handleFrame passes one segment frame to the segment handler and answers
// it with an ack frame. Segments that cannot be decoded are answered with
// an error ack so the modem keeps them.
func (t *Transport) handleFrame(payload []byte) {
	typ, err := codec.FrameType(payload)
	if err != nil {
		t.log.Debug("ignoring frame", "error", err)
		return
	}
	if typ != codec.FrameTypeSegment {
		t.log.Debug("ignoring non-segment frame", "type", typ)
		return
	}

	var frame codec.SegmentFrame
	if err := frame.ReadFrom(payload); err != nil {
		t.log.Warn("failed to parse segment frame", "error", err)
		return
	}

	t.mu.RLock()
	handler := t.segmentHandler
	ctx := t.ctx
	t.mu.RUnlock()

	if handler == nil {
		return
	}

	out := core.GenericError
	msg, err := sms.FromFrame(&frame)
	if err != nil {
		t.log.Warn("failed to decode segment", "id", frame.ID, "error", err)
	} else {
		out = handler(ctx, msg, transport.SourceSerial)
	}

	if err := t.writeAck(frame.ID, out); err != nil {
		t.log.Error("failed to write ack", "id", frame.ID, "error", err)
	}
}

// writeAck sends an ack frame for segment id.
func (t *Transport) writeAck(id uint16, out core.Outcome) error {
	t.mu.RLock()
	w := t.writer
	t.mu.RUnlock()

	if w == nil {
		return errNotConnected
	}

	ack := codec.AckFrame{ID: id, Outcome: codec.AckError}
	if out == core.Handled {
		ack.Outcome = codec.AckHandled
	}
	frame, err := codec.EncodeRS232Frame(ack.WriteTo())
	if err != nil {
		return fmt.Errorf("encoding RS232 frame: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}
	return nil
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
