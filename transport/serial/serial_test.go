package serial

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/codec"
	"github.com/kabili207/smsinbound/core/sms"
	"github.com/kabili207/smsinbound/transport"
)

// makeTestSegment creates a simple segment frame for testing.
func makeTestSegment(id uint16) *codec.SegmentFrame {
	return &codec.SegmentFrame{
		ID:        id,
		Timestamp: 1_700_000_000_000,
		Address:   "+15550100",
		UserData:  []byte("hello"),
	}
}

// frameSegment wraps a segment frame in an RS232 frame.
func frameSegment(t *testing.T, f *codec.SegmentFrame) []byte {
	t.Helper()
	data, err := f.WriteTo()
	if err != nil {
		t.Fatalf("failed to encode segment frame: %v", err)
	}
	frame, err := codec.EncodeRS232Frame(data)
	if err != nil {
		t.Fatalf("failed to encode RS232 frame: %v", err)
	}
	return frame
}

// recorder captures handled segments and the acks written back.
type recorder struct {
	mu       sync.Mutex
	received []*sms.Message
	outcome  core.Outcome
	out      bytes.Buffer
}

func newTestTransport(rec *recorder) *Transport {
	tr := New(Config{})
	tr.writer = &rec.out
	tr.segmentHandler = func(_ context.Context, msg *sms.Message, source transport.Source) core.Outcome {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.received = append(rec.received, msg)
		if source != transport.SourceSerial {
			panic("unexpected source " + source.String())
		}
		return rec.outcome
	}
	return tr
}

func (r *recorder) acks(t *testing.T) []codec.AckFrame {
	t.Helper()
	frames, rest, dropped := codec.SplitRS232Frames(r.out.Bytes())
	if len(rest) != 0 || dropped != 0 {
		t.Fatalf("malformed ack stream: rest %d, dropped %d", len(rest), dropped)
	}
	var out []codec.AckFrame
	for _, f := range frames {
		var a codec.AckFrame
		if err := a.ReadFrom(f.Payload); err != nil {
			t.Fatalf("bad ack frame: %v", err)
		}
		out = append(out, a)
	}
	return out
}

func TestProcessFrames_SingleFrame(t *testing.T) {
	rec := &recorder{outcome: core.Handled}
	tr := newTestTransport(rec)

	remaining := tr.processFrames(frameSegment(t, makeTestSegment(7)))
	if len(remaining) != 0 {
		t.Errorf("expected no remaining bytes, got %d", len(remaining))
	}

	if len(rec.received) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(rec.received))
	}
	if rec.received[0].Address != "+15550100" {
		t.Errorf("address = %q", rec.received[0].Address)
	}

	acks := rec.acks(t)
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}
	if acks[0].ID != 7 || acks[0].Outcome != codec.AckHandled {
		t.Errorf("unexpected ack %+v", acks[0])
	}
}

func TestProcessFrames_ErrorOutcomeAck(t *testing.T) {
	rec := &recorder{outcome: core.GenericError}
	tr := newTestTransport(rec)

	tr.processFrames(frameSegment(t, makeTestSegment(3)))

	acks := rec.acks(t)
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}
	if acks[0].Outcome != codec.AckError {
		t.Errorf("expected error ack, got %+v", acks[0])
	}
}

func TestProcessFrames_MultipleFrames(t *testing.T) {
	rec := &recorder{outcome: core.Handled}
	tr := newTestTransport(rec)

	combined := append(frameSegment(t, makeTestSegment(1)), frameSegment(t, makeTestSegment(2))...)
	remaining := tr.processFrames(combined)
	if len(remaining) != 0 {
		t.Errorf("expected no remaining bytes, got %d", len(remaining))
	}

	acks := rec.acks(t)
	if len(acks) != 2 {
		t.Fatalf("expected 2 acks, got %d", len(acks))
	}
	if acks[0].ID != 1 || acks[1].ID != 2 {
		t.Errorf("acks out of order: %+v", acks)
	}
}

func TestProcessFrames_IncompleteFrame(t *testing.T) {
	rec := &recorder{outcome: core.Handled}
	tr := newTestTransport(rec)

	frame := frameSegment(t, makeTestSegment(1))
	// Truncate the frame to simulate incomplete data
	partial := frame[:len(frame)-2]

	remaining := tr.processFrames(partial)
	if len(rec.received) != 0 {
		t.Errorf("expected 0 segments from incomplete frame, got %d", len(rec.received))
	}
	if len(remaining) != len(partial) {
		t.Errorf("expected all bytes returned as remaining, got %d vs %d", len(remaining), len(partial))
	}
}

func TestProcessFrames_IncrementalAssembly(t *testing.T) {
	rec := &recorder{outcome: core.Handled}
	tr := newTestTransport(rec)

	// Feed bytes one at a time, simulating slow serial arrival
	var buf []byte
	for _, b := range frameSegment(t, makeTestSegment(1)) {
		buf = append(buf, b)
		buf = tr.processFrames(buf)
	}

	if len(rec.received) != 1 {
		t.Fatalf("expected 1 segment after incremental assembly, got %d", len(rec.received))
	}
	if len(buf) != 0 {
		t.Errorf("expected no remaining bytes, got %d", len(buf))
	}
}

func TestProcessFrames_GarbageBeforeFrame(t *testing.T) {
	rec := &recorder{outcome: core.Handled}
	tr := newTestTransport(rec)

	// Prepend garbage bytes that don't start with magic
	garbage := []byte{0x00, 0x01, 0x02, 0xFF, 0x00, 0x00}
	data := append(garbage, frameSegment(t, makeTestSegment(1))...)

	remaining := tr.processFrames(data)
	if len(rec.received) != 1 {
		t.Fatalf("expected 1 segment after skipping garbage, got %d", len(rec.received))
	}
	if len(remaining) != 0 {
		t.Errorf("expected no remaining bytes, got %d", len(remaining))
	}
}

func TestProcessFrames_IgnoresAckFrames(t *testing.T) {
	rec := &recorder{outcome: core.Handled}
	tr := newTestTransport(rec)

	frame, err := codec.EncodeRS232Frame((&codec.AckFrame{ID: 1}).WriteTo())
	if err != nil {
		t.Fatal(err)
	}
	tr.processFrames(frame)
	if len(rec.received) != 0 || rec.out.Len() != 0 {
		t.Error("ack frame should be ignored")
	}
}

func TestProcessFrames_UndecodableSegmentGetsErrorAck(t *testing.T) {
	rec := &recorder{outcome: core.Handled}
	tr := newTestTransport(rec)

	seg := makeTestSegment(5)
	seg.Flags = codec.FlagUDHI
	seg.UserData = []byte{0x09, 0x00} // header length past the end
	tr.processFrames(frameSegment(t, seg))

	if len(rec.received) != 0 {
		t.Errorf("handler should not see undecodable segment")
	}
	acks := rec.acks(t)
	if len(acks) != 1 || acks[0].Outcome != codec.AckError {
		t.Errorf("expected one error ack, got %+v", acks)
	}
}

func TestProcessFrames_NoHandler(t *testing.T) {
	tr := New(Config{})
	// No handler set, should not panic

	remaining := tr.processFrames(frameSegment(t, makeTestSegment(1)))
	if len(remaining) != 0 {
		t.Errorf("expected no remaining bytes, got %d", len(remaining))
	}
}

func TestWriteAck_NotConnected(t *testing.T) {
	tr := New(Config{Port: "/dev/null", BaudRate: 115200})

	if err := tr.writeAck(1, core.Handled); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{Port: "/dev/ttyUSB0"})
	if tr.cfg.BaudRate != DefaultBaudRate {
		t.Errorf("expected default baud rate %d, got %d", DefaultBaudRate, tr.cfg.BaudRate)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
}
