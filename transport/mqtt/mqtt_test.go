package mqtt

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/codec"
	"github.com/kabili207/smsinbound/core/notify"
	"github.com/kabili207/smsinbound/core/sms"
	"github.com/kabili207/smsinbound/transport"
)

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{
		Broker:    "tcp://localhost:1883",
		GatewayID: "test",
	})

	if tr.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("expected default topic prefix %q, got %q", DefaultTopicPrefix, tr.cfg.TopicPrefix)
	}
	if tr.cfg.HandleTimeout != DefaultHandleTimeout {
		t.Errorf("expected default handle timeout %v, got %v", DefaultHandleTimeout, tr.cfg.HandleTimeout)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestTopics(t *testing.T) {
	tr := New(Config{
		Broker:      "tcp://broker.example.com:1883",
		TopicPrefix: "custom",
		GatewayID:   "gw1",
	})

	if got := tr.segmentTopic(); got != "custom/gw1/segments" {
		t.Errorf("segment topic = %q", got)
	}
	if got := tr.notifyTopic("sms.received"); got != "custom/gw1/notify/sms.received" {
		t.Errorf("notify topic = %q", got)
	}
}

func TestStart_MissingBroker(t *testing.T) {
	tr := New(Config{GatewayID: "test"})
	err := tr.Start(context.Background())
	if err == nil {
		t.Fatal("expected error with empty broker")
	}
}

func TestStart_MissingGatewayID(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})
	err := tr.Start(context.Background())
	if err == nil {
		t.Fatal("expected error with empty gateway ID")
	}
}

func TestIsConnected_Default(t *testing.T) {
	tr := New(Config{
		Broker:    "tcp://localhost:1883",
		GatewayID: "test",
	})

	if tr.IsConnected() {
		t.Error("expected not connected initially")
	}
}

func encodeFrame(t *testing.T, f *codec.SegmentFrame) []byte {
	t.Helper()
	data, err := f.WriteTo()
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return []byte(base64.StdEncoding.EncodeToString(data))
}

func TestHandlePayload_PassesSegment(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883", GatewayID: "test"})

	var got *sms.Message
	var src transport.Source
	tr.SetSegmentHandler(func(_ context.Context, msg *sms.Message, s transport.Source) core.Outcome {
		got, src = msg, s
		return core.Handled
	})

	out := tr.handlePayload(encodeFrame(t, &codec.SegmentFrame{ID: 9, Address: "555", Timestamp: 42, UserData: []byte("hi")}))
	if out != core.Handled {
		t.Fatalf("outcome = %v, want handled", out)
	}
	if got == nil {
		t.Fatal("handler not called")
	}
	if got.Address != "555" || got.Timestamp != 42 {
		t.Errorf("unexpected message %+v", got)
	}
	if src != transport.SourceMQTT {
		t.Errorf("source = %v, want mqtt", src)
	}
}

func TestHandlePayload_ErrorOutcomePropagates(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883", GatewayID: "test"})
	tr.SetSegmentHandler(func(context.Context, *sms.Message, transport.Source) core.Outcome {
		return core.GenericError
	})

	out := tr.handlePayload(encodeFrame(t, &codec.SegmentFrame{UserData: []byte("x")}))
	if out != core.GenericError {
		t.Errorf("outcome = %v, want generic_error", out)
	}
}

func TestHandlePayload_Malformed(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883", GatewayID: "test"})
	called := false
	tr.SetSegmentHandler(func(context.Context, *sms.Message, transport.Source) core.Outcome {
		called = true
		return core.Handled
	})

	tests := map[string][]byte{
		"not base64":  []byte("%%%"),
		"short frame": []byte(base64.StdEncoding.EncodeToString([]byte{codec.FrameTypeSegment, 0})),
		"ack frame":   []byte(base64.StdEncoding.EncodeToString((&codec.AckFrame{ID: 1}).WriteTo())),
	}
	for name, payload := range tests {
		if out := tr.handlePayload(payload); out != core.GenericError {
			t.Errorf("%s: outcome = %v, want generic_error", name, out)
		}
	}
	if called {
		t.Error("handler called for malformed payload")
	}
}

func TestHandlePayload_NoHandler(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883", GatewayID: "test"})
	if out := tr.handlePayload(encodeFrame(t, &codec.SegmentFrame{UserData: []byte("x")})); out != core.GenericError {
		t.Errorf("outcome = %v, want generic_error", out)
	}
}

func TestPublisher_NotConnectedPassesResult(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883", GatewayID: "test"})
	p := tr.Publisher("mqtt")
	if p.Name() != "mqtt" {
		t.Errorf("name = %q", p.Name())
	}

	env := notify.NewEnvelope(notify.ActionReceived)
	if got := p.Receive(context.Background(), env, notify.ResultHandled); got != notify.ResultHandled {
		t.Errorf("result = %v, want handled", got)
	}
	if err := p.publish(context.Background(), env); err != errNotConnected {
		t.Errorf("publish error = %v, want %v", err, errNotConnected)
	}
}
