// Package smpp provides an SMPP receiver transport.
//
// The transport binds to an SMSC as a receiver and turns every deliver_sm
// into a segment. The deliver_sm_resp is sent only after the segment
// handler returns: ESME_ROK for core.Handled, ESME_RX_T_APPN otherwise so
// the SMSC keeps the message and retries it later.
package smpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/kabili207/smsinbound/core"
	"github.com/kabili207/smsinbound/core/codec"
	"github.com/kabili207/smsinbound/core/sms"
	"github.com/kabili207/smsinbound/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultEnquireLink is the default keep-alive interval.
	DefaultEnquireLink = 30 * time.Second

	// DefaultRebindInterval is how long the session waits before rebinding
	// after the connection drops.
	DefaultRebindInterval = 5 * time.Second

	// DefaultHandleTimeout bounds how long one segment may take to process.
	DefaultHandleTimeout = 30 * time.Second
)

// Config holds the configuration for an SMPP transport.
type Config struct {
	// Addr is the SMSC address as host:port.
	Addr string
	// SystemID and Password authenticate the bind.
	SystemID string
	Password string
	// SystemType is sent in the bind request. May be empty.
	SystemType string
	// EnquireLink is the keep-alive interval. Default: 30s.
	EnquireLink time.Duration
	// RebindInterval is the delay between rebind attempts. Default: 5s.
	RebindInterval time.Duration
	// HandleTimeout bounds the processing of one segment. Default: 30s.
	HandleTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over an SMPP receiver bind.
type Transport struct {
	cfg            Config
	session        *gosmpp.Session
	log            *slog.Logger
	ctx            context.Context
	mu             sync.RWMutex
	connected      bool
	segmentHandler transport.SegmentHandler
	stateHandler   transport.StateHandler
}

// New creates a new SMPP transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.EnquireLink <= 0 {
		cfg.EnquireLink = DefaultEnquireLink
	}
	if cfg.RebindInterval <= 0 {
		cfg.RebindInterval = DefaultRebindInterval
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = DefaultHandleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("smpp"),
		ctx: context.Background(),
	}
}

// Start binds to the SMSC as a receiver.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Addr == "" {
		return errors.New("SMSC address is required")
	}
	if t.cfg.SystemID == "" {
		return errors.New("system ID is required")
	}

	auth := gosmpp.Auth{
		SMSC:       t.cfg.Addr,
		SystemID:   t.cfg.SystemID,
		Password:   t.cfg.Password,
		SystemType: t.cfg.SystemType,
	}

	settings := gosmpp.Settings{
		EnquireLink: t.cfg.EnquireLink,
		ReadTimeout: 2 * t.cfg.EnquireLink,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:         10,
			PduExpireTimeOut:      t.cfg.HandleTimeout,
			ExpireCheckTimer:      5 * time.Second,
			EnableAutoRespond:     false,
			OnReceivedPduRequest:  t.onRequest,
			OnExpectedPduResponse: func(gosmpp.Response) {},
			OnExpiredPduRequest:   func(pdu.PDU) bool { return false },
			OnClosePduRequest:     func(pdu.PDU) {},
		},

		OnReceivingError: t.onReceivingError,
		OnRebindingError: t.onRebindingError,
		OnClosed:         t.onClosed,
	}

	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()

	session, err := gosmpp.NewSession(gosmpp.RXConnector(gosmpp.NonTLSDialer, auth), settings, t.cfg.RebindInterval)
	if err != nil {
		return fmt.Errorf("binding to SMSC: %w", err)
	}

	t.mu.Lock()
	t.session = session
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Info("bound to SMSC", "addr", t.cfg.Addr, "system_id", t.cfg.SystemID)
	if handler != nil {
		handler(t, transport.EventConnected)
	}
	return nil
}

// Stop unbinds and closes the session.
func (t *Transport) Stop() error {
	t.mu.Lock()
	session := t.session
	t.session = nil
	t.connected = false
	t.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

// IsConnected returns true while the session is bound.
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

// onRequest handles PDUs initiated by the SMSC. The returned PDU is sent as
// the response; the session is never closed from here.
func (t *Transport) onRequest(p pdu.PDU) (pdu.PDU, bool) {
	switch pd := p.(type) {
	case *pdu.DeliverSM:
		resp := pd.GetResponse().(*pdu.DeliverSMResp)
		resp.CommandStatus = t.deliver(pd)
		return resp, false

	case *pdu.EnquireLink:
		return pd.GetResponse(), false

	case *pdu.Unbind:
		t.log.Info("SMSC requested unbind")
		go t.Stop()
		return pd.GetResponse(), false

	case *pdu.DataSM:
		t.log.Debug("ignoring data_sm")
		return pd.GetResponse(), false
	}
	return nil, false
}

// deliver passes one deliver_sm to the segment handler and returns the
// command status to answer with.
func (t *Transport) deliver(p *pdu.DeliverSM) data.CommandStatusType {
	t.mu.RLock()
	handler := t.segmentHandler
	parent := t.ctx
	t.mu.RUnlock()

	if handler == nil {
		return data.ESME_RX_T_APPN
	}

	body, err := p.Message.GetMessageData()
	if err != nil {
		t.log.Warn("cannot read short message", "seq", p.SequenceNumber, "error", err)
		return data.ESME_RX_T_APPN
	}
	msg, err := sms.FromElements(p.SourceAddr.Address(), 0, elementsFromUDH(p.Message.UDH()), body)
	if err != nil {
		t.log.Warn("cannot decode deliver_sm", "seq", p.SequenceNumber, "error", err)
		return data.ESME_RX_T_APPN
	}

	ctx, cancel := context.WithTimeout(parent, t.cfg.HandleTimeout)
	defer cancel()
	return statusFor(handler(ctx, msg, transport.SourceSMPP))
}

// statusFor maps a segment outcome to a deliver_sm_resp command status.
func statusFor(out core.Outcome) data.CommandStatusType {
	if out == core.Handled {
		return data.ESME_ROK
	}
	return data.ESME_RX_T_APPN
}

func elementsFromUDH(udh pdu.UDH) []codec.InformationElement {
	if len(udh) == 0 {
		return nil
	}
	out := make([]codec.InformationElement, 0, len(udh))
	for _, ie := range udh {
		out = append(out, codec.InformationElement{ID: ie.ID, Data: ie.Data})
	}
	return out
}

func (t *Transport) onReceivingError(err error) {
	t.log.Error("SMPP receive error", "error", err)
}

func (t *Transport) onRebindingError(err error) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Error("SMPP rebind failed", "error", err)
	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func (t *Transport) onClosed(state gosmpp.State) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Warn("SMPP session closed", "state", state.String())
	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
