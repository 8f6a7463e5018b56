package mqtt

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kabili207/smsinbound/core/notify"
)

var errNotConnected = errors.New("not connected")

// Publisher is a notification subscriber that republishes every envelope
// it receives as JSON on "{prefix}/{gatewayID}/notify/{action}". It never
// changes the result passed along the ordered chain.
type Publisher struct {
	t    *Transport
	name string
}

// Publisher returns a subscriber that publishes through this transport.
func (t *Transport) Publisher(name string) *Publisher {
	return &Publisher{t: t, name: name}
}

func (p *Publisher) Name() string { return p.name }

// Receive publishes env and passes prev on unchanged.
func (p *Publisher) Receive(ctx context.Context, env *notify.Envelope, prev notify.Result) notify.Result {
	if err := p.publish(ctx, env); err != nil {
		p.t.log.Warn("cannot publish notification", "id", env.ID, "action", env.Action, "error", err)
	}
	return prev
}

func (p *Publisher) publish(ctx context.Context, env *notify.Envelope) error {
	if !p.t.IsConnected() {
		return errNotConnected
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	token := p.t.client.Publish(p.t.notifyTopic(string(env.Action)), segmentQoS, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
