package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/smsinbound/core/notify"
)

func dial(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func TestNew_Defaults(t *testing.T) {
	g := New("ws", Config{})
	assert.Equal(t, "ws", g.Name())
	assert.Equal(t, DefaultSendQueueSize, g.cfg.SendQueueSize)
	assert.Equal(t, DefaultWriteTimeout, g.cfg.WriteTimeout)
	assert.Equal(t, DefaultPingInterval, g.cfg.PingInterval)
	assert.Equal(t, 0, g.Len())
}

func TestReceive_NoClientsPassesResult(t *testing.T) {
	g := New("ws", Config{})
	env := notify.NewEnvelope(notify.ActionReceived)
	assert.Equal(t, notify.ResultFailed, g.Receive(context.Background(), env, notify.ResultFailed))
}

func TestReceive_StreamsToClient(t *testing.T) {
	g := New("ws", Config{})
	conn := dial(t, g)
	require.Eventually(t, func() bool { return g.Len() == 1 }, time.Second, 5*time.Millisecond)

	env := notify.NewEnvelope(notify.ActionReceived)
	env.Address = "+15550100"
	env.PDUs = [][]byte{[]byte("hi")}
	assert.Equal(t, notify.ResultHandled, g.Receive(context.Background(), env, notify.ResultHandled))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, env.ID.String(), got["id"])
	assert.Equal(t, "sms.received", got["action"])
	assert.Equal(t, "+15550100", got["address"])
}

func TestReceive_SlowClientDrops(t *testing.T) {
	g := New("ws", Config{})
	c := &client{id: "slow", send: make(chan []byte, 1), done: make(chan struct{})}
	require.True(t, g.add(c))

	env := notify.NewEnvelope(notify.ActionReceived)
	g.Receive(context.Background(), env, notify.ResultOK)
	g.Receive(context.Background(), env, notify.ResultOK)
	assert.Len(t, c.send, 1)
}

func TestClose_DisconnectsClients(t *testing.T) {
	g := New("ws", Config{})
	conn := dial(t, g)
	require.Eventually(t, func() bool { return g.Len() == 1 }, time.Second, 5*time.Millisecond)

	g.Close()
	assert.Equal(t, 0, g.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	assert.False(t, g.add(&client{id: "late", done: make(chan struct{})}))
}
