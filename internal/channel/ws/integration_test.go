package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-channel/internal/channel"
	"github.com/omochice/realtime-channel/internal/channel/ws"
	"github.com/omochice/realtime-channel/internal/server"
	"github.com/omochice/realtime-channel/internal/transport"
	transportws "github.com/omochice/realtime-channel/internal/transport/ws"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

func startRelay(t *testing.T, opts ...server.Option) string {
	t.Helper()
	srv := server.New("127.0.0.1:0", opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime"
}

func TestChannel_LoopbackThroughRelay(t *testing.T) {
	dialers := map[string]transport.Dialer{
		"gorilla": transportws.NewGorillaDialer(transportws.Options{}),
		"gobwas":  transportws.NewGobwasDialer(transportws.Options{}),
	}
	codecs := []protocol.Codec{protocol.JSONCodec{}, protocol.ProtoCodec{}, protocol.MsgpackCodec{}}

	for name, dialer := range dialers {
		for _, codec := range codecs {
			t.Run(name+"/"+codec.Name(), func(t *testing.T) {
				endpoint := startRelay(t, server.WithEcho())
				c := newChannel(t, ws.Options{Endpoint: endpoint, Dialer: dialer, Codec: codec})

				messages := c.Messages()
				defer messages.Close()
				sub := c.Status()
				defer sub.Close()
				require.NoError(t, c.Connect())
				waitStatus(t, sub, channel.StatusConnected)

				require.NoError(t, c.Send(context.Background(), "chat", map[string]any{"text": "hello"}))

				select {
				case msg := <-messages.C():
					assert.Equal(t, "chat", msg.Type)
					assert.Equal(t, map[string]any{"text": "hello"}, msg.Payload)
					assert.NotEmpty(t, msg.ID)
				case <-time.After(2 * time.Second):
					t.Fatal("loopback message not received")
				}
			})
		}
	}
}

func TestChannel_TwoChannelsExchangeMessages(t *testing.T) {
	endpoint := startRelay(t)

	sender := newChannel(t, ws.Options{Endpoint: endpoint, SenderID: "alice"})
	receiver, err := ws.New("room-2", ws.Options{Endpoint: endpoint})
	require.NoError(t, err)
	t.Cleanup(receiver.Dispose)

	inbox := receiver.Messages()
	defer inbox.Close()

	for _, c := range []*ws.Channel{sender, receiver} {
		sub := c.Status()
		require.NoError(t, c.Connect())
		waitStatus(t, sub, channel.StatusConnected)
		sub.Close()
	}

	require.NoError(t, sender.Send(context.Background(), "chat", map[string]any{"text": "hi bob"}))

	select {
	case msg := <-inbox.C():
		assert.Equal(t, "alice", msg.SenderID)
		assert.Equal(t, "hi bob", msg.Payload["text"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not relayed")
	}
}

func TestChannel_ReconnectsAfterRelayRestart(t *testing.T) {
	relay := server.New("127.0.0.1:0", server.WithEcho())
	go func() { _ = relay.Start() }()
	require.Eventually(t, func() bool { return relay.Addr() != "" }, time.Second, 5*time.Millisecond)
	addr := relay.Addr()

	c := newChannel(t, ws.Options{Endpoint: "ws://" + addr + "/", BaseReconnectDelay: 10 * time.Millisecond})
	messages := c.Messages()
	defer messages.Close()
	sub := c.Status()
	defer sub.Close()
	require.NoError(t, c.Connect())
	waitStatus(t, sub, channel.StatusConnected)

	relay.Stop()
	waitStatus(t, sub, channel.StatusReconnecting)
	require.NoError(t, c.Send(context.Background(), "chat", map[string]any{"text": "while down"}))

	restarted := server.New(addr, server.WithEcho())
	go func() { _ = restarted.Start() }()
	t.Cleanup(restarted.Stop)
	waitStatus(t, sub, channel.StatusConnected)

	select {
	case msg := <-messages.C():
		assert.Equal(t, "while down", msg.Payload["text"])
	case <-time.After(2 * time.Second):
		t.Fatal("buffered message was not drained after reconnect")
	}
}
