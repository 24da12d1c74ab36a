package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ecovest/internal/domain"
	"github.com/alanyoungcy/ecovest/internal/store/memory"
)

func TestFrameRoundTrip(t *testing.T) {
	frame, err := EncodeFrame(domain.ChannelSettlement, []byte(`{"run_id":"r1","advanced":3}`))
	require.NoError(t, err)

	channel, fields, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelSettlement, channel)
	payload := fields["payload"].(map[string]any)
	assert.Equal(t, "r1", payload["run_id"])
	assert.Equal(t, 3.0, payload["advanced"])
}

func TestFrameCarriesNonObjectPayloadRaw(t *testing.T) {
	frame, err := EncodeFrame(domain.ChannelPositions, []byte("not json"))
	require.NoError(t, err)

	_, fields, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, "not json", fields["raw"])
	assert.NotContains(t, fields, "payload")
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, _, err := DecodeFrame([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelSettlement: true, domain.ChannelPositions: true}}
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPositions}})
	assert.False(t, c.isSubscribed(domain.ChannelPositions))
	assert.True(t, c.isSubscribed(domain.ChannelSettlement))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelPositions}})
	assert.True(t, c.isSubscribed(domain.ChannelPositions))
}

func readFrame(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	channel, fields, err := DecodeFrame(data)
	require.NoError(t, err)
	return channel, fields
}

func TestHubRelaysBusMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamSettlement, []byte(`{"run_id":"old"}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamSettlement, []byte(`{"run_id":"latest"}`)))

	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	runErr := make(chan error, 1)
	go func() { runErr <- hub.Run(ctx) }()

	require.Eventually(t, func() bool {
		return bus.SubscriberCount(domain.ChannelSettlement) == 1 &&
			bus.SubscriberCount(domain.ChannelPositions) == 1
	}, 2*time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	channel, fields := readFrame(t, conn)
	assert.Equal(t, domain.ChannelSettlement, channel)
	assert.Equal(t, "latest", fields["payload"].(map[string]any)["run_id"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelPositions, []byte(`{"event":"position_opened"}`)))
	channel, fields = readFrame(t, conn)
	assert.Equal(t, domain.ChannelPositions, channel)
	assert.Equal(t, "position_opened", fields["payload"].(map[string]any)["event"])

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "connection closes with the hub")
}
