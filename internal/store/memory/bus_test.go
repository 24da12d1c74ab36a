package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

func TestSignalBus_PublishSubscribe(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, domain.ChannelSettlement)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount(domain.ChannelSettlement))

	payload := []byte(`{"run_id":"r1"}`)
	require.NoError(t, bus.Publish(ctx, domain.ChannelSettlement, payload))
	require.NoError(t, bus.Publish(ctx, domain.ChannelPositions, []byte("other")))
	payload[0] = 'X'

	select {
	case got := <-ch:
		assert.Equal(t, `{"run_id":"r1"}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, bus.SubscriberCount(domain.ChannelSettlement))
}

func TestSignalBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewSignalBus()
	assert.NoError(t, bus.Publish(context.Background(), "nobody", []byte("x")))
}

func TestSignalBus_StreamPaging(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamSettlement, []byte(p)))
	}

	first, err := bus.StreamRead(ctx, domain.StreamSettlement, "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a", string(first[0].Payload))
	assert.Equal(t, "b", string(first[1].Payload))

	rest, err := bus.StreamRead(ctx, domain.StreamSettlement, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", string(rest[0].Payload))

	tail, err := bus.StreamRead(ctx, domain.StreamSettlement, rest[0].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, tail)

	all, err := bus.StreamRead(ctx, domain.StreamSettlement, "0", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	missing, err := bus.StreamRead(ctx, "stream:none", "", 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
