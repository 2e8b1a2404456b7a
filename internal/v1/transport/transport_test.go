package transport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/latticechat/chatcore/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewWSTransport_SingleInstanceNoRedis(t *testing.T) {
	wt := NewWSTransport("instance-a", nil, nil)
	assert.Equal(t, types.InstanceID("instance-a"), wt.InstanceID())

	require.NoError(t, wt.Broadcast(context.Background(), "ignored", []byte("x")))
	wt.Close()
}

func TestWSTransport_ChannelMembershipRequiresKnownSocket(t *testing.T) {
	wt := NewWSTransport("instance-a", nil, nil)
	defer wt.Close()

	err := wt.JoinChannel("unregistered", types.RoomChannel("general"))
	assert.ErrorIs(t, err, types.ErrInvalidSocket)

	assert.NoError(t, wt.LeaveChannel("unregistered", types.RoomChannel("general")))
}

func TestWSTransport_BroadcastFansOutAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	senderRedis := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	receiverRedis := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer senderRedis.Close()
	defer receiverRedis.Close()

	sender := NewWSTransport("instance-a", senderRedis, checkOriginAllowAll)
	receiver := NewWSTransport("instance-b", receiverRedis, checkOriginAllowAll)
	defer sender.Close()
	defer receiver.Close()

	received := make(chan struct {
		event   string
		payload []byte
	}, 1)
	receiver.OnBroadcast(func(event string, payload []byte) {
		received <- struct {
			event   string
			payload []byte
		}{event, payload}
	})

	// subscribeLoop subscribes asynchronously; give it a moment to attach
	// before publishing.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sender.Broadcast(context.Background(), "roomMessage", []byte(`{"hi":true}`)))

	select {
	case got := <-received:
		assert.Equal(t, "roomMessage", got.event)
		assert.JSONEq(t, `{"hi":true}`, string(got.payload))
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast was never received by the other instance")
	}
}

func checkOriginAllowAll(*http.Request) bool { return true }
