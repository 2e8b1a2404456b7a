package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticechat/chatcore/internal/v1/types"
)

// ErrAckTimeout is returned by RequestRoomLeaveSocket when no
// socketRoomLeft acknowledgement arrives within the configured
// busAckTimeout.
var ErrAckTimeout = errors.New("clusterbus: ack timeout")

type busEventType string

const (
	eventRoomLeaveSocket      busEventType = "roomLeaveSocket"
	eventSocketRoomLeft       busEventType = "socketRoomLeft"
	eventDisconnectUserSocks  busEventType = "disconnectUserSockets"
	clusterBroadcastEventName              = "cluster"
)

type busEvent struct {
	Type        busEventType     `json:"type"`
	Socket      types.SocketKey  `json:"socket,omitempty"`
	Room        types.RoomName   `json:"room,omitempty"`
	User        types.Username   `json:"user,omitempty"`
	Correlation string           `json:"correlation,omitempty"`
}

// ClusterBus is the reserved-channel pub/sub layered over
// types.Transport.Broadcast, giving every instance a way to instruct
// whichever instance owns a socket to leave a room channel (with an
// acknowledgement) or to disconnect a user's sockets (fire-and-forget).
type ClusterBus struct {
	transport  types.Transport
	ackTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan struct{}

	onRoomLeaveSocket       func(ctx context.Context, socket types.SocketKey, room types.RoomName)
	onDisconnectUserSockets func(ctx context.Context, user types.Username)
}

func NewClusterBus(transport types.Transport, ackTimeout time.Duration) *ClusterBus {
	cb := &ClusterBus{
		transport:  transport,
		ackTimeout: ackTimeout,
		pending:    make(map[string]chan struct{}),
	}
	transport.OnBroadcast(cb.handle)
	return cb
}

func (cb *ClusterBus) handle(event string, payload []byte) {
	if event != clusterBroadcastEventName {
		return
	}
	var ev busEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	switch ev.Type {
	case eventRoomLeaveSocket:
		if cb.onRoomLeaveSocket != nil {
			cb.onRoomLeaveSocket(context.Background(), ev.Socket, ev.Room)
		}
		cb.emit(busEvent{Type: eventSocketRoomLeft, Correlation: ev.Correlation})
	case eventSocketRoomLeft:
		cb.resolve(ev.Correlation)
	case eventDisconnectUserSocks:
		if cb.onDisconnectUserSockets != nil {
			cb.onDisconnectUserSockets(context.Background(), ev.User)
		}
	}
}

func (cb *ClusterBus) emit(ev busEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = cb.transport.Broadcast(context.Background(), clusterBroadcastEventName, data)
}

func (cb *ClusterBus) resolve(correlation string) {
	cb.mu.Lock()
	ch, ok := cb.pending[correlation]
	if ok {
		delete(cb.pending, correlation)
	}
	cb.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (cb *ClusterBus) RequestRoomLeaveSocket(ctx context.Context, socket types.SocketKey, room types.RoomName) error {
	correlation := uuid.NewString()
	done := make(chan struct{})

	cb.mu.Lock()
	cb.pending[correlation] = done
	cb.mu.Unlock()
	defer func() {
		cb.mu.Lock()
		delete(cb.pending, correlation)
		cb.mu.Unlock()
	}()

	data, err := json.Marshal(busEvent{Type: eventRoomLeaveSocket, Socket: socket, Room: room, Correlation: correlation})
	if err != nil {
		return err
	}
	if err := cb.transport.Broadcast(ctx, clusterBroadcastEventName, data); err != nil {
		return err
	}

	timer := time.NewTimer(cb.ackTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestDisconnectUserSockets is fire-and-forget: the caller does not
// wait for completion.
func (cb *ClusterBus) RequestDisconnectUserSockets(ctx context.Context, user types.Username) error {
	data, err := json.Marshal(busEvent{Type: eventDisconnectUserSocks, User: user})
	if err != nil {
		return err
	}
	return cb.transport.Broadcast(ctx, clusterBroadcastEventName, data)
}

func (cb *ClusterBus) OnRoomLeaveSocket(h func(ctx context.Context, socket types.SocketKey, room types.RoomName)) {
	cb.onRoomLeaveSocket = h
}

func (cb *ClusterBus) OnDisconnectUserSockets(h func(ctx context.Context, user types.Username)) {
	cb.onDisconnectUserSockets = h
}

func (cb *ClusterBus) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for correlation, ch := range cb.pending {
		close(ch)
		delete(cb.pending, correlation)
	}
	return nil
}
