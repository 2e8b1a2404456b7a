// Package transport is the gorilla/websocket-backed types.Transport
// implementation: socket accept over gin, per-socket emit, room/user
// channel membership, and a Redis-backed broadcast primitive that
// ClusterBus layers cross-instance semantics on top of.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/latticechat/chatcore/internal/v1/metrics"
	"github.com/latticechat/chatcore/internal/v1/types"
)

type SocketID = types.SocketID

const broadcastChannel = "chatcore:broadcast"

type broadcastFrame struct {
	Event   string `json:"event"`
	Payload []byte `json:"payload"`
}

// WSTransport implements types.Transport over a gorilla/websocket upgrade
// handled by gin, fanning out to per-room and per-user channels held
// in-process, plus an optional Redis pub/sub for the reserved broadcast
// channel ClusterBus builds on.
type WSTransport struct {
	instanceID types.InstanceID

	mu       sync.RWMutex
	clients  map[SocketID]*wsClient
	channels map[types.Channel]map[SocketID]struct{}

	upgrader websocket.Upgrader

	onConnect    func(ctx context.Context, s types.NewSocket)
	onDisconnect func(ctx context.Context, socket SocketID)
	onCommand    func(ctx context.Context, socket SocketID, event string, args []types.RawArg, ackID string)
	onBroadcast  func(event string, payload []byte)

	redis    *redis.Client
	subCtx   context.Context
	subStop  context.CancelFunc
	subWG    sync.WaitGroup
}

// NewWSTransport builds a transport bound to instanceID. redisClient may be
// nil, in which case Broadcast is a local no-op (single-instance mode).
func NewWSTransport(instanceID types.InstanceID, redisClient *redis.Client, checkOrigin func(*http.Request) bool) *WSTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &WSTransport{
		instanceID: instanceID,
		clients:    make(map[SocketID]*wsClient),
		channels:   make(map[types.Channel]map[SocketID]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		redis:   redisClient,
		subCtx:  ctx,
		subStop: cancel,
	}
	if redisClient != nil {
		t.subWG.Add(1)
		go t.subscribeLoop()
	}
	return t
}

func (t *WSTransport) InstanceID() types.InstanceID { return t.instanceID }

func (t *WSTransport) OnConnect(h func(ctx context.Context, s types.NewSocket))       { t.onConnect = h }
func (t *WSTransport) OnDisconnect(h func(ctx context.Context, socket SocketID))      { t.onDisconnect = h }
func (t *WSTransport) OnBroadcast(h func(event string, payload []byte))              { t.onBroadcast = h }
func (t *WSTransport) OnCommand(h func(ctx context.Context, socket SocketID, event string, args []types.RawArg, ackID string)) {
	t.onCommand = h
}

// ServeWS upgrades the request to a websocket and registers the new
// socket, deriving its query parameters (notably "user") from the
// original HTTP request.
func (t *WSTransport) ServeWS(c *gin.Context) {
	conn, err := t.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("transport: upgrade failed", "error", err)
		return
	}

	id := SocketID(uuid.NewString())
	client := newWsClient(id, conn)

	t.mu.Lock()
	t.clients[id] = client
	t.mu.Unlock()

	metrics.IncConnection()
	go client.writePump()
	go client.readPump(
		func(env clientEnvelope) { t.dispatchCommand(id, env) },
		func() { t.handleSocketClosed(id) },
	)

	if t.onConnect != nil {
		t.onConnect(c.Request.Context(), types.NewSocket{ID: id, Query: c.Request.URL.Query()})
	}
}

func (t *WSTransport) dispatchCommand(id SocketID, env clientEnvelope) {
	if t.onCommand == nil {
		return
	}
	args := make([]types.RawArg, len(env.Args))
	for i, a := range env.Args {
		args[i] = types.RawArg(a)
	}
	t.onCommand(context.Background(), id, env.Event, args, env.AckID)
}

func (t *WSTransport) handleSocketClosed(id SocketID) {
	t.mu.Lock()
	client, ok := t.clients[id]
	if ok {
		delete(t.clients, id)
	}
	for ch, members := range t.channels {
		delete(members, id)
		if len(members) == 0 {
			delete(t.channels, ch)
		}
	}
	t.mu.Unlock()

	if ok {
		client.close()
	}
	metrics.DecConnection()

	if t.onDisconnect != nil {
		t.onDisconnect(context.Background(), id)
	}
}

func (t *WSTransport) EmitToSocket(socket SocketID, event string, args ...any) {
	t.mu.RLock()
	client, ok := t.clients[socket]
	t.mu.RUnlock()
	if !ok {
		return
	}
	t.send(client, event, args)
}

func (t *WSTransport) EmitToChannel(channel types.Channel, event string, args ...any) {
	t.emitToChannel(channel, "", event, args)
}

func (t *WSTransport) EmitToChannelExceptSender(sender SocketID, channel types.Channel, event string, args ...any) {
	t.emitToChannel(channel, sender, event, args)
}

func (t *WSTransport) emitToChannel(channel types.Channel, except SocketID, event string, args []any) {
	t.mu.RLock()
	members := make([]*wsClient, 0, len(t.channels[channel]))
	for id := range t.channels[channel] {
		if id == except {
			continue
		}
		if c, ok := t.clients[id]; ok {
			members = append(members, c)
		}
	}
	t.mu.RUnlock()

	for _, c := range members {
		t.send(c, event, args)
	}
}

func (t *WSTransport) send(c *wsClient, event string, args []any) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(serverEventEnvelope{Event: event, Args: args})
	if err != nil {
		slog.Error("transport: failed to marshal event", "event", event, "error", err)
		return
	}
	c.enqueue(data)
}

func (t *WSTransport) JoinChannel(socket SocketID, channel types.Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[socket]; !ok {
		return types.ErrInvalidSocket
	}
	members, ok := t.channels[channel]
	if !ok {
		members = make(map[SocketID]struct{})
		t.channels[channel] = members
	}
	members[socket] = struct{}{}
	return nil
}

func (t *WSTransport) LeaveChannel(socket SocketID, channel types.Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.channels[channel]
	if !ok {
		return nil
	}
	delete(members, socket)
	if len(members) == 0 {
		delete(t.channels, channel)
	}
	return nil
}

func (t *WSTransport) Disconnect(socket SocketID) {
	t.mu.RLock()
	client, ok := t.clients[socket]
	t.mu.RUnlock()
	if !ok {
		return
	}
	client.conn.Close()
}

func (t *WSTransport) Ack(socket SocketID, ackID string, err any, data any) {
	t.mu.RLock()
	client, ok := t.clients[socket]
	t.mu.RUnlock()
	if !ok {
		return
	}
	out, marshalErr := json.Marshal(ackEnvelope{AckID: ackID, Error: err, Data: data})
	if marshalErr != nil {
		slog.Error("transport: failed to marshal ack", "ackId", ackID, "error", marshalErr)
		return
	}
	client.enqueue(out)
}

func (t *WSTransport) Broadcast(ctx context.Context, event string, payload []byte) error {
	if t.redis == nil {
		return nil
	}
	data, err := json.Marshal(broadcastFrame{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return t.redis.Publish(ctx, broadcastChannel, data).Err()
}

func (t *WSTransport) subscribeLoop() {
	defer t.subWG.Done()
	pubsub := t.redis.Subscribe(t.subCtx, broadcastChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-t.subCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame broadcastFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				slog.Warn("transport: malformed broadcast frame", "error", err)
				continue
			}
			if t.onBroadcast != nil {
				t.onBroadcast(frame.Event, frame.Payload)
			}
		}
	}
}

// Close stops the Redis subscription loop, if any, and blocks until it has
// exited.
func (t *WSTransport) Close() {
	t.subStop()
	t.subWG.Wait()
}

// DisconnectAllGraceful writes a server-initiated close event to every
// connected socket, waits the full deadline for the write pumps to drain,
// and then closes every connection.
func (t *WSTransport) DisconnectAllGraceful(deadline time.Duration) {
	t.mu.RLock()
	clients := make([]*wsClient, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.RUnlock()

	for _, c := range clients {
		t.send(c, "disconnect", nil)
	}
	time.Sleep(deadline)
	for _, c := range clients {
		c.conn.Close()
	}
}
