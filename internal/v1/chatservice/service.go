// Package chatservice is the composition root: it wires the StateStore,
// Transport, ClusterBus and chatuser.Registry chosen by config into one
// running service, resolves authentication on connect, and bridges
// transport-level socket events into registry dispatch calls.
package chatservice

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/latticechat/chatcore/internal/v1/auth"
	"github.com/latticechat/chatcore/internal/v1/bus"
	"github.com/latticechat/chatcore/internal/v1/chatroom"
	"github.com/latticechat/chatcore/internal/v1/chatuser"
	"github.com/latticechat/chatcore/internal/v1/config"
	"github.com/latticechat/chatcore/internal/v1/errs"
	"github.com/latticechat/chatcore/internal/v1/logging"
	"github.com/latticechat/chatcore/internal/v1/statestore"
	"github.com/latticechat/chatcore/internal/v1/transport"
	"github.com/latticechat/chatcore/internal/v1/types"
	"github.com/latticechat/chatcore/internal/v1/validate"

	"go.uber.org/zap"
)

// TokenValidator is the subset of auth.Validator/auth.MockValidator the
// service needs to resolve a JWT into a username. Pass a nil interface
// value (not a typed nil pointer) when cfg.SkipAuth is set.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// ChatService owns every moving part of one running instance: the
// StateStore, the WSTransport, the ClusterBus and the command Registry.
type ChatService struct {
	cfg       *config.Config
	store     types.StateStore
	rooms     *chatroom.Manager
	transport *transport.WSTransport
	cluster   *bus.ClusterBus
	registry  *chatuser.Registry
	errs      errs.Builder
	redis     *bus.Service
	validator TokenValidator

	mu      sync.RWMutex
	sockets map[types.SocketID]types.Username
}

// NewChatService builds the full dependency graph from cfg. validator may
// be nil when cfg.SkipAuth is set; it is required otherwise.
func NewChatService(cfg *config.Config, validator TokenValidator) (*ChatService, error) {
	var store types.StateStore
	var redisSvc *bus.Service
	var redisClient *redis.Client

	if cfg.RedisEnabled {
		svc, err := bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		redisSvc = svc
		redisClient = svc.Client()
		store = statestore.NewRedisStore(redisClient)
	} else {
		store = statestore.NewMemoryStore()
	}

	wst := transport.NewWSTransport(types.InstanceID(instanceID()), redisClient, checkOriginFunc(cfg))
	cluster := bus.NewClusterBus(wst, cfg.BusAckTimeout)
	rooms := chatroom.NewManager(store, cfg.HistoryMaxMessages)

	registry := chatuser.NewRegistry(chatuser.Deps{
		Store:     store,
		Rooms:     rooms,
		Transport: wst,
		Cluster:   cluster,
		Config: chatuser.Config{
			EnableDirectMessages:  cfg.EnableDirectMessages,
			EnableRoomsManagement: cfg.EnableRoomsManagement,
			EnableUserlistUpdates: cfg.EnableUserlistUpdates,
		},
	})

	s := &ChatService{
		cfg:       cfg,
		store:     store,
		rooms:     rooms,
		transport: wst,
		cluster:   cluster,
		registry:  registry,
		errs:      errs.Builder{UseRawErrorObjects: cfg.UseRawErrorObjects},
		redis:     redisSvc,
		validator: validator,
		sockets:   make(map[types.SocketID]types.Username),
	}

	wst.OnConnect(s.handleConnect)
	wst.OnDisconnect(s.handleDisconnect)
	wst.OnCommand(s.handleCommand)
	cluster.OnRoomLeaveSocket(s.handleClusterRoomLeaveSocket)
	cluster.OnDisconnectUserSockets(s.handleClusterDisconnectUserSockets)

	return s, nil
}

// AddHooks registers a cmdBefore/cmdAfter pair for the named command.
func (s *ChatService) AddHooks(event string, before chatuser.BeforeHook, after chatuser.AfterHook) {
	s.registry.AddHooks(event, before, after)
}

func (s *ChatService) Namespace() string { return s.cfg.Namespace }

// ServeWS upgrades an incoming HTTP request to a websocket connection.
func (s *ChatService) ServeWS(c *gin.Context) { s.transport.ServeWS(c) }

// RedisService exposes the shared Redis handle for health checks. Nil in
// single-instance mode.
func (s *ChatService) RedisService() *bus.Service { return s.redis }

// Close drains connected sockets with a graceful disconnect notice, then
// tears down the cluster bus, transport and Redis connection.
func (s *ChatService) Close() error {
	s.transport.DisconnectAllGraceful(s.cfg.CloseTimeout)
	s.transport.Close()
	_ = s.cluster.Close()
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func (s *ChatService) socketUser(socket types.SocketID) (types.Username, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.sockets[socket]
	return name, ok
}

func (s *ChatService) bindSocket(socket types.SocketID, name types.Username) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[socket] = name
}

func (s *ChatService) unbindSocket(socket types.SocketID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, socket)
}

// handleConnect resolves the connecting socket's username — from the JWT
// in the "token" query parameter, or trusted directly from the "user"
// query parameter when SkipAuth is set — and rejects the socket with
// noLogin on failure.
func (s *ChatService) handleConnect(ctx context.Context, sock types.NewSocket) {
	name, err := s.resolveUsername(sock.Query)
	if err != nil {
		s.transport.EmitToSocket(sock.ID, "loginRejected", s.errs.Render(errs.New(errs.KindNoLogin)))
		s.transport.Disconnect(sock.ID)
		return
	}

	key := types.SocketKey{Instance: s.transport.InstanceID(), Socket: sock.ID}
	if err := s.store.LoginUser(ctx, name, key); err != nil {
		logging.Error(ctx, "chatservice: LoginUser failed", zap.String("user", string(name)), zap.Error(err))
		s.transport.EmitToSocket(sock.ID, "loginRejected", s.errs.Render(errs.Wrap(err, "chatservice.LoginUser")))
		s.transport.Disconnect(sock.ID)
		return
	}
	_ = s.transport.JoinChannel(sock.ID, types.UserChannel(name))
	s.bindSocket(sock.ID, name)
	s.transport.EmitToSocket(sock.ID, "loginConfirmed", string(name))
}

func (s *ChatService) resolveUsername(query map[string][]string) (types.Username, error) {
	if s.cfg.SkipAuth {
		name := firstQueryValue(query, "user")
		if name == "" || !validate.IsValidName(name) {
			return "", errs.New(errs.KindNoLogin)
		}
		return types.Username(name), nil
	}
	if s.validator == nil {
		return "", errs.New(errs.KindNoLogin)
	}
	token := firstQueryValue(query, "token")
	if token == "" {
		return "", errs.New(errs.KindNoLogin)
	}
	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		return "", errs.New(errs.KindNoLogin)
	}
	name := claims.Subject
	if name == "" || !validate.IsValidName(name) {
		return "", errs.New(errs.KindNoLogin)
	}
	return types.Username(name), nil
}

func firstQueryValue(query map[string][]string, key string) string {
	values, ok := query[key]
	if !ok || len(values) == 0 {
		return ""
	}
	return values[0]
}

// handleCommand binds the incoming socket event to its logged-in username
// and runs it through the registry's hook pipeline, acking the result.
func (s *ChatService) handleCommand(ctx context.Context, socket types.SocketID, event string, args []types.RawArg, ackID string) {
	name, ok := s.socketUser(socket)
	if !ok {
		s.transport.Ack(socket, ackID, s.errs.Render(errs.New(errs.KindNoLogin)), nil)
		return
	}
	u := chatuser.New(s.userDeps(), name)
	err, data := s.registry.Dispatch(ctx, u, event, args, socket)
	s.transport.Ack(socket, ackID, s.errs.Render(err), data)
}

// handleDisconnect runs the same disconnect command a client-initiated
// "disconnect" would, so an unplanned transport drop still triggers the
// leave-all-on-last-socket bookkeeping.
func (s *ChatService) handleDisconnect(ctx context.Context, socket types.SocketID) {
	name, ok := s.socketUser(socket)
	if !ok {
		return
	}
	u := chatuser.New(s.userDeps(), name)
	s.registry.Dispatch(ctx, u, chatuser.CmdDisconnect, []types.RawArg{rawString("transport closed")}, socket)
	s.unbindSocket(socket)
}

func (s *ChatService) userDeps() chatuser.Deps {
	return chatuser.Deps{
		Store:     s.store,
		Rooms:     s.rooms,
		Transport: s.transport,
		Cluster:   s.cluster,
		Config: chatuser.Config{
			EnableDirectMessages:  s.cfg.EnableDirectMessages,
			EnableRoomsManagement: s.cfg.EnableRoomsManagement,
			EnableUserlistUpdates: s.cfg.EnableUserlistUpdates,
		},
	}
}

// handleClusterRoomLeaveSocket is the receiving side of
// ClusterBus.RequestRoomLeaveSocket: another instance asked us to remove
// one of our own sockets from a room channel.
func (s *ChatService) handleClusterRoomLeaveSocket(ctx context.Context, socket types.SocketKey, room types.RoomName) {
	if socket.Instance != s.transport.InstanceID() {
		return
	}
	_ = s.transport.LeaveChannel(socket.Socket, types.RoomChannel(room))
}

// handleClusterDisconnectUserSockets is the receiving side of
// ClusterBus.RequestDisconnectUserSockets: disconnect every socket this
// instance holds for user.
func (s *ChatService) handleClusterDisconnectUserSockets(ctx context.Context, user types.Username) {
	sockets, err := s.store.SocketsGetAll(ctx, user)
	if err != nil {
		return
	}
	for _, sk := range sockets {
		if sk.Instance == s.transport.InstanceID() {
			s.transport.Disconnect(sk.Socket)
		}
	}
}

func rawString(v string) types.RawArg {
	b, _ := json.Marshal(v)
	return b
}

// checkOriginFunc builds the websocket upgrader's CheckOrigin callback from
// the configured allow-list. An empty list allows every origin, matching
// the permissive default used in local/dev runs.
func checkOriginFunc(cfg *config.Config) func(*http.Request) bool {
	allowed := strings.Split(cfg.AllowedOrigins, ",")
	return func(r *http.Request) bool {
		if cfg.AllowedOrigins == "" {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if strings.TrimSpace(a) == origin {
				return true
			}
		}
		return false
	}
}
