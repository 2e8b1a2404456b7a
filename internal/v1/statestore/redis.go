package statestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/latticechat/chatcore/internal/v1/metrics"
	"github.com/latticechat/chatcore/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisStore is the multi-instance StateStore, backed by Redis hashes,
// sets and a capped list for history. Every call is wrapped in a circuit
// breaker; reads degrade to an empty result on an open breaker, writes
// degrade to a no-op, so an unhealthy Redis never blocks the caller.
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

func NewRedisStore(client *redis.Client) *RedisStore {
	st := gobreaker.Settings{
		Name:        "statestore",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("statestore").Set(v)
		},
	}
	return &RedisStore{client: client, cb: gobreaker.NewCircuitBreaker(st)}
}

func roomKey(name types.RoomName) string          { return "room:" + string(name) }
func roomListKey(name types.RoomName, l string) string { return "room:" + string(name) + ":list:" + l }
func roomHistoryKey(name types.RoomName) string   { return "room:" + string(name) + ":history" }
func userKey(name types.Username) string          { return "user:" + string(name) }
func userListKey(name types.Username, l string) string { return "user:" + string(name) + ":list:" + l }
func userSocketsKey(name types.Username) string   { return "user:" + string(name) + ":sockets" }
func userRoomsKey(name types.Username) string      { return "user:" + string(name) + ":rooms" }

func socketMember(s types.SocketKey) string {
	return string(s.Instance) + "|" + string(s.Socket)
}

func parseSocketMember(m string) types.SocketKey {
	for i := 0; i < len(m); i++ {
		if m[i] == '|' {
			return types.SocketKey{Instance: types.InstanceID(m[:i]), Socket: types.SocketID(m[i+1:])}
		}
	}
	return types.SocketKey{}
}

const roomsSetKey = "rooms"

// run executes fn through the circuit breaker, recording latency and
// degrading per the read/write policy when the breaker is open.
func (s *RedisStore) run(ctx context.Context, op string, writeOnOpen, readOnOpen func() error, fn func() error) error {
	start := time.Now()
	_, err := s.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		metrics.CircuitBreakerFailures.WithLabelValues("statestore").Inc()
		slog.Warn("statestore circuit open, degrading", "op", op)
		if readOnOpen != nil {
			return readOnOpen()
		}
		if writeOnOpen != nil {
			return writeOnOpen()
		}
		return nil
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RedisOperationsTotal.WithLabelValues(op, status).Inc()
	return err
}

func (s *RedisStore) GetRoom(ctx context.Context, name types.RoomName) error {
	var out error = types.ErrNotFound
	err := s.run(ctx, "get_room", nil, func() error { return types.ErrNotFound }, func() error {
		ok, e := s.client.SIsMember(ctx, roomsSetKey, string(name)).Result()
		if e != nil {
			return e
		}
		if ok {
			out = nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	return out
}

func (s *RedisStore) AddRoom(ctx context.Context, name types.RoomName, owner types.Username, whitelistOnly bool) error {
	return s.run(ctx, "add_room", func() error { return nil }, nil, func() error {
		added, e := s.client.SAdd(ctx, roomsSetKey, string(name)).Result()
		if e != nil {
			return e
		}
		if added == 0 {
			return types.ErrAlreadyExists
		}
		return s.client.HSet(ctx, roomKey(name), "owner", string(owner), "whitelistOnly", boolStr(whitelistOnly)).Err()
	})
}

func (s *RedisStore) RemoveRoom(ctx context.Context, name types.RoomName) error {
	return s.run(ctx, "remove_room", func() error { return nil }, nil, func() error {
		removed, e := s.client.SRem(ctx, roomsSetKey, string(name)).Result()
		if e != nil {
			return e
		}
		if removed == 0 {
			return types.ErrNotFound
		}
		pipe := s.client.Pipeline()
		pipe.Del(ctx, roomKey(name))
		pipe.Del(ctx, roomHistoryKey(name))
		for _, l := range []string{types.ListUserlist, types.ListBlacklist, types.ListWhitelist, types.ListAdminlist} {
			pipe.Del(ctx, roomListKey(name, l))
		}
		_, e = pipe.Exec(ctx)
		return e
	})
}

func (s *RedisStore) ListRooms(ctx context.Context) ([]types.RoomName, error) {
	var out []types.RoomName
	err := s.run(ctx, "list_rooms", nil, func() error { return nil }, func() error {
		names, e := s.client.SMembers(ctx, roomsSetKey).Result()
		if e != nil {
			return e
		}
		out = make([]types.RoomName, len(names))
		for i, n := range names {
			out[i] = types.RoomName(n)
		}
		return nil
	})
	return out, err
}

func (s *RedisStore) LoginUser(ctx context.Context, name types.Username, socket types.SocketKey) error {
	return s.run(ctx, "login_user", func() error { return nil }, nil, func() error {
		return s.client.SAdd(ctx, userSocketsKey(name), socketMember(socket)).Err()
	})
}

func (s *RedisStore) LogoutUser(ctx context.Context, name types.Username) error {
	return s.run(ctx, "logout_user", func() error { return nil }, nil, func() error {
		pipe := s.client.Pipeline()
		pipe.Del(ctx, userSocketsKey(name))
		pipe.Del(ctx, userRoomsKey(name))
		pipe.Del(ctx, userKey(name))
		for _, l := range []string{types.ListDirectBlacklist, types.ListDirectWhitelist} {
			pipe.Del(ctx, userListKey(name, l))
		}
		_, e := pipe.Exec(ctx)
		return e
	})
}

func (s *RedisStore) GetOnlineUser(ctx context.Context, name types.Username) error {
	var out error = types.ErrNotFound
	err := s.run(ctx, "get_online_user", nil, func() error { return types.ErrNotFound }, func() error {
		n, e := s.client.SCard(ctx, userSocketsKey(name)).Result()
		if e != nil {
			return e
		}
		if n > 0 {
			out = nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	return out
}

func (s *RedisStore) listKey(kind types.EntityKind, entity, list string) string {
	switch kind {
	case types.EntityRoom:
		return roomListKey(types.RoomName(entity), list)
	default:
		return userListKey(types.Username(entity), list)
	}
}

func (s *RedisStore) HasInList(ctx context.Context, kind types.EntityKind, entity, list, value string) (bool, error) {
	var out bool
	err := s.run(ctx, "has_in_list", nil, func() error { return nil }, func() error {
		v, e := s.client.SIsMember(ctx, s.listKey(kind, entity, list), value).Result()
		out = v
		return e
	})
	return out, err
}

func (s *RedisStore) AddToList(ctx context.Context, kind types.EntityKind, entity, list string, values []string) error {
	return s.run(ctx, "add_to_list", func() error { return nil }, nil, func() error {
		members := make([]any, len(values))
		for i, v := range values {
			members[i] = v
		}
		return s.client.SAdd(ctx, s.listKey(kind, entity, list), members...).Err()
	})
}

func (s *RedisStore) RemoveFromList(ctx context.Context, kind types.EntityKind, entity, list string, values []string) error {
	return s.run(ctx, "remove_from_list", func() error { return nil }, nil, func() error {
		members := make([]any, len(values))
		for i, v := range values {
			members[i] = v
		}
		return s.client.SRem(ctx, s.listKey(kind, entity, list), members...).Err()
	})
}

func (s *RedisStore) GetList(ctx context.Context, kind types.EntityKind, entity, list string) ([]string, error) {
	var out []string
	err := s.run(ctx, "get_list", nil, func() error { return nil }, func() error {
		v, e := s.client.SMembers(ctx, s.listKey(kind, entity, list)).Result()
		out = v
		return e
	})
	return out, err
}

func (s *RedisStore) WhitelistOnlyGet(ctx context.Context, kind types.EntityKind, entity string) (bool, error) {
	var out bool
	err := s.run(ctx, "whitelist_only_get", nil, func() error { return nil }, func() error {
		var key, field string
		switch kind {
		case types.EntityRoom:
			key, field = roomKey(types.RoomName(entity)), "whitelistOnly"
		default:
			key, field = userKey(types.Username(entity)), "whitelistOnly"
		}
		v, e := s.client.HGet(ctx, key, field).Result()
		if e == redis.Nil {
			return nil
		}
		if e != nil {
			return e
		}
		out, _ = strconv.ParseBool(v)
		return nil
	})
	return out, err
}

func (s *RedisStore) WhitelistOnlySet(ctx context.Context, kind types.EntityKind, entity string, v bool) error {
	return s.run(ctx, "whitelist_only_set", func() error { return nil }, nil, func() error {
		var key string
		switch kind {
		case types.EntityRoom:
			key = roomKey(types.RoomName(entity))
		default:
			key = userKey(types.Username(entity))
		}
		return s.client.HSet(ctx, key, "whitelistOnly", boolStr(v)).Err()
	})
}

func (s *RedisStore) OwnerGet(ctx context.Context, room types.RoomName) (types.Username, bool, error) {
	var out types.Username
	var ok bool
	err := s.run(ctx, "owner_get", nil, func() error { return nil }, func() error {
		v, e := s.client.HGet(ctx, roomKey(room), "owner").Result()
		if e == redis.Nil {
			return nil
		}
		if e != nil {
			return e
		}
		out, ok = types.Username(v), v != ""
		return nil
	})
	return out, ok, err
}

func (s *RedisStore) OwnerSet(ctx context.Context, room types.RoomName, owner types.Username) error {
	return s.run(ctx, "owner_set", func() error { return nil }, nil, func() error {
		return s.client.HSet(ctx, roomKey(room), "owner", string(owner)).Err()
	})
}

func (s *RedisStore) SocketAdd(ctx context.Context, user types.Username, socket types.SocketKey) error {
	return s.run(ctx, "socket_add", func() error { return nil }, nil, func() error {
		return s.client.SAdd(ctx, userSocketsKey(user), socketMember(socket)).Err()
	})
}

func (s *RedisStore) SocketRemove(ctx context.Context, user types.Username, socket types.SocketKey) error {
	return s.run(ctx, "socket_remove", func() error { return nil }, nil, func() error {
		return s.client.SRem(ctx, userSocketsKey(user), socketMember(socket)).Err()
	})
}

func (s *RedisStore) SocketsGetAll(ctx context.Context, user types.Username) ([]types.SocketKey, error) {
	var out []types.SocketKey
	err := s.run(ctx, "sockets_get_all", nil, func() error { return nil }, func() error {
		members, e := s.client.SMembers(ctx, userSocketsKey(user)).Result()
		if e != nil {
			return e
		}
		out = make([]types.SocketKey, len(members))
		for i, m := range members {
			out[i] = parseSocketMember(m)
		}
		return nil
	})
	return out, err
}

func (s *RedisStore) RoomAdd(ctx context.Context, user types.Username, room types.RoomName) error {
	return s.run(ctx, "room_add", func() error { return nil }, nil, func() error {
		return s.client.SAdd(ctx, userRoomsKey(user), string(room)).Err()
	})
}

func (s *RedisStore) RoomRemove(ctx context.Context, user types.Username, room types.RoomName) error {
	return s.run(ctx, "room_remove", func() error { return nil }, nil, func() error {
		return s.client.SRem(ctx, userRoomsKey(user), string(room)).Err()
	})
}

func (s *RedisStore) RoomsGetAll(ctx context.Context, user types.Username) ([]types.RoomName, error) {
	var out []types.RoomName
	err := s.run(ctx, "rooms_get_all", nil, func() error { return nil }, func() error {
		members, e := s.client.SMembers(ctx, userRoomsKey(user)).Result()
		if e != nil {
			return e
		}
		out = make([]types.RoomName, len(members))
		for i, m := range members {
			out[i] = types.RoomName(m)
		}
		return nil
	})
	return out, err
}

func (s *RedisStore) MessageAdd(ctx context.Context, room types.RoomName, msg types.Message, max int) error {
	return s.run(ctx, "message_add", func() error { return nil }, nil, func() error {
		data, e := json.Marshal(msg)
		if e != nil {
			return e
		}
		pipe := s.client.Pipeline()
		pipe.RPush(ctx, roomHistoryKey(room), data)
		if max > 0 {
			pipe.LTrim(ctx, roomHistoryKey(room), int64(-max), -1)
		}
		_, e = pipe.Exec(ctx)
		return e
	})
}

func (s *RedisStore) MessagesGet(ctx context.Context, room types.RoomName) ([]types.Message, error) {
	var out []types.Message
	err := s.run(ctx, "messages_get", nil, func() error { return nil }, func() error {
		raw, e := s.client.LRange(ctx, roomHistoryKey(room), 0, -1).Result()
		if e != nil {
			return e
		}
		out = make([]types.Message, 0, len(raw))
		for _, r := range raw {
			var m types.Message
			if e := json.Unmarshal([]byte(r), &m); e != nil {
				return e
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
