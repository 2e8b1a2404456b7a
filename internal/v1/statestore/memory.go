// Package statestore provides the two reference StateStore implementations:
// an in-memory store for single-instance deployments and a Redis-backed
// store for multi-instance deployments. Both present identical semantics
// against types.StateStore.
package statestore

import (
	"context"
	"sync"

	"k8s.io/utils/set"

	"github.com/latticechat/chatcore/internal/v1/types"
)

type memRoom struct {
	owner         types.Username
	whitelistOnly bool
	lists         map[string]set.Set[string]
	history       []types.Message
}

func newMemRoom(owner types.Username, whitelistOnly bool) *memRoom {
	return &memRoom{
		owner:         owner,
		whitelistOnly: whitelistOnly,
		lists:         make(map[string]set.Set[string]),
	}
}

func (r *memRoom) listOf(name string) set.Set[string] {
	s, ok := r.lists[name]
	if !ok {
		s = set.New[string]()
		r.lists[name] = s
	}
	return s
}

type memUser struct {
	whitelistOnly bool
	lists         map[string]set.Set[string]
	sockets       set.Set[types.SocketKey]
	rooms         set.Set[types.RoomName]
}

func newMemUser() *memUser {
	return &memUser{
		lists:   make(map[string]set.Set[string]),
		sockets: set.New[types.SocketKey](),
		rooms:   set.New[types.RoomName](),
	}
}

func (u *memUser) listOf(name string) set.Set[string] {
	s, ok := u.lists[name]
	if !ok {
		s = set.New[string]()
		u.lists[name] = s
	}
	return s
}

// MemoryStore is the single-instance StateStore reference implementation.
// A single RWMutex guards all maps; every exported method is atomic.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[types.RoomName]*memRoom
	users map[types.Username]*memUser
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[types.RoomName]*memRoom),
		users: make(map[types.Username]*memUser),
	}
}

func (s *MemoryStore) GetRoom(_ context.Context, name types.RoomName) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[name]; !ok {
		return types.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) AddRoom(_ context.Context, name types.RoomName, owner types.Username, whitelistOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[name]; ok {
		return types.ErrAlreadyExists
	}
	s.rooms[name] = newMemRoom(owner, whitelistOnly)
	return nil
}

func (s *MemoryStore) RemoveRoom(_ context.Context, name types.RoomName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[name]; !ok {
		return types.ErrNotFound
	}
	delete(s.rooms, name)
	return nil
}

func (s *MemoryStore) ListRooms(_ context.Context) ([]types.RoomName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RoomName, 0, len(s.rooms))
	for name := range s.rooms {
		out = append(out, name)
	}
	return out, nil
}

func (s *MemoryStore) LoginUser(_ context.Context, name types.Username, socket types.SocketKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		u = newMemUser()
		s.users[name] = u
	}
	u.sockets.Insert(socket)
	return nil
}

func (s *MemoryStore) LogoutUser(_ context.Context, name types.Username) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; !ok {
		return types.ErrNotFound
	}
	delete(s.users, name)
	return nil
}

func (s *MemoryStore) GetOnlineUser(_ context.Context, name types.Username) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.users[name]; !ok {
		return types.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) listSet(kind types.EntityKind, entity, list string) (set.Set[string], bool) {
	switch kind {
	case types.EntityRoom:
		r, ok := s.rooms[types.RoomName(entity)]
		if !ok {
			return nil, false
		}
		return r.listOf(list), true
	case types.EntityUser:
		u, ok := s.users[types.Username(entity)]
		if !ok {
			return nil, false
		}
		return u.listOf(list), true
	default:
		return nil, false
	}
}

func (s *MemoryStore) HasInList(_ context.Context, kind types.EntityKind, entity, list, value string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values, ok := s.listSet(kind, entity, list)
	if !ok {
		return false, types.ErrNotFound
	}
	return values.Has(value), nil
}

func (s *MemoryStore) AddToList(_ context.Context, kind types.EntityKind, entity, list string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.listSet(kind, entity, list)
	if !ok {
		return types.ErrNotFound
	}
	set.Insert(values...)
	return nil
}

func (s *MemoryStore) RemoveFromList(_ context.Context, kind types.EntityKind, entity, list string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.listSet(kind, entity, list)
	if !ok {
		return types.ErrNotFound
	}
	set.Delete(values...)
	return nil
}

func (s *MemoryStore) GetList(_ context.Context, kind types.EntityKind, entity, list string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values, ok := s.listSet(kind, entity, list)
	if !ok {
		return nil, types.ErrNotFound
	}
	return values.UnsortedList(), nil
}

func (s *MemoryStore) WhitelistOnlyGet(_ context.Context, kind types.EntityKind, entity string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case types.EntityRoom:
		r, ok := s.rooms[types.RoomName(entity)]
		if !ok {
			return false, types.ErrNotFound
		}
		return r.whitelistOnly, nil
	case types.EntityUser:
		u, ok := s.users[types.Username(entity)]
		if !ok {
			return false, types.ErrNotFound
		}
		return u.whitelistOnly, nil
	default:
		return false, types.ErrNotFound
	}
}

func (s *MemoryStore) WhitelistOnlySet(_ context.Context, kind types.EntityKind, entity string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case types.EntityRoom:
		r, ok := s.rooms[types.RoomName(entity)]
		if !ok {
			return types.ErrNotFound
		}
		r.whitelistOnly = v
		return nil
	case types.EntityUser:
		u, ok := s.users[types.Username(entity)]
		if !ok {
			return types.ErrNotFound
		}
		u.whitelistOnly = v
		return nil
	default:
		return types.ErrNotFound
	}
}

func (s *MemoryStore) OwnerGet(_ context.Context, room types.RoomName) (types.Username, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok {
		return "", false, types.ErrNotFound
	}
	return r.owner, r.owner != "", nil
}

func (s *MemoryStore) OwnerSet(_ context.Context, room types.RoomName, owner types.Username) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return types.ErrNotFound
	}
	r.owner = owner
	return nil
}

func (s *MemoryStore) SocketAdd(_ context.Context, user types.Username, socket types.SocketKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		u = newMemUser()
		s.users[user] = u
	}
	u.sockets.Insert(socket)
	return nil
}

func (s *MemoryStore) SocketRemove(_ context.Context, user types.Username, socket types.SocketKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return types.ErrNotFound
	}
	u.sockets.Delete(socket)
	return nil
}

func (s *MemoryStore) SocketsGetAll(_ context.Context, user types.Username) ([]types.SocketKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return nil, types.ErrNotFound
	}
	return u.sockets.UnsortedList(), nil
}

func (s *MemoryStore) RoomAdd(_ context.Context, user types.Username, room types.RoomName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return types.ErrNotFound
	}
	u.rooms.Insert(room)
	return nil
}

func (s *MemoryStore) RoomRemove(_ context.Context, user types.Username, room types.RoomName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return types.ErrNotFound
	}
	u.rooms.Delete(room)
	return nil
}

func (s *MemoryStore) RoomsGetAll(_ context.Context, user types.Username) ([]types.RoomName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return nil, types.ErrNotFound
	}
	return u.rooms.UnsortedList(), nil
}

func (s *MemoryStore) MessageAdd(_ context.Context, room types.RoomName, msg types.Message, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return types.ErrNotFound
	}
	r.history = append(r.history, msg)
	if max > 0 && len(r.history) > max {
		r.history = r.history[len(r.history)-max:]
	}
	return nil
}

func (s *MemoryStore) MessagesGet(_ context.Context, room types.RoomName) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[room]
	if !ok {
		return nil, types.ErrNotFound
	}
	out := make([]types.Message, len(r.history))
	copy(out, r.history)
	return out, nil
}
