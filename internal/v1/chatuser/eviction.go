package chatuser

import (
	"context"

	"go.uber.org/zap"

	"github.com/latticechat/chatcore/internal/v1/logging"
	"github.com/latticechat/chatcore/internal/v1/types"
)

// evictFromRoom turns chatroom's list of usernames that just lost access to
// room into actual channel departures: local sockets leave immediately,
// remote sockets are asked to leave via the cluster bus, and every evicted
// socket (local or remote) receives roomAccessRemoved regardless of the
// enableUserlistUpdates gate, since losing access is not a membership
// notification.
func (u *User) evictFromRoom(ctx context.Context, room types.RoomName, evicted []types.Username) {
	channel := types.RoomChannel(room)
	local := u.deps.Transport.InstanceID()

	for _, victim := range evicted {
		sockets, err := u.deps.Store.SocketsGetAll(ctx, victim)
		if err != nil {
			logging.Warn(ctx, "chatuser: evictFromRoom could not list sockets", zap.String("user", string(victim)))
			sockets = nil
		}
		for _, sk := range sockets {
			if sk.Instance == local {
				_ = u.deps.Transport.LeaveChannel(sk.Socket, channel)
				continue
			}
			if err := u.deps.Cluster.RequestRoomLeaveSocket(ctx, sk, room); err != nil {
				logging.Warn(ctx, "chatuser: cluster room leave request failed", zap.String("user", string(victim)))
			}
		}
		if err := u.deps.Store.RoomRemove(ctx, victim, room); err != nil {
			logging.Warn(ctx, "chatuser: RoomRemove bookkeeping failed", zap.String("user", string(victim)))
		}
		u.deps.Transport.EmitToChannel(types.UserChannel(victim), "roomAccessRemoved", room)
	}
}
