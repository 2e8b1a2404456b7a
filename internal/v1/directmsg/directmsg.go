// Package directmsg implements the per-user direct-messaging access-list
// surface: blacklist, whitelist, whitelist-only mode, and the access check
// that direct message delivery must pass.
package directmsg

import (
	"context"

	"github.com/latticechat/chatcore/internal/v1/errs"
	"github.com/latticechat/chatcore/internal/v1/types"
	"github.com/latticechat/chatcore/internal/v1/validate"
)

// DirectMessaging is a handle bound to one user's direct-message state.
type DirectMessaging struct {
	store types.StateStore
	user  types.Username
}

func New(store types.StateStore, user types.Username) *DirectMessaging {
	return &DirectMessaging{store: store, user: user}
}

// storageList maps the wire-level listName ("blacklist"/"whitelist") to the
// key direct-messaging state is actually stored under, so it cannot collide
// with a room's own blacklist/whitelist if the two ever share a backing map.
var storageList = map[string]string{
	"blacklist": types.ListDirectBlacklist,
	"whitelist": types.ListDirectWhitelist,
}

func (d *DirectMessaging) requireSelf(author types.Username) error {
	if author != d.user {
		return errs.New(errs.KindNotAllowed)
	}
	return nil
}

func (d *DirectMessaging) AddToList(ctx context.Context, author types.Username, listName string, values []string) error {
	if err := d.requireSelf(author); err != nil {
		return err
	}
	if !validate.AdmittedDirectListNames[listName] {
		return errs.New(errs.KindNoList, listName)
	}
	key := storageList[listName]
	for _, v := range values {
		present, err := d.store.HasInList(ctx, types.EntityUser, string(d.user), key, v)
		if err != nil {
			return errs.Wrap(err, "directmsg.AddToList")
		}
		if present {
			return errs.New(errs.KindNameInList, v)
		}
		if err := d.store.AddToList(ctx, types.EntityUser, string(d.user), key, []string{v}); err != nil {
			return errs.Wrap(err, "directmsg.AddToList")
		}
	}
	return nil
}

func (d *DirectMessaging) RemoveFromList(ctx context.Context, author types.Username, listName string, values []string) error {
	if err := d.requireSelf(author); err != nil {
		return err
	}
	if !validate.AdmittedDirectListNames[listName] {
		return errs.New(errs.KindNoList, listName)
	}
	key := storageList[listName]
	for _, v := range values {
		present, err := d.store.HasInList(ctx, types.EntityUser, string(d.user), key, v)
		if err != nil {
			return errs.Wrap(err, "directmsg.RemoveFromList")
		}
		if !present {
			return errs.New(errs.KindNoNameInList, v)
		}
		if err := d.store.RemoveFromList(ctx, types.EntityUser, string(d.user), key, []string{v}); err != nil {
			return errs.Wrap(err, "directmsg.RemoveFromList")
		}
	}
	return nil
}

func (d *DirectMessaging) GetList(ctx context.Context, author types.Username, listName string) ([]string, error) {
	if err := d.requireSelf(author); err != nil {
		return nil, err
	}
	if !validate.AdmittedDirectListNames[listName] {
		return nil, errs.New(errs.KindNoList, listName)
	}
	values, err := d.store.GetList(ctx, types.EntityUser, string(d.user), storageList[listName])
	if err != nil {
		return nil, errs.Wrap(err, "directmsg.GetList")
	}
	return values, nil
}

func (d *DirectMessaging) GetMode(ctx context.Context) (bool, error) {
	v, err := d.store.WhitelistOnlyGet(ctx, types.EntityUser, string(d.user))
	if err != nil {
		return false, errs.Wrap(err, "directmsg.GetMode")
	}
	return v, nil
}

func (d *DirectMessaging) SetMode(ctx context.Context, author types.Username, mode bool) error {
	if err := d.requireSelf(author); err != nil {
		return err
	}
	if err := d.store.WhitelistOnlySet(ctx, types.EntityUser, string(d.user), mode); err != nil {
		return errs.Wrap(err, "directmsg.SetMode")
	}
	return nil
}

// CheckAccess checks whether sender may deliver a direct message to d.user.
// A blacklisted sender is told noUserOnline rather than notAllowed, so the
// existence of the blacklist is never revealed to the rejected sender.
func (d *DirectMessaging) CheckAccess(ctx context.Context, sender types.Username) error {
	blacklisted, err := d.store.HasInList(ctx, types.EntityUser, string(d.user), types.ListDirectBlacklist, string(sender))
	if err != nil {
		return errs.Wrap(err, "directmsg.CheckAccess")
	}
	if blacklisted {
		return errs.New(errs.KindNoUserOnline)
	}
	whitelistOnly, err := d.store.WhitelistOnlyGet(ctx, types.EntityUser, string(d.user))
	if err != nil {
		return errs.Wrap(err, "directmsg.CheckAccess")
	}
	if !whitelistOnly {
		return nil
	}
	whitelisted, err := d.store.HasInList(ctx, types.EntityUser, string(d.user), types.ListDirectWhitelist, string(sender))
	if err != nil {
		return errs.Wrap(err, "directmsg.CheckAccess")
	}
	if !whitelisted {
		return errs.New(errs.KindNotAllowed)
	}
	return nil
}
