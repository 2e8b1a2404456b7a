package chatuser

import (
	"context"
	"time"

	"github.com/latticechat/chatcore/internal/v1/errs"
	"github.com/latticechat/chatcore/internal/v1/metrics"
	"github.com/latticechat/chatcore/internal/v1/types"
)

// BeforeHook runs after arguments decode successfully and before the
// command executes. Returning a non-nil error or non-nil data short-
// circuits execution: the pipeline acks that result directly. Returning a
// non-nil replacement substitutes the arguments the command executes with.
type BeforeHook func(ctx context.Context, u *User, args []any, origin types.SocketID) (err *errs.Error, data any, replacement []any)

// AfterHook runs once the command has executed (or been short-circuited by
// a BeforeHook) and may rewrite the result before it is acked.
type AfterHook func(ctx context.Context, u *User, err *errs.Error, data any, args []any, origin types.SocketID) (*errs.Error, any)

type decodeFunc func(args []types.RawArg) ([]any, *errs.Error)
type execFunc func(ctx context.Context, u *User, args []any, origin types.SocketID) (*errs.Error, any)

type command struct {
	decode decodeFunc
	exec   execFunc
}

// Registry is the command table and hook pipeline: every socket event
// routes through Dispatch, which is the only entry point chatservice needs.
type Registry struct {
	deps     Deps
	commands map[string]command
	before   map[string]BeforeHook
	after    map[string]AfterHook
}

func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:     deps,
		commands: make(map[string]command),
		before:   make(map[string]BeforeHook),
		after:    make(map[string]AfterHook),
	}
	r.registerCommands()
	return r
}

// AddHooks installs a before and/or after hook for the named command. A nil
// hook leaves the existing one (if any) untouched.
func (r *Registry) AddHooks(event string, before BeforeHook, after AfterHook) {
	if before != nil {
		r.before[event] = before
	}
	if after != nil {
		r.after[event] = after
	}
}

// Dispatch runs the five-step pipeline for one incoming command: decode,
// cmdBefore, execute, cmdAfter, and returns the (error, data) pair the
// caller acks back to the originating socket.
func (r *Registry) Dispatch(ctx context.Context, u *User, event string, rawArgs []types.RawArg, origin types.SocketID) (*errs.Error, any) {
	start := time.Now()
	err, data := r.dispatch(ctx, u, event, rawArgs, origin)
	metrics.CommandProcessingDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = string(err.Kind)
	}
	metrics.CommandEvents.WithLabelValues(event, status).Inc()
	return err, data
}

func (r *Registry) dispatch(ctx context.Context, u *User, event string, rawArgs []types.RawArg, origin types.SocketID) (*errs.Error, any) {
	cmd, ok := r.commands[event]
	if !ok {
		return errs.New(errs.KindBadArgument, event), nil
	}

	args, derr := cmd.decode(rawArgs)
	if derr != nil {
		return derr, nil
	}

	if before, ok := r.before[event]; ok {
		berr, bdata, replacement := before(ctx, u, args, origin)
		if berr != nil || bdata != nil {
			return r.runAfter(ctx, u, event, berr, bdata, args, origin)
		}
		if replacement != nil {
			args = replacement
		}
	}

	err, data := cmd.exec(ctx, u, args, origin)
	return r.runAfter(ctx, u, event, err, data, args, origin)
}

func (r *Registry) runAfter(ctx context.Context, u *User, event string, err *errs.Error, data any, args []any, origin types.SocketID) (*errs.Error, any) {
	after, ok := r.after[event]
	if !ok {
		return err, data
	}
	return after(ctx, u, err, data, args, origin)
}
