package central

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/groutine"
)

// errNotStarted marks a command that was abandoned before the radio ran it
var errNotStarted = errors.New("command not started")

const (
	cmdQueued int32 = iota
	cmdRunning
	cmdAbandoned
)

type command struct {
	ctx   context.Context
	op    string
	fn    func(ctx context.Context) error
	state atomic.Int32
	done  chan error
}

// commandQueue executes GATT commands one at a time on a single worker goroutine
type commandQueue struct {
	cmds    chan *command
	closing chan struct{}
	closed  atomic.Bool
	logger  *logrus.Logger
}

func newCommandQueue(size int, logger *logrus.Logger) *commandQueue {
	return &commandQueue{
		cmds:    make(chan *command, size),
		closing: make(chan struct{}),
		logger:  logger,
	}
}

// submit queues fn and waits for its result.
//
// While the command is still queued, cancelling ctx abandons it and submit returns an
// error wrapping errNotStarted and ctx.Err(). Once the worker has started it, submit
// waits for fn to return; fn must honour ctx.
func (q *commandQueue) submit(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if q.closed.Load() {
		return ErrClosed
	}

	cmd := &command{ctx: ctx, op: op, fn: fn, done: make(chan error, 1)}

	select {
	case q.cmds <- cmd:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errNotStarted, ctx.Err())
	case <-q.closing:
		return ErrClosed
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		if cmd.state.CompareAndSwap(cmdQueued, cmdAbandoned) {
			return fmt.Errorf("%w: %w", errNotStarted, ctx.Err())
		}
		// Already running: fn observes the same ctx and returns promptly
		return <-cmd.done
	case <-q.closing:
		if cmd.state.CompareAndSwap(cmdQueued, cmdAbandoned) {
			return ErrClosed
		}
		return <-cmd.done
	}
}

// run is the worker loop
func (q *commandQueue) run(ctx context.Context) {
	for {
		select {
		case <-q.closing:
			q.drain()
			return
		case cmd := <-q.cmds:
			q.execute(ctx, cmd)
		}
	}
}

func (q *commandQueue) execute(ctx context.Context, cmd *command) {
	if !cmd.state.CompareAndSwap(cmdQueued, cmdRunning) {
		return
	}
	if err := cmd.ctx.Err(); err != nil {
		cmd.done <- fmt.Errorf("%w: %w", errNotStarted, err)
		return
	}

	q.logger.WithFields(logrus.Fields{
		"op":     cmd.op,
		"worker": groutine.GetName(ctx),
	}).Debug("Executing command")
	cmd.done <- cmd.fn(cmd.ctx)
}

// drain fails commands still waiting when the queue closes
func (q *commandQueue) drain() {
	for {
		select {
		case cmd := <-q.cmds:
			if cmd.state.CompareAndSwap(cmdQueued, cmdAbandoned) {
				cmd.done <- ErrClosed
			}
		default:
			return
		}
	}
}

func (q *commandQueue) close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.closing)
	}
}
