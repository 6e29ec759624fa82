// Package task is the concurrency runtime linked by generated programs:
// launched tasks with awaitable handles, cooperative yield checkpoints,
// and line-oriented network connections.
package task

import (
	"bufio"
	"context"
	"net"
	"runtime"
	"strings"
	"time"
)

// Handle is an awaitable task. It can be cancelled until it is awaited;
// after Wait returns the task's effects are observed and final.
type Handle struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// Launch runs fn as a task and returns its handle. The task's context is
// cancelled when the parent's is.
func Launch(ctx context.Context, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(h.done)
		defer cancel()
		fn(ctx)
	}()
	return h
}

// Fire runs fn as a task nothing will await.
func Fire(ctx context.Context, fn func(ctx context.Context)) {
	go fn(ctx)
}

// Wait blocks until the task finishes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) {
	select {
	case <-h.done:
	case <-ctx.Done():
	}
}

// Cancel stops the task if it has not finished.
func (h *Handle) Cancel() { h.cancel() }

// Checkpoint is the cooperative yield generated at loop heads: it hands
// the scheduler a chance to run other tasks and exits the task if its
// context is gone.
func Checkpoint(ctx context.Context) {
	if ctx.Err() != nil {
		runtime.Goexit()
	}
	runtime.Gosched()
}

// Sleep pauses the task for millis milliseconds, waking early if ctx is
// cancelled.
func Sleep(ctx context.Context, millis int64) {
	t := time.NewTimer(time.Duration(millis) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Conn is a line-oriented text connection.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

func newConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Send writes one message.
func (c *Conn) Send(ctx context.Context, msg string) error {
	stop := context.AfterFunc(ctx, func() { c.nc.SetDeadline(time.Now()) })
	defer stop()
	_, err := c.nc.Write([]byte(msg + "\n"))
	return err
}

// Receive blocks for the next message.
func (c *Conn) Receive(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() { c.nc.SetDeadline(time.Now()) })
	defer stop()
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// Close closes the connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Serve listens on addr and runs handler as a task per connection,
// blocking until ctx is cancelled. Generated programs call this as the
// body of a listen block; a bad address is a startup failure.
func Serve(ctx context.Context, addr string, handler func(ctx context.Context, conn *Conn)) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		panic(err)
	}
	serve(ctx, ln, handler)
}

func serve(ctx context.Context, ln net.Listener, handler func(ctx context.Context, conn *Conn)) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	for {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer nc.Close()
			handler(ctx, newConn(nc))
		}()
	}
}

// Connect opens a connection to addr.
func Connect(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newConn(nc), nil
}
