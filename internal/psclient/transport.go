package psclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Transport is the duplex connection the battle protocol is spoken over.
// Receive blocks until one frame arrives or ctx expires; a ctx timeout
// leaves the connection usable for the next call.
type Transport interface {
	Receive(ctx context.Context) (string, error)
	Send(ctx context.Context, room string, parts ...string) error
	Close() error
}

// Conn is the websocket-backed Transport. A single listen goroutine owns
// the read side and hands frames over a channel, so a timed-out Receive
// does not tear the connection down.
type Conn struct {
	ws      *websocket.Conn
	frames  chan string
	readErr error

	rootCtx    context.Context
	rootCancel context.CancelFunc
	closeOnce  sync.Once
	closeErr   error
}

const dialTimeout = 10 * time.Second

// Dial opens a websocket connection to the simulator and starts the
// listen goroutine.
func Dial(ctx context.Context, uri string) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, uri, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", uri, err)
	}
	// request payloads for full teams run well past the default limit
	ws.SetReadLimit(1 << 22)

	c := &Conn{
		ws:     ws,
		frames: make(chan string, 16),
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	go c.listen()
	return c, nil
}

func (c *Conn) listen() {
	defer close(c.frames)
	for {
		_, data, err := c.ws.Read(c.rootCtx)
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.frames <- string(data):
		case <-c.rootCtx.Done():
			c.readErr = c.rootCtx.Err()
			return
		}
	}
}

func (c *Conn) Receive(ctx context.Context) (string, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return "", fmt.Errorf("receive: %w", c.readErr)
		}
		return frame, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Send writes one room-scoped message, pipe-joining the parts after the
// room prefix.
func (c *Conn) Send(ctx context.Context, room string, parts ...string) error {
	message := room + "|" + strings.Join(parts, "|")
	wctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}
	if err := c.ws.Write(wctx, websocket.MessageText, []byte(message)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close shuts the connection down on every exit path; safe to call more
// than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.rootCancel()
		c.closeErr = c.ws.Close(websocket.StatusNormalClosure, "done")
	})
	return c.closeErr
}
