package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/wsutils"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Envelope is the wire frame of the signaling channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Channel is the websocket-backed Bus. Reads run on a single pump goroutine
// and dispatch handlers inline, which keeps event processing serialized the
// way the rest of the session expects.
type Channel struct {
	logger *slog.Logger
	conn   *wsutils.ThreadSafeWriter

	mu       sync.RWMutex
	handlers map[string]Handler

	closed *atomic.Bool
	done   chan struct{}
}

type DialParams struct {
	Endpoint string
	Logger   *slog.Logger
}

func Dial(ctx context.Context, params DialParams) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, params.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling %s: %w", params.Endpoint, err)
	}

	channel := &Channel{
		logger:   params.Logger,
		conn:     wsutils.NewThreadSafeWriter(conn),
		handlers: make(map[string]Handler),
		closed:   atomic.NewBool(false),
		done:     make(chan struct{}),
	}

	go channel.readPump()
	go channel.conn.KeepAlive(pingPeriod, pongWait)

	return channel, nil
}

func (c *Channel) readPump() {
	defer close(c.done)

	for {
		var msg Envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !c.closed.Load() {
				c.logger.Warn("signaling read pump stopped", "err", err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg Envelope) {
	c.mu.RLock()
	handler, ok := c.handlers[msg.Event]
	c.mu.RUnlock()

	if !ok {
		c.logger.Debug("signaling event without handler", "event", msg.Event)
		return
	}
	handler(msg.Data)
}

func (c *Channel) Emit(event string, payload any) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}

	msg := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event, err)
		}
		msg.Data = data
	}

	return c.conn.WriteJSON(msg)
}

func (c *Channel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

func (c *Channel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Done closes once the read pump exits, whether by Close or by transport
// failure.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

var _ Bus = (*Channel)(nil)
