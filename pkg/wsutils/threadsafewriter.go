package wsutils

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultWriteTimeout = 10 * time.Second

// ThreadSafeWriter serializes frame writes to a websocket connection.
// Gorilla connections allow a single concurrent writer, and both signaling
// clients here emit from several goroutines.
type ThreadSafeWriter struct {
	*websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
}

func (t *ThreadSafeWriter) WriteJSON(val any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_ = t.Conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.Conn.WriteJSON(val)
}

func (t *ThreadSafeWriter) ReadJSON(val any) error {
	return t.Conn.ReadJSON(val)
}

func (t *ThreadSafeWriter) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *ThreadSafeWriter) Close() error {
	return t.Conn.Close()
}

// KeepAlive pings on every interval tick and stretches the read deadline on
// each pong until the connection dies. Run it in its own goroutine; it
// returns once a ping fails.
func (t *ThreadSafeWriter) KeepAlive(interval, wait time.Duration) {
	_ = t.Conn.SetReadDeadline(time.Now().Add(wait))
	t.Conn.SetPongHandler(func(string) error {
		return t.Conn.SetReadDeadline(time.Now().Add(wait))
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := t.Ping(); err != nil {
			return
		}
	}
}

func NewThreadSafeWriter(conn *websocket.Conn) *ThreadSafeWriter {
	return &ThreadSafeWriter{
		Conn:         conn,
		writeTimeout: DefaultWriteTimeout,
	}
}
