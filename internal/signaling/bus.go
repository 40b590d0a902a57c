package signaling

import (
	"encoding/json"
	"errors"
)

var ErrChannelClosed = errors.New("signaling channel is closed")

// Handler receives the raw data field of one envelope. Handlers run on the
// read pump goroutine, so events are processed one at a time in arrival
// order.
type Handler func(data json.RawMessage)

// Bus is the signaling capability the session is written against:
// emit/on/off over an ordered best-effort event channel. One handler per
// event name; On replaces, Off detaches.
type Bus interface {
	Emit(event string, payload any) error
	On(event string, h Handler)
	Off(event string)
	Close() error
}
