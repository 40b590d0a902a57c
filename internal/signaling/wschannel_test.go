package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustJSON(t *testing.T, val any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(val)
	if err != nil {
		t.Fatalf("marshal %T: %v", val, err)
	}
	return data
}

func dialTestChannel(t *testing.T) (*Channel, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	channel, err := Dial(context.Background(), DialParams{Endpoint: endpoint, Logger: testLogger()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { channel.Close() })

	select {
	case conn := <-connCh:
		t.Cleanup(func() { conn.Close() })
		return channel, conn
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted the websocket")
		return nil, nil
	}
}

func TestChannelDispatchOrder(t *testing.T) {
	channel, server := dialTestChannel(t)

	got := make(chan string, 8)
	channel.On(EventNameChanged, func(data json.RawMessage) {
		var payload NameChangePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			got <- "unmarshal error: " + err.Error()
			return
		}
		got <- payload.UserName
	})

	names := []string{"Ann", "Bo", "Cy"}
	for _, name := range names {
		err := server.WriteJSON(Envelope{
			Event: EventNameChanged,
			Data:  mustJSON(t, NameChangePayload{PeerID: "p1", UserName: name}),
		})
		if err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	for _, want := range names {
		select {
		case have := <-got:
			if have != want {
				t.Fatalf("dispatch order: have %q, want %q", have, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestChannelSkipsUnhandledEvents(t *testing.T) {
	channel, server := dialTestChannel(t)

	got := make(chan struct{}, 1)
	channel.On(EventUserStoppedSharing, func(json.RawMessage) {
		got <- struct{}{}
	})

	// An event nobody listens to must not stall or kill the pump.
	if err := server.WriteJSON(Envelope{Event: "presence-ping"}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if err := server.WriteJSON(Envelope{Event: EventUserStoppedSharing}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("handled event never arrived after an unhandled one")
	}
}

func TestChannelOffDetachesHandler(t *testing.T) {
	channel, server := dialTestChannel(t)

	shares := make(chan string, 4)
	channel.On(EventUserStartedSharing, func(data json.RawMessage) {
		var payload SharingPayload
		_ = json.Unmarshal(data, &payload)
		shares <- payload.PeerID
	})
	marker := make(chan struct{}, 1)
	channel.On(EventUserStoppedSharing, func(json.RawMessage) {
		marker <- struct{}{}
	})

	mustServerWrite := func(env Envelope) {
		t.Helper()
		if err := server.WriteJSON(env); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	mustServerWrite(Envelope{Event: EventUserStartedSharing, Data: mustJSON(t, SharingPayload{PeerID: "p1"})})
	select {
	case id := <-shares:
		if id != "p1" {
			t.Fatalf("have sharer %q, want p1", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first share event never arrived")
	}

	channel.Off(EventUserStartedSharing)

	// The marker event is processed by the same pump after the detached one,
	// so its arrival proves the detached frame was already dropped.
	mustServerWrite(Envelope{Event: EventUserStartedSharing, Data: mustJSON(t, SharingPayload{PeerID: "p2"})})
	mustServerWrite(Envelope{Event: EventUserStoppedSharing})

	select {
	case <-marker:
	case <-time.After(5 * time.Second):
		t.Fatal("marker event never arrived")
	}

	select {
	case id := <-shares:
		t.Fatalf("detached handler still fired for %q", id)
	default:
	}
}

func TestChannelEmit(t *testing.T) {
	channel, server := dialTestChannel(t)

	want := NameChangePayload{RoomID: "r1", PeerID: "p1", UserName: "Ann"}
	if err := channel.Emit(EventChangeName, want); err != nil {
		t.Fatalf("emit: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env Envelope
	if err := server.ReadJSON(&env); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if env.Event != EventChangeName {
		t.Fatalf("have event %q, want %q", env.Event, EventChangeName)
	}

	var have NameChangePayload
	if err := json.Unmarshal(env.Data, &have); err != nil {
		t.Fatalf("unmarshal emitted payload: %v", err)
	}
	if have != want {
		t.Fatalf("have payload %+v, want %+v", have, want)
	}
}

func TestChannelClose(t *testing.T) {
	channel, _ := dialTestChannel(t)

	if err := channel.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := channel.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case <-channel.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pump never stopped after close")
	}

	if err := channel.Emit(EventStopSharing, nil); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("emit after close: have %v, want ErrChannelClosed", err)
	}
}
