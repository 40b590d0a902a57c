package rtc

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	webrtc "github.com/pion/webrtc/v3"

	"github.com/Sergey-Ryabko-84/next-talk/internal/identity"
	"github.com/Sergey-Ryabko-84/next-talk/internal/session"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/rtpstats"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAPI(t *testing.T) *webrtc.API {
	t.Helper()

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("register codecs: %v", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
}

func dialTestRendezvous(t *testing.T) (*Rendezvous, *websocket.Conn) {
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
	rendezvous, err := Dial(context.Background(), DialParams{
		Endpoint: endpoint,
		Local:    identity.Local{PeerID: "local", Name: "Ann"},
		API:      testAPI(t),
		Flows:    rtpstats.NewRegistry(),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { rendezvous.Close() })

	select {
	case conn := <-connCh:
		t.Cleanup(func() { conn.Close() })
		return rendezvous, conn
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted the websocket")
		return nil, nil
	}
}

func TestDialAnnouncesIdentity(t *testing.T) {
	_, server := dialTestRendezvous(t)

	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env envelope
	if err := server.ReadJSON(&env); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if env.Type != envelopeOpen {
		t.Fatalf("have frame type %q, want %q", env.Type, envelopeOpen)
	}
	if env.Src != "local" {
		t.Fatalf("have src %q, want local", env.Src)
	}
}

func TestIncomingOfferSurfacesCallerIdentity(t *testing.T) {
	rendezvous, server := dialTestRendezvous(t)

	incoming := make(chan session.IncomingCall, 1)
	rendezvous.OnIncoming(func(in session.IncomingCall) {
		incoming <- in
	})

	err := server.WriteJSON(envelope{
		Type:     envelopeOffer,
		Src:      "p2",
		Dst:      "local",
		Call:     "c1",
		Metadata: &session.CallMetadata{DisplayName: "Bo"},
		SDP:      &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})
	if err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case in := <-incoming:
		if in.PeerID() != "p2" {
			t.Fatalf("have caller %q, want p2", in.PeerID())
		}
		if in.Metadata().DisplayName != "Bo" {
			t.Fatalf("have metadata name %q, want Bo", in.Metadata().DisplayName)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("incoming call never dispatched")
	}
}

func TestIncomingOfferWithoutHandlerIsDropped(t *testing.T) {
	rendezvous, server := dialTestRendezvous(t)

	err := server.WriteJSON(envelope{
		Type: envelopeOffer,
		Src:  "p2",
		Call: "c1",
		SDP:  &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})
	if err != nil {
		t.Fatalf("server write: %v", err)
	}

	// The pump must survive the drop; a later frame still routes.
	if err := server.WriteJSON(envelope{Type: envelopeError, Call: "c1", Reason: "busy"}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	select {
	case <-rendezvous.Done():
		t.Fatal("read pump died on unhandled offer")
	default:
	}
}

func TestCandidateBeforeCallIsParked(t *testing.T) {
	rendezvous, server := dialTestRendezvous(t)

	candidate := webrtc.ICECandidateInit{Candidate: "candidate:0 1 udp 1 127.0.0.1 40000 typ host"}
	err := server.WriteJSON(envelope{
		Type:      envelopeCandidate,
		Src:       "p2",
		Call:      "c9",
		Candidate: &candidate,
	})
	if err != nil {
		t.Fatalf("server write: %v", err)
	}

	parked := func() int {
		rendezvous.mu.Lock()
		defer rendezvous.mu.Unlock()
		return len(rendezvous.orphans["c9"])
	}
	deadline := time.Now().Add(5 * time.Second)
	for parked() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("candidate never parked for the unknown call")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The call picks the parked candidate up and holds it until the
	// remote description lands.
	call, err := rendezvous.newCall("p2", "c9")
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	defer call.close(false)

	call.mu.Lock()
	pending := len(call.pending)
	call.mu.Unlock()
	if pending != 1 {
		t.Fatalf("have %d pending candidates, want 1", pending)
	}
	if parked() != 0 {
		t.Fatal("orphan queue not drained into the call")
	}
}

func TestConnectAfterCloseFails(t *testing.T) {
	rendezvous, _ := dialTestRendezvous(t)

	if err := rendezvous.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := rendezvous.Connect(context.Background(), "p2", nil, session.CallMetadata{}); err != ErrRendezvousClosed {
		t.Fatalf("connect after close: have %v, want ErrRendezvousClosed", err)
	}
}

func TestCallCandidateQueueFlushOrder(t *testing.T) {
	rendezvous, _ := dialTestRendezvous(t)

	call, err := rendezvous.newCall("p3", "c3")
	if err != nil {
		t.Fatalf("new call: %v", err)
	}
	defer call.close(false)

	for name, count := range map[string]int{
		"Single": 1,
		"Burst":  5,
	} {
		count := count
		t.Run(name, func(t *testing.T) {
			call.mu.Lock()
			call.pending = nil
			call.mu.Unlock()

			for i := 0; i < count; i++ {
				if err := call.addCandidate(webrtc.ICECandidateInit{Candidate: "candidate:0"}); err != nil {
					t.Fatalf("add candidate: %v", err)
				}
			}

			call.mu.Lock()
			pending := len(call.pending)
			call.mu.Unlock()
			if pending != count {
				t.Fatalf("have %d queued candidates, want %d", pending, count)
			}
		})
	}
}
