package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	echo "github.com/labstack/echo/v4"

	"github.com/Sergey-Ryabko-84/next-talk/internal/identity"
	"github.com/Sergey-Ryabko-84/next-talk/internal/media"
	"github.com/Sergey-Ryabko-84/next-talk/internal/session"
	"github.com/Sergey-Ryabko-84/next-talk/internal/signaling"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/rtpstats"
)

type fakeBus struct {
	mu      sync.Mutex
	emitted map[string][]any
}

func newFakeBus() *fakeBus {
	return &fakeBus{emitted: make(map[string][]any)}
}

func (b *fakeBus) Emit(event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitted[event] = append(b.emitted[event], payload)
	return nil
}

func (b *fakeBus) On(string, signaling.Handler) {}
func (b *fakeBus) Off(string)                   {}
func (b *fakeBus) Close() error                 { return nil }

func (b *fakeBus) emits(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.emitted[event])
}

type fakeConnector struct{}

func (fakeConnector) Connect(context.Context, protocol.PeerID, *media.Stream, session.CallMetadata) (session.Call, error) {
	return nil, errors.New("no transport in tests")
}
func (fakeConnector) OnIncoming(func(session.IncomingCall)) {}
func (fakeConnector) Close() error                          { return nil }

type deniedOpener struct{}

func (deniedOpener) OpenCamera() (*media.Stream, error) { return nil, errors.New("denied") }
func (deniedOpener) OpenScreen() (*media.Stream, error) { return nil, errors.New("denied") }

func testController(t *testing.T) (*sessionController, *session.Session, *fakeBus, *echo.Echo) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := newFakeBus()

	sess := session.NewSession(session.NewSessionParams{
		Logger:    logger,
		Bus:       bus,
		Connector: fakeConnector{},
		Media: media.NewController(media.NewControllerParams{
			Logger: logger,
			Opener: deniedOpener{},
		}),
		Local:  identity.Local{PeerID: "local", Name: "Ann"},
		Config: session.Config{RoomID: "r1"},
	})
	t.Cleanup(func() { sess.Close() })

	ctrl := NewSessionController(newSessionController_Params{
		Session: sess,
		Flows:   rtpstats.NewRegistry(),
		Logger:  logger,
	})

	router := echo.New()
	if err := ctrl.Resolve(router); err != nil {
		t.Fatalf("resolve routes: %v", err)
	}
	return ctrl, sess, bus, router
}

func doJSON(t *testing.T, router *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSessionSnapshotEndpoint(t *testing.T) {
	_, sess, _, router := testController(t)

	sess.Registry().UpsertName("p1", "Bo")
	sess.Registry().UpsertName("p2", "Cy")

	rec := doJSON(t, router, http.MethodGet, "/v1/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("have status %d, want 200", rec.Code)
	}

	var have sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &have); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if have.RoomID != "r1" {
		t.Fatalf("have room %q, want r1", have.RoomID)
	}
	if have.Local.Name != "Ann" {
		t.Fatalf("have local name %q, want Ann", have.Local.Name)
	}
	if len(have.Peers) != 2 {
		t.Fatalf("have %d peers, want 2", len(have.Peers))
	}
	for _, peer := range have.Peers {
		if peer.HasStream {
			t.Fatalf("peer %s reports a stream before any negotiation", peer.ID)
		}
		if peer.Connection != "idle" {
			t.Fatalf("peer %s connection %q, want idle", peer.ID, peer.Connection)
		}
	}
}

func TestChatSendEndpoint(t *testing.T) {
	_, sess, bus, router := testController(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/session/chat", `{"content":"hi"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("have status %d, want 201", rec.Code)
	}

	var msg protocol.ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Content != "hi" || msg.Author != "Ann" {
		t.Fatalf("have message %+v, want content hi by Ann", msg)
	}

	if sess.Chat().Len() != 1 {
		t.Fatalf("have %d chat entries, want 1", sess.Chat().Len())
	}
	if bus.emits(signaling.EventSendMessage) != 1 {
		t.Fatal("send-message was not announced")
	}
}

func TestToggleEndpoints(t *testing.T) {
	for name, testCase := range map[string]struct {
		target string
		read   func(*session.Session) bool
	}{
		"Camera": {
			target: "/v1/session/camera",
			read:   func(s *session.Session) bool { return s.Media().CameraOn() },
		},
		"Audio": {
			target: "/v1/session/audio",
			read:   func(s *session.Session) bool { return s.Media().AudioOn() },
		},
	} {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			_, sess, _, router := testController(t)

			before := testCase.read(sess)
			rec := doJSON(t, router, http.MethodPost, testCase.target, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("have status %d, want 200", rec.Code)
			}

			var have toggleResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &have); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if have.On != !before {
				t.Fatalf("have on=%v, want %v", have.On, !before)
			}
			if testCase.read(sess) != !before {
				t.Fatal("session flag did not flip")
			}
		})
	}
}

func TestRenameEndpoint(t *testing.T) {
	_, sess, bus, router := testController(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/session/name", `{"userName":"Zed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("have status %d, want 200", rec.Code)
	}
	if sess.LocalInfo().Name != "Zed" {
		t.Fatalf("have local name %q, want Zed", sess.LocalInfo().Name)
	}
	if bus.emits(signaling.EventChangeName) != 1 {
		t.Fatal("change-name was not announced")
	}

	// Empty names are rejected and leave the identity untouched.
	rec = doJSON(t, router, http.MethodPost, "/v1/session/name", `{"userName":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("have status %d, want 400", rec.Code)
	}
	if sess.LocalInfo().Name != "Zed" {
		t.Fatal("rejected rename still changed the name")
	}
}
