package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/Sergey-Ryabko-84/next-talk/internal/identity"
	"github.com/Sergey-Ryabko-84/next-talk/internal/media"
	"github.com/Sergey-Ryabko-84/next-talk/internal/signaling"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// sessionEvents is every signaling subscription the session installs; Close
// detaches exactly this set.
var sessionEvents = []string{
	signaling.EventRoomCreated,
	signaling.EventGetUsers,
	signaling.EventUserDisconnected,
	signaling.EventUserStartedSharing,
	signaling.EventUserStoppedSharing,
	signaling.EventNameChanged,
	signaling.EventUserJoined,
	signaling.EventAddMessage,
	signaling.EventGetMessages,
}

type Config struct {
	// RoomID joins an existing room; empty asks the deployment to create
	// one and adopts the id it answers with.
	RoomID protocol.RoomID
}

// Session is the per-process room state machine: it reconciles signaling
// events with the roster, the screen-sharer claim, the chat log and the
// live set of peer links. One instance per joined room.
type Session struct {
	logger    *slog.Logger
	bus       signaling.Bus
	connector Connector
	media     *media.Controller
	notifier  *Notifier

	registry *Registry
	arbiter  *Arbiter
	chat     *ChatLog

	localMu sync.RWMutex
	local   identity.Local

	roomID  *atomic.String
	started *atomic.Bool
	closed  *atomic.Bool

	ctx    context.Context
	cancel context.CancelCauseFunc

	callsMu sync.Mutex
	calls   map[protocol.PeerID]Call
}

type NewSessionParams struct {
	Logger    *slog.Logger
	Bus       signaling.Bus
	Connector Connector
	Media     *media.Controller
	Local     identity.Local
	Config    Config
}

func NewSession(params NewSessionParams) *Session {
	return &Session{
		logger:    params.Logger,
		bus:       params.Bus,
		connector: params.Connector,
		media:     params.Media,
		notifier:  NewNotifier(),
		registry:  NewRegistry(),
		arbiter:   NewArbiter(),
		chat:      NewChatLog(),
		local:     params.Local,
		roomID:    atomic.NewString(params.Config.RoomID),
		started:   atomic.NewBool(false),
		closed:    atomic.NewBool(false),
		calls:     make(map[protocol.PeerID]Call),
	}
}

// Start acquires local media best-effort, installs the signaling
// subscriptions and either joins the configured room or asks for a new one.
// Camera denial is logged and the session proceeds without a local stream.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancelCause(ctx)

	if _, err := s.media.AcquireCamera(); err != nil {
		s.logger.Warn("starting without local media", "err", err)
	}
	s.notifier.Publish(UpdateMedia)

	s.connector.OnIncoming(s.onIncoming)
	s.subscribe()

	if room := s.roomID.Load(); room != "" {
		s.joinRoom(room)
	} else if err := s.bus.Emit(signaling.EventCreateRoom, nil); err != nil {
		s.logger.Warn("create-room emit failed", "err", err)
	}
	return nil
}

func (s *Session) subscribe() {
	s.bus.On(signaling.EventRoomCreated, s.onRoomCreated)
	s.bus.On(signaling.EventGetUsers, s.onGetUsers)
	s.bus.On(signaling.EventUserDisconnected, s.onUserDisconnected)
	s.bus.On(signaling.EventUserStartedSharing, s.onUserStartedSharing)
	s.bus.On(signaling.EventUserStoppedSharing, s.onUserStoppedSharing)
	s.bus.On(signaling.EventNameChanged, s.onNameChanged)
	s.bus.On(signaling.EventUserJoined, s.onUserJoined)
	s.bus.On(signaling.EventAddMessage, s.onAddMessage)
	s.bus.On(signaling.EventGetMessages, s.onGetMessages)
}

func (s *Session) joinRoom(room protocol.RoomID) {
	local := s.LocalInfo()
	err := s.bus.Emit(signaling.EventJoinRoom, signaling.JoinRoomPayload{
		RoomID:   room,
		PeerID:   local.ID,
		UserName: local.Name,
	})
	if err != nil {
		s.logger.Warn("join-room emit failed", "room_id", room, "err", err)
		return
	}
	if err := s.bus.Emit(signaling.EventGetMessages, signaling.GetMessagesPayload{RoomID: room}); err != nil {
		s.logger.Warn("chat backfill request failed", "room_id", room, "err", err)
	}
	s.logger.Info("joined room", "room_id", room, "peer_id", local.ID)
}

func (s *Session) onRoomCreated(data json.RawMessage) {
	var payload signaling.RoomCreatedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad room-created payload", "err", err)
		return
	}
	s.roomID.Store(payload.RoomID)
	s.notifier.Publish(UpdateRoom)
	s.joinRoom(payload.RoomID)

	// The room id changed, so the name announcement is re-issued under it.
	local := s.LocalInfo()
	err := s.bus.Emit(signaling.EventChangeName, signaling.NameChangePayload{
		RoomID:   payload.RoomID,
		PeerID:   local.ID,
		UserName: local.Name,
	})
	if err != nil {
		s.logger.Warn("change-name emit failed", "room_id", payload.RoomID, "err", err)
	}
}

func (s *Session) onGetUsers(data json.RawMessage) {
	var payload signaling.GetUsersPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad get-users payload", "err", err)
		return
	}
	s.registry.ReplaceAll(payload.Participants)
	s.notifier.Publish(UpdateRoster)
}

func (s *Session) onUserDisconnected(data json.RawMessage) {
	var payload signaling.UserDisconnectedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad user-disconnected payload", "err", err)
		return
	}
	// Registry removal only. The link, if any, stays until session end,
	// and a sharer's claim survives its owner's departure.
	s.registry.Remove(payload.PeerID)
	s.notifier.Publish(UpdateRoster)
}

func (s *Session) onUserStartedSharing(data json.RawMessage) {
	var payload signaling.SharingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad user-started-sharing payload", "err", err)
		return
	}
	s.arbiter.Start(payload.PeerID)
	s.notifier.Publish(UpdateSharing)
}

func (s *Session) onUserStoppedSharing(json.RawMessage) {
	s.arbiter.Stop()
	s.notifier.Publish(UpdateSharing)
}

func (s *Session) onNameChanged(data json.RawMessage) {
	var payload signaling.NameChangePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad name-changed payload", "err", err)
		return
	}
	s.registry.UpsertName(payload.PeerID, payload.UserName)
	s.notifier.Publish(UpdateRoster)
}

func (s *Session) onUserJoined(data json.RawMessage) {
	var peer protocol.PeerInfo
	if err := json.Unmarshal(data, &peer); err != nil {
		s.logger.Warn("bad user-joined payload", "err", err)
		return
	}
	s.registry.UpsertName(peer.ID, peer.Name)
	s.notifier.Publish(UpdateRoster)
	s.connectTo(peer)
}

// connectTo places the outbound call for a freshly joined peer. Without a
// local stream the join is dropped here, with no queue and no retry; the
// peer's own outbound path still reaches us.
func (s *Session) connectTo(peer protocol.PeerInfo) {
	if s.closed.Load() {
		return
	}
	local := s.media.Camera()
	if local == nil {
		s.logger.Debug("join dropped, local stream not ready", "peer_id", peer.ID)
		return
	}

	call, err := s.connector.Connect(s.ctx, peer.ID, local, CallMetadata{DisplayName: s.DisplayName()})
	if err != nil {
		s.logger.Warn("outbound call failed", "peer_id", peer.ID, "err", err)
		return
	}
	s.trackCall(call)
}

func (s *Session) onIncoming(in IncomingCall) {
	if s.closed.Load() {
		return
	}
	if meta := in.Metadata(); meta.DisplayName != "" {
		s.registry.UpsertName(in.PeerID(), meta.DisplayName)
		s.notifier.Publish(UpdateRoster)
	}

	call, err := in.Answer(s.media.Camera())
	if err != nil {
		s.logger.Warn("answer failed", "peer_id", in.PeerID(), "err", err)
		return
	}
	s.trackCall(call)
}

func (s *Session) trackCall(call Call) {
	s.callsMu.Lock()
	s.calls[call.PeerID()] = call
	s.callsMu.Unlock()

	call.OnStream(func(stream RemoteStream) {
		if s.closed.Load() {
			return
		}
		s.registry.UpsertStream(call.PeerID(), stream)
		s.notifier.Publish(UpdateRoster)
	})
	s.notifier.Publish(UpdateConnection)
}

// forEachCall applies f to every live call concurrently. Failures are
// logged per call and never interrupt the rest: substitution is
// best-effort by contract.
func (s *Session) forEachCall(ctx context.Context, f func(Call) error) {
	s.callsMu.Lock()
	calls := make([]Call, 0, len(s.calls))
	for _, call := range s.calls {
		calls = append(calls, call)
	}
	s.callsMu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, call := range calls {
		call := call
		g.Go(func() error {
			if err := f(call); err != nil {
				s.logger.Warn("call update failed", "peer_id", call.PeerID(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// StartScreenShare promotes the local user to room sharer: capture the
// screen, claim the arbiter, announce, and swap the outbound video track on
// every live link. Per-link failures do not roll the claim back.
func (s *Session) StartScreenShare(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	screen, err := s.media.AcquireScreen()
	if err != nil {
		return err
	}

	localID := s.LocalInfo().ID
	s.arbiter.Start(localID)
	s.notifier.Publish(UpdateSharing)

	err = s.bus.Emit(signaling.EventStartSharing, signaling.SharingPayload{
		RoomID: s.RoomID(),
		PeerID: localID,
	})
	if err != nil {
		s.logger.Warn("start-sharing emit failed", "err", err)
	}

	track := screen.FirstVideoTrack()
	s.forEachCall(ctx, func(call Call) error {
		return call.ReplaceVideo(track)
	})
	return nil
}

// StopScreenShare releases the claim and puts a fresh camera capture back
// on the wire.
func (s *Session) StopScreenShare(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.arbiter.Stop()
	s.notifier.Publish(UpdateSharing)

	if err := s.bus.Emit(signaling.EventStopSharing, signaling.SharingPayload{RoomID: s.RoomID()}); err != nil {
		s.logger.Warn("stop-sharing emit failed", "err", err)
	}

	if err := s.media.ReleaseScreen(); err != nil {
		s.logger.Debug("no screen stream to release", "err", err)
	}

	if _, err := s.media.AcquireCamera(); err != nil {
		// No camera to put back; pause the stale senders instead.
		s.forEachCall(ctx, func(call Call) error {
			return call.ReplaceVideo(nil)
		})
		return err
	}
	s.notifier.Publish(UpdateMedia)

	s.syncVideoSenders(ctx)
	s.syncAudioSenders(ctx)
	return nil
}

// syncVideoSenders points every outbound video sender at the camera track,
// or pauses it while the camera toggle is off.
func (s *Session) syncVideoSenders(ctx context.Context) {
	var track *media.Track
	if camera := s.media.Camera(); camera != nil && s.media.CameraOn() {
		track = camera.FirstVideoTrack()
	}
	s.forEachCall(ctx, func(call Call) error {
		return call.ReplaceVideo(track)
	})
}

// syncAudioSenders points every outbound audio sender at the camera
// capture's audio track, or pauses it while muted.
func (s *Session) syncAudioSenders(ctx context.Context) {
	var track *media.Track
	if camera := s.media.Camera(); camera != nil && s.media.AudioOn() {
		track = camera.FirstAudioTrack()
	}
	s.forEachCall(ctx, func(call Call) error {
		return call.ReplaceAudio(track)
	})
}

// ToggleCamera flips the capture flag and, unless the screen is on the
// wire, pauses or resumes the outbound video senders to match.
func (s *Session) ToggleCamera(ctx context.Context) bool {
	on := s.media.ToggleCamera()
	s.notifier.Publish(UpdateMedia)

	if s.arbiter.SharedBy(s.LocalInfo().ID) {
		// The senders carry the screen track right now; only the capture
		// flags changed.
		return on
	}
	s.syncVideoSenders(ctx)
	return on
}

// ToggleAudio flips the audio flag and pauses or resumes the outbound
// audio senders to match, so a mute is silent on the wire too.
func (s *Session) ToggleAudio(ctx context.Context) bool {
	on := s.media.ToggleAudio()
	s.notifier.Publish(UpdateMedia)
	s.syncAudioSenders(ctx)
	return on
}

// SetDisplayName renames the local participant room-wide.
func (s *Session) SetDisplayName(name string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.localMu.Lock()
	renamed, err := s.local.Rename(name)
	if err != nil {
		s.localMu.Unlock()
		return err
	}
	s.local = renamed
	s.localMu.Unlock()

	err = s.bus.Emit(signaling.EventChangeName, signaling.NameChangePayload{
		RoomID:   s.RoomID(),
		PeerID:   renamed.PeerID,
		UserName: renamed.Name,
	})
	if err != nil {
		s.logger.Warn("change-name emit failed", "err", err)
	}
	s.notifier.Publish(UpdateRoom)
	return nil
}

// SendMessage appends to the chat log and announces the same payload.
func (s *Session) SendMessage(content string) (protocol.ChatMessage, error) {
	if s.closed.Load() {
		return protocol.ChatMessage{}, ErrSessionClosed
	}

	msg := protocol.NewChatMessage(content, s.DisplayName())
	s.chat.Append(msg)
	s.notifier.Publish(UpdateChat)

	err := s.bus.Emit(signaling.EventSendMessage, signaling.SendMessagePayload{
		RoomID:  s.RoomID(),
		Message: msg,
	})
	if err != nil {
		s.logger.Warn("send-message emit failed", "err", err)
	}
	return msg, nil
}

func (s *Session) onAddMessage(data json.RawMessage) {
	var payload signaling.AddMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad add-message payload", "err", err)
		return
	}
	s.chat.Append(payload.Message)
	s.notifier.Publish(UpdateChat)
}

func (s *Session) onGetMessages(data json.RawMessage) {
	var payload signaling.GetMessagesPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("bad get-messages payload", "err", err)
		return
	}
	s.chat.Backfill(payload.Messages)
	s.notifier.Publish(UpdateChat)
}

func (s *Session) ToggleChat() bool {
	open := s.chat.ToggleOpen()
	s.notifier.Publish(UpdateChat)
	return open
}

func (s *Session) RoomID() protocol.RoomID {
	return s.roomID.Load()
}

func (s *Session) LocalInfo() protocol.PeerInfo {
	s.localMu.RLock()
	defer s.localMu.RUnlock()
	return s.local.Info()
}

func (s *Session) DisplayName() string {
	s.localMu.RLock()
	defer s.localMu.RUnlock()
	return s.local.Name
}

func (s *Session) Registry() *Registry { return s.registry }

func (s *Session) Arbiter() *Arbiter { return s.arbiter }

func (s *Session) Chat() *ChatLog { return s.chat }

func (s *Session) Media() *media.Controller { return s.media }

func (s *Session) Notifier() *Notifier { return s.notifier }

func (s *Session) callState(id protocol.PeerID) CallState {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	if call, ok := s.calls[id]; ok {
		return call.State()
	}
	return CallIdle
}

// Close tears the session down unconditionally: subscriptions detached,
// umbrella connection handle closed, devices released. Safe to call twice.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, event := range sessionEvents {
		s.bus.Off(event)
	}
	if s.cancel != nil {
		s.cancel(ErrSessionClosed)
	}

	err := s.connector.Close()
	s.media.Close()
	s.notifier.Close()
	return errors.Join(err, s.bus.Close())
}
