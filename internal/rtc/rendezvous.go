package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/atomic"

	"github.com/Sergey-Ryabko-84/next-talk/internal/identity"
	"github.com/Sergey-Ryabko-84/next-talk/internal/media"
	"github.com/Sergey-Ryabko-84/next-talk/internal/session"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/rtpstats"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/wsutils"
)

const (
	rendezvousPongWait   = 60 * time.Second
	rendezvousPingPeriod = 54 * time.Second
)

// Rendezvous is the umbrella media-connection handle: one websocket to the
// negotiation endpoint, announcing this client's identity, carrying every
// per-peer call. Closing it tears down every call at once.
type Rendezvous struct {
	logger     *slog.Logger
	api        *webrtc.API
	flows      *rtpstats.Registry
	local      identity.Local
	iceServers []webrtc.ICEServer

	conn *wsutils.ThreadSafeWriter

	mu       sync.Mutex
	calls    map[string]*call
	orphans  map[string][]webrtc.ICECandidateInit
	incoming func(session.IncomingCall)

	closed *atomic.Bool
	done   chan struct{}
}

type DialParams struct {
	Endpoint   string
	Local      identity.Local
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Flows      *rtpstats.Registry
	Logger     *slog.Logger
}

// Dial connects to the rendezvous endpoint and announces the local peer id.
// The read pump runs until the socket dies or Close is called.
func Dial(ctx context.Context, params DialParams) (*Rendezvous, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, params.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial rendezvous %s: %w", params.Endpoint, err)
	}

	r := &Rendezvous{
		logger:     params.Logger,
		api:        params.API,
		flows:      params.Flows,
		local:      params.Local,
		iceServers: params.ICEServers,
		conn:       wsutils.NewThreadSafeWriter(conn),
		calls:      make(map[string]*call),
		orphans:    make(map[string][]webrtc.ICECandidateInit),
		closed:     atomic.NewBool(false),
		done:       make(chan struct{}),
	}

	if err := r.send(envelope{Type: envelopeOpen, Src: params.Local.PeerID}); err != nil {
		_ = r.conn.Close()
		return nil, fmt.Errorf("announce identity: %w", err)
	}

	go r.readPump()
	go r.conn.KeepAlive(rendezvousPingPeriod, rendezvousPongWait)

	return r, nil
}

func (r *Rendezvous) send(env envelope) error {
	if r.closed.Load() {
		return ErrRendezvousClosed
	}
	return r.conn.WriteJSON(env)
}

func (r *Rendezvous) readPump() {
	defer close(r.done)

	for {
		var env envelope
		if err := r.conn.ReadJSON(&env); err != nil {
			if !r.closed.Load() {
				r.logger.Warn("rendezvous read pump stopped", "err", err)
			}
			return
		}
		r.dispatch(env)
	}
}

func (r *Rendezvous) dispatch(env envelope) {
	switch env.Type {
	case envelopeOffer:
		r.onOffer(env)
	case envelopeAnswer:
		r.onAnswer(env)
	case envelopeCandidate:
		r.onCandidate(env)
	case envelopeBye:
		if c := r.lookupCall(env.Call); c != nil {
			_ = c.close(false)
		}
	case envelopeError:
		r.logger.Warn("rendezvous error", "call_id", env.Call, "reason", env.Reason)
	default:
		r.logger.Debug("rendezvous envelope without handler", "type", env.Type)
	}
}

func (r *Rendezvous) onOffer(env envelope) {
	if r.lookupCall(env.Call) != nil {
		// Renegotiation is not part of this protocol; the first offer
		// wins for a call id.
		r.logger.Debug("duplicate offer ignored", "call_id", env.Call, "peer_id", env.Src)
		return
	}

	r.mu.Lock()
	deliver := r.incoming
	r.mu.Unlock()

	if deliver == nil {
		r.logger.Debug("incoming call dropped, no handler", "peer_id", env.Src)
		return
	}
	deliver(&incomingCall{rendezvous: r, env: env})
}

func (r *Rendezvous) onAnswer(env envelope) {
	c := r.lookupCall(env.Call)
	if c == nil || env.SDP == nil {
		r.logger.Debug("answer for unknown call", "call_id", env.Call)
		return
	}
	if err := c.setRemoteDescription(*env.SDP); err != nil {
		r.logger.Warn("answer rejected", "peer_id", c.peerID, "call_id", c.id, "err", err)
	}
}

// onCandidate routes trickle candidates. Candidates racing ahead of their
// offer are parked per call id and drained once the call exists.
func (r *Rendezvous) onCandidate(env envelope) {
	if env.Candidate == nil {
		return
	}

	c := r.lookupCall(env.Call)
	if c == nil {
		r.mu.Lock()
		r.orphans[env.Call] = append(r.orphans[env.Call], *env.Candidate)
		r.mu.Unlock()
		return
	}
	if err := c.addCandidate(*env.Candidate); err != nil {
		r.logger.Warn("candidate rejected", "peer_id", c.peerID, "call_id", c.id, "err", err)
	}
}

func (r *Rendezvous) lookupCall(id string) *call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *Rendezvous) dropCall(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
}

// newCall builds the peer connection and registers the call so envelope
// routing works before any signaling round-trip completes.
func (r *Rendezvous) newCall(peerID protocol.PeerID, callID string) (*call, error) {
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{ICEServers: r.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c := &call{
		rendezvous: r,
		id:         callID,
		peerID:     peerID,
		pc:         pc,
		state:      atomic.NewInt32(int32(session.CallConnecting)),
		closed:     atomic.NewBool(false),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		err := r.send(envelope{
			Type:      envelopeCandidate,
			Src:       r.local.PeerID,
			Dst:       peerID,
			Call:      callID,
			Candidate: &init,
		})
		if err != nil {
			r.logger.Debug("candidate not sent", "peer_id", peerID, "call_id", callID, "err", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.logger.Debug("call state changed",
			"peer_id", peerID, "call_id", callID, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.state.Store(int32(session.CallConnected))
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.state.Store(int32(session.CallClosed))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.onRemoteTrack(track)
	})

	r.mu.Lock()
	if _, exists := r.calls[callID]; exists {
		r.mu.Unlock()
		_ = pc.Close()
		return nil, ErrCallExists
	}
	r.calls[callID] = c
	orphaned := r.orphans[callID]
	delete(r.orphans, callID)
	r.mu.Unlock()

	c.mu.Lock()
	c.pending = append(c.pending, orphaned...)
	c.mu.Unlock()

	return c, nil
}

// Connect places an outbound call: local capture attached, offer sent with
// the caller's display name riding as metadata, answer and candidates
// arriving asynchronously through the read pump.
func (r *Rendezvous) Connect(ctx context.Context, peerID protocol.PeerID, local *media.Stream, meta session.CallMetadata) (session.Call, error) {
	if r.closed.Load() {
		return nil, ErrRendezvousClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := r.newCall(peerID, uuid.NewString())
	if err != nil {
		return nil, err
	}

	if err := c.attachLocal(local); err != nil {
		_ = c.close(false)
		return nil, err
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		_ = c.close(false)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		_ = c.close(false)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	err = r.send(envelope{
		Type:     envelopeOffer,
		Src:      r.local.PeerID,
		Dst:      peerID,
		Call:     c.id,
		Metadata: &meta,
		SDP:      &offer,
	})
	if err != nil {
		_ = c.close(false)
		return nil, fmt.Errorf("send offer: %w", err)
	}

	r.logger.Info("outbound call placed", "peer_id", peerID, "call_id", c.id)
	return c, nil
}

func (r *Rendezvous) OnIncoming(handler func(session.IncomingCall)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = handler
}

// Done closes once the read pump exits.
func (r *Rendezvous) Done() <-chan struct{} {
	return r.done
}

// Close drops the socket and every live call. Per-peer bye frames are not
// sent: the endpoint infers departure from the socket going away.
func (r *Rendezvous) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.Lock()
	calls := make([]*call, 0, len(r.calls))
	for _, c := range r.calls {
		calls = append(calls, c)
	}
	r.mu.Unlock()

	for _, c := range calls {
		_ = c.close(false)
	}
	return r.conn.Close()
}

var _ session.Connector = (*Rendezvous)(nil)

// incomingCall defers the peer connection until Answer so the callee can
// attach (or decline to attach) local media first.
type incomingCall struct {
	rendezvous *Rendezvous
	env        envelope
}

func (in *incomingCall) PeerID() protocol.PeerID { return in.env.Src }

func (in *incomingCall) Metadata() session.CallMetadata {
	if in.env.Metadata == nil {
		return session.CallMetadata{}
	}
	return *in.env.Metadata
}

func (in *incomingCall) Answer(local *media.Stream) (session.Call, error) {
	if in.env.SDP == nil {
		return nil, ErrMissingOffer
	}

	r := in.rendezvous
	c, err := r.newCall(in.env.Src, in.env.Call)
	if err != nil {
		return nil, err
	}

	if err := c.attachLocal(local); err != nil {
		_ = c.close(false)
		return nil, err
	}
	if err := c.setRemoteDescription(*in.env.SDP); err != nil {
		_ = c.close(false)
		return nil, err
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		_ = c.close(false)
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		_ = c.close(false)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	err = r.send(envelope{
		Type: envelopeAnswer,
		Src:  r.local.PeerID,
		Dst:  in.env.Src,
		Call: c.id,
		SDP:  &answer,
	})
	if err != nil {
		_ = c.close(false)
		return nil, fmt.Errorf("send answer: %w", err)
	}

	r.logger.Info("inbound call answered", "peer_id", in.env.Src, "call_id", c.id)
	return c, nil
}

var _ session.IncomingCall = (*incomingCall)(nil)
