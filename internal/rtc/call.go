package rtc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/atomic"

	"github.com/Sergey-Ryabko-84/next-talk/internal/media"
	"github.com/Sergey-Ryabko-84/next-talk/internal/session"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/rtpstats"
)

const rtcpReadBufferSize = 1500

// remoteStream aggregates the tracks one peer connection delivers. The
// registry references it by interface; the drain loops own the packets.
type remoteStream struct {
	id string

	mu    sync.Mutex
	kinds []string
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.kinds...)
}

func (s *remoteStream) addKind(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
}

var _ session.RemoteStream = (*remoteStream)(nil)

// call is one peer link riding the shared rendezvous socket. Candidates
// arriving before the remote description are queued and flushed once it
// lands; everything after that trickles straight into the agent.
type call struct {
	rendezvous *Rendezvous
	id         string
	peerID     protocol.PeerID
	pc         *webrtc.PeerConnection

	state  *atomic.Int32
	closed *atomic.Bool

	mu          sync.Mutex
	onStream    func(session.RemoteStream)
	remote      *remoteStream
	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
}

func (c *call) PeerID() protocol.PeerID { return c.peerID }

func (c *call) State() session.CallState {
	return session.CallState(c.state.Load())
}

// OnStream registers the remote-stream callback. A stream that already
// arrived is delivered immediately; later tracks re-deliver the same
// aggregate handle.
func (c *call) OnStream(fn func(session.RemoteStream)) {
	c.mu.Lock()
	c.onStream = fn
	remote := c.remote
	c.mu.Unlock()

	if fn != nil && remote != nil {
		fn(remote)
	}
}

// ReplaceVideo swaps the outbound video sender's track in place. Nil (or a
// sourceless track) pauses the sender. No renegotiation is issued.
func (c *call) ReplaceVideo(track *media.Track) error {
	c.mu.Lock()
	sender := c.videoSender
	c.mu.Unlock()
	return c.replaceSenderTrack(sender, track, media.TrackKindVideo, ErrNoVideoSender)
}

// ReplaceAudio is the audio counterpart of ReplaceVideo.
func (c *call) ReplaceAudio(track *media.Track) error {
	c.mu.Lock()
	sender := c.audioSender
	c.mu.Unlock()
	return c.replaceSenderTrack(sender, track, media.TrackKindAudio, ErrNoAudioSender)
}

func (c *call) replaceSenderTrack(sender *webrtc.RTPSender, track *media.Track, kind media.TrackKind, missing error) error {
	if c.closed.Load() {
		return ErrCallClosed
	}
	if sender == nil {
		return missing
	}

	var local webrtc.TrackLocal
	if track != nil && track.Source() != nil {
		local = track.Source()
	}
	if err := sender.ReplaceTrack(local); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	return nil
}

// attachLocal adds the local capture to the connection. A nil stream still
// negotiates receive-only audio and video so the remote side's media lands.
func (c *call) attachLocal(stream *media.Stream) error {
	if stream == nil {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return fmt.Errorf("add recvonly %s transceiver: %w", kind, err)
			}
		}
		return nil
	}

	for _, track := range stream.Tracks() {
		source := track.Source()
		if source == nil {
			continue
		}

		transceiver, err := c.pc.AddTransceiverFromTrack(source, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return fmt.Errorf("add %s transceiver: %w", track.Kind(), err)
		}

		sender := transceiver.Sender()
		c.mu.Lock()
		switch track.Kind() {
		case media.TrackKindVideo:
			c.videoSender = sender
		case media.TrackKindAudio:
			c.audioSender = sender
		}
		c.mu.Unlock()

		flow := c.rendezvous.flows.OpenFlow(
			c.peerID, c.id, track.ID(), string(track.Kind()), 0, rtpstats.DirectionOutbound)
		go c.drainSenderFeedback(sender, flow)
	}
	return nil
}

// drainSenderFeedback consumes remote RTCP for one outbound sender and
// counts keyframe requests. Exits on sender stop or connection close.
func (c *call) drainSenderFeedback(sender *webrtc.RTPSender, flow *rtpstats.Flow) {
	buf := make([]byte, rtcpReadBufferSize)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				flow.AddPLI()
			}
		}
	}
}

func (c *call) onRemoteTrack(track *webrtc.TrackRemote) {
	c.mu.Lock()
	if c.remote == nil {
		c.remote = &remoteStream{id: fmt.Sprintf("remote-%s", c.id)}
	}
	remote := c.remote
	deliver := c.onStream
	c.mu.Unlock()

	kind := track.Kind().String()
	remote.addKind(kind)

	flow := c.rendezvous.flows.OpenFlow(
		c.peerID, c.id, track.ID(), kind, uint32(track.SSRC()), rtpstats.DirectionInbound)
	go c.drainRemoteTrack(track, flow)

	if deliver != nil {
		deliver(remote)
	}
}

func (c *call) drainRemoteTrack(track *webrtc.TrackRemote, flow *rtpstats.Flow) {
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.closed.Load() {
				c.rendezvous.logger.Debug("remote track read stopped",
					"peer_id", c.peerID, "call_id", c.id, "err", err)
			}
			return
		}
		flow.AddRTP(packet)
	}
}

// setRemoteDescription installs the answer or offer and flushes every
// candidate queued while it was pending.
func (c *call) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, candidate := range queued {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			c.rendezvous.logger.Warn("queued candidate rejected",
				"peer_id", c.peerID, "call_id", c.id, "err", err)
		}
	}

	c.rendezvous.logger.Debug("remote description set",
		"peer_id", c.peerID, "call_id", c.id, "media", mediaSummary(desc))
	return nil
}

func (c *call) addCandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(candidate)
}

// Close tears the link down and tells the remote side, best-effort.
func (c *call) Close() error {
	return c.close(true)
}

func (c *call) close(sendBye bool) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.state.Store(int32(session.CallClosed))

	if sendBye {
		_ = c.rendezvous.send(envelope{
			Type: envelopeBye,
			Src:  c.rendezvous.local.PeerID,
			Dst:  c.peerID,
			Call: c.id,
		})
	}
	c.rendezvous.dropCall(c.id)
	c.rendezvous.flows.DropCall(c.id)
	return c.pc.Close()
}

var _ session.Call = (*call)(nil)

// mediaSummary names the negotiated media sections, for the debug log only.
func mediaSummary(desc webrtc.SessionDescription) string {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return ""
	}
	names := make([]string, 0, len(parsed.MediaDescriptions))
	for _, section := range parsed.MediaDescriptions {
		names = append(names, section.MediaName.Media)
	}
	return strings.Join(names, ",")
}
