package rtpstats

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/rtp"
	"go.uber.org/atomic"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Flow accumulates packet counters for one RTP stream. The track drain
// loops feed it; it must stay allocation-free on the hot path.
type Flow struct {
	PeerID    string
	TrackID   string
	Kind      string
	SSRC      uint32
	Direction Direction

	pcID    string
	packets *atomic.Uint64
	bytes   *atomic.Uint64
	lastSeq *atomic.Uint32
	plis    *atomic.Uint64
}

func (f *Flow) AddPacket(payloadLen int, seq uint16) {
	f.packets.Inc()
	f.bytes.Add(uint64(payloadLen))
	f.lastSeq.Store(uint32(seq))
}

func (f *Flow) AddRTP(packet *rtp.Packet) {
	f.AddPacket(len(packet.Payload), packet.SequenceNumber)
}

func (f *Flow) AddPLI() {
	f.plis.Inc()
}

type FlowSnapshot struct {
	PeerID    string    `json:"peerId"`
	TrackID   string    `json:"trackId"`
	Kind      string    `json:"kind"`
	SSRC      uint32    `json:"ssrc"`
	Direction Direction `json:"direction"`
	Packets   uint64    `json:"packets"`
	Bytes     uint64    `json:"bytes"`
	LastSeq   uint32    `json:"lastSeq"`
	PLIs      uint64    `json:"plis"`
	JitterSec float64   `json:"jitterSec,omitempty"`
}

// Registry holds the stats getters handed out by the interceptor factory,
// keyed by peer-connection id, next to the flow counters opened by the
// connection code. One registry per webrtc API instance.
type Registry struct {
	mu      sync.RWMutex
	getters map[string]stats.Getter
	flows   map[string]*Flow
}

func NewRegistry() *Registry {
	return &Registry{
		getters: make(map[string]stats.Getter),
		flows:   make(map[string]*Flow),
	}
}

func (r *Registry) RegisterGetter(pcID string, getter stats.Getter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getters[pcID] = getter
}

func (r *Registry) DropGetter(pcID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.getters, pcID)
}

func flowKey(peerID, trackID string, direction Direction) string {
	return fmt.Sprintf("%s/%s/%s", peerID, trackID, direction)
}

// OpenFlow registers a flow for a track and returns the counter handle.
// Reopening the same track replaces the prior counters, which matches track
// substitution semantics.
func (r *Registry) OpenFlow(peerID, pcID, trackID, kind string, ssrc uint32, direction Direction) *Flow {
	flow := &Flow{
		PeerID:    peerID,
		TrackID:   trackID,
		Kind:      kind,
		SSRC:      ssrc,
		Direction: direction,

		pcID:    pcID,
		packets: atomic.NewUint64(0),
		bytes:   atomic.NewUint64(0),
		lastSeq: atomic.NewUint32(0),
		plis:    atomic.NewUint64(0),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[flowKey(peerID, trackID, direction)] = flow
	return flow
}

// DropCall removes the flows opened under one peer connection. Keying
// by connection rather than peer keeps a replacement call's counters
// intact while the old call tears down.
func (r *Registry) DropCall(pcID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, flow := range r.flows {
		if flow.pcID == pcID {
			delete(r.flows, key)
		}
	}
}

func (r *Registry) Snapshot() []FlowSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FlowSnapshot, 0, len(r.flows))
	for _, flow := range r.flows {
		snap := FlowSnapshot{
			PeerID:    flow.PeerID,
			TrackID:   flow.TrackID,
			Kind:      flow.Kind,
			SSRC:      flow.SSRC,
			Direction: flow.Direction,
			Packets:   flow.packets.Load(),
			Bytes:     flow.bytes.Load(),
			LastSeq:   flow.lastSeq.Load(),
			PLIs:      flow.plis.Load(),
		}
		if flow.Direction == DirectionInbound {
			// The interceptor assigns its own connection ids, so the
			// getter is found by SSRC, not by the flow's call id.
			if getter, ok := r.getters[flow.pcID]; ok {
				if s := getter.Get(flow.SSRC); s != nil {
					snap.JitterSec = s.InboundRTPStreamStats.Jitter
				}
			} else {
				for _, getter := range r.getters {
					if s := getter.Get(flow.SSRC); s != nil {
						snap.JitterSec = s.InboundRTPStreamStats.Jitter
						break
					}
				}
			}
		}
		out = append(out, snap)
	}
	return out
}
