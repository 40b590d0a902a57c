package media

import (
	"github.com/pion/mediadevices"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/atomic"
)

type TrackKind string

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
)

// Track pairs one capture source with the mute flag the toggles flip. The
// flag is plain session state; pausing the actual senders is the
// orchestrator's job.
type Track struct {
	id      string
	kind    TrackKind
	source  mediadevices.Track
	enabled *atomic.Bool
}

func NewTrack(id string, kind TrackKind, source mediadevices.Track) *Track {
	return &Track{
		id:      id,
		kind:    kind,
		source:  source,
		enabled: atomic.NewBool(true),
	}
}

func (t *Track) ID() string { return t.id }

func (t *Track) Kind() TrackKind { return t.kind }

// Source returns the capture-side track, nil for synthetic tracks used in
// tests.
func (t *Track) Source() mediadevices.Track { return t.source }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *Track) close() {
	if t.source != nil {
		_ = t.source.Close()
	}
}

// Stream is an immutable set of tracks captured together. Camera streams
// carry video+audio, screen streams video only.
type Stream struct {
	id     string
	tracks []*Track
}

func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

// NewStreamOf wraps a mediadevices capture result.
func NewStreamOf(id string, source mediadevices.MediaStream) *Stream {
	var tracks []*Track
	for _, tr := range source.GetTracks() {
		kind := TrackKindAudio
		if tr.Kind() == webrtc.RTPCodecTypeVideo {
			kind = TrackKindVideo
		}
		tracks = append(tracks, NewTrack(tr.ID(), kind, tr))
	}
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []*Track { return s.tracks }

func (s *Stream) TracksOfKind(kind TrackKind) []*Track {
	var out []*Track
	for _, tr := range s.tracks {
		if tr.kind == kind {
			out = append(out, tr)
		}
	}
	return out
}

// FirstVideoTrack returns the track a sender substitution should carry, nil
// when the stream has no video.
func (s *Stream) FirstVideoTrack() *Track {
	for _, tr := range s.tracks {
		if tr.kind == TrackKindVideo {
			return tr
		}
	}
	return nil
}

// FirstAudioTrack is the audio counterpart of FirstVideoTrack.
func (s *Stream) FirstAudioTrack() *Track {
	for _, tr := range s.tracks {
		if tr.kind == TrackKindAudio {
			return tr
		}
	}
	return nil
}

func (s *Stream) SetKindEnabled(kind TrackKind, enabled bool) {
	for _, tr := range s.tracks {
		if tr.kind == kind {
			tr.SetEnabled(enabled)
		}
	}
}

func (s *Stream) Close() {
	for _, tr := range s.tracks {
		tr.close()
	}
}
