package rtpstats

import (
	"testing"

	"github.com/pion/rtp"
)

func snapshotByTrack(snaps []FlowSnapshot) map[string]FlowSnapshot {
	out := make(map[string]FlowSnapshot, len(snaps))
	for _, snap := range snaps {
		out[snap.TrackID] = snap
	}
	return out
}

func TestFlowCounters(t *testing.T) {
	reg := NewRegistry()
	flow := reg.OpenFlow("p1", "call-1", "track-v", "video", 42, DirectionInbound)

	flow.AddPacket(100, 7)
	flow.AddRTP(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: 8},
		Payload: make([]byte, 50),
	})
	flow.AddPLI()

	snaps := reg.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("snapshot has %d flows, want 1", len(snaps))
	}
	snap := snaps[0]
	if snap.Packets != 2 || snap.Bytes != 150 || snap.LastSeq != 8 || snap.PLIs != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestReopenReplacesCounters(t *testing.T) {
	reg := NewRegistry()
	old := reg.OpenFlow("p1", "call-1", "track-v", "video", 1, DirectionOutbound)
	old.AddPacket(100, 1)

	reg.OpenFlow("p1", "call-1", "track-v", "video", 2, DirectionOutbound)

	snaps := reg.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("snapshot has %d flows, want 1", len(snaps))
	}
	if snaps[0].Packets != 0 || snaps[0].SSRC != 2 {
		t.Fatalf("snapshot = %+v, want fresh counters", snaps[0])
	}
}

func TestDropCallKeepsOtherCallsForSamePeer(t *testing.T) {
	reg := NewRegistry()
	reg.OpenFlow("p1", "call-old", "old-v", "video", 1, DirectionOutbound)
	reg.OpenFlow("p1", "call-new", "new-v", "video", 2, DirectionOutbound)
	reg.OpenFlow("p2", "call-other", "other-v", "video", 3, DirectionInbound)

	reg.DropCall("call-old")

	byTrack := snapshotByTrack(reg.Snapshot())
	if _, ok := byTrack["old-v"]; ok {
		t.Fatal("dropped call's flow still present")
	}
	if _, ok := byTrack["new-v"]; !ok {
		t.Fatal("replacement call's flow was erased")
	}
	if _, ok := byTrack["other-v"]; !ok {
		t.Fatal("unrelated peer's flow was erased")
	}
}
