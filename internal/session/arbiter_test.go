package session

import (
	"testing"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
)

func TestArbiterLastWriterWins(t *testing.T) {
	type step struct {
		start protocol.PeerID
		stop  bool
	}
	tests := map[string]struct {
		steps   []step
		want    protocol.PeerID
		sharing bool
	}{
		"empty":              {steps: nil, want: "", sharing: false},
		"single start":       {steps: []step{{start: "a"}}, want: "a", sharing: true},
		"second start wins":  {steps: []step{{start: "a"}, {start: "b"}}, want: "b", sharing: true},
		"restart same owner": {steps: []step{{start: "a"}, {start: "a"}}, want: "a", sharing: true},
		"stop clears":        {steps: []step{{start: "a"}, {stop: true}}, want: "", sharing: false},
		"stop while idle":    {steps: []step{{stop: true}}, want: "", sharing: false},
		"start after stop": {
			steps:   []step{{start: "a"}, {stop: true}, {start: "b"}},
			want:    "b",
			sharing: true,
		},
		"stop ignores owner": {
			steps:   []step{{start: "a"}, {start: "b"}, {stop: true}},
			want:    "",
			sharing: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			a := NewArbiter()
			for _, s := range tc.steps {
				if s.stop {
					a.Stop()
				} else {
					a.Start(s.start)
				}
			}
			id, ok := a.Current()
			if ok != tc.sharing {
				t.Fatalf("sharing = %v, want %v", ok, tc.sharing)
			}
			if id != tc.want {
				t.Fatalf("sharer = %q, want %q", id, tc.want)
			}
		})
	}
}

func TestArbiterSharedBy(t *testing.T) {
	a := NewArbiter()
	if a.SharedBy("a") {
		t.Fatal("idle arbiter claims a sharer")
	}
	a.Start("a")
	if !a.SharedBy("a") {
		t.Fatal("expected a to hold the claim")
	}
	if a.SharedBy("b") {
		t.Fatal("b must not hold the claim")
	}
	a.Stop()
	if a.SharedBy("a") {
		t.Fatal("claim must be gone after stop")
	}
}
