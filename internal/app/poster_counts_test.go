package app

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPosterCountIndex_CountsByChannel(t *testing.T) {
	p := NewPosterCountIndex(scenarioCatalog())

	tests := []struct {
		scope string
		want  map[string]int
	}{
		{ChannelAll, map[string]int{"bob": 2, "alice": 1}},
		{"g1", map[string]int{"bob": 1, "alice": 1}},
		{"g2", map[string]int{"bob": 1}},
		{"nowhere", map[string]int{}},
		{"", map[string]int{}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, p.CountsByChannel(tt.scope)); diff != "" {
			t.Errorf("scope %q (-want +got):\n%s", tt.scope, diff)
		}
	}
	if got := p.Total(ChannelAll); got != 3 {
		t.Fatalf("Total(all) = %d, want 3", got)
	}
}

func TestPosterCountIndex_MemoIsolated(t *testing.T) {
	p := NewPosterCountIndex(scenarioCatalog())
	counts := p.CountsByChannel("g1")
	counts["bob"] = 99
	if got := p.CountsByChannel("g1")["bob"]; got != 1 {
		t.Fatalf("caller mutation leaked into memo: bob = %d", got)
	}

	p.Replace([]ClipItem{{ID: "9", ChannelID: "g1", Poster: "carol"}})
	if diff := cmp.Diff(map[string]int{"carol": 1}, p.CountsByChannel("g1")); diff != "" {
		t.Fatalf("stale memo after Replace:\n%s", diff)
	}
}

func TestReconcileAuthor(t *testing.T) {
	catalog := []ClipItem{
		{ID: "1", ChannelID: "gameA", Poster: "bob"},
		{ID: "2", ChannelID: "gameB", Poster: "alice"},
	}
	counts := NewPosterCountIndex(catalog).CountsByChannel("gameA")

	if got := ReconcileAuthor("alice", counts); got != NoValue {
		t.Fatalf("alice has no gameA clips, got %q", got)
	}
	if got := ReconcileAuthor("bob", counts); got != "bob" {
		t.Fatalf("bob should stay selected, got %q", got)
	}
	if got := ReconcileAuthor(NoValue, counts); got != NoValue {
		t.Fatalf("got %q", got)
	}
}
