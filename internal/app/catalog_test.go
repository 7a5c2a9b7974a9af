package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T, registry []Channel) (*FilterManager, *CatalogStore) {
	t.Helper()
	filters := newTestFilters(t)
	store, err := NewCatalogStore(filters, registry, discardLogger())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return filters, store
}

func TestCatalogStore_ChannelScoping(t *testing.T) {
	_, store := newTestCatalog(t, nil)
	store.Replace(scenarioCatalog())

	all := store.WorkingSet().Len()
	for _, ch := range []string{"g1", "g2"} {
		require.NoError(t, store.SetChannel(ch))
		if got := store.WorkingSet().Len(); got > all {
			t.Fatalf("channel %s has %d items, more than all (%d)", ch, got, all)
		}
		for _, item := range store.WorkingSet().Items {
			if item.ChannelID != ch {
				t.Fatalf("item %s from %s leaked into scope %s", item.ID, item.ChannelID, ch)
			}
		}
	}
	require.NoError(t, store.SetChannel("g1"))
	require.Equal(t, []string{"2", "1"}, ids(store.WorkingSet().Items))
}

func TestCatalogStore_SetChannelUnknown(t *testing.T) {
	_, store := newTestCatalog(t, []Channel{{ID: "registered", Name: "Registered"}})
	store.Replace(scenarioCatalog())
	before := store.WorkingSet()

	err := store.SetChannel("nowhere")
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("got %v, want ErrUnknownChannel", err)
	}
	if store.WorkingSet() != before {
		t.Fatal("failed SetChannel replaced the working set")
	}
	require.Equal(t, ChannelAll, store.Channel())

	// Registered channels are valid even with no clips.
	require.NoError(t, store.SetChannel("registered"))
	require.Zero(t, store.WorkingSet().Len())
}

func TestCatalogStore_ReplaceDropsDuplicatesAndReserved(t *testing.T) {
	_, store := newTestCatalog(t, nil)
	store.Replace([]ClipItem{
		{ID: "1", ChannelID: "g1", Poster: "first"},
		{ID: "1", ChannelID: "g1", Poster: "second"},
		{ID: "1", ChannelID: "g2", Poster: "other channel"},
		{ID: "2", ChannelID: ChannelAll},
	})

	raw := store.Raw()
	require.Len(t, raw, 2)
	require.Equal(t, "first", raw[0].Poster)
	require.Equal(t, "g2", raw[1].ChannelID)
}

func TestCatalogStore_EveryChangeYieldsNewWorkingSet(t *testing.T) {
	filters, store := newTestCatalog(t, nil)
	var delivered []*WorkingSet
	store.Subscribe(func(ws *WorkingSet) { delivered = append(delivered, ws) })

	store.Replace(scenarioCatalog())
	require.NoError(t, filters.SetFilter("Poster", "bob"))
	require.NoError(t, store.SetChannel("g2"))
	require.NoError(t, store.SetChannel("g2"))

	require.Len(t, delivered, 3)
	for i := 1; i < len(delivered); i++ {
		if delivered[i] == delivered[i-1] {
			t.Fatalf("delivery %d reused the previous working set", i)
		}
		if delivered[i].Generation <= delivered[i-1].Generation {
			t.Fatalf("generation did not increase at delivery %d", i)
		}
	}
	require.Equal(t, []string{"3"}, ids(store.WorkingSet().Items))
}

func TestCatalogStore_Unsubscribe(t *testing.T) {
	_, store := newTestCatalog(t, nil)
	calls := 0
	cancel := store.Subscribe(func(*WorkingSet) { calls++ })
	store.Replace(scenarioCatalog())
	cancel()
	store.Replace(nil)
	require.Equal(t, 1, calls)
}

func TestCatalogStore_Channels(t *testing.T) {
	_, store := newTestCatalog(t, []Channel{{ID: "g2", Name: "Game Two"}, {ID: "empty", Name: "Empty"}})
	store.Replace(scenarioCatalog())

	got := store.Channels()
	want := []Channel{{ID: "g2", Name: "Game Two"}, {ID: "empty", Name: "Empty"}, {ID: "g1", Name: "g1"}}
	require.Equal(t, want, got)
}

func TestValidateRegistry(t *testing.T) {
	tests := []struct {
		name     string
		registry []Channel
		wantErr  bool
	}{
		{"ok", []Channel{{ID: "a"}, {ID: "b"}}, false},
		{"empty id", []Channel{{ID: ""}}, true},
		{"reserved", []Channel{{ID: ChannelAll}}, true},
		{"duplicate", []Channel{{ID: "a"}, {ID: "a"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegistry(tt.registry)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRegistry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	require.ErrorIs(t, ValidateRegistry([]Channel{{ID: ChannelAll}}), ErrReservedChannel)
}

func TestWorkingSet_NilSafe(t *testing.T) {
	var ws *WorkingSet
	require.Zero(t, ws.Len())
	require.Equal(t, -1, ws.IndexOf("x"))
	_, ok := ws.Find("x")
	require.False(t, ok)
}
