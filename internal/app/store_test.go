package app

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	return store
}

func seedCatalog(t *testing.T, store *SQLiteStore) {
	t.Helper()
	channels := []Channel{{ID: "g1", Name: "Game One"}, {ID: "g2"}}
	clips := []ClipItem{
		{ID: "1", ChannelID: "g1", Poster: "bob", Timestamp: testNow.Add(-3 * time.Hour), Filename: "one.mp4"},
		{ID: "2", ChannelID: "g1", Poster: "alice", Timestamp: testNow.Add(-2 * time.Hour), ExpireTimestamp: testNow.Add(-time.Hour)},
		{ID: "3", ChannelID: "g2", Poster: "bob", Timestamp: testNow.Add(-time.Hour), ExpireTimestamp: testNow.Add(time.Hour), DurationSeconds: 42},
	}
	if err := store.ReplaceCatalog(context.Background(), channels, clips); err != nil {
		t.Fatalf("ReplaceCatalog: %v", err)
	}
}

func TestSQLiteStoreCatalog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, store)

	ch, err := store.GetChannel(ctx, "g1")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if ch == nil || ch.Name != "Game One" {
		t.Fatalf("got %+v, want Game One", ch)
	}
	ch, _ = store.GetChannel(ctx, "g2")
	if ch.Name != "g2" {
		t.Fatalf("unnamed channel should fall back to its id, got %q", ch.Name)
	}
	ch, err = store.GetChannel(ctx, "missing")
	if err != nil || ch != nil {
		t.Fatalf("GetChannel(missing) = %v, %v", ch, err)
	}

	clips, err := store.ListClips(ctx)
	if err != nil {
		t.Fatalf("ListClips: %v", err)
	}
	if len(clips) != 3 {
		t.Fatalf("got %d clips, want 3", len(clips))
	}
	if !clips[0].Timestamp.Equal(testNow.Add(-3 * time.Hour)) {
		t.Fatalf("timestamp round trip: got %v", clips[0].Timestamp)
	}
	if !clips[0].ExpireTimestamp.IsZero() {
		t.Fatalf("missing expiry should stay zero, got %v", clips[0].ExpireTimestamp)
	}

	clip, err := store.GetClip(ctx, "g2", "3")
	if err != nil {
		t.Fatalf("GetClip: %v", err)
	}
	if clip == nil || clip.DurationSeconds != 42 {
		t.Fatalf("got %+v", clip)
	}
	clip, _ = store.GetClip(ctx, "g1", "3")
	if clip != nil {
		t.Fatal("clip 3 is not in g1")
	}

	byChannel, err := store.ListClipsByChannel(ctx, "g1", 0)
	if err != nil {
		t.Fatalf("ListClipsByChannel: %v", err)
	}
	require.Equal(t, []string{"2", "1"}, ids(byChannel))
	byChannel, _ = store.ListClipsByChannel(ctx, "g1", 1)
	require.Len(t, byChannel, 1)
}

func TestSQLiteStoreReplaceCatalog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, store)

	if err := store.ReplaceCatalog(ctx, []Channel{{ID: "g9"}}, []ClipItem{{ID: "x", ChannelID: "g9"}}); err != nil {
		t.Fatalf("ReplaceCatalog: %v", err)
	}
	clips, _ := store.ListClips(ctx)
	require.Equal(t, []string{"x"}, ids(clips))
	channels, _ := store.ListChannels(ctx)
	require.Len(t, channels, 1)

	// A reserved channel aborts the whole replacement.
	err := store.ReplaceCatalog(ctx, []Channel{{ID: ChannelAll}}, nil)
	require.ErrorIs(t, err, ErrReservedChannel)
	clips, _ = store.ListClips(ctx)
	require.Len(t, clips, 1)

	// Duplicate primary keys roll back too.
	err = store.ReplaceCatalog(ctx, []Channel{{ID: "g1"}}, []ClipItem{
		{ID: "1", ChannelID: "g1"},
		{ID: "1", ChannelID: "g1"},
	})
	require.Error(t, err)
	clips, _ = store.ListClips(ctx)
	require.Equal(t, []string{"x"}, ids(clips))
}

func TestSQLiteStoreIcons(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	icons := []AuthorIcon{
		{Poster: "bob", DisplayURL: "https://icons/bob.png"},
		{Poster: "alice", DisplayURL: "https://icons/alice.png"},
		{Poster: "bob", DisplayURL: "https://icons/bob2.png"},
	}
	if err := store.ReplaceIcons(ctx, icons); err != nil {
		t.Fatalf("ReplaceIcons: %v", err)
	}
	got, err := store.ListIcons(ctx)
	if err != nil {
		t.Fatalf("ListIcons: %v", err)
	}
	require.Equal(t, []AuthorIcon{
		{Poster: "alice", DisplayURL: "https://icons/alice.png"},
		{Poster: "bob", DisplayURL: "https://icons/bob2.png"},
	}, got)
}

func TestSQLiteStoreStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedCatalog(t, store)

	stats, err := store.GetCatalogStats(ctx, testNow, 1)
	if err != nil {
		t.Fatalf("GetCatalogStats: %v", err)
	}
	if stats.TotalClips != 3 || stats.ExpiredClips != 1 || stats.Channels != 2 || stats.Posters != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	require.Equal(t, map[string]int{"g1": 2, "g2": 1}, stats.ClipsByChannel)
	require.Equal(t, []PosterCount{{Poster: "bob", Count: 2}}, stats.TopPosters)
	require.True(t, stats.OldestTimestamp.Equal(testNow.Add(-3*time.Hour)))
	require.True(t, stats.NewestTimestamp.Equal(testNow.Add(-time.Hour)))

	empty := newTestStore(t)
	stats, err = empty.GetCatalogStats(ctx, testNow, 5)
	require.NoError(t, err)
	require.Zero(t, stats.TotalClips)
	require.Nil(t, stats.OldestTimestamp)
	require.Empty(t, stats.TopPosters)
}

func TestSQLiteStoreMigratesDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE clips (
		channel_id TEXT NOT NULL,
		clip_id TEXT NOT NULL,
		poster TEXT,
		posted_at INTEGER,
		expires_at INTEGER,
		filename TEXT,
		media_url TEXT,
		description TEXT,
		PRIMARY KEY (channel_id, clip_id)
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO clips (channel_id, clip_id, poster) VALUES ('g1', 'old', 'bob')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	// Running it twice must not try to add the column again.
	require.NoError(t, store.EnsureSchema(ctx))

	clip, err := store.GetClip(ctx, "g1", "old")
	require.NoError(t, err)
	require.NotNil(t, clip)
	require.Zero(t, clip.DurationSeconds)
	require.Equal(t, "bob", clip.Poster)
}
