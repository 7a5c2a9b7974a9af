package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"clip_library/internal/app"
)

func TestParseFlagsFrom(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    config
		wantErr string
	}{
		{
			name: "import defaults",
			args: []string{"--import", "feed.json"},
			want: config{
				importCatalog: "feed.json",
				channel:       app.ChannelAll,
				limit:         20,
			},
		},
		{
			name: "list clips with filters",
			args: []string{"--list-clips", "--channel", "g1", "--poster", "bob", "--search", "boss", "--sort", " Oldest ", "--date-range", "past_week", "--hide-expired", "--limit", "0"},
			want: config{
				listClips:   true,
				channel:     "g1",
				poster:      "bob",
				search:      "boss",
				sort:        "oldest",
				dateRange:   "past_week",
				hideExpired: true,
				limit:       0,
			},
		},
		{
			name: "serve with overrides",
			args: []string{"--serve", "--config", "gallery.yaml", "--http-addr", ":9090", "--page-size", "24", "--log-level", "debug"},
			want: config{
				serve:      true,
				configPath: "gallery.yaml",
				httpAddr:   ":9090",
				pageSize:   24,
				logLevel:   "debug",
				channel:    app.ChannelAll,
				limit:      20,
			},
		},
		{
			name: "share",
			args: []string{"--share", "42", "--channel", "g1", "--share-base", "https://clips.example/"},
			want: config{
				share:     "42",
				shareBase: "https://clips.example/",
				channel:   "g1",
				limit:     20,
			},
		},
		{
			name: "icons and catalog together",
			args: []string{"--import", "a.json", "--import-icons", "b.json", "--shape", "nested"},
			want: config{
				importCatalog: "a.json",
				importIcons:   "b.json",
				catalogShape:  "nested",
				channel:       app.ChannelAll,
				limit:         20,
			},
		},
		{
			name:    "no mode",
			wantErr: "provide one of --import, --import-icons, --list-channels, --list-clips, --stats, --export, --share or --serve",
		},
		{
			name:    "two modes",
			args:    []string{"--stats", "--serve"},
			wantErr: "provide only one mode at a time",
		},
		{
			name:    "negative limit",
			args:    []string{"--list-clips", "--limit", "-1"},
			wantErr: "--limit must be >= 0",
		},
		{
			name:    "bad sort",
			args:    []string{"--list-clips", "--sort", "random"},
			wantErr: "--sort must be newest or oldest",
		},
		{
			name:    "bad date range",
			args:    []string{"--list-clips", "--date-range", "yesterday"},
			wantErr: "--date-range must be past_week, past_month or past_year",
		},
		{
			name:    "empty channel",
			args:    []string{"--list-clips", "--channel", " "},
			wantErr: "--channel must not be empty",
		},
		{
			name:    "page size too big",
			args:    []string{"--serve", "--page-size", "501"},
			wantErr: "--page-size must be between 1 and 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet(tt.name, flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			got, err := parseFlagsFrom(fs, tt.args)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("expected error %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("unexpected config: %#v", got)
			}
		})
	}
}

func TestClipFilters(t *testing.T) {
	got := clipFilters(config{channel: app.ChannelAll, poster: "bob", sort: "oldest", hideExpired: true})
	want := map[string]string{"Poster": "bob", "Date": "oldest", "Expired": "hide_expired"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("clipFilters (-want +got):\n%s", diff)
	}

	got = clipFilters(config{channel: "g1", search: "boss", dateRange: "past_year"})
	want = map[string]string{"channelId": "g1", "Search": "boss", "DateRange": "past_year"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("clipFilters (-want +got):\n%s", diff)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much longer than that", 10, "much lo..."},
		{"ゲームのハイライト集", 10, "ゲームのハイライト集"},
		{"ゲームのハイライト集です", 10, "ゲームのハイラ..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.maxLen)
		if got != tt.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) = %q is not valid UTF-8", tt.input, tt.maxLen, got)
		}
	}
}

const testFeed = `[
	{"id": "1", "channelId": "g1", "Poster": "bob", "Date": 1700000000, "Filename": "boss_fight.mp4"},
	{"id": "2", "channelId": "g1", "Poster": "alice", "Date": 1700000100, "Filename": "menu.mp4"},
	{"id": "3", "channelId": "g2", "Poster": "bob", "Date": 1700000200, "Filename": "clutch.mp4"}
]`

func TestRunImportListExport(t *testing.T) {
	dir := t.TempDir()
	feed := filepath.Join(dir, "feed.json")
	icons := filepath.Join(dir, "icons.json")
	require.NoError(t, os.WriteFile(feed, []byte(testFeed), 0o644))
	require.NoError(t, os.WriteFile(icons, []byte(`{"bob": "https://icons/bob.png"}`), 0o644))
	db := filepath.Join(dir, "clips.db")

	base := config{dbPath: db, logLevel: "error", channel: app.ChannelAll, limit: 20}

	var out bytes.Buffer
	cfg := base
	cfg.importCatalog = feed
	cfg.importIcons = icons
	require.NoError(t, run(cfg, &out))
	require.Contains(t, out.String(), "Imported 3 clips across 2 channels (0 skipped)")
	require.Contains(t, out.String(), "Imported 1 author icons")

	out.Reset()
	cfg = base
	cfg.listClips = true
	cfg.poster = "bob"
	cfg.sort = "oldest"
	require.NoError(t, run(cfg, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, "Clips (2 of 2):", lines[0])
	require.Contains(t, lines[1], "Boss fightmp4")
	require.Contains(t, lines[2], "Clutchmp4")

	out.Reset()
	cfg = base
	cfg.listChannels = true
	require.NoError(t, run(cfg, &out))
	require.Contains(t, out.String(), "g1")
	require.Contains(t, out.String(), "2 clips")

	out.Reset()
	cfg = base
	cfg.showStats = true
	require.NoError(t, run(cfg, &out))
	require.Contains(t, out.String(), "Total clips:    3")

	out.Reset()
	snapshotPath := filepath.Join(dir, "snapshot.json")
	cfg = base
	cfg.exportPath = snapshotPath
	require.NoError(t, run(cfg, &out))
	data, err := os.ReadFile(snapshotPath)
	require.NoError(t, err)
	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Len(t, snap.Clips, 3)
	require.Equal(t, int64(1700000000000), snap.Clips[0].Timestamp)
	require.Len(t, snap.Icons, 1)
}

func TestRunShare(t *testing.T) {
	var out bytes.Buffer
	cfg := config{share: "a b", channel: "g1", shareBase: "https://clips.example/", logLevel: "error", limit: 20}
	require.NoError(t, run(cfg, &out))
	require.Equal(t, "https://clips.example/?clip=a+b&chan=g1\n", out.String())
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gallery:\n  page_size: 9000\n"), 0o644))
	err := run(config{configPath: path, showStats: true, channel: app.ChannelAll}, io.Discard)
	require.Error(t, err)
}
