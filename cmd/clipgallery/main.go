package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"clip_library/internal/app"
)

type config struct {
	configPath string
	dbPath     string
	httpAddr   string
	logLevel   string
	pageSize   int

	// Import
	importCatalog string
	importIcons   string
	catalogShape  string

	// Listing
	listChannels bool
	listClips    bool
	channel      string
	poster       string
	search       string
	dateRange    string
	sort         string
	hideExpired  bool
	limit        int

	showStats  bool
	exportPath string

	// Share links
	share     string
	shareBase string

	serve bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdout); err != nil {
		slog.Error("clipgallery failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, out io.Writer) error {
	settings, err := loadSettings(cfg)
	if err != nil {
		return err
	}
	logger, err := newLogger(settings.LogLevel, cfg.serve)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.share != "" {
		link, err := app.ShareLink(settings.Gallery.ShareBaseURL, cfg.share, cfg.channel)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, link)
		return nil
	}

	store, err := app.NewSQLiteStore(settings.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Debug("initialized database", "path", settings.DBPath)

	switch {
	case cfg.importCatalog != "" || cfg.importIcons != "":
		return importCmd(ctx, store, settings, cfg, logger, out)
	case cfg.listChannels:
		return listChannelsCmd(ctx, store, out)
	case cfg.listClips:
		return listClipsCmd(ctx, store, cfg, logger, out)
	case cfg.showStats:
		return showStatsCmd(ctx, store, out)
	case cfg.exportPath != "":
		return exportCmd(ctx, store, cfg.exportPath, out)
	case cfg.serve:
		return serveCmd(ctx, store, settings, logger)
	}
	return errors.New("no mode selected")
}

// loadSettings reads the config file, if any, and applies flag overrides.
func loadSettings(cfg config) (*app.Config, error) {
	settings := app.DefaultConfig()
	if cfg.configPath != "" {
		loaded, err := app.LoadConfig(cfg.configPath)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}
	if cfg.dbPath != "" {
		settings.DBPath = cfg.dbPath
	}
	if cfg.httpAddr != "" {
		settings.HTTPAddr = cfg.httpAddr
	}
	if cfg.logLevel != "" {
		settings.LogLevel = cfg.logLevel
	}
	if cfg.pageSize > 0 {
		settings.Gallery.PageSize = cfg.pageSize
	}
	if cfg.shareBase != "" {
		settings.Gallery.ShareBaseURL = cfg.shareBase
	}
	if cfg.importCatalog != "" {
		settings.Catalog.Source = cfg.importCatalog
	}
	if cfg.importIcons != "" {
		settings.Icons.Source = cfg.importIcons
	}
	if cfg.catalogShape != "" {
		settings.Catalog.Shape = app.FeedShape(cfg.catalogShape)
	}
	return settings, settings.Validate()
}

func newLogger(level string, jsonOutput bool) (*slog.Logger, error) {
	lvl, err := app.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func importCmd(ctx context.Context, store *app.SQLiteStore, settings *app.Config, cfg config, logger *slog.Logger, out io.Writer) error {
	ingester := &app.Ingester{
		Store:    store,
		Fetcher:  app.NewSourceFetcher(30 * time.Second),
		Registry: settings.Channels,
		Logger:   logger,
	}
	if cfg.importCatalog != "" {
		res, err := ingester.ImportCatalog(ctx, settings.Catalog)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %s clips across %d channels (%d skipped)\n",
			humanize.Comma(int64(res.Clips)), res.Channels, res.Skipped)
	}
	if cfg.importIcons != "" {
		res, err := ingester.ImportIcons(ctx, settings.Icons)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %d author icons\n", res.Icons)
	}
	return nil
}

func listChannelsCmd(ctx context.Context, store *app.SQLiteStore, out io.Writer) error {
	channels, err := app.NewStatsService(store).GetChannelSummaries(ctx)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		fmt.Fprintln(out, "No channels imported")
		return nil
	}
	fmt.Fprintln(out, "Channels:")
	for _, ch := range channels {
		fmt.Fprintf(out, "  %-20s | %-24s | %s clips\n", truncate(ch.ID, 20), truncate(ch.Name, 24), humanize.Comma(int64(ch.Clips)))
	}
	return nil
}

// clipFilters maps listing flags onto filter dimension values.
func clipFilters(cfg config) map[string]string {
	filters := map[string]string{}
	if cfg.channel != "" && cfg.channel != app.ChannelAll {
		filters["channelId"] = cfg.channel
	}
	if cfg.poster != "" {
		filters["Poster"] = cfg.poster
	}
	if cfg.search != "" {
		filters["Search"] = cfg.search
	}
	if cfg.dateRange != "" {
		filters["DateRange"] = cfg.dateRange
	}
	if cfg.sort != "" {
		filters["Date"] = cfg.sort
	}
	if cfg.hideExpired {
		filters["Expired"] = "hide_expired"
	}
	return filters
}

func listClipsCmd(ctx context.Context, store *app.SQLiteStore, cfg config, logger *slog.Logger, out io.Writer) error {
	clips, err := store.ListClips(ctx)
	if err != nil {
		return err
	}
	filters, err := app.NewFilterManager(app.DefaultDimensions(), logger, time.Now)
	if err != nil {
		return err
	}
	for name, value := range clipFilters(cfg) {
		if err := filters.SetFilter(name, value); err != nil {
			return err
		}
	}
	matched := filters.Apply(clips)
	if len(matched) == 0 {
		fmt.Fprintln(out, "No clips match")
		return nil
	}
	shown := matched
	if cfg.limit > 0 && len(shown) > cfg.limit {
		shown = shown[:cfg.limit]
	}
	now := time.Now()
	fmt.Fprintf(out, "Clips (%d of %d):\n", len(shown), len(matched))
	for _, c := range shown {
		expired := ""
		if c.Expired(now) {
			expired = " (expired)"
		}
		fmt.Fprintf(out, "  %-12s | %-12s | %-32s | %-14s | %s | %s%s\n",
			truncate(c.ID, 12), truncate(c.ChannelID, 12), truncate(app.FormatTitle(c.Filename), 32),
			truncate(app.FormatUsername(c.Poster), 14), app.FormatDate(c.Timestamp),
			app.RelativeDate(c.Timestamp, now), expired)
	}
	return nil
}

func showStatsCmd(ctx context.Context, store *app.SQLiteStore, out io.Writer) error {
	stats, err := app.NewStatsService(store).GetOverallStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Fprintln(out, "\n========================================")
	fmt.Fprintln(out, "         Catalog Statistics")
	fmt.Fprintln(out, "========================================")
	fmt.Fprintf(out, "Total clips:    %s\n", humanize.Comma(int64(stats.TotalClips)))
	fmt.Fprintf(out, "Expired clips:  %s\n", humanize.Comma(int64(stats.ExpiredClips)))
	fmt.Fprintf(out, "Channels:       %d\n", stats.Channels)
	fmt.Fprintf(out, "Posters:        %d\n", stats.Posters)
	if stats.OldestTimestamp != nil && stats.NewestTimestamp != nil {
		fmt.Fprintf(out, "Date range:     %s - %s\n", app.FormatDate(*stats.OldestTimestamp), app.FormatDate(*stats.NewestTimestamp))
	}
	fmt.Fprintln(out)

	if len(stats.TopPosters) > 0 {
		fmt.Fprintln(out, "Top posters:")
		for _, p := range stats.TopPosters {
			fmt.Fprintf(out, "  %-20s: %d\n", truncate(app.FormatUsername(p.Poster), 20), p.Count)
		}
	}
	fmt.Fprintln(out, "========================================")
	return nil
}

type snapshot struct {
	ExportedAt time.Time        `json:"exportedAt"`
	Channels   []app.Channel    `json:"channels"`
	Clips      []snapshotClip   `json:"clips"`
	Icons      []app.AuthorIcon `json:"icons"`
}

type snapshotClip struct {
	ID              string  `json:"id"`
	ChannelID       string  `json:"channelId"`
	Poster          string  `json:"poster"`
	Timestamp       int64   `json:"timestamp"`
	ExpireTimestamp int64   `json:"expireTimestamp,omitempty"`
	Filename        string  `json:"filename"`
	MediaURL        string  `json:"mediaUrl"`
	Description     string  `json:"description,omitempty"`
	DurationSeconds float64 `json:"duration,omitempty"`
}

// exportCmd writes a normalized snapshot of the store; timestamps are epoch
// milliseconds.
func exportCmd(ctx context.Context, store *app.SQLiteStore, path string, out io.Writer) error {
	channels, err := store.ListChannels(ctx)
	if err != nil {
		return err
	}
	clips, err := store.ListClips(ctx)
	if err != nil {
		return err
	}
	icons, err := store.ListIcons(ctx)
	if err != nil {
		return err
	}
	snap := snapshot{ExportedAt: time.Now().UTC(), Channels: channels, Icons: icons}
	for _, c := range clips {
		sc := snapshotClip{
			ID:              c.ID,
			ChannelID:       c.ChannelID,
			Poster:          c.Poster,
			Filename:        c.Filename,
			MediaURL:        c.MediaURL,
			Description:     c.Description,
			DurationSeconds: c.DurationSeconds,
		}
		if !c.Timestamp.IsZero() {
			sc.Timestamp = c.Timestamp.UnixMilli()
		}
		if !c.ExpireTimestamp.IsZero() {
			sc.ExpireTimestamp = c.ExpireTimestamp.UnixMilli()
		}
		snap.Clips = append(snap.Clips, sc)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	fmt.Fprintf(out, "Exported %d clips to %s (%s)\n", len(snap.Clips), path, humanize.Bytes(uint64(len(data))))
	return nil
}

func serveCmd(ctx context.Context, store *app.SQLiteStore, settings *app.Config, logger *slog.Logger) error {
	assets, err := app.NewAssetResolver(settings.URLFetcher(), settings.Assets.CacheSize, logger)
	if err != nil {
		return err
	}
	library := app.NewLibrary(store, settings.GalleryOptions(assets, logger), logger)
	library.Load(ctx)
	defer library.Close()

	server := app.NewServer(library, app.NewStatsService(store), settings.Gallery.ShareBaseURL, logger)
	return app.ServeHTTP(ctx, settings.HTTPAddr, server.Routes(), logger)
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

func parseFlags() (config, error) {
	return parseFlagsFrom(flag.CommandLine, os.Args[1:])
}

func parseFlagsFrom(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config
	fs.StringVar(&cfg.configPath, "config", "", "path to YAML config file")
	fs.StringVar(&cfg.dbPath, "db-path", "", "path to sqlite catalog database (overrides config)")
	fs.StringVar(&cfg.httpAddr, "http-addr", "", "HTTP listen address for --serve (overrides config)")
	fs.StringVar(&cfg.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.IntVar(&cfg.pageSize, "page-size", 0, "clips per page (overrides config)")

	// Import flags
	fs.StringVar(&cfg.importCatalog, "import", "", "import a catalog feed (path or URL)")
	fs.StringVar(&cfg.importIcons, "import-icons", "", "import an author icon feed (path or URL)")
	fs.StringVar(&cfg.catalogShape, "shape", "", "catalog feed shape: list, flat or nested")

	// Listing flags
	fs.BoolVar(&cfg.listChannels, "list-channels", false, "list imported channels with clip counts")
	fs.BoolVar(&cfg.listClips, "list-clips", false, "list clips matching the filter flags")
	fs.StringVar(&cfg.channel, "channel", app.ChannelAll, "channel scope for --list-clips and --share")
	fs.StringVar(&cfg.poster, "poster", "", "only clips by this poster")
	fs.StringVar(&cfg.search, "search", "", "search filenames and descriptions")
	fs.StringVar(&cfg.dateRange, "date-range", "", "past_week, past_month or past_year")
	fs.StringVar(&cfg.sort, "sort", "", "newest or oldest")
	fs.BoolVar(&cfg.hideExpired, "hide-expired", false, "hide clips whose media expired")
	fs.IntVar(&cfg.limit, "limit", 20, "max clips to list (0 for all)")

	fs.BoolVar(&cfg.showStats, "stats", false, "show catalog statistics")
	fs.StringVar(&cfg.exportPath, "export", "", "write a normalized JSON snapshot to this path")

	// Share flags
	fs.StringVar(&cfg.share, "share", "", "print a share link for this clip id")
	fs.StringVar(&cfg.shareBase, "share-base", "", "base URL for share links (overrides config)")

	fs.BoolVar(&cfg.serve, "serve", false, "serve the gallery HTTP API")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	modes := 0
	for _, on := range []bool{
		cfg.importCatalog != "" || cfg.importIcons != "",
		cfg.listChannels, cfg.listClips, cfg.showStats,
		cfg.exportPath != "", cfg.share != "", cfg.serve,
	} {
		if on {
			modes++
		}
	}
	if modes == 0 {
		return cfg, errors.New("provide one of --import, --import-icons, --list-channels, --list-clips, --stats, --export, --share or --serve")
	}
	if modes > 1 {
		return cfg, errors.New("provide only one mode at a time")
	}
	if cfg.limit < 0 {
		return cfg, errors.New("--limit must be >= 0")
	}
	if cfg.pageSize < 0 || cfg.pageSize > app.MaxPageSize {
		return cfg, fmt.Errorf("--page-size must be between 1 and %d", app.MaxPageSize)
	}
	if strings.TrimSpace(cfg.channel) == "" {
		return cfg, errors.New("--channel must not be empty")
	}
	cfg.sort = strings.ToLower(strings.TrimSpace(cfg.sort))
	switch cfg.sort {
	case "", "newest", "oldest":
	default:
		return cfg, errors.New("--sort must be newest or oldest")
	}
	switch cfg.dateRange {
	case "", "past_week", "past_month", "past_year":
	default:
		return cfg, errors.New("--date-range must be past_week, past_month or past_year")
	}

	return cfg, nil
}
