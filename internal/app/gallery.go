package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrInvalidVolume = errors.New("volume must be between 0 and 1")

const (
	DefaultVolume             = 0.2
	DefaultScrollDebounce     = 200 * time.Millisecond
	DefaultVisibilityInterval = 100 * time.Millisecond
	posterFilter              = "Poster"
)

// FeedState is the load state of one feed in a session.
type FeedState int

const (
	FeedPending FeedState = iota
	FeedReady
	FeedFailed
)

func (s FeedState) String() string {
	switch s {
	case FeedReady:
		return "ready"
	case FeedFailed:
		return "failed"
	default:
		return "pending"
	}
}

// GalleryStatus is what a session shows in place of, or alongside, clips.
type GalleryStatus string

const (
	StatusLoading     GalleryStatus = "loading"
	StatusUnavailable GalleryStatus = "unavailable"
	StatusEmpty       GalleryStatus = "empty"
	StatusReady       GalleryStatus = "ready"
)

// PlayerState is session-local player UI state.
type PlayerState struct {
	Volume   float64 `json:"volume"`
	Muted    bool    `json:"muted"`
	Autoplay bool    `json:"autoplay"`
}

// PlayerUpdate changes the fields that are set.
type PlayerUpdate struct {
	Volume   *float64 `json:"volume,omitempty"`
	Muted    *bool    `json:"muted,omitempty"`
	Autoplay *bool    `json:"autoplay,omitempty"`
}

// GalleryOptions configures a session.
type GalleryOptions struct {
	PageSize           int
	Registry           []Channel
	Dimensions         []FilterDimension
	ScrollDebounce     time.Duration
	VisibilityInterval time.Duration
	DeepLinkTimeout    time.Duration
	Autoplay           bool
	Assets             *AssetResolver
	Logger             *slog.Logger
	Now                func() time.Time

	// Library limits; zero disables each.
	IdleTimeout time.Duration
	MaxSessions int
}

// Viewport is the session's stand-in for the scrollable grid. It records
// the last reported offset and freezes pagination while suspended.
type Viewport struct {
	pager     *PaginationController
	last      ScrollSample
	suspended bool
	restore   *float64
}

func (v *Viewport) Offset() float64 {
	return v.last.Offset
}

func (v *Viewport) Suspend() {
	v.suspended = true
	v.pager.SetSuspended(true)
}

// Resume unfreezes pagination and asks the client to scroll back to offset.
func (v *Viewport) Resume(offset float64) {
	v.suspended = false
	v.pager.SetSuspended(false)
	v.restore = &offset
}

// observe records a sample from the client. Samples from a suspended
// surface are ignored. It reports whether the sample was kept.
func (v *Viewport) observe(sample ScrollSample) bool {
	if v.suspended {
		return false
	}
	v.last = sample
	v.restore = nil
	v.pager.Observe(sample)
	return true
}

// Gallery is one browsing session. All methods are safe for concurrent use;
// they are serialized by one lock.
type Gallery struct {
	mu     sync.Mutex
	id     string
	logger *slog.Logger
	now    func() time.Time

	filters  *FilterManager
	counts   *PosterCountIndex
	catalog  *CatalogStore
	pager    *PaginationController
	resolver *ActiveItemResolver
	viewport *Viewport

	icons          map[string]string
	catalogState   FeedState
	iconState      FeedState
	pendingChannel string
	player         PlayerState

	scroll     *Debouncer
	visibility rate.Sometimes
	assets     *AssetResolver

	// ctx ends with the session; background prefetches run under it.
	ctx     context.Context
	closed  bool
	cancels []func()
}

// NewGallery builds a session with every core component wired together.
func NewGallery(id string, opts GalleryOptions) (*Gallery, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", id)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	dims := opts.Dimensions
	if dims == nil {
		dims = DefaultDimensions()
	}
	filters, err := NewFilterManager(dims, logger, now)
	if err != nil {
		return nil, fmt.Errorf("filters: %w", err)
	}
	catalog, err := NewCatalogStore(filters, opts.Registry, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	interval := opts.VisibilityInterval
	if interval <= 0 {
		interval = DefaultVisibilityInterval
	}
	debounce := opts.ScrollDebounce
	if debounce <= 0 {
		debounce = DefaultScrollDebounce
	}

	pager := NewPaginationController(opts.PageSize)
	viewport := &Viewport{pager: pager}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gallery{
		ctx:        ctx,
		id:         id,
		logger:     logger,
		now:        now,
		filters:    filters,
		counts:     NewPosterCountIndex(nil),
		catalog:    catalog,
		pager:      pager,
		resolver:   NewActiveItemResolver(viewport, opts.DeepLinkTimeout, logger, now),
		viewport:   viewport,
		icons:      map[string]string{},
		player:     PlayerState{Volume: DefaultVolume, Autoplay: opts.Autoplay},
		scroll:     NewDebouncer(debounce),
		visibility: rate.Sometimes{Interval: interval},
		assets:     opts.Assets,
	}

	// Pagination resets before the resolver sees the new set.
	g.cancels = append(g.cancels,
		catalog.Subscribe(pager.Reset),
		catalog.Subscribe(g.resolver.OnWorkingSet),
		catalog.Close,
		cancel,
	)
	pager.Reset(catalog.WorkingSet())
	g.resolver.OnWorkingSet(catalog.WorkingSet())
	return g, nil
}

// ID returns the session id.
func (g *Gallery) ID() string {
	return g.id
}

// Close stops timers and drops results that arrive afterwards.
func (g *Gallery) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.scroll.Stop()
	for _, cancel := range g.cancels {
		cancel()
	}
}

// Closed reports whether Close was called.
func (g *Gallery) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// LoadCatalog delivers the catalog feed. A non-nil err marks it failed and
// leaves the catalog empty.
func (g *Gallery) LoadCatalog(items []ClipItem, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if err != nil {
		g.logger.Error("catalog load failed", "error", err)
		g.catalogState = FeedFailed
		items = nil
	} else {
		g.catalogState = FeedReady
	}
	g.counts.Replace(items)
	g.catalog.Replace(items)
	if g.pendingChannel != "" {
		channel := g.pendingChannel
		g.pendingChannel = ""
		if err := g.catalog.SetChannel(channel); err != nil {
			g.logger.Warn("linked channel not in catalog", "channel", channel)
		}
	}
	g.reconcileAuthor()
}

// LoadIcons delivers the author icon feed.
func (g *Gallery) LoadIcons(icons []AuthorIcon, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if err != nil {
		g.logger.Error("icon load failed", "error", err)
		g.iconState = FeedFailed
		g.icons = map[string]string{}
		return
	}
	g.iconState = FeedReady
	g.icons = make(map[string]string, len(icons))
	for _, icon := range icons {
		g.icons[icon.Poster] = icon.DisplayURL
	}
}

// reconcileAuthor clears a Poster selection with no clips in scope.
func (g *Gallery) reconcileAuthor() {
	if g.catalogState == FeedPending {
		return
	}
	selected := g.filters.Value(posterFilter)
	counts := g.counts.CountsByChannel(g.catalog.Channel())
	if kept := ReconcileAuthor(selected, counts); kept != selected {
		g.logger.Info("clearing author without clips in channel", "poster", selected, "channel", g.catalog.Channel())
		_ = g.filters.ResetFilter(posterFilter)
	}
}

// SelectChannel changes the channel scope.
func (g *Gallery) SelectChannel(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.catalog.SetChannel(id); err != nil {
		return err
	}
	g.reconcileAuthor()
	return nil
}

func (g *Gallery) SetFilter(name, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.filters.SetFilter(name, value); err != nil {
		return err
	}
	if name == posterFilter {
		g.reconcileAuthor()
	}
	return nil
}

func (g *Gallery) ResetFilter(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filters.ResetFilter(name)
}

func (g *Gallery) ResetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filters.ResetAll()
}

// LoadMore grows the window by one page and returns the visible count.
func (g *Gallery) LoadMore() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pager.Grow()
}

// Scroll records a scroll sample. Proximity growth runs once the samples
// settle for the debounce window.
func (g *Gallery) Scroll(sample ScrollSample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if sample.At.IsZero() {
		sample.At = g.now()
	}
	if !g.viewport.observe(sample) {
		return
	}
	g.scroll.Trigger(g.settleScroll)
}

func (g *Gallery) settleScroll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if g.pager.Proximity(g.viewport.last) {
		g.logger.Debug("window grown", "visible", g.pager.Visible())
	}
}

// Visible reports clips entering the viewport. At most one report per
// throttle interval prefetches thumbnails; it reports whether this one did.
func (g *Gallery) Visible(ids []string) bool {
	g.mu.Lock()
	assets, closed, ctx := g.assets, g.closed, g.ctx
	g.mu.Unlock()
	if closed || assets == nil || len(ids) == 0 {
		return false
	}
	fired := false
	g.visibility.Do(func() {
		fired = true
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = ThumbnailAsset(id)
		}
		go assets.Prefetch(ctx, CategoryThumb, names)
	})
	return fired
}

// Select activates a clip from the rendered window.
func (g *Gallery) Select(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, item := range g.pager.Window() {
		if item.ID == id {
			return g.resolver.Select(id)
		}
	}
	return fmt.Errorf("%w: %q", ErrClipNotFound, id)
}

// OpenLink applies a deep link: the channel is selected, and with a clip
// the resolver waits for it. An unknown channel leaves the scope as it is
// but the clip is still requested.
func (g *Gallery) OpenLink(link DeepLink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !link.SelectsChannel() {
		return
	}
	if err := g.catalog.SetChannel(link.Channel); err != nil {
		if g.catalogState == FeedPending {
			g.pendingChannel = link.Channel
		} else {
			g.logger.Warn("deep link channel unknown", "channel", link.Channel)
		}
	}
	g.reconcileAuthor()
	if link.RequestsClip() {
		g.resolver.RequestDeepLink(link)
	}
}

func (g *Gallery) Next() (ClipItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolver.Next()
}

func (g *Gallery) Previous() (ClipItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolver.Previous()
}

// ClosePlayer leaves the active item.
func (g *Gallery) ClosePlayer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolver.Close()
}

// Ended advances to the next clip when autoplay is on. It reports whether
// it advanced.
func (g *Gallery) Ended() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.player.Autoplay {
		return false, nil
	}
	if _, err := g.resolver.Next(); err != nil {
		return false, err
	}
	return true, nil
}

// UpdatePlayer applies volume, mute and autoplay changes.
func (g *Gallery) UpdatePlayer(u PlayerUpdate) (PlayerState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u.Volume != nil && (*u.Volume < 0 || *u.Volume > 1) {
		return g.player, ErrInvalidVolume
	}
	if u.Volume != nil {
		g.player.Volume = *u.Volume
	}
	if u.Muted != nil {
		g.player.Muted = *u.Muted
	}
	if u.Autoplay != nil {
		g.player.Autoplay = *u.Autoplay
	}
	return g.player, nil
}

// VolumeChange records the player's volume event.
func (g *Gallery) VolumeChange(volume float64, muted bool) (PlayerState, error) {
	return g.UpdatePlayer(PlayerUpdate{Volume: &volume, Muted: &muted})
}

// ShareLink returns a link to the active clip under base.
func (g *Gallery) ShareLink(base string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	item, ok := g.resolver.Current()
	if !ok {
		return "", ErrNoActiveItem
	}
	return ShareLink(base, item.ID, g.catalog.Channel())
}

func (g *Gallery) status() GalleryStatus {
	switch {
	case g.catalogState == FeedPending || g.iconState == FeedPending:
		return StatusLoading
	case g.catalogState == FeedFailed:
		return StatusUnavailable
	case g.catalog.WorkingSet().Len() == 0:
		return StatusEmpty
	default:
		return StatusReady
	}
}

// View returns a snapshot of the session.
func (g *Gallery) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolver.Expire()

	now := g.now()
	scope := g.catalog.Channel()
	v := View{
		ID:           g.id,
		Status:       g.status(),
		CatalogFeed:  g.catalogState.String(),
		IconFeed:     g.iconState.String(),
		Channel:      scope,
		Filters:      g.filters.State(),
		Changed:      g.filters.ChangedFromDefault(),
		Defaults:     g.filters.Defaults(),
		Options:      map[string][]string{},
		PosterCounts: g.counts.CountsByChannel(scope),
		Visible:      g.pager.Visible(),
		Total:        g.catalog.WorkingSet().Len(),
		HasMore:      g.pager.HasMore(),
		ActiveState:  g.resolver.State().String(),
		Pending:      g.resolver.Pending(),
		NotFound:     g.resolver.NotFound(),
		Player:       g.player,
	}
	if g.viewport.restore != nil {
		offset := *g.viewport.restore
		v.RestoreOffset = &offset
	}
	for _, d := range g.filters.Dimensions() {
		if opts := g.filters.Options(d.Name); opts != nil {
			v.Options[d.Name] = opts
		}
	}
	v.Channels = append(v.Channels, ChannelView{ID: ChannelAll, Name: ChannelAll, Slug: ChannelAll, Clips: g.counts.Total(ChannelAll)})
	for _, ch := range g.catalog.Channels() {
		v.Channels = append(v.Channels, ChannelView{ID: ch.ID, Name: ch.Name, Slug: FormatChannelName(ch.Name), Clips: g.counts.Total(ch.ID)})
	}
	window := g.pager.Window()
	v.Items = make([]ClipView, 0, len(window))
	for _, item := range window {
		v.Items = append(v.Items, g.clipView(item, now))
	}
	if item, ok := g.resolver.Current(); ok {
		cv := g.clipView(item, now)
		cv.Title = PlayerTitle(item.Filename)
		v.Active = &cv
	}
	return v
}

func (g *Gallery) clipView(item ClipItem, now time.Time) ClipView {
	cv := NewClipView(item, now)
	cv.PosterIcon = g.icons[item.Poster]
	if g.assets != nil {
		if u, ok := g.assets.Cached(CategoryThumb, ThumbnailAsset(item.ID)); ok {
			cv.Thumbnail = u
		}
	}
	return cv
}
