package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultMaxSessions        = 1000
)

type feedResult[T any] struct {
	done  bool
	items []T
	err   error
}

// Library holds the process-wide catalog snapshot and the live sessions.
// Catalog and icons load independently; each session is fed every result
// that has arrived so far and every result that arrives later.
type Library struct {
	store  *SQLiteStore
	opts   GalleryOptions
	logger *slog.Logger

	mu       sync.Mutex
	catalog  feedResult[ClipItem]
	icons    feedResult[AuthorIcon]
	sessions *expirable.LRU[string, *Gallery]
	loads    sync.WaitGroup
}

// NewLibrary returns a library serving sessions built with opts. Sessions
// unused for opts.IdleTimeout are closed and forgotten, and past
// opts.MaxSessions the least recently used one goes first.
func NewLibrary(store *SQLiteStore, opts GalleryOptions, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	l := &Library{
		store:  store,
		opts:   opts,
		logger: logger,
	}
	l.sessions = expirable.NewLRU[string, *Gallery](opts.MaxSessions, l.evicted, opts.IdleTimeout)
	return l
}

// evicted runs under the session cache lock; Gallery.Close only takes the
// session's own mutex.
func (l *Library) evicted(id string, g *Gallery) {
	g.Close()
	l.logger.Debug("session closed", "session", id)
}

// live returns the unexpired sessions.
func (l *Library) live() []*Gallery {
	values := l.sessions.Values()
	out := values[:0]
	for _, g := range values {
		if g != nil {
			out = append(out, g)
		}
	}
	return out
}

// Load starts loading the catalog and the icons concurrently and returns
// immediately. Wait blocks until both finished.
func (l *Library) Load(ctx context.Context) {
	l.loads.Add(2)
	go func() {
		defer l.loads.Done()
		clips, err := l.store.ListClips(ctx)
		l.deliverCatalog(clips, err)
	}()
	go func() {
		defer l.loads.Done()
		icons, err := l.store.ListIcons(ctx)
		l.deliverIcons(icons, err)
	}()
}

// Wait blocks until every started load has been delivered.
func (l *Library) Wait() {
	l.loads.Wait()
}

func (l *Library) deliverCatalog(clips []ClipItem, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.logger.Error("load catalog", "error", err)
		clips = nil
	} else {
		l.logger.Info("catalog loaded", "clips", len(clips))
	}
	l.catalog = feedResult[ClipItem]{done: true, items: clips, err: err}
	for _, g := range l.live() {
		g.LoadCatalog(clips, err)
	}
}

func (l *Library) deliverIcons(icons []AuthorIcon, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.logger.Error("load icons", "error", err)
		icons = nil
	} else {
		l.logger.Info("icons loaded", "icons", len(icons))
	}
	l.icons = feedResult[AuthorIcon]{done: true, items: icons, err: err}
	for _, g := range l.live() {
		g.LoadIcons(icons, err)
	}
}

// NewSession creates a session, applies link to it and feeds it whatever
// has loaded so far.
func (l *Library) NewSession(link DeepLink) (*Gallery, error) {
	g, err := NewGallery(uuid.NewString(), l.opts)
	if err != nil {
		return nil, err
	}
	g.OpenLink(link)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.catalog.done {
		g.LoadCatalog(l.catalog.items, l.catalog.err)
	}
	if l.icons.done {
		g.LoadIcons(l.icons.items, l.icons.err)
	}
	l.sessions.Add(g.ID(), g)
	l.logger.Debug("session created", "session", g.ID())
	return g, nil
}

// Session returns a live session and marks it used.
func (l *Library) Session(id string) (*Gallery, error) {
	g, ok := l.sessions.Get(id)
	if !ok {
		l.sessions.Remove(id)
		return nil, ErrSessionNotFound
	}
	// Add renews the idle deadline. A session swept between Get and Add
	// is already closed and goes away again.
	l.sessions.Add(id, g)
	if g.Closed() {
		l.sessions.Remove(id)
		return nil, ErrSessionNotFound
	}
	return g, nil
}

// DropSession closes and forgets a session.
func (l *Library) DropSession(id string) error {
	if _, ok := l.sessions.Peek(id); !ok {
		l.sessions.Remove(id)
		return ErrSessionNotFound
	}
	l.sessions.Remove(id)
	return nil
}

// SessionCount returns the number of live sessions.
func (l *Library) SessionCount() int {
	return len(l.live())
}

// Close drops every session.
func (l *Library) Close() {
	l.sessions.Purge()
}

// Assets returns the asset resolver sessions prefetch through.
func (l *Library) Assets() *AssetResolver {
	return l.opts.Assets
}
