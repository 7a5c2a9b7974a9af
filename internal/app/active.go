package app

import (
	"errors"
	"log/slog"
	"time"
)

var (
	ErrClipNotFound    = errors.New("clip not found")
	ErrNoActiveItem    = errors.New("no active item")
	ErrEmptyWorkingSet = errors.New("working set is empty")
)

// ActiveState is the state of an ActiveItemResolver.
type ActiveState int

const (
	NoActive ActiveState = iota
	Active
	PendingDeepLink
)

func (s ActiveState) String() string {
	switch s {
	case Active:
		return "active"
	case PendingDeepLink:
		return "pending"
	default:
		return "none"
	}
}

// ScrollSurface is the background surface that is frozen while an item is
// active.
type ScrollSurface interface {
	Offset() float64
	Suspend()
	Resume(offset float64)
}

// DeepLink asks for a clip by id within a channel scope.
type DeepLink struct {
	ClipID      string    `json:"clip"`
	Channel     string    `json:"chan"`
	RequestedAt time.Time `json:"-"`
}

// ActiveItemResolver decides which clip is playing. Selections resolve
// immediately; deep links wait for a working set that contains them.
type ActiveItemResolver struct {
	logger  *slog.Logger
	surface ScrollSurface
	now     func() time.Time
	timeout time.Duration

	state    ActiveState
	current  ClipItem
	pending  *DeepLink
	notFound *DeepLink
	ws       *WorkingSet
	offset   float64
}

// NewActiveItemResolver returns a resolver in NoActive. A zero timeout keeps
// pending deep links forever.
func NewActiveItemResolver(surface ScrollSurface, timeout time.Duration, logger *slog.Logger, now func() time.Time) *ActiveItemResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &ActiveItemResolver{logger: logger, surface: surface, now: now, timeout: timeout}
}

func (r *ActiveItemResolver) State() ActiveState {
	return r.state
}

// Current returns the active item.
func (r *ActiveItemResolver) Current() (ClipItem, bool) {
	if r.state != Active {
		return ClipItem{}, false
	}
	return r.current, true
}

// Pending returns the deep link being waited on, if any.
func (r *ActiveItemResolver) Pending() *DeepLink {
	if r.pending == nil {
		return nil
	}
	link := *r.pending
	return &link
}

// NotFound returns the last deep link abandoned by the timeout.
func (r *ActiveItemResolver) NotFound() *DeepLink {
	if r.notFound == nil {
		return nil
	}
	link := *r.notFound
	return &link
}

// Select activates the clip with id in the live working set.
func (r *ActiveItemResolver) Select(id string) error {
	item, ok := r.ws.Find(id)
	if !ok {
		return ErrClipNotFound
	}
	r.pending = nil
	r.activate(item)
	return nil
}

// RequestDeepLink activates the linked clip if the working set holds it and
// otherwise waits for a working set that does.
func (r *ActiveItemResolver) RequestDeepLink(link DeepLink) {
	if link.RequestedAt.IsZero() {
		link.RequestedAt = r.now()
	}
	r.notFound = nil
	if item, ok := findLinked(r.ws, link); ok {
		r.pending = nil
		r.activate(item)
		return
	}
	if r.state == Active {
		r.deactivate()
	}
	r.pending = &link
	r.state = PendingDeepLink
	r.logger.Debug("deep link pending", "clip", link.ClipID, "channel", link.Channel)
}

// OnWorkingSet records the live working set and retries a pending link.
func (r *ActiveItemResolver) OnWorkingSet(ws *WorkingSet) {
	r.ws = ws
	if r.state != PendingDeepLink {
		return
	}
	if r.expire() {
		return
	}
	if item, ok := findLinked(ws, *r.pending); ok {
		r.pending = nil
		r.activate(item)
		r.logger.Debug("deep link resolved", "clip", item.ID, "channel", item.ChannelID)
	}
}

// Expire abandons a pending link older than the timeout. It reports whether
// the link was abandoned.
func (r *ActiveItemResolver) Expire() bool {
	if r.state != PendingDeepLink {
		return false
	}
	return r.expire()
}

func (r *ActiveItemResolver) expire() bool {
	if r.timeout <= 0 || r.now().Sub(r.pending.RequestedAt) < r.timeout {
		return false
	}
	r.logger.Info("deep link not found", "clip", r.pending.ClipID, "channel", r.pending.Channel)
	r.notFound = r.pending
	r.pending = nil
	r.state = NoActive
	return true
}

// Next moves to the following item of the live working set, wrapping at the
// end. A current item that left the set moves to the first item.
func (r *ActiveItemResolver) Next() (ClipItem, error) {
	return r.step(1)
}

// Previous moves to the preceding item, wrapping at the start. A current
// item that left the set moves to the last item.
func (r *ActiveItemResolver) Previous() (ClipItem, error) {
	return r.step(-1)
}

func (r *ActiveItemResolver) step(delta int) (ClipItem, error) {
	if r.state != Active {
		return ClipItem{}, ErrNoActiveItem
	}
	n := r.ws.Len()
	if n == 0 {
		return r.current, ErrEmptyWorkingSet
	}
	var next int
	if k := r.indexOfCurrent(); k >= 0 {
		next = ((k+delta)%n + n) % n
	} else if delta < 0 {
		next = n - 1
	}
	r.current = r.ws.Items[next]
	return r.current, nil
}

func (r *ActiveItemResolver) indexOfCurrent() int {
	if r.ws == nil {
		return -1
	}
	for i, item := range r.ws.Items {
		if item.ID == r.current.ID && item.ChannelID == r.current.ChannelID {
			return i
		}
	}
	return -1
}

// Close leaves Active, restoring the surface offset, or abandons a pending
// link.
func (r *ActiveItemResolver) Close() {
	switch r.state {
	case Active:
		r.deactivate()
	case PendingDeepLink:
		r.pending = nil
		r.state = NoActive
	}
}

func (r *ActiveItemResolver) activate(item ClipItem) {
	if r.state != Active && r.surface != nil {
		r.offset = r.surface.Offset()
		r.surface.Suspend()
	}
	r.current = item
	r.state = Active
}

func (r *ActiveItemResolver) deactivate() {
	r.current = ClipItem{}
	r.state = NoActive
	if r.surface != nil {
		r.surface.Resume(r.offset)
	}
}

// findLinked prefers an item in the link's channel and falls back to the
// first item with the id.
func findLinked(ws *WorkingSet, link DeepLink) (ClipItem, bool) {
	if ws == nil {
		return ClipItem{}, false
	}
	fallback := -1
	for i, item := range ws.Items {
		if item.ID != link.ClipID {
			continue
		}
		if item.ChannelID == link.Channel {
			return item, true
		}
		if fallback < 0 {
			fallback = i
		}
	}
	if fallback < 0 {
		return ClipItem{}, false
	}
	return ws.Items[fallback], true
}
