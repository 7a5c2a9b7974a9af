package app

import (
	"math"
	"time"
)

const (
	DefaultPageSize = 60
	MaxPageSize     = 500

	ScrollBufferFloor = 300.0
	ScrollBufferCap   = 500.0
	// ScrollVelocityForCap is the scroll speed, in content units per
	// millisecond, at which the proximity buffer reaches its cap.
	ScrollVelocityForCap = 3.0
)

// ScrollSample is one scroll position report from the render surface.
type ScrollSample struct {
	Offset         float64   `json:"offset"`
	ViewportHeight float64   `json:"viewport"`
	ContentHeight  float64   `json:"content"`
	At             time.Time `json:"-"`
}

// Remaining is the unrendered distance below the viewport.
func (s ScrollSample) Remaining() float64 {
	return s.ContentHeight - (s.Offset + s.ViewportHeight)
}

// ScrollBuffer grows linearly with velocity from the floor to the cap.
func ScrollBuffer(velocity float64) float64 {
	ratio := math.Min(math.Abs(velocity)/ScrollVelocityForCap, 1)
	return ScrollBufferFloor + (ScrollBufferCap-ScrollBufferFloor)*ratio
}

// PaginationController tracks how much of the working set is materialized.
type PaginationController struct {
	pageSize  int
	set       *WorkingSet
	visible   int
	suspended bool

	last     ScrollSample
	hasLast  bool
	velocity float64
}

// NewPaginationController returns a controller growing by pageSize items.
func NewPaginationController(pageSize int) *PaginationController {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PaginationController{pageSize: pageSize}
}

// PageSize returns the configured page size.
func (p *PaginationController) PageSize() int {
	return p.pageSize
}

// Reset starts a new window over ws. It is a no-op for the set already held.
func (p *PaginationController) Reset(ws *WorkingSet) {
	if ws == p.set && p.set != nil {
		return
	}
	p.set = ws
	p.visible = min(p.pageSize, ws.Len())
}

// Grow materializes one more page, clamped to the working set, and returns
// the new visible count.
func (p *PaginationController) Grow() int {
	p.visible = min(p.visible+p.pageSize, p.set.Len())
	return p.visible
}

// Visible returns the number of materialized items.
func (p *PaginationController) Visible() int {
	return p.visible
}

// HasMore reports whether part of the working set is not yet materialized.
func (p *PaginationController) HasMore() bool {
	return p.visible < p.set.Len()
}

// Window returns the materialized prefix of the working set.
func (p *PaginationController) Window() []ClipItem {
	if p.set == nil {
		return nil
	}
	return p.set.Items[:p.visible]
}

// SetSuspended stops or resumes proximity growth.
func (p *PaginationController) SetSuspended(suspended bool) {
	p.suspended = suspended
}

// Observe records a scroll sample and updates the velocity estimate.
func (p *PaginationController) Observe(sample ScrollSample) {
	if p.hasLast {
		elapsed := sample.At.Sub(p.last.At).Seconds() * 1000
		if elapsed > 0 {
			p.velocity = (sample.Offset - p.last.Offset) / elapsed
		}
	}
	p.last = sample
	p.hasLast = true
}

// Velocity returns the last observed scroll velocity in units per millisecond.
func (p *PaginationController) Velocity() float64 {
	return p.velocity
}

// Proximity grows the window when the sample is within the velocity-scaled
// buffer of the end of rendered content. It reports whether the window grew.
func (p *PaginationController) Proximity(sample ScrollSample) bool {
	if p.suspended || !p.HasMore() {
		return false
	}
	if sample.Remaining() >= ScrollBuffer(p.velocity) {
		return false
	}
	before := p.visible
	return p.Grow() > before
}
