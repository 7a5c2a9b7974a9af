package app

import "maps"

// PosterCountIndex counts clips per poster within a channel scope.
// Results are memoized per scope until the catalog is replaced.
type PosterCountIndex struct {
	items []ClipItem
	cache map[string]map[string]int
}

// NewPosterCountIndex returns an index over items.
func NewPosterCountIndex(items []ClipItem) *PosterCountIndex {
	p := &PosterCountIndex{}
	p.Replace(items)
	return p
}

// Replace swaps the catalog and drops every memoized scope.
func (p *PosterCountIndex) Replace(items []ClipItem) {
	p.items = items
	p.cache = make(map[string]map[string]int)
}

// CountsByChannel maps poster identity to clip count inside scope.
// ChannelAll counts across every channel; an empty scope yields an empty map.
func (p *PosterCountIndex) CountsByChannel(scope string) map[string]int {
	if scope == "" {
		return map[string]int{}
	}
	if counts, ok := p.cache[scope]; ok {
		return maps.Clone(counts)
	}
	counts := make(map[string]int)
	for _, item := range p.items {
		if scope != ChannelAll && item.ChannelID != scope {
			continue
		}
		counts[item.Poster]++
	}
	p.cache[scope] = counts
	return maps.Clone(counts)
}

// Total returns the number of clips inside scope.
func (p *PosterCountIndex) Total(scope string) int {
	total := 0
	for _, n := range p.CountsByChannel(scope) {
		total += n
	}
	return total
}

// ReconcileAuthor returns selected when it still has clips in counts,
// otherwise NoValue.
func ReconcileAuthor(selected string, counts map[string]int) string {
	if selected == NoValue {
		return NoValue
	}
	if _, ok := counts[selected]; !ok {
		return NoValue
	}
	return selected
}
