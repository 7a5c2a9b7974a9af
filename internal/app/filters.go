package app

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// NoValue is the filter value meaning "no constraint".
const NoValue = ""

// FuzzyThreshold is the minimum similarity for a fuzzy match.
const FuzzyThreshold = 0.8

var (
	ErrUnknownFilter      = errors.New("unknown filter")
	ErrInvalidFilterValue = errors.New("invalid filter value")
)

// FilterKind tells whether a dimension narrows the catalog or orders it.
type FilterKind int

const (
	KindFilter FilterKind = iota
	KindSort
)

func (k FilterKind) String() string {
	if k == KindSort {
		return "sort"
	}
	return "filter"
}

// MatchStrategy is how an option-less dimension compares its value to an item field.
type MatchStrategy int

const (
	MatchNone MatchStrategy = iota
	MatchExact
	MatchIncludes
	MatchFuzzy
)

func (m MatchStrategy) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchIncludes:
		return "includes"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

type (
	Predicate        func(ClipItem) bool
	PredicateFactory func(now time.Time) Predicate
	ValuePredicate   func(item ClipItem, value string) bool
	Comparator       func(a, b ClipItem) int
)

// RuleVariant tags which constructor built a FilterRule.
type RuleVariant int

const (
	RuleParameterless RuleVariant = iota + 1
	RuleParameterized
)

// FilterRule turns a selected filter value into a predicate. A parameterless
// rule ignores the value and builds its predicate from the evaluation clock;
// a parameterized rule receives the value for every item.
type FilterRule struct {
	variant   RuleVariant
	factory   PredicateFactory
	predicate ValuePredicate
}

// Parameterless wraps a predicate factory evaluated once per Apply.
func Parameterless(f PredicateFactory) FilterRule {
	return FilterRule{variant: RuleParameterless, factory: f}
}

// Parameterized wraps a predicate that takes the selected value.
func Parameterized(p ValuePredicate) FilterRule {
	return FilterRule{variant: RuleParameterized, predicate: p}
}

// Variant returns the rule's tag; zero for an unset rule.
func (r FilterRule) Variant() RuleVariant {
	return r.variant
}

func (r FilterRule) resolve(value string, now time.Time) Predicate {
	switch r.variant {
	case RuleParameterless:
		return r.factory(now)
	case RuleParameterized:
		return func(item ClipItem) bool { return r.predicate(item, value) }
	default:
		return nil
	}
}

// FilterOption is one selectable value of a dimension: a rule for filter
// dimensions, a comparator for sort dimensions.
type FilterOption struct {
	Rule    FilterRule
	Compare Comparator
}

// FilterDimension is a named axis of filtering or sorting.
type FilterDimension struct {
	Name    string
	Kind    FilterKind
	Default string
	Options map[string]FilterOption

	// Option-less filter dimensions match the value against item fields.
	Match MatchStrategy
	// Fields lists the item fields to match; any match passes. Defaults to Name.
	Fields []string
	// Wildcard is a value that passes every item.
	Wildcard string
}

func (d FilterDimension) validate() error {
	if d.Name == "" {
		return errors.New("dimension name is required")
	}
	if d.Default != NoValue {
		if _, ok := d.Options[d.Default]; !ok {
			return fmt.Errorf("dimension %s: default %q is not an option", d.Name, d.Default)
		}
	}
	switch d.Kind {
	case KindSort:
		if len(d.Options) == 0 {
			return fmt.Errorf("dimension %s: sort dimensions need options", d.Name)
		}
		for key, opt := range d.Options {
			if opt.Compare == nil {
				return fmt.Errorf("dimension %s: option %q has no comparator", d.Name, key)
			}
		}
	case KindFilter:
		if len(d.Options) == 0 && d.Match == MatchNone {
			return fmt.Errorf("dimension %s: option-less filters need a match strategy", d.Name)
		}
		for key, opt := range d.Options {
			if opt.Rule.Variant() == 0 {
				return fmt.Errorf("dimension %s: option %q has no rule", d.Name, key)
			}
		}
	default:
		return fmt.Errorf("dimension %s: unknown kind %d", d.Name, d.Kind)
	}
	return nil
}

// predicate resolves the filter for value, or nil when value constrains nothing.
func (d FilterDimension) predicate(value string, now time.Time) Predicate {
	if len(d.Options) > 0 {
		opt, ok := d.Options[value]
		if !ok {
			return nil
		}
		return opt.Rule.resolve(value, now)
	}
	return Parameterized(d.match).resolve(value, now)
}

func (d FilterDimension) match(item ClipItem, value string) bool {
	if d.Wildcard != "" && value == d.Wildcard {
		return true
	}
	fields := d.Fields
	if len(fields) == 0 {
		fields = []string{d.Name}
	}
	for _, field := range fields {
		fieldValue, ok := item.Field(field)
		if !ok {
			continue
		}
		if matchValue(d.Match, field, fieldValue, value) {
			return true
		}
	}
	return false
}

func matchValue(strategy MatchStrategy, field, fieldValue, query string) bool {
	switch strategy {
	case MatchExact:
		return fieldValue == query
	case MatchIncludes:
		return strings.Contains(searchable(field, fieldValue), strings.ToLower(query))
	case MatchFuzzy:
		return Similarity(query, fieldValue) >= FuzzyThreshold
	default:
		return false
	}
}

// searchable lowercases a field for substring search; filenames also get
// their underscores read as spaces.
func searchable(field, value string) string {
	value = strings.ToLower(value)
	if strings.EqualFold(field, "filename") {
		value = strings.ReplaceAll(value, "_", " ")
	}
	return value
}

// FilterState holds the current value of every dimension.
type FilterState map[string]string

// Clone returns an independent copy of the state.
func (s FilterState) Clone() FilterState {
	out := make(FilterState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type subscriber struct {
	id int
	fn func(FilterState)
}

// FilterManager owns the dimension catalog and the current filter state.
// It is not safe for concurrent use; the owning Gallery serializes access.
type FilterManager struct {
	logger *slog.Logger
	now    func() time.Time

	dims     []FilterDimension
	index    map[string]int
	defaults FilterState
	current  FilterState

	subs        []subscriber
	nextSub     int
	queue       []FilterState
	dispatching bool
}

// NewFilterManager validates dims and initializes every dimension to its default.
func NewFilterManager(dims []FilterDimension, logger *slog.Logger, now func() time.Time) (*FilterManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	m := &FilterManager{
		logger:   logger,
		now:      now,
		index:    make(map[string]int, len(dims)),
		defaults: make(FilterState, len(dims)),
		current:  make(FilterState, len(dims)),
	}
	for _, d := range dims {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := m.index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate dimension %s", d.Name)
		}
		m.index[d.Name] = len(m.dims)
		m.dims = append(m.dims, d)
		m.defaults[d.Name] = d.Default
		m.current[d.Name] = d.Default
	}
	return m, nil
}

// Subscribe registers fn for change notifications and returns a cancel func.
func (m *FilterManager) Subscribe(fn func(FilterState)) func() {
	if fn == nil {
		return func() {}
	}
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	return func() {
		m.subs = slices.DeleteFunc(m.subs, func(s subscriber) bool { return s.id == id })
	}
}

// notify queues a snapshot of the current state and, unless a dispatch is
// already running further up the stack, delivers queued snapshots in order.
func (m *FilterManager) notify() {
	m.queue = append(m.queue, m.current.Clone())
	if m.dispatching {
		return
	}
	m.dispatching = true
	defer func() { m.dispatching = false }()
	for len(m.queue) > 0 {
		state := m.queue[0]
		m.queue = m.queue[1:]
		for _, s := range slices.Clone(m.subs) {
			s.fn(state)
		}
	}
}

// SetFilter changes one dimension. Unknown dimensions and undeclared values
// are logged and leave the state untouched; setting the current value is a no-op.
func (m *FilterManager) SetFilter(name, value string) error {
	i, ok := m.index[name]
	if !ok {
		m.logger.Warn("filter does not exist", "filter", name)
		return fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	d := m.dims[i]
	if value != NoValue && len(d.Options) > 0 {
		if _, ok := d.Options[value]; !ok {
			m.logger.Warn("invalid filter value", "filter", name, "value", value)
			return fmt.Errorf("%w: %q for %s", ErrInvalidFilterValue, value, name)
		}
	}
	if m.current[name] == value {
		m.logger.Debug("filter already set to that value", "filter", name, "value", value)
		return nil
	}
	m.current[name] = value
	m.notify()
	return nil
}

// ResetFilter returns one dimension to its default.
func (m *FilterManager) ResetFilter(name string) error {
	def, ok := m.defaults[name]
	if !ok {
		m.logger.Warn("filter does not exist", "filter", name)
		return fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	if m.current[name] == def {
		return nil
	}
	m.current[name] = def
	m.notify()
	return nil
}

// ResetAll returns every dimension to its default with a single notification.
func (m *FilterManager) ResetAll() {
	if len(m.ChangedFromDefault()) == 0 {
		return
	}
	m.current = m.defaults.Clone()
	m.notify()
}

// ChangedFromDefault returns the dimensions whose value differs from the default.
func (m *FilterManager) ChangedFromDefault() FilterState {
	changed := FilterState{}
	for name, value := range m.current {
		if value != m.defaults[name] {
			changed[name] = value
		}
	}
	return changed
}

// State returns a copy of the current filter state.
func (m *FilterManager) State() FilterState {
	return m.current.Clone()
}

// Defaults returns a copy of the default filter state.
func (m *FilterManager) Defaults() FilterState {
	return m.defaults.Clone()
}

// Value returns the current value of a dimension.
func (m *FilterManager) Value(name string) string {
	return m.current[name]
}

// Options returns the sorted option keys of a dimension; nil for free-form ones.
func (m *FilterManager) Options(name string) []string {
	i, ok := m.index[name]
	if !ok || len(m.dims[i].Options) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.dims[i].Options))
	for k := range m.dims[i].Options {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Dimensions returns the registered dimensions in registration order.
func (m *FilterManager) Dimensions() []FilterDimension {
	return slices.Clone(m.dims)
}

// Apply filters and sorts raw against the current state.
func (m *FilterManager) Apply(raw []ClipItem) []ClipItem {
	return m.ApplyState(raw, m.current)
}

// ApplyState filters and sorts raw against state. raw is never modified.
// Filters are AND-combined; the single active sort runs after filtering.
func (m *FilterManager) ApplyState(raw []ClipItem, state FilterState) []ClipItem {
	now := m.now()
	var preds []Predicate
	for _, d := range m.dims {
		if d.Kind != KindFilter {
			continue
		}
		value := state[d.Name]
		if value == NoValue {
			continue
		}
		if p := d.predicate(value, now); p != nil {
			preds = append(preds, p)
		}
	}

	out := make([]ClipItem, 0, len(raw))
	for _, item := range raw {
		if passesAll(preds, item) {
			out = append(out, item)
		}
	}

	if cmp := m.activeComparator(state); cmp != nil {
		slices.SortStableFunc(out, cmp)
	}
	return out
}

func passesAll(preds []Predicate, item ClipItem) bool {
	for _, p := range preds {
		if !p(item) {
			return false
		}
	}
	return true
}

// activeComparator picks exactly one sort: the first registered sort
// dimension moved off its default, else the first with any value.
func (m *FilterManager) activeComparator(state FilterState) Comparator {
	var fallback Comparator
	for _, d := range m.dims {
		if d.Kind != KindSort {
			continue
		}
		value := state[d.Name]
		opt, ok := d.Options[value]
		if value == NoValue || !ok {
			continue
		}
		if value != d.Default {
			return opt.Compare
		}
		if fallback == nil {
			fallback = opt.Compare
		}
	}
	return fallback
}

// DefaultDimensions is the gallery's filter and sort catalog.
func DefaultDimensions() []FilterDimension {
	return []FilterDimension{
		{
			Name:    "Date",
			Kind:    KindSort,
			Default: "newest",
			Options: map[string]FilterOption{
				"newest": {Compare: func(a, b ClipItem) int { return b.Timestamp.Compare(a.Timestamp) }},
				"oldest": {Compare: func(a, b ClipItem) int { return a.Timestamp.Compare(b.Timestamp) }},
			},
		},
		{
			Name: "DateRange",
			Kind: KindFilter,
			Options: map[string]FilterOption{
				"past_week":  {Rule: Parameterless(postedWithin(7 * 24 * time.Hour))},
				"past_month": {Rule: Parameterless(postedWithin(30 * 24 * time.Hour))},
				"past_year":  {Rule: Parameterless(postedWithin(365 * 24 * time.Hour))},
			},
		},
		{
			Name: "Expired",
			Kind: KindFilter,
			Options: map[string]FilterOption{
				"hide_expired": {Rule: Parameterless(func(now time.Time) Predicate {
					return func(item ClipItem) bool { return !item.Expired(now) }
				})},
			},
		},
		{Name: "channelId", Kind: KindFilter, Match: MatchExact, Wildcard: ChannelAll},
		{Name: "Poster", Kind: KindFilter, Match: MatchExact},
		{Name: "Search", Kind: KindFilter, Match: MatchIncludes, Fields: []string{"filename", "description"}},
	}
}

func postedWithin(window time.Duration) PredicateFactory {
	return func(now time.Time) Predicate {
		cutoff := now.Add(-window)
		return func(item ClipItem) bool { return !item.Timestamp.Before(cutoff) }
	}
}
