// Package dashboard holds the Filter State Store: the current selection,
// the option vocabulary, persona and layout, all written through to the
// persistence port.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/model/persona"
	"github.com/zhouzirui/rabbitt-console/internal/notify"
	"github.com/zhouzirui/rabbitt-console/internal/storage"
)

// BasePrompts is the default quick-prompt set of the chat panel.
var BasePrompts = []string{
	"Show me last quarter performance.",
	"Which promos over-indexed?",
	"Where are we losing momentum?",
}

var (
	// ErrNotBootstrapped is returned by mutations issued before Bootstrap.
	ErrNotBootstrapped = errors.New("dashboard not bootstrapped")
	ErrUnknownPreset   = errors.New("unknown date preset")
	ErrUnknownWidget   = errors.New("unknown widget")
)

// OptionsSource serves the filter vocabulary.
type OptionsSource interface {
	FetchFilters(ctx context.Context) (filter.Options, error)
}

// Hydrator refreshes the panels for a committed selection. It is called
// with the store lock held, in commit order, so it must not call back into
// the Store. Implementations may run the refresh asynchronously and return
// nil immediately.
type Hydrator interface {
	Hydrate(ctx context.Context, filters filter.State) error
}

// HydratorFunc adapts a function to Hydrator.
type HydratorFunc func(ctx context.Context, filters filter.State) error

// Hydrate calls f.
func (f HydratorFunc) Hydrate(ctx context.Context, filters filter.State) error {
	return f(ctx, filters)
}

// View is a read-only copy of the store.
type View struct {
	Filters      filter.State        `json:"filters"`
	Options      filter.Options      `json:"options"`
	Layout       filter.Layout       `json:"layout"`
	Persona      string              `json:"persona,omitempty"`
	QuickPrompts []string            `json:"quickPrompts"`
	DatePresets  []filter.DatePreset `json:"datePresets"`
}

// Store is the per-session filter state owner.
type Store struct {
	source   OptionsSource
	hydrator Hydrator
	port     storage.Port
	personas persona.Store
	sink     notify.Sink
	logger   zerolog.Logger
	now      func() time.Time

	mu           sync.RWMutex
	bootstrapped bool
	options      filter.Options
	filters      filter.State
	layout       filter.Layout
	persona      string
	prompts      []string
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used for date presets.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSink routes bootstrap failures to a notification sink.
func WithSink(sink notify.Sink) Option {
	return func(s *Store) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// New creates a store. Nothing is loaded until Bootstrap.
func New(source OptionsSource, hydrator Hydrator, port storage.Port, personas persona.Store, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		source:   source,
		hydrator: hydrator,
		port:     port,
		personas: personas,
		sink:     notify.Discard,
		logger:   logger.With().Str("component", "dashboard").Logger(),
		now:      time.Now,
		layout:   filter.DefaultLayout(),
		prompts:  append([]string(nil), BasePrompts...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap fetches the option vocabulary, merges any persisted selection
// with the options' date range and hydrates exactly once. The persisted
// layout is loaded alongside.
func (s *Store) Bootstrap(ctx context.Context) (View, error) {
	opts, err := s.source.FetchFilters(ctx)
	if err != nil {
		s.sink.Notify(notify.New(notify.LevelError, "Failed to load filters", err.Error()))
		return View{}, fmt.Errorf("bootstrap: %w", err)
	}

	var saved filter.State
	if ok := s.load(ctx, storage.SlotFilters, &saved); !ok {
		saved = filter.State{}
	}
	initial := filter.WithinOptions(saved, opts)

	var layout filter.Layout
	if ok := s.load(ctx, storage.SlotLayout, &layout); !ok {
		layout = filter.DefaultLayout()
	}

	s.mu.Lock()
	s.options = opts
	s.filters = initial
	s.layout = layout
	s.persona = ""
	s.prompts = append([]string(nil), BasePrompts...)
	s.bootstrapped = true
	view := s.viewLocked()
	err = s.hydrate(ctx, initial)
	s.mu.Unlock()

	s.save(ctx, storage.SlotFilters, initial)
	return view, err
}

// Apply replaces the selection wholesale and clears the active persona.
func (s *Store) Apply(ctx context.Context, next filter.State) (View, error) {
	return s.commit(ctx, func() filter.State {
		s.persona = ""
		return next
	})
}

// Reset restores the full date range, clears the persona and restores the
// base quick prompts.
func (s *Store) Reset(ctx context.Context) (View, error) {
	return s.commit(ctx, func() filter.State {
		s.persona = ""
		s.prompts = append([]string(nil), BasePrompts...)
		return filter.Base(s.options)
	})
}

// SelectPersona overlays the persona's filters on the current selection.
// Persona fields win; every other field is retained.
func (s *Store) SelectPersona(ctx context.Context, id string) (View, error) {
	p, ok := s.personas.FindByID(id)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", persona.ErrNotFound, id)
	}
	return s.commit(ctx, func() filter.State {
		s.persona = p.ID
		prompts := []string{p.Prompt}
		prompts = append(prompts, BasePrompts[:2]...)
		s.prompts = prompts
		return s.filters.Merge(p.Filters)
	})
}

// ApplyDatePreset sets start and end from a named preset and keeps the
// other dimensions.
func (s *Store) ApplyDatePreset(ctx context.Context, label string) (View, error) {
	s.mu.RLock()
	opts := s.options
	s.mu.RUnlock()

	preset, ok := filter.FindPreset(s.now(), opts, label)
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownPreset, label)
	}
	return s.commit(ctx, func() filter.State {
		s.persona = ""
		next := s.filters
		next.Start, next.End = preset.Start, preset.End
		return next
	})
}

// ToggleWidget flips one widget's visibility.
func (s *Store) ToggleWidget(ctx context.Context, name string) (filter.Layout, error) {
	if !filter.KnownWidget(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWidget, name)
	}
	s.mu.Lock()
	s.layout = s.layout.Toggle(name)
	layout := copyLayout(s.layout)
	s.mu.Unlock()

	s.save(ctx, storage.SlotLayout, layout)
	return layout, nil
}

// SetLayout replaces the layout. Unknown widgets are dropped and missing
// ones stay visible.
func (s *Store) SetLayout(ctx context.Context, next filter.Layout) filter.Layout {
	layout := filter.DefaultLayout()
	for k, v := range next {
		if filter.KnownWidget(k) {
			layout[k] = v
		}
	}

	s.mu.Lock()
	s.layout = layout
	out := copyLayout(layout)
	s.mu.Unlock()

	s.save(ctx, storage.SlotLayout, out)
	return out
}

// View returns a copy of the current state.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// Filters returns the current selection.
func (s *Store) Filters() filter.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// QuickPrompts returns the chat panel's suggested prompts.
func (s *Store) QuickPrompts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.prompts...)
}

func (s *Store) commit(ctx context.Context, mutate func() filter.State) (View, error) {
	s.mu.Lock()
	if !s.bootstrapped {
		s.mu.Unlock()
		return View{}, ErrNotBootstrapped
	}
	next := mutate()
	s.filters = next
	view := s.viewLocked()
	err := s.hydrate(ctx, next)
	s.mu.Unlock()

	s.save(ctx, storage.SlotFilters, next)
	return view, err
}

func (s *Store) hydrate(ctx context.Context, filters filter.State) error {
	if s.hydrator == nil {
		return nil
	}
	return s.hydrator.Hydrate(ctx, filters)
}

// load treats every failure as absent. v is only written on success.
func (s *Store) load(ctx context.Context, slot storage.Slot, v any) bool {
	if s.port == nil {
		return false
	}
	switch dst := v.(type) {
	case *filter.State:
		var scratch filter.State
		ok, err := s.port.Load(ctx, slot, &scratch)
		if err != nil {
			s.logger.Warn().Err(err).Str("slot", string(slot)).Msg("ignoring persisted value")
			return false
		}
		if ok {
			*dst = scratch
		}
		return ok
	case *filter.Layout:
		var scratch filter.Layout
		ok, err := s.port.Load(ctx, slot, &scratch)
		if err != nil {
			s.logger.Warn().Err(err).Str("slot", string(slot)).Msg("ignoring persisted value")
			return false
		}
		if ok && scratch != nil {
			*dst = scratch
			return true
		}
		return false
	default:
		return false
	}
}

func (s *Store) save(ctx context.Context, slot storage.Slot, v any) {
	if s.port == nil {
		return
	}
	if err := s.port.Save(ctx, slot, v); err != nil {
		s.logger.Warn().Err(err).Str("slot", string(slot)).Msg("persist failed")
	}
}

func (s *Store) viewLocked() View {
	return View{
		Filters:      s.filters,
		Options:      s.options,
		Layout:       copyLayout(s.layout),
		Persona:      s.persona,
		QuickPrompts: append([]string(nil), s.prompts...),
		DatePresets:  filter.Presets(s.now(), s.options),
	}
}

func copyLayout(l filter.Layout) filter.Layout {
	out := make(filter.Layout, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}
