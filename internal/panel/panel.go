// Package panel implements the location assessment panel of the map view: the
// current pin list plus a lazily filled, per-pin cache of safety assessments.
//
// Every pin starts absent. Selecting an absent pin marks it Pending and starts
// one fetch; the fetch result moves it to Resolved or Failed. Refresh replaces
// the pin list and drops every per-pin state. Each refresh bumps a generation
// counter, and a fetch result is applied only if the generation it was issued
// under is still current, so results that arrive after a refresh are dropped.
package panel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intelligrit/quakesafe/internal/metrics"
	"github.com/intelligrit/quakesafe/internal/model"
)

// Source is the remote side of the panel.
type Source interface {
	// FetchAssessments returns the assessments stored for a pin, newest
	// first. An empty slice means none exist yet.
	FetchAssessments(ctx context.Context, pinID string) ([]model.Assessment, error)

	// FetchPins returns every pin record. Records may lack coordinates.
	FetchPins(ctx context.Context) ([]model.PinRecord, error)
}

// Options tune a Panel. The zero value is usable.
type Options struct {
	// FetchTimeout bounds each assessment fetch. Zero means no timeout.
	FetchTimeout time.Duration

	// OnChange is called after every applied transition, outside the
	// panel lock. id is empty for panel-level changes (refresh).
	OnChange func(id string)
}

// Panel owns the pin list and the assessment state of every pin. It is safe
// for concurrent use.
type Panel struct {
	src  Source
	opts Options

	mu         sync.Mutex
	pins       []model.Pin
	index      map[string]int
	states     map[string]State
	displayed  string
	generation uint64
	refreshing int
	lastErr    error

	// inflight counts running fetches; idle is signalled when it drops to zero.
	inflight int
	idle     *sync.Cond
}

// New creates an empty panel. Call Refresh to load pins.
func New(src Source, opts Options) *Panel {
	p := &Panel{
		src:    src,
		opts:   opts,
		index:  make(map[string]int),
		states: make(map[string]State),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Select marks id as displayed and, if its state is absent, starts fetching
// its assessment. Selecting a pin that is pending, resolved or failed changes
// nothing else. ctx is the parent of the fetch.
func (p *Panel) Select(ctx context.Context, id string) error {
	p.mu.Lock()
	if _, ok := p.index[id]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("selecting %q: %w", id, ErrUnknownPin)
	}
	p.displayed = id
	if _, ok := p.states[id]; ok {
		p.mu.Unlock()
		p.notify(id)
		return nil
	}
	gen := p.generation
	p.states[id] = Pending{Generation: gen}
	p.inflight++
	p.mu.Unlock()

	log.Debug().Str("pin", id).Uint64("generation", gen).Msg("Fetching assessment")
	p.notify(id)

	go p.fetch(ctx, id, gen)
	return nil
}

func (p *Panel) fetch(ctx context.Context, id string, gen uint64) {
	defer p.fetchDone()

	if p.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.FetchTimeout)
		defer cancel()
	}

	records, err := p.src.FetchAssessments(ctx, id)
	p.complete(id, gen, records, err)
}

// complete applies a fetch result. It reports whether the result was applied;
// results for a superseded generation or a pin that is no longer pending are
// discarded.
func (p *Panel) complete(id string, gen uint64, records []model.Assessment, err error) bool {
	p.mu.Lock()
	cur, pending := p.states[id].(Pending)
	if gen != p.generation || !pending || cur.Generation != gen {
		current := p.generation
		p.mu.Unlock()
		metrics.PanelFetchesTotal.WithLabelValues("stale").Inc()
		log.Debug().
			Str("pin", id).
			Uint64("generation", gen).
			Uint64("current", current).
			Msg("Discarding stale assessment")
		return false
	}

	var next State
	switch {
	case err != nil:
		next = Failed{Err: err}
	case len(records) == 0:
		next = Failed{Err: ErrNoAssessment}
	default:
		next = Resolved{Assessment: records[0]}
	}
	p.states[id] = next
	p.mu.Unlock()

	switch s := next.(type) {
	case Resolved:
		metrics.PanelFetchesTotal.WithLabelValues("resolved").Inc()
		log.Debug().Str("pin", id).Float64("score", s.Assessment.Score).Msg("Assessment loaded")
	case Failed:
		metrics.PanelFetchesTotal.WithLabelValues("failed").Inc()
		log.Warn().Str("pin", id).Err(s.Err).Msg("Assessment unavailable")
	}

	p.notify(id)
	return true
}

// Refresh reloads the pin list. Every per-pin state is cleared immediately and
// fetches still in flight are discarded when they land. The pin list itself is
// replaced only if the fetch succeeds, and only by the newest of overlapping
// refreshes.
func (p *Panel) Refresh(ctx context.Context) error {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.states = make(map[string]State)
	p.refreshing++
	p.mu.Unlock()
	p.notify("")

	records, err := p.src.FetchPins(ctx)

	p.mu.Lock()
	p.refreshing--
	if err != nil {
		if gen == p.generation {
			p.lastErr = err
		}
		p.mu.Unlock()
		metrics.PanelRefreshesTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Uint64("generation", gen).Msg("Pin refresh failed, keeping previous pins")
		p.notify("")
		return fmt.Errorf("refreshing pins: %w", err)
	}
	if gen != p.generation {
		p.mu.Unlock()
		metrics.PanelRefreshesTotal.WithLabelValues("superseded").Inc()
		log.Debug().Uint64("generation", gen).Msg("Pin refresh superseded")
		p.notify("")
		return nil
	}

	pins, index, dropped := filterPins(records)
	p.pins = pins
	p.index = index
	p.lastErr = nil
	// Pins selected while the list was loading may not exist any more.
	for id := range p.states {
		if _, ok := index[id]; !ok {
			delete(p.states, id)
		}
	}
	if _, ok := index[p.displayed]; !ok {
		p.displayed = ""
	}
	p.mu.Unlock()

	metrics.PanelRefreshesTotal.WithLabelValues("ok").Inc()
	log.Info().
		Int("pins", len(pins)).
		Int("dropped", dropped).
		Uint64("generation", gen).
		Msg("Pins refreshed")
	p.notify("")
	return nil
}

// filterPins keeps records with valid coordinates, first occurrence of each id.
func filterPins(records []model.PinRecord) ([]model.Pin, map[string]int, int) {
	pins := make([]model.Pin, 0, len(records))
	index := make(map[string]int, len(records))
	dropped := 0
	for _, r := range records {
		pin, ok := r.Pin()
		if !ok {
			dropped++
			continue
		}
		if _, dup := index[pin.ID]; dup {
			dropped++
			continue
		}
		index[pin.ID] = len(pins)
		pins = append(pins, pin)
	}
	return pins, index, dropped
}

// Pins returns a copy of the current pin list.
func (p *Panel) Pins() []model.Pin {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Pin, len(p.pins))
	copy(out, p.pins)
	return out
}

// Pin looks up a pin in the current list.
func (p *Panel) Pin(id string) (model.Pin, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[id]
	if !ok {
		return model.Pin{}, false
	}
	return p.pins[i], true
}

// State returns the assessment state of id, or nil if it is absent.
func (p *Panel) State(id string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[id]
}

// Displayed returns the id of the displayed pin, or "" if none.
func (p *Panel) Displayed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayed
}

// Refreshing reports whether a refresh is in progress.
func (p *Panel) Refreshing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshing > 0
}

// Generation returns the number of refreshes started so far.
func (p *Panel) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// LastRefreshError returns the error of the latest refresh, or nil if it
// succeeded or none has run.
func (p *Panel) LastRefreshError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Wait blocks until no fetch is running. It may be called concurrently with
// Select; fetches started while waiting are waited for too.
func (p *Panel) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.inflight > 0 {
		p.idle.Wait()
	}
}

func (p *Panel) fetchDone() {
	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Panel) notify(id string) {
	if p.opts.OnChange != nil {
		p.opts.OnChange(id)
	}
}
