package panel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/intelligrit/quakesafe/internal/model"
)

// fakeSource serves canned pins and assessments. A pin id present in gates
// blocks its fetch until the channel is closed.
type fakeSource struct {
	mu          sync.Mutex
	pins        []model.PinRecord
	pinsErr     error
	assessments map[string][]model.Assessment
	errs        map[string]error
	gates       map[string]chan struct{}
	pinsGate    chan struct{}
	calls       map[string]int
	pinCalls    int
}

func newFakeSource(pins ...model.PinRecord) *fakeSource {
	return &fakeSource{
		pins:        pins,
		assessments: make(map[string][]model.Assessment),
		errs:        make(map[string]error),
		gates:       make(map[string]chan struct{}),
		calls:       make(map[string]int),
	}
}

func (f *fakeSource) FetchAssessments(ctx context.Context, id string) ([]model.Assessment, error) {
	f.mu.Lock()
	f.calls[id]++
	gate := f.gates[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return f.assessments[id], nil
}

func (f *fakeSource) FetchPins(ctx context.Context) ([]model.PinRecord, error) {
	f.mu.Lock()
	f.pinCalls++
	gate := f.pinsGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pinsErr != nil {
		return nil, f.pinsErr
	}
	out := make([]model.PinRecord, len(f.pins))
	copy(out, f.pins)
	return out, nil
}

func (f *fakeSource) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeSource) setPins(pins ...model.PinRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins = pins
}

func coord(v float64) *float64 { return &v }

func pin(id string, lat, lon float64) model.PinRecord {
	return model.PinRecord{ID: id, Latitude: coord(lat), Longitude: coord(lon), ImageRef: id + ".jpg"}
}

func loadedPanel(t *testing.T, src *fakeSource) *Panel {
	t.Helper()
	p := New(src, Options{FetchTimeout: 5 * time.Second})
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	return p
}

func TestUnselectedPinsStayAbsent(t *testing.T) {
	src := newFakeSource(pin("a", 37.77, -122.42), pin("b", 34.05, -118.24))
	p := loadedPanel(t, src)

	if err := p.Select(context.Background(), "a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	p.Wait()

	if s := p.State("b"); s != nil {
		t.Errorf("expected b absent, got %#v", s)
	}
	if n := src.callCount("b"); n != 0 {
		t.Errorf("expected no fetch for b, got %d", n)
	}
}

func TestSelectWhilePendingFetchesOnce(t *testing.T) {
	src := newFakeSource(pin("a", 1, 1))
	src.assessments["a"] = []model.Assessment{{Score: 90, SurvivabilityLabel: "7.5", Description: "solid"}}
	gate := make(chan struct{})
	src.gates["a"] = gate
	p := loadedPanel(t, src)

	ctx := context.Background()
	if err := p.Select(ctx, "a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := p.Select(ctx, "a"); err != nil {
		t.Fatalf("second select: %v", err)
	}
	if _, ok := p.State("a").(Pending); !ok {
		t.Fatalf("expected pending, got %#v", p.State("a"))
	}

	close(gate)
	p.Wait()

	if n := src.callCount("a"); n != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", n)
	}
	if _, ok := p.State("a").(Resolved); !ok {
		t.Errorf("expected resolved, got %#v", p.State("a"))
	}

	// Selecting a resolved pin neither refetches nor resets it.
	if err := p.Select(ctx, "a"); err != nil {
		t.Fatalf("third select: %v", err)
	}
	p.Wait()
	if n := src.callCount("a"); n != 1 {
		t.Errorf("expected still 1 fetch, got %d", n)
	}
}

func TestEmptyResultFails(t *testing.T) {
	src := newFakeSource(pin("a", 1, 1))
	p := loadedPanel(t, src)

	if err := p.Select(context.Background(), "a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	p.Wait()

	f, ok := p.State("a").(Failed)
	if !ok {
		t.Fatalf("expected failed, got %#v", p.State("a"))
	}
	if !f.Unavailable() || !errors.Is(f.Err, ErrNoAssessment) {
		t.Errorf("expected unavailable failure, got %v", f.Err)
	}
	if f.Reason() != "no assessment available" {
		t.Errorf("unexpected reason %q", f.Reason())
	}
}

func TestStaleResultAfterRefreshIsDiscarded(t *testing.T) {
	src := newFakeSource(pin("x", 1, 1))
	src.assessments["x"] = []model.Assessment{{Score: 40}}
	gate := make(chan struct{})
	src.gates["x"] = gate
	p := loadedPanel(t, src)

	if err := p.Select(context.Background(), "x"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	close(gate)
	p.Wait()

	if s := p.State("x"); s != nil {
		t.Errorf("expected x absent after refresh, got %#v", s)
	}
}

func TestRefreshFiltersMissingCoordinates(t *testing.T) {
	src := newFakeSource(
		pin("a", 10, 10),
		pin("b", 20, 20),
		pin("c", 30, 30),
		model.PinRecord{ID: "d", Longitude: coord(40)},
		model.PinRecord{ID: "e", Longitude: coord(50)},
	)
	p := loadedPanel(t, src)

	pins := p.Pins()
	if len(pins) != 3 {
		t.Fatalf("expected 3 pins, got %d", len(pins))
	}
	for i, want := range []string{"a", "b", "c"} {
		if pins[i].ID != want {
			t.Errorf("pin %d: expected %s, got %s", i, want, pins[i].ID)
		}
	}
}

func TestRefreshDropsOutOfRangeAndDuplicates(t *testing.T) {
	src := newFakeSource(
		pin("a", 91, 0),
		pin("b", 0, -181),
		pin("c", -90, 180),
		pin("c", 1, 1),
	)
	p := loadedPanel(t, src)

	pins := p.Pins()
	if len(pins) != 1 || pins[0].ID != "c" || pins[0].Latitude != -90 {
		t.Errorf("unexpected pins %+v", pins)
	}
}

func TestEndToEnd(t *testing.T) {
	src := newFakeSource(pin("a", 1, 1), pin("b", 2, 2))
	src.assessments["a"] = []model.Assessment{
		{Score: 85, SurvivabilityLabel: "7.2", Description: "newest"},
		{Score: 10, Description: "older"},
	}
	src.errs["b"] = errors.New("connection refused")
	p := loadedPanel(t, src)
	ctx := context.Background()

	if err := p.Select(ctx, "a"); err != nil {
		t.Fatalf("select a: %v", err)
	}
	p.Wait()
	r, ok := p.State("a").(Resolved)
	if !ok {
		t.Fatalf("expected a resolved, got %#v", p.State("a"))
	}
	if r.Assessment.Description != "newest" {
		t.Errorf("expected first record, got %q", r.Assessment.Description)
	}

	if err := p.Select(ctx, "b"); err != nil {
		t.Fatalf("select b: %v", err)
	}
	p.Wait()
	f, ok := p.State("b").(Failed)
	if !ok {
		t.Fatalf("expected b failed, got %#v", p.State("b"))
	}
	if f.Unavailable() || f.Reason() != "connection refused" {
		t.Errorf("unexpected failure %q", f.Reason())
	}
	if p.Displayed() != "b" {
		t.Errorf("expected b displayed, got %q", p.Displayed())
	}

	src.setPins(pin("a", 1, 1), pin("b", 2, 2), pin("c", 3, 3))
	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if p.State("a") != nil || p.State("b") != nil {
		t.Errorf("expected a and b absent, got %#v / %#v", p.State("a"), p.State("b"))
	}
	if n := len(p.Pins()); n != 3 {
		t.Errorf("expected 3 pins after refresh, got %d", n)
	}
	if p.Displayed() != "b" {
		t.Errorf("expected b to stay displayed, got %q", p.Displayed())
	}
	if v := p.Current(); v.Kind != ViewPrompt {
		t.Errorf("expected prompt for absent displayed pin, got %s", v.Kind)
	}
}

func TestRefreshFailureKeepsPins(t *testing.T) {
	src := newFakeSource(pin("a", 1, 1))
	p := loadedPanel(t, src)

	src.mu.Lock()
	src.pinsErr = errors.New("backend down")
	src.mu.Unlock()

	err := p.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected refresh error")
	}
	if len(p.Pins()) != 1 {
		t.Errorf("expected previous pin list kept, got %d pins", len(p.Pins()))
	}
	if p.LastRefreshError() == nil {
		t.Error("expected last refresh error recorded")
	}
	if p.Refreshing() {
		t.Error("expected refreshing flag cleared")
	}

	src.mu.Lock()
	src.pinsErr = nil
	src.mu.Unlock()
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if p.LastRefreshError() != nil {
		t.Error("expected last refresh error cleared")
	}
}

// blockingPins returns a different list on each call; the first call waits.
type blockingPins struct {
	*fakeSource
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (b *blockingPins) FetchPins(ctx context.Context) ([]model.PinRecord, error) {
	b.mu.Lock()
	b.n++
	n := b.n
	b.mu.Unlock()
	if n == 1 {
		close(b.entered)
		<-b.release
		return []model.PinRecord{pin("old", 1, 1)}, nil
	}
	return []model.PinRecord{pin("new", 2, 2)}, nil
}

func TestOverlappingRefreshNewestWins(t *testing.T) {
	src := &blockingPins{
		fakeSource: newFakeSource(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	p := New(src, Options{})

	done := make(chan error, 1)
	go func() { done <- p.Refresh(context.Background()) }()
	<-src.entered

	if !p.Refreshing() {
		t.Error("expected refreshing while first refresh is blocked")
	}
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	close(src.release)
	if err := <-done; err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	pins := p.Pins()
	if len(pins) != 1 || pins[0].ID != "new" {
		t.Errorf("expected newest pin list, got %+v", pins)
	}
	if p.Generation() != 2 {
		t.Errorf("expected generation 2, got %d", p.Generation())
	}
	if p.Refreshing() {
		t.Error("expected refreshing flag cleared")
	}
}

func TestSelectUnknownPin(t *testing.T) {
	p := loadedPanel(t, newFakeSource(pin("a", 1, 1)))

	err := p.Select(context.Background(), "zzz")
	if !errors.Is(err, ErrUnknownPin) {
		t.Fatalf("expected ErrUnknownPin, got %v", err)
	}
	if p.Displayed() != "" {
		t.Errorf("expected nothing displayed, got %q", p.Displayed())
	}
}

func TestCompleteRequiresPending(t *testing.T) {
	p := loadedPanel(t, newFakeSource(pin("a", 1, 1)))

	if p.complete("a", p.Generation(), []model.Assessment{{Score: 50}}, nil) {
		t.Error("expected completion without a pending fetch to be discarded")
	}
	if s := p.State("a"); s != nil {
		t.Errorf("expected a absent, got %#v", s)
	}
}

func TestFetchTimeout(t *testing.T) {
	src := newFakeSource(pin("a", 1, 1))
	src.gates["a"] = make(chan struct{})
	p := New(src, Options{FetchTimeout: 20 * time.Millisecond})
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := p.Select(context.Background(), "a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	p.Wait()

	f, ok := p.State("a").(Failed)
	if !ok {
		t.Fatalf("expected failed, got %#v", p.State("a"))
	}
	if !errors.Is(f.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", f.Err)
	}
}

func TestOnChangeCalled(t *testing.T) {
	src := newFakeSource(pin("a", 1, 1))
	src.assessments["a"] = []model.Assessment{{Score: 60}}

	var mu sync.Mutex
	var seen []string
	p := New(src, Options{OnChange: func(id string) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	}})
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := p.Select(context.Background(), "a"); err != nil {
		t.Fatalf("select: %v", err)
	}
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	// refresh start, refresh end, select (pending), resolved
	if len(seen) != 4 {
		t.Fatalf("expected 4 notifications, got %v", seen)
	}
	if seen[2] != "a" || seen[3] != "a" {
		t.Errorf("expected pin notifications for a, got %v", seen)
	}
}

func TestSelectDuringRefreshPrunesRemovedPins(t *testing.T) {
	src := newFakeSource(pin("a", 1, 1), pin("b", 2, 2))
	src.assessments["a"] = []model.Assessment{{Score: 90, SurvivabilityLabel: "7.0"}}
	p := loadedPanel(t, src)

	gate := make(chan struct{})
	src.mu.Lock()
	src.pinsGate = gate
	src.pins = []model.PinRecord{pin("a", 1, 1), pin("c", 3, 3)}
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.Refresh(context.Background()) }()
	for !p.Refreshing() {
		time.Sleep(time.Millisecond)
	}

	// The old list is still in place, so both pins can be selected.
	if err := p.Select(context.Background(), "a"); err != nil {
		t.Fatalf("select a: %v", err)
	}
	if err := p.Select(context.Background(), "b"); err != nil {
		t.Fatalf("select b: %v", err)
	}
	p.Wait()
	if _, ok := p.State("a").(Resolved); !ok {
		t.Fatalf("expected a resolved before refresh lands, got %#v", p.State("a"))
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if s := p.State("b"); s != nil {
		t.Errorf("expected state of removed pin b dropped, got %#v", s)
	}
	if _, ok := p.State("a").(Resolved); !ok {
		t.Errorf("expected a to stay resolved, got %#v", p.State("a"))
	}
	if p.Displayed() != "" {
		t.Errorf("expected removed displayed pin cleared, got %q", p.Displayed())
	}
	pins := p.Pins()
	if len(pins) != 2 || pins[0].ID != "a" || pins[1].ID != "c" {
		t.Errorf("unexpected pins %+v", pins)
	}
}

func TestWaitConcurrentWithSelect(t *testing.T) {
	src := newFakeSource(pin("a", 1, 1), pin("b", 2, 2), pin("c", 3, 3))
	p := loadedPanel(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				p.Wait()
			}
		}()
	}
	for round := 0; round < 10; round++ {
		for _, id := range []string{"a", "b", "c"} {
			if err := p.Select(context.Background(), id); err != nil {
				t.Fatalf("select %s: %v", id, err)
			}
		}
		if err := p.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
	wg.Wait()
	p.Wait()

	for _, id := range []string{"a", "b", "c"} {
		if s := p.State(id); s != nil {
			t.Errorf("expected %s absent after final refresh, got %#v", id, s)
		}
	}
}
