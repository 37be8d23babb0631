package panel

import (
	"github.com/intelligrit/quakesafe/internal/classify"
	"github.com/intelligrit/quakesafe/internal/model"
)

// ViewKind selects what the detail view shows for a pin.
type ViewKind int

const (
	ViewPrompt ViewKind = iota
	ViewLoading
	ViewError
	ViewResult
)

func (k ViewKind) String() string {
	switch k {
	case ViewPrompt:
		return "prompt"
	case ViewLoading:
		return "loading"
	case ViewError:
		return "error"
	case ViewResult:
		return "result"
	}
	return "unknown"
}

const (
	promptText  = "Select a pin to view its safety assessment"
	loadingText = "Loading assessment..."
)

// View is everything the detail view needs to draw one pin.
type View struct {
	Kind    ViewKind
	PinID   string
	Message string

	// Set only for ViewResult.
	Assessment  *model.Assessment
	Band        classify.Band
	HasBand     bool
	Advisory    classify.Advisory
	HasAdvisory bool
}

// RenderState maps a pin's state to its view. A nil state is absent.
func RenderState(id string, s State) View {
	switch s := s.(type) {
	case Pending:
		return View{Kind: ViewLoading, PinID: id, Message: loadingText}
	case Failed:
		return View{Kind: ViewError, PinID: id, Message: s.Reason()}
	case Resolved:
		a := s.Assessment
		v := View{Kind: ViewResult, PinID: id, Message: a.Description, Assessment: &a}
		v.Band, v.HasBand = classify.Score(a.Score)
		v.Advisory, v.HasAdvisory = classify.ParseAdvisory(a.SurvivabilityLabel)
		return v
	}
	return View{Kind: ViewPrompt, PinID: id, Message: promptText}
}

// Render returns the view for id.
func (p *Panel) Render(id string) View {
	return RenderState(id, p.State(id))
}

// Current renders the displayed pin, or a prompt if none is displayed.
func (p *Panel) Current() View {
	p.mu.Lock()
	id := p.displayed
	s := p.states[id]
	p.mu.Unlock()
	if id == "" {
		return View{Kind: ViewPrompt, Message: promptText}
	}
	return RenderState(id, s)
}
