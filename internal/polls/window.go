package polls

import (
	"time"

	"github.com/aura-polls/backend/internal/models"
)

// WindowReason explains a window verdict.
type WindowReason string

const (
	ReasonOpen       WindowReason = "open"
	ReasonNotStarted WindowReason = "not_started"
	ReasonClosed     WindowReason = "closed"
	ReasonDisabled   WindowReason = "disabled"
)

// Window is the votability verdict of a poll at an instant.
type Window struct {
	Votable bool         `json:"votable"`
	Reason  WindowReason `json:"reason"`
}

// Evaluate decides whether p accepts votes at now. The disabled flag wins over the schedule,
// a missing bound imposes no limit on that side, and EndAt is exclusive: the poll is closed
// at its end instant.
func Evaluate(p *models.Poll, now time.Time) Window {
	switch {
	case !p.IsActive:
		return Window{Reason: ReasonDisabled}
	case p.StartAt != nil && now.Before(*p.StartAt):
		return Window{Reason: ReasonNotStarted}
	case p.EndAt != nil && !now.Before(*p.EndAt):
		return Window{Reason: ReasonClosed}
	}
	return Window{Votable: true, Reason: ReasonOpen}
}

// ResultsVisible reports whether voters may see the tally: the owner opted in, or voting has ended.
func ResultsVisible(p *models.Poll, now time.Time) bool {
	return p.ShowResults || Evaluate(p, now).Reason == ReasonClosed
}
