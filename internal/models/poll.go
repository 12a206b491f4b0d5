package models

import (
	"time"

	"github.com/google/uuid"
)

// Poll is a question with an ordered set of choices. Whether it accepts votes is derived
// from StartAt, EndAt and IsActive at read time and never stored.
type Poll struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Choices     []Choice   `json:"choices"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	IsActive    bool       `json:"is_active"`
	ShowResults bool       `json:"show_results"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Choice is one option of a poll. VoteCount only changes when a vote is recorded.
type Choice struct {
	ID        uuid.UUID `json:"id"`
	PollID    uuid.UUID `json:"poll_id"`
	Position  int       `json:"position"`
	Text      string    `json:"text"`
	VoteCount int       `json:"vote_count"`
}

// HasChoice reports whether choiceID belongs to the poll.
func (p *Poll) HasChoice(choiceID uuid.UUID) bool {
	for _, c := range p.Choices {
		if c.ID == choiceID {
			return true
		}
	}
	return false
}

// ChoiceStats is the tally of a single choice.
type ChoiceStats struct {
	ChoiceID uuid.UUID `json:"choice_id"`
	Text     string    `json:"text"`
	Votes    int       `json:"votes"`
}

// PollStats is the public tally of a poll.
type PollStats struct {
	PollID     uuid.UUID     `json:"poll_id"`
	TotalVotes int           `json:"total_votes"`
	PerChoice  []ChoiceStats `json:"per_choice"`
}

// Stats builds the tally from the poll's choice counters.
func (p *Poll) Stats() PollStats {
	s := PollStats{PollID: p.ID, PerChoice: make([]ChoiceStats, 0, len(p.Choices))}
	for _, c := range p.Choices {
		s.TotalVotes += c.VoteCount
		s.PerChoice = append(s.PerChoice, ChoiceStats{ChoiceID: c.ID, Text: c.Text, Votes: c.VoteCount})
	}
	return s
}
