package entities

import "time"

// Vote is one ledger row. VoterKey identifies the voter for uniqueness
// purposes: authenticated voters key on their user id, anonymous voters on a
// fingerprint of their network address.
type Vote struct {
	VoteID    string
	PollID    string
	OptionID  string
	VoterKey  string
	UserID    string
	Address   string
	UserAgent string
	CreatedAt time.Time
}

func (v Vote) Anonymous() bool {
	return v.UserID == ""
}

type OptionCount struct {
	OptionID string
	Label    string
	Position int
	Count    int64
}

// Tally is the current per-option vote count for a poll, in option order.
type Tally struct {
	PollID string
	Counts []OptionCount
}

func (t Tally) Total() int64 {
	var total int64
	for _, count := range t.Counts {
		total += count.Count
	}
	return total
}

func (t Tally) CountFor(optionID string) int64 {
	for _, count := range t.Counts {
		if count.OptionID == optionID {
			return count.Count
		}
	}
	return 0
}

type TallyEventKind string

const (
	// TallyEventSnapshot carries the full tally; sent once on subscribe.
	TallyEventSnapshot TallyEventKind = "snapshot"
	// TallyEventDelta carries a single-option increment plus fresh counts.
	TallyEventDelta TallyEventKind = "delta"
	// TallyEventClosed carries the final tally; the channel ends after it.
	TallyEventClosed TallyEventKind = "closed"
)

type TallyEvent struct {
	Kind       TallyEventKind
	PollID     string
	OptionID   string
	Delta      int64
	Counts     []OptionCount
	OccurredAt time.Time
}
