package entities

import "time"

type LifecycleState string

const (
	StateScheduled LifecycleState = "scheduled"
	StateOpen      LifecycleState = "open"
	StateClosed    LifecycleState = "closed"
)

// RestrictionConfig is the per-poll voting restriction knobs evaluated by the
// vote engine. Anonymous voting is a per-poll decision, not a global one.
type RestrictionConfig struct {
	AllowAnonymous  bool
	OneVotePerVoter bool
	IPVoteLimit     int
	IPWindow        time.Duration
}

type Poll struct {
	PollID         string
	Question       string
	CategoryID     string
	OwnerID        string
	OrganizationID string
	Public         bool
	Monetized      bool
	Active         bool
	State          LifecycleState
	StartAt        time.Time
	EndAt          time.Time
	Restriction    RestrictionConfig
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveState projects the stored state forward against the poll window.
// Lazy vote-path checks and the periodic sweep both use this single
// threshold, so they always agree on when a transition is due.
func (p Poll) EffectiveState(now time.Time) LifecycleState {
	switch p.State {
	case StateClosed:
		return StateClosed
	case StateOpen:
		if !now.Before(p.EndAt) {
			return StateClosed
		}
		return StateOpen
	default:
		if !now.Before(p.EndAt) {
			return StateClosed
		}
		if !now.Before(p.StartAt) {
			return StateOpen
		}
		return StateScheduled
	}
}

type Option struct {
	OptionID  string
	PollID    string
	Label     string
	Position  int
	VoteCount int64
}
