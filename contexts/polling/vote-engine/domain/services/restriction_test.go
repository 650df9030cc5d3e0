package services

import (
	"errors"
	"testing"

	domainerrors "agora/contexts/polling/vote-engine/domain/errors"
)

func TestEvaluateRestrictionOrder(t *testing.T) {
	cases := []struct {
		name  string
		facts RestrictionFacts
		want  error
	}{
		{
			name:  "closed poll rejected before identity checks",
			facts: RestrictionFacts{Open: false, Authenticated: false, AllowAnonymous: false},
			want:  domainerrors.ErrPollNotOpen,
		},
		{
			name:  "anonymous rejected when not allowed",
			facts: RestrictionFacts{Open: true, Authenticated: false, AllowAnonymous: false},
			want:  domainerrors.ErrAuthRequired,
		},
		{
			name:  "anonymous allowed when configured",
			facts: RestrictionFacts{Open: true, Authenticated: false, AllowAnonymous: true},
			want:  nil,
		},
		{
			name:  "repeat voter rejected under one-vote rule",
			facts: RestrictionFacts{Open: true, Authenticated: true, OneVotePerVoter: true, HasVoted: true},
			want:  domainerrors.ErrAlreadyVoted,
		},
		{
			name:  "repeat voter allowed without one-vote rule",
			facts: RestrictionFacts{Open: true, Authenticated: true, HasVoted: true},
			want:  nil,
		},
		{
			name:  "address at limit rejected",
			facts: RestrictionFacts{Open: true, Authenticated: true, IPVoteLimit: 3, RecentFromAddress: 3},
			want:  domainerrors.ErrRateLimited,
		},
		{
			name:  "address under limit allowed",
			facts: RestrictionFacts{Open: true, Authenticated: true, IPVoteLimit: 3, RecentFromAddress: 2},
			want:  nil,
		},
		{
			name:  "zero limit means unlimited",
			facts: RestrictionFacts{Open: true, Authenticated: true, IPVoteLimit: 0, RecentFromAddress: 500},
			want:  nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateRestriction(tc.facts)
			if !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestVoterKeyDistinguishesIdentities(t *testing.T) {
	user := VoterKey("user-1", "203.0.113.7")
	anon := VoterKey("", "203.0.113.7")
	if user == anon {
		t.Fatalf("authenticated and anonymous keys must differ")
	}
	if VoterKey("", "203.0.113.7") != anon {
		t.Fatalf("anonymous key must be stable per address")
	}
	if VoterKey("", "203.0.113.7") == VoterKey("", "203.0.113.8") {
		t.Fatalf("different addresses must derive different keys")
	}
	if VoterKey(" user-1 ", "") != user {
		t.Fatalf("user key must ignore surrounding whitespace")
	}
}
