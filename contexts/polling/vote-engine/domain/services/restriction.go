package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	domainerrors "agora/contexts/polling/vote-engine/domain/errors"
)

// RestrictionFacts is the snapshot of everything the policy needs to decide.
// The caller gathers the facts and the ledger re-enforces uniqueness inside
// its own transaction, because policy check and write are logically separate
// steps under concurrency.
type RestrictionFacts struct {
	Open              bool
	Authenticated     bool
	AllowAnonymous    bool
	OneVotePerVoter   bool
	HasVoted          bool
	IPVoteLimit       int
	RecentFromAddress int
}

// EvaluateRestriction runs the restriction checks in their fixed order and
// returns the first typed denial, or nil when the vote attempt is permitted.
func EvaluateRestriction(facts RestrictionFacts) error {
	if !facts.Open {
		return domainerrors.ErrPollNotOpen
	}
	if !facts.Authenticated && !facts.AllowAnonymous {
		return domainerrors.ErrAuthRequired
	}
	if facts.OneVotePerVoter && facts.HasVoted {
		return domainerrors.ErrAlreadyVoted
	}
	if facts.IPVoteLimit > 0 && facts.RecentFromAddress >= facts.IPVoteLimit {
		return domainerrors.ErrRateLimited
	}
	return nil
}

// VoterKey derives the identity a vote is deduplicated on: the user id for
// authenticated voters, an anonymized address fingerprint otherwise.
func VoterKey(userID string, address string) string {
	if strings.TrimSpace(userID) != "" {
		return "user:" + strings.TrimSpace(userID)
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(address)))
	return "anon:" + hex.EncodeToString(sum[:])
}
