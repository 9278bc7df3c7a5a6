package consensus

import (
	"fmt"
)

// VoteChoice is one voter's position.
type VoteChoice string

// Vote choices.
const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// Vote is one weighted ballot.
type Vote struct {
	Source string     `json:"source"`
	Choice VoteChoice `json:"choice"`
	Weight float64    `json:"weight"`
}

// ConsensusResult is the outcome of a weighted vote count.
type ConsensusResult struct {
	// Consensus is "approve", "reject", or "split" on an exact tie.
	Consensus string `json:"consensus"`
	// Strength is "strong" when the winning side carries at least 70% of
	// the non-abstaining weight, otherwise "weak".
	Strength string `json:"strength"`
	// Percentages reports each side's share of the non-abstaining weight.
	Percentages map[string]float64 `json:"percentages"`
}

// strongMajority is the winning share required for a strong consensus.
const strongMajority = 70.0

// BuildConsensus counts weighted votes. Abstentions are excluded from the
// denominator.
func (e *Engine) BuildConsensus(votes []Vote) (ConsensusResult, error) {
	var approve, reject float64
	for _, v := range votes {
		if v.Weight < 0 {
			return ConsensusResult{}, fmt.Errorf("negative weight for %q", v.Source)
		}
		switch v.Choice {
		case VoteApprove:
			approve += v.Weight
		case VoteReject:
			reject += v.Weight
		case VoteAbstain:
			// excluded
		default:
			return ConsensusResult{}, fmt.Errorf("unknown vote choice %q from %q", v.Choice, v.Source)
		}
	}

	total := approve + reject
	if total == 0 {
		return ConsensusResult{}, fmt.Errorf("no non-abstaining votes")
	}

	approvePct := approve / total * 100
	rejectPct := reject / total * 100
	result := ConsensusResult{
		Percentages: map[string]float64{
			"approve": approvePct,
			"reject":  rejectPct,
		},
	}

	switch {
	case approvePct >= strongMajority:
		result.Consensus, result.Strength = "approve", "strong"
	case rejectPct >= strongMajority:
		result.Consensus, result.Strength = "reject", "strong"
	case approvePct > rejectPct:
		result.Consensus, result.Strength = "approve", "weak"
	case rejectPct > approvePct:
		result.Consensus, result.Strength = "reject", "weak"
	default:
		result.Consensus, result.Strength = "split", "weak"
	}
	return result, nil
}

// Recommendation is one source's suggested course of action.
type Recommendation struct {
	Source string `json:"source"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// ResolveConflict picks between contradictory recommendations by source
// priority. On equal priority the first argument wins.
func (e *Engine) ResolveConflict(a, b Recommendation) Recommendation {
	if sourcePriority[b.Source] > sourcePriority[a.Source] {
		return b
	}
	return a
}
