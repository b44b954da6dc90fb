package tracking

import "gonum.org/v1/gonum/stat"

// ConsensusPolicy controls when a track's readings are trusted.
type ConsensusPolicy struct {
	MinSamples      int // readings required before anything is confirmed
	MinVotes        int // absolute floor on agreeing readings
	MajorityDivisor int // agreeing readings must reach samples/MajorityDivisor
}

// DefaultConsensusPolicy returns the policy max(3, n/2) over at least 5
// readings.
func DefaultConsensusPolicy() ConsensusPolicy {
	return ConsensusPolicy{
		MinSamples:      5,
		MinVotes:        3,
		MajorityDivisor: 2,
	}
}

// Consensus is the outcome of a successful vote.
type Consensus struct {
	Text       string
	Votes      int
	Samples    int
	Confidence float64
}

// required returns the vote count a winner needs among n readings.
func (p ConsensusPolicy) required(n int) int {
	need := p.MinVotes
	if p.MajorityDivisor > 0 {
		need = max(need, n/p.MajorityDivisor)
	}
	return need
}

// Confirm runs a majority vote over a track history. The most frequent
// text wins, ties going to the text seen first. It reports false when
// there are too few readings or the winner lacks the required votes.
func Confirm(history []Observation, policy ConsensusPolicy) (Consensus, bool) {
	if len(history) < policy.MinSamples {
		return Consensus{}, false
	}

	counts := make(map[string]int, len(history))
	order := make([]string, 0, len(history))
	n := 0
	for _, obs := range history {
		if obs.Text == "" {
			continue
		}
		n++
		if counts[obs.Text] == 0 {
			order = append(order, obs.Text)
		}
		counts[obs.Text]++
	}
	if n == 0 {
		return Consensus{}, false
	}

	best, bestCount := "", 0
	for _, text := range order {
		if counts[text] > bestCount {
			best, bestCount = text, counts[text]
		}
	}
	if bestCount < policy.required(n) {
		return Consensus{}, false
	}

	confs := make([]float64, 0, bestCount)
	for _, obs := range history {
		if obs.Text == best {
			confs = append(confs, obs.Confidence)
		}
	}

	return Consensus{
		Text:       best,
		Votes:      bestCount,
		Samples:    n,
		Confidence: stat.Mean(confs, nil),
	}, true
}
