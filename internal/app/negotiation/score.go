package negotiation

import "github.com/PabloGalante/equalizer/internal/domain"

const (
	MinScore = 0
	MaxScore = 100

	// DefaultInitialScore is where a room starts when Options leave it unset.
	DefaultInitialScore = 50
)

// Delta is how much one card moves the leverage score.
func Delta(v domain.Verdict) int {
	switch v {
	case domain.VerdictFalse:
		return 5
	case domain.VerdictMisleading:
		return 3
	case domain.VerdictPartiallyTrue:
		return 1
	case domain.VerdictTrue:
		return -2
	default:
		return 0
	}
}

// ApplyVerdict returns the score after one card, clamped to [MinScore, MaxScore].
func ApplyVerdict(prev int, v domain.Verdict) int {
	return clamp(prev + Delta(v))
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
