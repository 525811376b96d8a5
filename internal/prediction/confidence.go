package prediction

import (
	apperrors "github.com/yungbote/ontomap-backend/internal/pkg/errors"
)

type Confidence string

const (
	ConfidenceHigh    Confidence = "HIGH"
	ConfidenceGood    Confidence = "GOOD"
	ConfidenceMedium  Confidence = "MEDIUM"
	ConfidenceLow     Confidence = "LOW"
	ConfidenceUnknown Confidence = "UNKNOWN"
)

const (
	DefaultCutoffPercentage = 0.7
	DefaultCutoffScore      = 0.8

	goodBand   = 0.75
	mediumBand = 0.5
)

// Rank orders tiers, HIGH first. UNKNOWN sorts last.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 0
	case ConfidenceGood:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 3
	default:
		return 4
	}
}

// Config holds the two independent knobs: CutoffPercentage drops candidates relative to the
// best one, CutoffScore is the absolute HIGH threshold used for banding.
type Config struct {
	CutoffPercentage float64 `mapstructure:"cutoff_percentage" yaml:"cutoff_percentage" json:"cutoff_percentage"`
	CutoffScore      float64 `mapstructure:"cutoff_score" yaml:"cutoff_score" json:"cutoff_score"`
}

func DefaultConfig() Config {
	return Config{CutoffPercentage: DefaultCutoffPercentage, CutoffScore: DefaultCutoffScore}
}

func (c Config) Validate() error {
	if !(c.CutoffPercentage > 0 && c.CutoffPercentage <= 1) {
		return apperrors.Validationf("prediction: cutoff_percentage %v must be in (0,1]", c.CutoffPercentage)
	}
	if !(c.CutoffScore > 0 && c.CutoffScore <= 1) {
		return apperrors.Validationf("prediction: cutoff_score %v must be in (0,1]", c.CutoffScore)
	}
	return nil
}

// ApplyCutoff keeps the candidates whose score is at least top*pct. Input order is preserved.
func ApplyCutoff(cands []Candidate, pct float64) []Candidate {
	if len(cands) == 0 {
		return nil
	}
	top := cands[0].Score
	for _, c := range cands[1:] {
		if c.Score > top {
			top = c.Score
		}
	}
	threshold := top * pct
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Score >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// Classify bands a score against cutoffScore. Equal scores always share a tier.
func Classify(score, cutoffScore float64) Confidence {
	switch {
	case score >= cutoffScore:
		return ConfidenceHigh
	case score >= goodBand*cutoffScore:
		return ConfidenceGood
	case score >= mediumBand*cutoffScore:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Overall is the tier of the best prediction, or UNKNOWN for an empty result.
func Overall(preds []Prediction) Confidence {
	best := ConfidenceUnknown
	for _, p := range preds {
		if p.Confidence.Rank() < best.Rank() {
			best = p.Confidence
		}
	}
	return best
}
