package domain

import (
	"errors"
	"strings"
	"time"
)

// Analysis is what the analysis function returns for one target.
type Analysis struct {
	Summary                  string   `json:"summary"`
	Perspective              string   `json:"perspective"`
	KeyPoints                []string `json:"key_points"`
	EstimatedCostImpact      string   `json:"estimated_cost_impact"`
	GovernmentGrowthAnalysis string   `json:"government_growth_analysis"`
	MarketImpactAnalysis     string   `json:"market_impact_analysis"`
	LibertyImpactAnalysis    string   `json:"liberty_impact_analysis"`
}

// Validate requires the narrative and the perspective; impact fields may be empty.
func (a Analysis) Validate() error {
	var errs []error
	if strings.TrimSpace(a.Summary) == "" {
		errs = append(errs, errors.New("summary is empty"))
	}
	if strings.TrimSpace(a.Perspective) == "" {
		errs = append(errs, errors.New("perspective is empty"))
	}
	return errors.Join(errs...)
}

// AISummary is the persisted analysis of one target.
type AISummary struct {
	Target Target
	Analysis
	CreatedAt time.Time
	UpdatedAt time.Time
}
