// Package analysis provides the analysis collaborator consumed by the
// processing pipeline. Two implementations ship: an Anthropic-backed
// analyzer for production and a deterministic rule-based analyzer for
// development and tests.
package analysis

import (
	"context"

	"github.com/priorauth/priorauth/internal/domain/clinical"
)

// Recommendation values returned by an analyzer.
const (
	RecommendationApprove            = "APPROVE"
	RecommendationNeedsMoreInfo      = "NEEDS_MORE_INFO"
	RecommendationRequirementsNotMet = "REQUIREMENTS_NOT_MET"
	RecommendationNoPaRequired       = "NO_PA_REQUIRED"
)

// Criterion is one evaluated policy check. Met is tri-state: nil means the
// check could not be evaluated from the available record.
type Criterion struct {
	Label  string  `json:"label"`
	Met    *bool   `json:"met"`
	Reason *string `json:"reason,omitempty"`
}

// Result is the analyzer's output for one bundle.
type Result struct {
	Recommendation  string            `json:"recommendation"`
	ConfidenceScore int               `json:"confidence_score"`
	Criteria        []Criterion       `json:"criteria"`
	ClinicalSummary string            `json:"clinical_summary"`
	FieldMappings   map[string]string `json:"field_mappings,omitempty"`
}

// Analyzer evaluates a clinical bundle against prior-authorization policy
// for the given procedure code.
type Analyzer interface {
	Analyze(ctx context.Context, bundle *clinical.Bundle, procedureCode string) (*Result, error)
}
