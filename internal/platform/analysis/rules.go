package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/priorauth/priorauth/internal/domain/clinical"
)

// RuleAnalyzer is a deterministic, offline Analyzer. The confidence score
// is derived entirely from which criteria the record satisfies, so the same
// bundle always yields the same verdict; audits can replay it.
type RuleAnalyzer struct{}

// NewRuleAnalyzer creates a RuleAnalyzer.
func NewRuleAnalyzer() *RuleAnalyzer { return &RuleAnalyzer{} }

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func (r *RuleAnalyzer) Analyze(_ context.Context, bundle *clinical.Bundle, procedureCode string) (*Result, error) {
	if bundle == nil {
		return nil, fmt.Errorf("nil bundle")
	}

	hasDiagnosis := len(bundle.Conditions) > 0
	hasFindings := len(bundle.Observations) > 0
	hasConservativeTherapy := len(bundle.Procedures) > 0
	hasActiveOrder := bundle.ActiveServiceRequest() != nil

	criteria := []Criterion{
		{
			Label:  "Documented qualifying diagnosis",
			Met:    boolPtr(hasDiagnosis),
			Reason: strPtr(fmt.Sprintf("%d condition(s) on record", len(bundle.Conditions))),
		},
		{
			Label:  "Supporting clinical findings",
			Met:    boolPtr(hasFindings),
			Reason: strPtr(fmt.Sprintf("%d observation(s) in the lookback window", len(bundle.Observations))),
		},
		{
			Label:  "Conservative therapy attempted",
			Met:    boolPtr(hasConservativeTherapy),
			Reason: strPtr(fmt.Sprintf("%d prior procedure(s) on record", len(bundle.Procedures))),
		},
		{
			Label:  "Active order for the requested service",
			Met:    boolPtr(hasActiveOrder),
			Reason: strPtr("service request status checked"),
		},
	}
	// categories that failed to fetch are unknown, not unmet
	for _, failure := range bundle.Failures {
		switch failure.Category {
		case clinical.CategoryConditions:
			criteria[0].Met = nil
			criteria[0].Reason = strPtr("conditions unavailable: " + failure.Reason)
		case clinical.CategoryObservations:
			criteria[1].Met = nil
			criteria[1].Reason = strPtr("observations unavailable: " + failure.Reason)
		case clinical.CategoryProcedures:
			criteria[2].Met = nil
			criteria[2].Reason = strPtr("procedures unavailable: " + failure.Reason)
		}
	}

	met, unknown := 0, 0
	for _, c := range criteria {
		switch {
		case c.Met == nil:
			unknown++
		case *c.Met:
			met++
		}
	}

	confidence := 40 + 15*met - 10*unknown
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	recommendation := RecommendationApprove
	switch {
	case unknown > 0 || (!hasDiagnosis && !hasFindings):
		recommendation = RecommendationNeedsMoreInfo
	case !hasDiagnosis:
		recommendation = RecommendationRequirementsNotMet
	}

	return &Result{
		Recommendation:  recommendation,
		ConfidenceScore: confidence,
		Criteria:        criteria,
		ClinicalSummary: summarize(bundle, procedureCode),
		FieldMappings: map[string]string{
			"procedure_code": procedureCode,
			"patient_id":     bundle.PatientID,
		},
	}, nil
}

func summarize(bundle *clinical.Bundle, procedureCode string) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Review of procedure %s for patient %s.", procedureCode, bundle.PatientID))
	if len(bundle.Conditions) > 0 {
		var names []string
		for _, c := range bundle.Conditions {
			if c.Display != "" {
				names = append(names, c.Display)
			} else {
				names = append(names, c.Code)
			}
		}
		parts = append(parts, "Diagnoses: "+strings.Join(names, ", ")+".")
	}
	parts = append(parts, fmt.Sprintf("%d observation(s), %d prior procedure(s), %d document(s) on record.",
		len(bundle.Observations), len(bundle.Procedures), len(bundle.Documents)))
	return strings.Join(parts, " ")
}
