package pipeline

import (
	"github.com/priorauth/priorauth/internal/domain/workitem"
	"github.com/priorauth/priorauth/internal/platform/analysis"
)

// ManualReviewThreshold is the confidence score below which an approval
// recommendation is still routed past a human reviewer.
const ManualReviewThreshold = 80

// Decision is the policy outcome for one analysis result.
type Decision struct {
	Status       workitem.Status
	ManualReview bool
}

// TargetStatus maps an analysis recommendation and confidence score to the
// workflow status the pipeline should apply. Pure function, no side effects.
func TargetStatus(recommendation string, confidence int) Decision {
	switch recommendation {
	case analysis.RecommendationApprove:
		return Decision{
			Status:       workitem.StatusReady,
			ManualReview: confidence < ManualReviewThreshold,
		}
	case analysis.RecommendationNeedsMoreInfo:
		return Decision{Status: workitem.StatusMissingData}
	case analysis.RecommendationRequirementsNotMet:
		return Decision{Status: workitem.StatusPayerRequirementsNotMet}
	case analysis.RecommendationNoPaRequired:
		return Decision{Status: workitem.StatusNoPaRequired}
	default:
		// Unknown recommendations are treated as missing information and
		// flagged for a human.
		return Decision{Status: workitem.StatusMissingData, ManualReview: true}
	}
}
