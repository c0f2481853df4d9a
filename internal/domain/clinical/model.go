package clinical

import "time"

// Demographics is the patient demographics record. It is the one required
// resource of an aggregation: without it no bundle is produced.
type Demographics struct {
	PatientID  string     `json:"patient_id"`
	GivenName  string     `json:"given_name,omitempty"`
	FamilyName string     `json:"family_name,omitempty"`
	Gender     string     `json:"gender,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	MRN        string     `json:"mrn,omitempty"`
}

// Condition is one active or historical problem-list entry.
type Condition struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	Display        string     `json:"display,omitempty"`
	ClinicalStatus string     `json:"clinical_status,omitempty"`
	RecordedAt     *time.Time `json:"recorded_at,omitempty"`
}

// Observation is one measurement or finding.
type Observation struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Display     string     `json:"display,omitempty"`
	Value       string     `json:"value,omitempty"`
	Unit        string     `json:"unit,omitempty"`
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
}

// Procedure is one performed or planned procedure.
type Procedure struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Display     string     `json:"display,omitempty"`
	Status      string     `json:"status,omitempty"`
	PerformedAt *time.Time `json:"performed_at,omitempty"`
}

// DocumentRef points at one clinical document.
type DocumentRef struct {
	ID          string `json:"id"`
	Code        string `json:"code,omitempty"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ServiceRequest is one order for a service or procedure. The first active
// request supplies the pipeline's procedure code.
type ServiceRequest struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Display     string     `json:"display,omitempty"`
	Status      string     `json:"status,omitempty"`
	AuthoredOn  *time.Time `json:"authored_on,omitempty"`
	EncounterID string     `json:"encounter_id,omitempty"`
}

// Resource categories fetched by the aggregator.
const (
	CategoryDemographics    = "demographics"
	CategoryConditions      = "conditions"
	CategoryObservations    = "observations"
	CategoryProcedures      = "procedures"
	CategoryDocuments       = "documents"
	CategoryServiceRequests = "service-requests"
)

// CategoryFailure records one best-effort category that degraded to an
// empty collection.
type CategoryFailure struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// Bundle is the merged clinical record for one patient, built fresh per
// aggregation call and never mutated after construction.
type Bundle struct {
	PatientID       string            `json:"patient_id"`
	Demographics    *Demographics     `json:"demographics,omitempty"`
	Conditions      []Condition       `json:"conditions"`
	Observations    []Observation     `json:"observations"`
	Procedures      []Procedure       `json:"procedures"`
	Documents       []DocumentRef     `json:"documents"`
	ServiceRequests []ServiceRequest  `json:"service_requests"`
	Failures        []CategoryFailure `json:"failures,omitempty"`
}

// Degraded reports whether any best-effort category failed.
func (b *Bundle) Degraded() bool { return len(b.Failures) > 0 }

// ActiveServiceRequest returns the first service request with status
// "active", or nil when none exists.
func (b *Bundle) ActiveServiceRequest() *ServiceRequest {
	for i := range b.ServiceRequests {
		if b.ServiceRequests[i].Status == "active" {
			return &b.ServiceRequests[i]
		}
	}
	return nil
}
