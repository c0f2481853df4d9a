package workitem

import (
	"fmt"
	"time"
)

// Status is the workflow state of a prior-authorization request.
type Status string

const (
	StatusDraft                   Status = "Draft"
	StatusProcessing              Status = "Processing"
	StatusReady                   Status = "Ready"
	StatusWaitingForInsurance     Status = "WaitingForInsurance"
	StatusApproved                Status = "Approved"
	StatusDenied                  Status = "Denied"
	StatusMissingData             Status = "MissingData"
	StatusPayerRequirementsNotMet Status = "PayerRequirementsNotMet"
	StatusNoPaRequired            Status = "NoPaRequired"
)

var validStatuses = map[Status]bool{
	StatusDraft:                   true,
	StatusProcessing:              true,
	StatusReady:                   true,
	StatusWaitingForInsurance:     true,
	StatusApproved:                true,
	StatusDenied:                  true,
	StatusMissingData:             true,
	StatusPayerRequirementsNotMet: true,
	StatusNoPaRequired:            true,
}

// Valid reports whether s is a known workflow status.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether s is a terminal status. Terminal statuses are
// sticky: no transition leads out of them.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusNoPaRequired, StatusPayerRequirementsNotMet:
		return true
	}
	return false
}

// Criterion is a single named policy check belonging to a work item.
// Met is tri-state: nil means the check could not be evaluated.
type Criterion struct {
	Label  string  `json:"label" db:"label"`
	Met    *bool   `json:"met" db:"met"`
	Reason *string `json:"reason,omitempty" db:"reason"`
}

// WorkItem is one prior-authorization request tracked from creation to a
// terminal outcome. Values are treated as immutable: every change builds a
// new WorkItem from the old one, the store never hands out shared pointers.
type WorkItem struct {
	ID                string      `json:"id" db:"id"`
	PatientID         string      `json:"patient_id" db:"patient_id"`
	EncounterID       string      `json:"encounter_id" db:"encounter_id"`
	ServiceRequestID  *string     `json:"service_request_id,omitempty" db:"service_request_id"`
	ProcedureCode     *string     `json:"procedure_code,omitempty" db:"procedure_code"`
	Status            Status      `json:"status" db:"status"`
	Confidence        int         `json:"confidence" db:"confidence"`
	Criteria          []Criterion `json:"criteria,omitempty" db:"criteria"`
	DenialReason      *string     `json:"denial_reason,omitempty" db:"denial_reason"`
	ReviewTimeSeconds int64       `json:"review_time_seconds" db:"review_time_seconds"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
	ReadyAt           *time.Time  `json:"ready_at,omitempty" db:"ready_at"`
	SubmittedAt       *time.Time  `json:"submitted_at,omitempty" db:"submitted_at"`
}

// ClampConfidence bounds a raw confidence score to [0, 100].
func ClampConfidence(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// clone returns a deep copy so callers can never alias stored state.
func (w WorkItem) clone() WorkItem {
	out := w
	if w.ServiceRequestID != nil {
		v := *w.ServiceRequestID
		out.ServiceRequestID = &v
	}
	if w.ProcedureCode != nil {
		v := *w.ProcedureCode
		out.ProcedureCode = &v
	}
	if w.DenialReason != nil {
		v := *w.DenialReason
		out.DenialReason = &v
	}
	if w.ReadyAt != nil {
		v := *w.ReadyAt
		out.ReadyAt = &v
	}
	if w.SubmittedAt != nil {
		v := *w.SubmittedAt
		out.SubmittedAt = &v
	}
	if w.Criteria != nil {
		out.Criteria = make([]Criterion, len(w.Criteria))
		for i, c := range w.Criteria {
			cc := c
			if c.Met != nil {
				m := *c.Met
				cc.Met = &m
			}
			if c.Reason != nil {
				r := *c.Reason
				cc.Reason = &r
			}
			out.Criteria[i] = cc
		}
	}
	return out
}

// Transition builds a copy of w moved to next, stamping ReadyAt on the
// first entry into Ready and SubmittedAt on entry into WaitingForInsurance.
// Terminal statuses are sticky; moving out of one fails with
// ErrTerminalStatus. The timestamp is supplied by the caller so the store
// can keep UpdatedAt monotonically fresh under contention.
func (w WorkItem) Transition(next Status, at time.Time) (WorkItem, error) {
	if !next.Valid() {
		return WorkItem{}, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if w.Status.Terminal() && next != w.Status {
		return WorkItem{}, fmt.Errorf("%w: %s is terminal", ErrTerminalStatus, w.Status)
	}
	out := w.clone()
	out.Status = next
	out.UpdatedAt = at
	if next == StatusReady && out.ReadyAt == nil {
		t := at
		out.ReadyAt = &t
	}
	if next == StatusWaitingForInsurance && out.SubmittedAt == nil {
		t := at
		out.SubmittedAt = &t
	}
	return out, nil
}
