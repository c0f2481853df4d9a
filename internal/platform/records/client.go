// Package records fetches patient clinical data from a FHIR R4 REST server.
// Client implements clinical.RecordSource over six resource endpoints:
// Patient, Condition, Observation, Procedure, DocumentReference and
// ServiceRequest.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/priorauth/priorauth/internal/domain/clinical"
)

const defaultTimeout = 15 * time.Second

// Client is a FHIR R4 REST client scoped to one base URL.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Client for the given FHIR base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// FHIR wire types (the subset this client reads)
// ---------------------------------------------------------------------------

type wireBundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

type wireCoding struct {
	Code    string `json:"code"`
	Display string `json:"display"`
}

type wireCodeableConcept struct {
	Coding []wireCoding `json:"coding"`
	Text   string       `json:"text"`
}

func (cc wireCodeableConcept) code() string {
	if len(cc.Coding) > 0 {
		return cc.Coding[0].Code
	}
	return ""
}

func (cc wireCodeableConcept) display() string {
	if len(cc.Coding) > 0 && cc.Coding[0].Display != "" {
		return cc.Coding[0].Display
	}
	return cc.Text
}

type wireReference struct {
	Reference string `json:"reference"`
}

// id extracts the logical id from a "Type/id" reference.
func (r wireReference) id() string {
	if i := strings.LastIndexByte(r.Reference, '/'); i >= 0 {
		return r.Reference[i+1:]
	}
	return r.Reference
}

// parseFHIRTime accepts the date and dateTime shapes FHIR servers emit.
func parseFHIRTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fhir request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("fhir request failed")
		return fmt.Errorf("fhir request %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) search(ctx context.Context, resourceType string, query url.Values) (wireBundle, error) {
	var bundle wireBundle
	if err := c.get(ctx, "/"+resourceType, query, &bundle); err != nil {
		return wireBundle{}, err
	}
	return bundle, nil
}

// ---------------------------------------------------------------------------
// clinical.RecordSource
// ---------------------------------------------------------------------------

func (c *Client) FetchDemographics(ctx context.Context, patientID string) (*clinical.Demographics, error) {
	var patient struct {
		ID   string `json:"id"`
		Name []struct {
			Family string   `json:"family"`
			Given  []string `json:"given"`
		} `json:"name"`
		Gender     string `json:"gender"`
		BirthDate  string `json:"birthDate"`
		Identifier []struct {
			Type  wireCodeableConcept `json:"type"`
			Value string              `json:"value"`
		} `json:"identifier"`
	}
	if err := c.get(ctx, "/Patient/"+url.PathEscape(patientID), nil, &patient); err != nil {
		return nil, err
	}

	demo := &clinical.Demographics{
		PatientID: patient.ID,
		Gender:    patient.Gender,
		BirthDate: parseFHIRTime(patient.BirthDate),
	}
	if demo.PatientID == "" {
		demo.PatientID = patientID
	}
	if len(patient.Name) > 0 {
		demo.FamilyName = patient.Name[0].Family
		if len(patient.Name[0].Given) > 0 {
			demo.GivenName = patient.Name[0].Given[0]
		}
	}
	for _, ident := range patient.Identifier {
		if ident.Type.code() == "MR" {
			demo.MRN = ident.Value
			break
		}
	}
	return demo, nil
}

func (c *Client) SearchConditions(ctx context.Context, patientID string) ([]clinical.Condition, error) {
	bundle, err := c.search(ctx, "Condition", url.Values{"patient": {patientID}})
	if err != nil {
		return nil, err
	}

	conditions := make([]clinical.Condition, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var res struct {
			ID             string              `json:"id"`
			Code           wireCodeableConcept `json:"code"`
			ClinicalStatus wireCodeableConcept `json:"clinicalStatus"`
			RecordedDate   string              `json:"recordedDate"`
		}
		if err := json.Unmarshal(entry.Resource, &res); err != nil {
			continue
		}
		conditions = append(conditions, clinical.Condition{
			ID:             res.ID,
			Code:           res.Code.code(),
			Display:        res.Code.display(),
			ClinicalStatus: res.ClinicalStatus.code(),
			RecordedAt:     parseFHIRTime(res.RecordedDate),
		})
	}
	return conditions, nil
}

func (c *Client) SearchObservations(ctx context.Context, patientID string, since time.Time) ([]clinical.Observation, error) {
	query := url.Values{
		"patient": {patientID},
		"date":    {"ge" + since.Format("2006-01-02")},
	}
	bundle, err := c.search(ctx, "Observation", query)
	if err != nil {
		return nil, err
	}

	observations := make([]clinical.Observation, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var res struct {
			ID                string              `json:"id"`
			Code              wireCodeableConcept `json:"code"`
			EffectiveDateTime string              `json:"effectiveDateTime"`
			ValueQuantity     *struct {
				Value float64 `json:"value"`
				Unit  string  `json:"unit"`
			} `json:"valueQuantity"`
			ValueString string `json:"valueString"`
		}
		if err := json.Unmarshal(entry.Resource, &res); err != nil {
			continue
		}
		obs := clinical.Observation{
			ID:          res.ID,
			Code:        res.Code.code(),
			Display:     res.Code.display(),
			Value:       res.ValueString,
			EffectiveAt: parseFHIRTime(res.EffectiveDateTime),
		}
		if res.ValueQuantity != nil {
			obs.Value = fmt.Sprintf("%g", res.ValueQuantity.Value)
			obs.Unit = res.ValueQuantity.Unit
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

func (c *Client) SearchProcedures(ctx context.Context, patientID string, since time.Time) ([]clinical.Procedure, error) {
	query := url.Values{
		"patient": {patientID},
		"date":    {"ge" + since.Format("2006-01-02")},
	}
	bundle, err := c.search(ctx, "Procedure", query)
	if err != nil {
		return nil, err
	}

	procedures := make([]clinical.Procedure, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var res struct {
			ID                string              `json:"id"`
			Code              wireCodeableConcept `json:"code"`
			Status            string              `json:"status"`
			PerformedDateTime string              `json:"performedDateTime"`
		}
		if err := json.Unmarshal(entry.Resource, &res); err != nil {
			continue
		}
		procedures = append(procedures, clinical.Procedure{
			ID:          res.ID,
			Code:        res.Code.code(),
			Display:     res.Code.display(),
			Status:      res.Status,
			PerformedAt: parseFHIRTime(res.PerformedDateTime),
		})
	}
	return procedures, nil
}

func (c *Client) SearchDocuments(ctx context.Context, patientID string) ([]clinical.DocumentRef, error) {
	bundle, err := c.search(ctx, "DocumentReference", url.Values{"patient": {patientID}})
	if err != nil {
		return nil, err
	}

	documents := make([]clinical.DocumentRef, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var res struct {
			ID          string              `json:"id"`
			Type        wireCodeableConcept `json:"type"`
			Description string              `json:"description"`
			Content     []struct {
				Attachment struct {
					ContentType string `json:"contentType"`
					URL         string `json:"url"`
					Title       string `json:"title"`
				} `json:"attachment"`
			} `json:"content"`
		}
		if err := json.Unmarshal(entry.Resource, &res); err != nil {
			continue
		}
		doc := clinical.DocumentRef{
			ID:    res.ID,
			Code:  res.Type.code(),
			Title: res.Description,
		}
		if len(res.Content) > 0 {
			att := res.Content[0].Attachment
			doc.ContentType = att.ContentType
			doc.URL = att.URL
			if doc.Title == "" {
				doc.Title = att.Title
			}
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

func (c *Client) SearchServiceRequests(ctx context.Context, patientID, encounterID string) ([]clinical.ServiceRequest, error) {
	query := url.Values{"patient": {patientID}}
	if encounterID != "" {
		query.Set("encounter", encounterID)
	}
	bundle, err := c.search(ctx, "ServiceRequest", query)
	if err != nil {
		return nil, err
	}

	requests := make([]clinical.ServiceRequest, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		var res struct {
			ID         string              `json:"id"`
			Code       wireCodeableConcept `json:"code"`
			Status     string              `json:"status"`
			AuthoredOn string              `json:"authoredOn"`
			Encounter  wireReference       `json:"encounter"`
		}
		if err := json.Unmarshal(entry.Resource, &res); err != nil {
			continue
		}
		requests = append(requests, clinical.ServiceRequest{
			ID:          res.ID,
			Code:        res.Code.code(),
			Display:     res.Code.display(),
			Status:      res.Status,
			AuthoredOn:  parseFHIRTime(res.AuthoredOn),
			EncounterID: res.Encounter.id(),
		})
	}
	return requests, nil
}
