package records

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDemographics(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"/Patient/pat-1": `{
			"resourceType": "Patient",
			"id": "pat-1",
			"name": [{"family": "Rivera", "given": ["Ana", "Maria"]}],
			"gender": "female",
			"birthDate": "1979-04-12",
			"identifier": [
				{"type": {"coding": [{"code": "SS"}]}, "value": "000-00-0000"},
				{"type": {"coding": [{"code": "MR"}]}, "value": "MRN-4471"}
			]
		}`,
	})

	demo, err := NewClient(srv.URL).FetchDemographics(context.Background(), "pat-1")
	if err != nil {
		t.Fatalf("FetchDemographics: %v", err)
	}
	if demo.PatientID != "pat-1" || demo.GivenName != "Ana" || demo.FamilyName != "Rivera" {
		t.Fatalf("unexpected demographics: %+v", demo)
	}
	if demo.MRN != "MRN-4471" {
		t.Fatalf("MRN = %q, want MRN-4471", demo.MRN)
	}
	if demo.BirthDate == nil || demo.BirthDate.Year() != 1979 {
		t.Fatalf("birth date not parsed: %v", demo.BirthDate)
	}
}

func TestFetchDemographicsNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	_, err := NewClient(srv.URL).FetchDemographics(context.Background(), "pat-missing")
	if err == nil {
		t.Fatal("expected error for missing patient")
	}
}

func TestSearchConditions(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"/Condition": `{
			"resourceType": "Bundle",
			"type": "searchset",
			"entry": [
				{"resource": {
					"resourceType": "Condition",
					"id": "cond-1",
					"code": {"coding": [{"code": "M54.5", "display": "Low back pain"}]},
					"clinicalStatus": {"coding": [{"code": "active"}]},
					"recordedDate": "2026-02-01"
				}},
				{"resource": {
					"resourceType": "Condition",
					"id": "cond-2",
					"code": {"coding": [{"code": "M51.26", "display": "Lumbar disc displacement"}]}
				}}
			]
		}`,
	})

	conditions, err := NewClient(srv.URL).SearchConditions(context.Background(), "pat-1")
	if err != nil {
		t.Fatalf("SearchConditions: %v", err)
	}
	if len(conditions) != 2 {
		t.Fatalf("got %d conditions, want 2", len(conditions))
	}
	if conditions[0].Code != "M54.5" || conditions[0].ClinicalStatus != "active" {
		t.Fatalf("unexpected condition: %+v", conditions[0])
	}
}

func TestSearchObservationsSendsDateWindow(t *testing.T) {
	var gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDate = r.URL.Query().Get("date")
		w.Write([]byte(`{
			"resourceType": "Bundle",
			"entry": [{"resource": {
				"resourceType": "Observation",
				"id": "obs-1",
				"code": {"coding": [{"code": "72514-3", "display": "Pain severity"}]},
				"valueQuantity": {"value": 7, "unit": "{score}"},
				"effectiveDateTime": "2026-06-15T10:00:00Z"
			}}]
		}`))
	}))
	defer srv.Close()

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	observations, err := NewClient(srv.URL).SearchObservations(context.Background(), "pat-1", since)
	if err != nil {
		t.Fatalf("SearchObservations: %v", err)
	}
	if gotDate != "ge2026-03-01" {
		t.Fatalf("date param = %q, want ge2026-03-01", gotDate)
	}
	if len(observations) != 1 || observations[0].Value != "7" || observations[0].Unit != "{score}" {
		t.Fatalf("unexpected observations: %+v", observations)
	}
}

func TestSearchServiceRequestsScopesToEncounter(t *testing.T) {
	var gotEncounter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncounter = r.URL.Query().Get("encounter")
		w.Write([]byte(`{
			"resourceType": "Bundle",
			"entry": [{"resource": {
				"resourceType": "ServiceRequest",
				"id": "sr-1",
				"status": "active",
				"code": {"coding": [{"code": "72148", "display": "MRI lumbar spine"}]},
				"encounter": {"reference": "Encounter/enc-1"},
				"authoredOn": "2026-07-02T09:30:00Z"
			}}]
		}`))
	}))
	defer srv.Close()

	requests, err := NewClient(srv.URL).SearchServiceRequests(context.Background(), "pat-1", "enc-1")
	if err != nil {
		t.Fatalf("SearchServiceRequests: %v", err)
	}
	if gotEncounter != "enc-1" {
		t.Fatalf("encounter param = %q, want enc-1", gotEncounter)
	}
	if len(requests) != 1 || requests[0].Code != "72148" || requests[0].EncounterID != "enc-1" {
		t.Fatalf("unexpected requests: %+v", requests)
	}
}

func TestSearchDocuments(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"/DocumentReference": `{
			"resourceType": "Bundle",
			"entry": [{"resource": {
				"resourceType": "DocumentReference",
				"id": "doc-1",
				"type": {"coding": [{"code": "11506-3"}]},
				"description": "PT progress note",
				"content": [{"attachment": {"contentType": "application/pdf", "url": "Binary/b1"}}]
			}}]
		}`,
	})

	documents, err := NewClient(srv.URL).SearchDocuments(context.Background(), "pat-1")
	if err != nil {
		t.Fatalf("SearchDocuments: %v", err)
	}
	if len(documents) != 1 || documents[0].Title != "PT progress note" || documents[0].ContentType != "application/pdf" {
		t.Fatalf("unexpected documents: %+v", documents)
	}
}

func TestBearerTokenSent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"resourceType": "Bundle"}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, WithToken("secret")).SearchConditions(context.Background(), "pat-1"); err != nil {
		t.Fatalf("SearchConditions: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q, want Bearer secret", gotAuth)
	}
}

func TestEmptyBundle(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"/Procedure": `{"resourceType": "Bundle", "type": "searchset"}`,
	})

	procedures, err := NewClient(srv.URL).SearchProcedures(context.Background(), "pat-1", time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("SearchProcedures: %v", err)
	}
	if len(procedures) != 0 {
		t.Fatalf("expected empty slice, got %+v", procedures)
	}
}
