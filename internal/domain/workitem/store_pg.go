package workitem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the durable Store backing. Optimistic concurrency maps onto a
// version column: every UPDATE carries `WHERE version = $expected` and a
// zero-row result means a concurrent writer won the race, triggering a
// re-read and retry just like the in-memory backing.
type PGStore struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// PGOption configures a PGStore.
type PGOption func(*PGStore)

// WithPGMaxRetries overrides the bounded CAS retry budget.
func WithPGMaxRetries(n int) PGOption {
	return func(s *PGStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewPGStore returns a Store backed by the pa_request table.
func NewPGStore(pool *pgxpool.Pool, opts ...PGOption) *PGStore {
	s := &PGStore{pool: pool, maxRetries: DefaultMaxRetries}
	for _, o := range opts {
		o(s)
	}
	return s
}

const paCols = `id, patient_id, encounter_id, service_request_id, procedure_code,
	status, confidence, criteria, denial_reason, review_time_seconds,
	created_at, updated_at, ready_at, submitted_at, version`

func scanItem(row pgx.Row) (WorkItem, uint64, error) {
	var (
		w        WorkItem
		criteria []byte
		version  int64
	)
	err := row.Scan(&w.ID, &w.PatientID, &w.EncounterID, &w.ServiceRequestID,
		&w.ProcedureCode, &w.Status, &w.Confidence, &criteria, &w.DenialReason,
		&w.ReviewTimeSeconds, &w.CreatedAt, &w.UpdatedAt, &w.ReadyAt,
		&w.SubmittedAt, &version)
	if err != nil {
		return WorkItem{}, 0, err
	}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &w.Criteria); err != nil {
			return WorkItem{}, 0, fmt.Errorf("decode criteria for %s: %w", w.ID, err)
		}
	}
	return w, uint64(version), nil
}

func marshalCriteria(criteria []Criterion) ([]byte, error) {
	if criteria == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(criteria)
}

func (s *PGStore) Create(ctx context.Context, item WorkItem) (string, error) {
	item.Confidence = ClampConfidence(item.Confidence)
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	criteria, err := marshalCriteria(item.Criteria)
	if err != nil {
		return "", err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pa_request (id, patient_id, encounter_id, service_request_id,
			procedure_code, status, confidence, criteria, denial_reason,
			review_time_seconds, created_at, updated_at, ready_at, submitted_at,
			version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)
		ON CONFLICT (id) DO NOTHING`,
		item.ID, item.PatientID, item.EncounterID, item.ServiceRequestID,
		item.ProcedureCode, item.Status, item.Confidence, criteria,
		item.DenialReason, item.ReviewTimeSeconds, item.CreatedAt, item.UpdatedAt,
		item.ReadyAt, item.SubmittedAt)
	if err != nil {
		return "", fmt.Errorf("insert pa_request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrConflict
	}
	return item.ID, nil
}

func (s *PGStore) GetByID(ctx context.Context, id string) (WorkItem, error) {
	item, _, err := scanItem(s.pool.QueryRow(ctx,
		`SELECT `+paCols+` FROM pa_request WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkItem{}, ErrNotFound
	}
	if err != nil {
		return WorkItem{}, err
	}
	return item, nil
}

// writeVersioned attempts the conditional write; false means version mismatch.
func (s *PGStore) writeVersioned(ctx context.Context, next WorkItem, expected uint64) (bool, error) {
	criteria, err := marshalCriteria(next.Criteria)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE pa_request SET
			patient_id = $2, encounter_id = $3, service_request_id = $4,
			procedure_code = $5, status = $6, confidence = $7, criteria = $8,
			denial_reason = $9, review_time_seconds = $10, updated_at = $11,
			ready_at = $12, submitted_at = $13, version = version + 1
		WHERE id = $1 AND version = $14`,
		next.ID, next.PatientID, next.EncounterID, next.ServiceRequestID,
		next.ProcedureCode, next.Status, next.Confidence, criteria,
		next.DenialReason, next.ReviewTimeSeconds, next.UpdatedAt, next.ReadyAt,
		next.SubmittedAt, int64(expected))
	if err != nil {
		return false, fmt.Errorf("update pa_request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Update(ctx context.Context, id string, mutate Mutator) (WorkItem, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		current, version, err := scanItem(s.pool.QueryRow(ctx,
			`SELECT `+paCols+` FROM pa_request WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkItem{}, ErrNotFound
		}
		if err != nil {
			return WorkItem{}, err
		}
		next, err := mutate(current)
		if err != nil {
			return WorkItem{}, err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.Confidence = ClampConfidence(next.Confidence)
		ok, err := s.writeVersioned(ctx, next, version)
		if err != nil {
			return WorkItem{}, err
		}
		if ok {
			return next, nil
		}
	}
	return WorkItem{}, ErrRetriesExhausted
}

func (s *PGStore) UpdateStatus(ctx context.Context, id string, status Status) (WorkItem, error) {
	return s.Update(ctx, id, func(current WorkItem) (WorkItem, error) {
		return current.Transition(status, freshTimestamp(current.UpdatedAt))
	})
}

func (s *PGStore) Query(ctx context.Context, filter QueryFilter) ([]WorkItem, error) {
	query := `SELECT ` + paCols + ` FROM pa_request WHERE 1=1`
	var args []interface{}
	if filter.EncounterID != "" {
		args = append(args, filter.EncounterID)
		query += fmt.Sprintf(` AND encounter_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkItem
	for rows.Next() {
		item, _, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pa_request WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
