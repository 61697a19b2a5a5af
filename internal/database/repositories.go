package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/respicare/ai-service/pkg/errors"
)

// JSONMap stores arbitrary JSON documents in a JSONB column
type JSONMap map[string]interface{}

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.NewInternalError("unsupported JSONB source type")
	}

	return json.Unmarshal(data, m)
}

// MedicalHistory is a patient's medical history document with the structured
// data extracted from it
type MedicalHistory struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     string     `db:"patient_id" json:"patient_id"`
	HistoryText   string     `db:"history_text" json:"history_text"`
	ProcessedData JSONMap    `db:"processed_data" json:"processed_data"`
	StrategyUsed  string     `db:"strategy_used" json:"strategy_used"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at" json:"-"`
}

// AnalysisResult is a persisted analysis outcome
type AnalysisResult struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    string    `db:"patient_id" json:"patient_id"`
	Operation    string    `db:"operation" json:"operation"`
	Result       JSONMap   `db:"result" json:"result"`
	StrategyUsed string    `db:"strategy_used" json:"strategy_used"`
	Confidence   float64   `db:"confidence" json:"confidence"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Page bounds a list query. Zero values fall back to the defaults.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Normalize applies the default and maximum page limits. Callers that
// report the effective page size normalize before querying.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// MedicalHistoryRepository persists medical history documents. Deleted rows
// are soft-deleted and excluded from every read.
type MedicalHistoryRepository struct {
	db *DB
}

// NewMedicalHistoryRepository creates a medical history repository
func NewMedicalHistoryRepository(db *DB) *MedicalHistoryRepository {
	return &MedicalHistoryRepository{db: db}
}

// Create inserts a new medical history record
func (r *MedicalHistoryRepository) Create(ctx context.Context, history *MedicalHistory) error {
	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}
	now := time.Now()
	history.CreatedAt = now
	history.UpdatedAt = now

	query := `
		INSERT INTO medical_histories (id, patient_id, history_text, processed_data, strategy_used, created_at, updated_at)
		VALUES (:id, :patient_id, :history_text, :processed_data, :strategy_used, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, history); err != nil {
		return errors.NewInternalError("failed to create medical history").WithCause(err)
	}
	return nil
}

// GetByID returns a medical history record by ID, excluding soft-deleted rows
func (r *MedicalHistoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*MedicalHistory, error) {
	var history MedicalHistory
	query := `
		SELECT id, patient_id, history_text, processed_data, strategy_used, created_at, updated_at, deleted_at
		FROM medical_histories
		WHERE id = $1 AND deleted_at IS NULL`

	if err := r.db.GetContext(ctx, &history, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("medical history")
		}
		return nil, errors.NewInternalError("failed to get medical history").WithCause(err)
	}
	return &history, nil
}

// ListByPatient returns a patient's medical history records, newest first
func (r *MedicalHistoryRepository) ListByPatient(ctx context.Context, patientID string, page Page) ([]*MedicalHistory, error) {
	page = page.Normalize()

	var histories []*MedicalHistory
	query := `
		SELECT id, patient_id, history_text, processed_data, strategy_used, created_at, updated_at, deleted_at
		FROM medical_histories
		WHERE patient_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &histories, query, patientID, page.Limit, page.Offset); err != nil {
		return nil, errors.NewInternalError("failed to list medical histories").WithCause(err)
	}
	return histories, nil
}

// SoftDelete marks a medical history record as deleted without removing it
func (r *MedicalHistoryRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE medical_histories
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return errors.NewInternalError("failed to delete medical history").WithCause(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to check deletion result").WithCause(err)
	}
	if affected == 0 {
		return errors.NewNotFoundError("medical history")
	}
	return nil
}

// CountByPatient returns the number of live records for a patient
func (r *MedicalHistoryRepository) CountByPatient(ctx context.Context, patientID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM medical_histories WHERE patient_id = $1 AND deleted_at IS NULL`

	if err := r.db.GetContext(ctx, &count, query, patientID); err != nil {
		return 0, errors.NewInternalError("failed to count medical histories").WithCause(err)
	}
	return count, nil
}

// AnalysisResultRepository persists analysis outcomes
type AnalysisResultRepository struct {
	db *DB
}

// NewAnalysisResultRepository creates an analysis result repository
func NewAnalysisResultRepository(db *DB) *AnalysisResultRepository {
	return &AnalysisResultRepository{db: db}
}

// Create inserts a new analysis result
func (r *AnalysisResultRepository) Create(ctx context.Context, result *AnalysisResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	result.CreatedAt = time.Now()

	query := `
		INSERT INTO analysis_results (id, patient_id, operation, result, strategy_used, confidence, created_at)
		VALUES (:id, :patient_id, :operation, :result, :strategy_used, :confidence, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, result); err != nil {
		return errors.NewInternalError("failed to create analysis result").WithCause(err)
	}
	return nil
}

// GetByID returns an analysis result by ID
func (r *AnalysisResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*AnalysisResult, error) {
	var result AnalysisResult
	query := `
		SELECT id, patient_id, operation, result, strategy_used, confidence, created_at
		FROM analysis_results
		WHERE id = $1`

	if err := r.db.GetContext(ctx, &result, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("analysis result")
		}
		return nil, errors.NewInternalError("failed to get analysis result").WithCause(err)
	}
	return &result, nil
}

// ListByPatient returns a patient's analysis results, newest first
func (r *AnalysisResultRepository) ListByPatient(ctx context.Context, patientID string, page Page) ([]*AnalysisResult, error) {
	page = page.Normalize()

	var results []*AnalysisResult
	query := `
		SELECT id, patient_id, operation, result, strategy_used, confidence, created_at
		FROM analysis_results
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &results, query, patientID, page.Limit, page.Offset); err != nil {
		return nil, errors.NewInternalError("failed to list analysis results").WithCause(err)
	}
	return results, nil
}

// Patient tracks per-patient analysis activity keyed by the caller's
// external patient identifier.
type Patient struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ExternalID     string    `db:"external_id" json:"external_id"`
	FirstSeenAt    time.Time `db:"first_seen_at" json:"first_seen_at"`
	LastAnalysisAt time.Time `db:"last_analysis_at" json:"last_analysis_at"`
	AnalysisCount  int64     `db:"analysis_count" json:"analysis_count"`
}

// PatientRepository maintains patient activity records
type PatientRepository struct {
	db *DB
}

// NewPatientRepository creates a patient repository
func NewPatientRepository(db *DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// Touch upserts the patient row for an external ID, bumping the analysis
// counter and last-analysis timestamp.
func (r *PatientRepository) Touch(ctx context.Context, externalID string) error {
	query := `
		INSERT INTO patients (id, external_id, first_seen_at, last_analysis_at, analysis_count)
		VALUES ($1, $2, $3, $3, 1)
		ON CONFLICT (external_id)
		DO UPDATE SET last_analysis_at = EXCLUDED.last_analysis_at,
		              analysis_count = patients.analysis_count + 1`

	if _, err := r.db.ExecContext(ctx, query, uuid.New(), externalID, time.Now()); err != nil {
		return errors.NewInternalError("failed to record patient activity").WithCause(err)
	}
	return nil
}

// GetByExternalID returns the patient record for an external ID
func (r *PatientRepository) GetByExternalID(ctx context.Context, externalID string) (*Patient, error) {
	var patient Patient
	query := `
		SELECT id, external_id, first_seen_at, last_analysis_at, analysis_count
		FROM patients
		WHERE external_id = $1`

	if err := r.db.GetContext(ctx, &patient, query, externalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("patient")
		}
		return nil, errors.NewInternalError("failed to get patient").WithCause(err)
	}
	return &patient, nil
}
