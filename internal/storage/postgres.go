package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(connStr string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	repo := &PostgresRepository{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func (r *PostgresRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flow_results (
		confirmation TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		flow TEXT NOT NULL,
		amount NUMERIC(14, 2),
		currency TEXT,
		merchant TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		artifacts_json JSONB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_user_id ON flow_results(user_id);
	CREATE INDEX IF NOT EXISTS idx_results_completed_at ON flow_results(completed_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

func (r *PostgresRepository) SaveResult(record *FlowRecord) error {
	artifactsJSON, err := json.Marshal(ledgerArtifacts{
		Captured:     record.Captured,
		Fingerprints: record.Fingerprints,
	})
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flow_results (confirmation, session_id, user_id, flow, amount, currency, merchant, started_at, completed_at, artifacts_json)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::NUMERIC, $6, $7, $8, $9, $10)
	`

	_, err = r.db.Exec(
		query,
		record.Confirmation,
		record.SessionID,
		record.UserID,
		record.Flow,
		record.Amount,
		record.Currency,
		record.Merchant,
		record.StartedAt,
		record.CompletedAt,
		artifactsJSON,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateResult
	}

	return err
}

func (r *PostgresRepository) GetResultsByUser(userID string) ([]FlowRecord, error) {
	query := `
		SELECT confirmation, session_id, user_id, flow, amount::TEXT, currency, merchant, started_at, completed_at, artifacts_json
		FROM flow_results
		WHERE user_id = $1
		ORDER BY completed_at DESC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanResults(rows)
}

func (r *PostgresRepository) GetRecentResults(userID string, since time.Time) ([]FlowRecord, error) {
	query := `
		SELECT confirmation, session_id, user_id, flow, amount::TEXT, currency, merchant, started_at, completed_at, artifacts_json
		FROM flow_results
		WHERE user_id = $1 AND completed_at >= $2
		ORDER BY completed_at DESC
	`

	rows, err := r.db.Query(query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanResults(rows)
}

func (r *PostgresRepository) GetResultStats(userID string) (*ResultStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE flow = 'payment') as payments,
			COUNT(*) FILTER (WHERE flow = 'enrollment') as enrollments,
			COALESCE(SUM(amount) FILTER (WHERE flow = 'payment'), 0)::FLOAT8 as total_paid
		FROM flow_results
		WHERE user_id = $1
	`

	var stats ResultStats

	err := r.db.QueryRow(query, userID).Scan(
		&stats.TotalResults,
		&stats.PaymentCount,
		&stats.EnrollmentCount,
		&stats.TotalPaid,
	)

	if err != nil {
		return nil, err
	}

	return &stats, nil
}

func (r *PostgresRepository) scanResults(rows *sql.Rows) ([]FlowRecord, error) {
	var records []FlowRecord

	for rows.Next() {
		var record FlowRecord
		var amount, currency, merchant sql.NullString
		var artifactsJSON []byte

		err := rows.Scan(
			&record.Confirmation,
			&record.SessionID,
			&record.UserID,
			&record.Flow,
			&amount,
			&currency,
			&merchant,
			&record.StartedAt,
			&record.CompletedAt,
			&artifactsJSON,
		)
		if err != nil {
			return nil, err
		}

		var artifacts ledgerArtifacts
		if err := json.Unmarshal(artifactsJSON, &artifacts); err != nil {
			return nil, err
		}
		record.Captured = artifacts.Captured
		record.Fingerprints = artifacts.Fingerprints
		record.Amount = amount.String
		record.Currency = currency.String
		record.Merchant = merchant.String

		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
