package storage

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func (r *SQLiteRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flow_results (
		confirmation TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		flow TEXT NOT NULL,
		amount TEXT,
		currency TEXT,
		merchant TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		artifacts_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_user_id ON flow_results(user_id);
	CREATE INDEX IF NOT EXISTS idx_results_completed_at ON flow_results(completed_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepository) SaveResult(record *FlowRecord) error {
	artifactsJSON, err := json.Marshal(ledgerArtifacts{
		Captured:     record.Captured,
		Fingerprints: record.Fingerprints,
	})
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flow_results (confirmation, session_id, user_id, flow, amount, currency, merchant, started_at, completed_at, artifacts_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		string(artifactsJSON),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateResult
	}

	return err
}

func (r *SQLiteRepository) GetResultsByUser(userID string) ([]FlowRecord, error) {
	query := `
		SELECT confirmation, session_id, user_id, flow, amount, currency, merchant, started_at, completed_at, artifacts_json
		FROM flow_results
		WHERE user_id = ?
		ORDER BY completed_at DESC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanResults(rows)
}

func (r *SQLiteRepository) GetRecentResults(userID string, since time.Time) ([]FlowRecord, error) {
	query := `
		SELECT confirmation, session_id, user_id, flow, amount, currency, merchant, started_at, completed_at, artifacts_json
		FROM flow_results
		WHERE user_id = ? AND completed_at >= ?
		ORDER BY completed_at DESC
	`

	rows, err := r.db.Query(query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanResults(rows)
}

func (r *SQLiteRepository) GetResultStats(userID string) (*ResultStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN flow = 'payment' THEN 1 ELSE 0 END) as payments,
			SUM(CASE WHEN flow = 'enrollment' THEN 1 ELSE 0 END) as enrollments,
			SUM(CASE WHEN flow = 'payment' THEN CAST(amount AS REAL) ELSE 0 END) as total_paid
		FROM flow_results
		WHERE user_id = ?
	`

	var stats ResultStats
	var payments, enrollments sql.NullInt64
	var totalPaid sql.NullFloat64

	err := r.db.QueryRow(query, userID).Scan(
		&stats.TotalResults,
		&payments,
		&enrollments,
		&totalPaid,
	)

	if err != nil {
		return nil, err
	}

	stats.PaymentCount = int(payments.Int64)
	stats.EnrollmentCount = int(enrollments.Int64)
	if totalPaid.Valid {
		stats.TotalPaid = totalPaid.Float64
	}

	return &stats, nil
}

func (r *SQLiteRepository) scanResults(rows *sql.Rows) ([]FlowRecord, error) {
	var records []FlowRecord

	for rows.Next() {
		var record FlowRecord
		var amount, currency, merchant sql.NullString
		var artifactsJSON string

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
		if err := json.Unmarshal([]byte(artifactsJSON), &artifacts); err != nil {
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

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
