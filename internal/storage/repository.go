package storage

import (
	"errors"
	"fmt"
	"time"
)

var ErrDuplicateResult = errors.New("result already recorded")

type Repository interface {
	SaveResult(record *FlowRecord) error

	GetResultsByUser(userID string) ([]FlowRecord, error)

	GetRecentResults(userID string, since time.Time) ([]FlowRecord, error)

	GetResultStats(userID string) (*ResultStats, error)

	Close() error
}

type ResultStats struct {
	TotalResults    int     `json:"totalResults"`
	PaymentCount    int     `json:"paymentCount"`
	EnrollmentCount int     `json:"enrollmentCount"`
	TotalPaid       float64 `json:"totalPaid"`
}

// Open returns the repository for driver: memory, sqlite or postgres.
func Open(driver, dsn string) (Repository, error) {
	switch driver {
	case "", "memory":
		return NewMemoryRepository(), nil
	case "sqlite", "sqlite3":
		return NewSQLiteRepository(dsn)
	case "postgres":
		return NewPostgresRepository(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
