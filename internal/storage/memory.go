package storage

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hperssn/palmpay/internal/domain"
)

// MemoryRepository keeps the ledger in process. Used in standalone mode and
// tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	results map[string]FlowRecord // key: confirmation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{results: make(map[string]FlowRecord)}
}

func (m *MemoryRepository) SaveResult(record *FlowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.results[record.Confirmation]; exists {
		return ErrDuplicateResult
	}
	m.results[record.Confirmation] = copyRecord(*record)
	return nil
}

func (m *MemoryRepository) GetResultsByUser(userID string) ([]FlowRecord, error) {
	return m.filter(func(r FlowRecord) bool { return r.UserID == userID }), nil
}

func (m *MemoryRepository) GetRecentResults(userID string, since time.Time) ([]FlowRecord, error) {
	return m.filter(func(r FlowRecord) bool {
		return r.UserID == userID && !r.CompletedAt.Before(since)
	}), nil
}

func (m *MemoryRepository) GetResultStats(userID string) (*ResultStats, error) {
	var stats ResultStats
	for _, r := range m.filter(func(r FlowRecord) bool { return r.UserID == userID }) {
		stats.TotalResults++
		switch r.Flow {
		case domain.FlowPayment:
			stats.PaymentCount++
			if v, err := strconv.ParseFloat(r.Amount, 64); err == nil {
				stats.TotalPaid += v
			}
		case domain.FlowEnrollment:
			stats.EnrollmentCount++
		}
	}
	return &stats, nil
}

func (m *MemoryRepository) Close() error {
	return nil
}

// filter returns matching records, newest first.
func (m *MemoryRepository) filter(keep func(FlowRecord) bool) []FlowRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []FlowRecord
	for _, r := range m.results {
		if keep(r) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out
}

func copyRecord(r FlowRecord) FlowRecord {
	r.Captured = append([]domain.CaptureKind(nil), r.Captured...)
	fp := make(map[domain.CaptureKind]string, len(r.Fingerprints))
	for k, v := range r.Fingerprints {
		fp[k] = v
	}
	r.Fingerprints = fp
	return r
}
