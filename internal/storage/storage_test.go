package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/storage"
)

func paymentSession(t *testing.T, id, user, amount string) *domain.Session {
	t.Helper()
	s := domain.NewSession(id, user, domain.PaymentFlow())
	s.Payment.Amount = domain.Amount{Value: amount, Currency: "INR"}
	s.Record(domain.Artifact{Kind: domain.CapturePalm})
	s.Record(domain.Artifact{Kind: domain.CaptureVoice})
	s.Record(domain.Artifact{Kind: domain.CaptureGesture})
	mode := domain.GestureDuress
	s.Branch = &mode
	s.Finalized = true
	s.Confirmation = "conf-" + id
	return s
}

func repositories(t *testing.T) map[string]storage.Repository {
	t.Helper()

	sqlite, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	repos := map[string]storage.Repository{
		"memory": storage.NewMemoryRepository(),
		"sqlite": sqlite,
	}
	for _, r := range repos {
		t.Cleanup(func() { _ = r.Close() })
	}
	return repos
}

func TestRepository_SaveAndQuery(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			fp := map[domain.CaptureKind]string{domain.CapturePalm: "ab12"}

			older := storage.FromSession(paymentSession(t, "p1", "alice", "150"), fp, base)
			newer := storage.FromSession(paymentSession(t, "p2", "alice", "20.50"), fp, base.Add(time.Hour))
			other := storage.FromSession(paymentSession(t, "p3", "bob", "99"), fp, base)

			enroll := domain.NewSession("e1", "alice", domain.EnrollmentFlow())
			enroll.Confirmation = "conf-e1"
			enrollment := storage.FromSession(enroll, nil, base.Add(2*time.Hour))

			for _, r := range []*storage.FlowRecord{older, newer, other, enrollment} {
				require.NoError(t, repo.SaveResult(r))
			}
			assert.ErrorIs(t, repo.SaveResult(older), storage.ErrDuplicateResult)

			got, err := repo.GetResultsByUser("alice")
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "conf-e1", got[0].Confirmation)
			assert.Equal(t, "conf-p2", got[1].Confirmation)
			assert.Equal(t, "20.50", got[1].Amount)
			assert.Equal(t, domain.DefaultMerchant, got[1].Merchant)
			assert.Equal(t, []domain.CaptureKind{domain.CapturePalm, domain.CaptureVoice, domain.CaptureGesture}, got[1].Captured)
			assert.Equal(t, "ab12", got[1].Fingerprints[domain.CapturePalm])

			recent, err := repo.GetRecentResults("alice", base.Add(30*time.Minute))
			require.NoError(t, err)
			assert.Len(t, recent, 2)

			stats, err := repo.GetResultStats("alice")
			require.NoError(t, err)
			assert.Equal(t, 3, stats.TotalResults)
			assert.Equal(t, 2, stats.PaymentCount)
			assert.Equal(t, 1, stats.EnrollmentCount)
			assert.InDelta(t, 170.5, stats.TotalPaid, 0.001)

			empty, err := repo.GetResultStats("nobody")
			require.NoError(t, err)
			assert.Equal(t, 0, empty.TotalResults)
		})
	}
}

func TestFromSession(t *testing.T) {
	s := paymentSession(t, "p1", "alice", "150")
	fp := map[domain.CaptureKind]string{domain.CapturePalm: "ab12"}

	r := storage.FromSession(s, fp, time.Now())
	fp[domain.CapturePalm] = "changed"

	assert.Equal(t, "conf-p1", r.Confirmation)
	assert.Equal(t, "ab12", r.Fingerprints[domain.CapturePalm])
	assert.Equal(t, "150", r.Amount)
	assert.Equal(t, "INR", r.Currency)
}

func TestOpen(t *testing.T) {
	repo, err := storage.Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryRepository{}, repo)

	_, err = storage.Open("mongo", "")
	assert.Error(t, err)
}
