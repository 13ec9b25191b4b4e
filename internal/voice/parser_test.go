package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/palmpay/internal/domain"
)

func TestParse_Amounts(t *testing.T) {
	tests := []struct {
		transcript string
		value      string
		currency   string
	}{
		{"pay 150 rupees", "150", "INR"},
		{"Pay 20 Dollars to the cafe", "20", "USD"},
		{"send 1 rupee", "1", "INR"},
		{"99rs. only", "99", "INR"},
		{"rs 250 please", "250", "INR"},
		{"₹75", "75", "INR"},
		{"that's $12.50", "12.50", "USD"},
		{"transfer 1,500 rupees", "1500", "INR"},
		{"pay 1,50,000 rupees", "150000", "INR"},
		{"rs 1,50,000", "150000", "INR"},
		{"₹12,34,567.50 please", "1234567.50", "INR"},
		{"pay 2,500.75 dollars", "2500.75", "USD"},
		{"rs 150.", "150", "INR"},
		{"rs.150", "150", "INR"},
		{"rs 150, thanks", "150", "INR"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			amt, err := p.Parse(tt.transcript)
			require.NoError(t, err)
			assert.Equal(t, tt.value, amt.Value)
			assert.Equal(t, tt.currency, amt.Currency)
		})
	}
}

func TestParse_NoAmount(t *testing.T) {
	transcripts := []string{
		"hello there",
		"",
		"pay 150",
		"five hundred rupees",
		"-150 rupees",
		"minus 150 rupees",
		"negative 20 dollars",
		"0 rupees",
		"rsvp 40",
		"our hours 150",
		"pay 150.555 rupees",
		"pay 1,5000 rupees",
		"rs 1,50,0000",
		"$12.505",
		"rs 12,3456",
	}

	p := NewParser()
	for _, tr := range transcripts {
		t.Run(tr, func(t *testing.T) {
			_, err := p.Parse(tr)
			assert.ErrorIs(t, err, domain.ErrNoAmountFound)
		})
	}
}

func TestParse_SkipsNegatedMatch(t *testing.T) {
	amt, err := NewParser().Parse("not minus 5 rupees, pay 30 rupees")
	require.NoError(t, err)
	assert.Equal(t, "30", amt.Value)
}
