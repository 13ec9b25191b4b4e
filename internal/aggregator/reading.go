package aggregator

import (
	"encoding/hex"

	"github.com/hperssn/palmpay/internal/domain"
)

// Reading is the palm reading handed back when a palmistry flow settles.
type Reading struct {
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Confidence  int    `json:"confidence"`
}

var readings = []Reading{
	{
		Category:    "Life Line",
		Title:       "Long and Vibrant Journey",
		Description: "Your life line suggests a long, healthy and adventurous life ahead. You have the energy to pursue your dreams with passion.",
		Confidence:  85,
	},
	{
		Category:    "Heart Line",
		Title:       "Deep Emotional Connection",
		Description: "Your heart line indicates a person who loves deeply and forms meaningful relationships.",
		Confidence:  92,
	},
	{
		Category:    "Head Line",
		Title:       "Sharp Analytical Mind",
		Description: "Your head line reveals strong analytical abilities and creative problem solving.",
		Confidence:  78,
	},
	{
		Category:    "Fate Line",
		Title:       "Destined for Success",
		Description: "Your fate line suggests success will come through your own determination. Major positive changes are on the horizon.",
		Confidence:  88,
	},
}

// ReadPalm picks a reading from the palm fingerprint, so the same scan always
// reads the same way.
func ReadPalm(fingerprints map[domain.CaptureKind]string) *Reading {
	fp, ok := fingerprints[domain.CapturePalm]
	if !ok {
		return nil
	}
	sum, err := hex.DecodeString(fp)
	if err != nil || len(sum) == 0 {
		return nil
	}
	r := readings[int(sum[0])%len(readings)]
	return &r
}
