package score

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/reconcile/internal/domain/recon"
)

func TestAmount_ExactEquality(t *testing.T) {
	s, err := Amount(45.00, 45.00, 0.02)

	require.NoError(t, err)
	assert.Equal(t, 1.0, s)
}

func TestAmount_WithinTolerance(t *testing.T) {
	// 0.5% off with a 2% tolerance should land at ~0.75
	s, err := Amount(100.00, 100.50, 0.02)

	require.NoError(t, err)
	assert.InDelta(t, 0.75, s, 0.01)
}

func TestAmount_BeyondTolerance(t *testing.T) {
	// 50 vs 62 is ~19% relative difference, far past 2%
	s, err := Amount(50.00, 62.00, 0.02)

	require.NoError(t, err)
	assert.Equal(t, 0.0, s)
}

func TestAmount_NegativeInput(t *testing.T) {
	_, err := Amount(-10.00, 10.00, 0.02)

	require.Error(t, err)
	var invErr *recon.InvalidInputError
	assert.ErrorAs(t, err, &invErr)
}

func TestAmount_NaNInput(t *testing.T) {
	_, err := Amount(10.00, math.NaN(), 0.02)

	require.Error(t, err)
	var invErr *recon.InvalidInputError
	assert.ErrorAs(t, err, &invErr)
}

func TestAmount_ZeroAmounts(t *testing.T) {
	// Two zero amounts are an exact match, not a division by zero
	s, err := Amount(0, 0, 0.02)

	require.NoError(t, err)
	assert.Equal(t, 1.0, s)
}

func TestDate_SameDay(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1.0, Date(d, d, 3))
}

func TestDate_LinearDecay(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	// 1 day out of a 3-day window
	assert.InDelta(t, 2.0/3.0, Date(d1, d2, 3), 0.0001)
}

func TestDate_BeyondWindow(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.0, Date(d1, d2, 3))
}

func TestDate_IgnoresTimeOfDay(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 1, 0, 10, 0, 0, time.UTC)

	assert.Equal(t, 1.0, Date(d1, d2, 3))
}

func TestVendor_Identical(t *testing.T) {
	assert.Equal(t, 1.0, Vendor("Starbucks", "Starbucks"))
}

func TestVendor_DescriptorNoise(t *testing.T) {
	// Bank descriptors carry store numbers; containment and token
	// overlap should still score this as a strong match.
	s := Vendor("STARBUCKS #123", "Starbucks")

	assert.GreaterOrEqual(t, s, 0.95)
}

func TestVendor_Containment(t *testing.T) {
	s := Vendor("AMZN Mktp Amazon.com Seattle WA", "amazon")

	assert.GreaterOrEqual(t, s, containmentFloor)
}

func TestVendor_Unrelated(t *testing.T) {
	s := Vendor("Starbucks", "Unrelated Co")

	assert.Less(t, s, 0.3)
}

func TestVendor_EmptyNames(t *testing.T) {
	// Missing vendor is common and must score 0, never error
	assert.Equal(t, 0.0, Vendor("", "Starbucks"))
	assert.Equal(t, 0.0, Vendor("Starbucks", ""))
	assert.Equal(t, 0.0, Vendor("", ""))
}

func TestVendor_PunctuationOnly(t *testing.T) {
	assert.Equal(t, 0.0, Vendor("***", "Starbucks"))
}

func TestNormalizeVendor(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "STARBUCKS", "starbucks"},
		{"punctuation stripped", "Amazon.com, Inc.", "amazon com inc"},
		{"whitespace collapsed", "  Whole   Foods ", "whole foods"},
		{"diacritics stripped", "Café Touché", "cafe touche"},
		{"store numbers kept", "Starbucks #123", "starbucks 123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeVendor(tt.input))
		})
	}
}
