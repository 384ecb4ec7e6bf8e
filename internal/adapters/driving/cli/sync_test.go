package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRange_DefaultsToLastThirtyDays(t *testing.T) {
	start, end, err := dateRange("", "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), end, time.Minute)
	assert.Equal(t, 30*24*time.Hour, end.Sub(start))
}

func TestDateRange_ExplicitBounds(t *testing.T) {
	start, end, err := dateRange("2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", start.Format(dateLayout))
	assert.Equal(t, "2024-03-31", end.Format(dateLayout))
}

func TestDateRange_RejectsInvertedRange(t *testing.T) {
	_, _, err := dateRange("2024-04-01", "2024-03-01")
	require.Error(t, err)
}

func TestDateRange_RejectsBadDate(t *testing.T) {
	_, _, err := dateRange("01/03/2024", "")
	require.Error(t, err)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "services.efatura.cv", hostOf("", "https://services.efatura.cv"))
	assert.Equal(t, "services.example.test", hostOf("https://services.example.test:8443/base", ""))
	assert.Equal(t, "plainhost", hostOf("plainhost", ""))
}
