package document

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDate_LexicographicMatchesChronological(t *testing.T) {
	// Given: dates out of order, across zones and millisecond boundaries
	times := []time.Time{
		time.Date(2024, 12, 31, 23, 59, 59, 999_000_000, time.UTC),
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 9, 0, 0, 5_000_000, time.FixedZone("CET", 3600)),
		time.Date(2024, 1, 1, 8, 0, 0, 4_000_000, time.UTC),
	}

	encoded := make([]string, len(times))
	for i, tm := range times {
		encoded[i] = EncodeDate(tm)
	}

	// When: sorting both ways
	sort.Strings(encoded)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	// Then: the orders agree
	for i, tm := range times {
		assert.Equal(t, EncodeDate(tm), encoded[i])
	}
}

func TestEncodeDate_Format(t *testing.T) {
	tm := time.Date(2024, 3, 5, 10, 30, 7, 42_000_000, time.UTC)

	assert.Equal(t, "20240305103007042", EncodeDate(tm))
	assert.Equal(t, NoValue, EncodeDate(time.Time{}))
	assert.Equal(t, NoValue, EncodeDatePtr(nil))
}

func TestDecodeDate(t *testing.T) {
	tm := time.Date(2024, 3, 5, 10, 30, 7, 42_000_000, time.UTC)

	got, err := DecodeDate(EncodeDate(tm))
	require.NoError(t, err)
	assert.True(t, tm.Equal(got))

	zero, err := DecodeDate(NoValue)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = DecodeDate("2024")
	assert.Error(t, err)
}
