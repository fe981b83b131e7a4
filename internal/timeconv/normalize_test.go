package timeconv_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacelight/pacelight/internal/timeconv"
)

func TestNormalize_Strings(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   time.Time
		wantOK bool
	}{
		{
			name:   "RFC3339",
			input:  "2025-06-01T10:30:00Z",
			want:   time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "fractional seconds",
			input:  "2025-06-01T10:30:00.500Z",
			want:   time.Date(2025, 6, 1, 10, 30, 0, 500000000, time.UTC),
			wantOK: true,
		},
		{
			name:   "missing zone suffix",
			input:  "2025-06-01T10:30:00",
			want:   time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "before plausibility window",
			input:  "1994-01-01T00:00:00Z",
			wantOK: false,
		},
		{
			name:   "after plausibility window",
			input:  "2150-01-01T00:00:00Z",
			wantOK: false,
		},
		{
			name:   "garbage",
			input:  "not-a-date",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := timeconv.Normalize(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize_Numbers(t *testing.T) {
	ref := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	got, ok := timeconv.Normalize(float64(ref.Unix()))
	require.True(t, ok)
	assert.True(t, got.Equal(ref), "epoch seconds")

	got, ok = timeconv.Normalize(float64(ref.UnixMilli()))
	require.True(t, ok)
	assert.True(t, got.Equal(ref), "epoch millis")

	_, ok = timeconv.Normalize(float64(-5))
	assert.False(t, ok, "negative epoch")

	// Seconds value for year 2150 is implausible whichever unit is assumed.
	_, ok = timeconv.Normalize(float64(5680281600))
	assert.False(t, ok, "out of range seconds")
}

func TestNormalize_DocumentWrapper(t *testing.T) {
	ref := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	got, ok := timeconv.Normalize(map[string]any{"seconds": float64(ref.Unix())})
	require.True(t, ok)
	assert.True(t, got.Equal(ref))

	got, ok = timeconv.Normalize(map[string]any{"_seconds": float64(ref.Unix())})
	require.True(t, ok)
	assert.True(t, got.Equal(ref))

	_, ok = timeconv.Normalize(map[string]any{"nanos": float64(12)})
	assert.False(t, ok, "wrapper without seconds field")
}

func TestNormalize_NativeAndNil(t *testing.T) {
	ref := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	got, ok := timeconv.Normalize(ref)
	require.True(t, ok)
	assert.True(t, got.Equal(ref))

	_, ok = timeconv.Normalize(nil)
	assert.False(t, ok)

	_, ok = timeconv.Normalize(struct{}{})
	assert.False(t, ok)
}

func TestNormalize_JSONNumber(t *testing.T) {
	ref := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	var decoded map[string]any
	dec := json.NewDecoder(strings.NewReader(fmt.Sprintf(`{"at": %d}`, ref.Unix())))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&decoded))

	got, ok := timeconv.Normalize(decoded["at"])
	require.True(t, ok)
	assert.True(t, got.Equal(ref))
}

func TestAppleEpochRoundTrip(t *testing.T) {
	instants := []time.Time{
		time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
		time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	for _, in := range instants {
		back := timeconv.FromAppleEpoch(timeconv.ToAppleEpoch(in))
		assert.Equal(t, in.Unix(), back.Unix(), "round trip for %v", in)
	}
}

func TestToAppleEpoch_KnownOffset(t *testing.T) {
	ref := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(0), timeconv.ToAppleEpoch(ref))

	unix := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, unix.Unix()-978307200, timeconv.ToAppleEpoch(unix))
}
