package timeconv

import (
	"encoding/json"
	"time"
)

// Plausibility window for normalized instants. Anything outside is treated
// as corrupted input and rejected.
var (
	minPlausible = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	maxPlausible = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// secondsMillisBoundary disambiguates numeric timestamps: values below it
// are read as seconds, values at or above it as milliseconds. 1e10 seconds
// is year 2286, far outside the plausibility window either way.
const secondsMillisBoundary = 1e10

// Plausible reports whether t falls inside the year 2000–2100 window.
func Plausible(t time.Time) bool {
	return !t.Before(minPlausible) && t.Before(maxPlausible)
}

// Normalize converts a heterogeneous timestamp value into a UTC instant.
// Accepted inputs: RFC3339 strings (with or without fractional seconds),
// numeric epochs in seconds or milliseconds, JSON-decoded document
// timestamp wrappers ({"seconds": n} or {"_seconds": n}), time.Time, and
// json.Number. Returns ok=false for anything unparseable or outside the
// plausibility window; it never panics and never returns a partial result.
func Normalize(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return validated(tv)
	case *time.Time:
		if tv == nil {
			return time.Time{}, false
		}
		return validated(*tv)
	case string:
		return normalizeString(tv)
	case float64:
		return normalizeNumber(tv)
	case int64:
		return normalizeNumber(float64(tv))
	case int:
		return normalizeNumber(float64(tv))
	case json.Number:
		f, err := tv.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return normalizeNumber(f)
	case map[string]any:
		return normalizeWrapper(tv)
	default:
		return time.Time{}, false
	}
}

func validated(t time.Time) (time.Time, bool) {
	if !Plausible(t) {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func normalizeString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return validated(t)
		}
	}
	return time.Time{}, false
}

func normalizeNumber(n float64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	secs := n
	if n >= secondsMillisBoundary {
		secs = n / 1000
	}
	whole := int64(secs)
	nanos := int64((secs - float64(whole)) * float64(time.Second))
	return validated(time.Unix(whole, nanos))
}

// normalizeWrapper handles document-store timestamp wrappers that survive a
// JSON round trip as {"seconds": n, "nanos": n} or {"_seconds": n}.
func normalizeWrapper(m map[string]any) (time.Time, bool) {
	for _, key := range []string{"seconds", "_seconds"} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		secs, ok := raw.(float64)
		if !ok {
			if num, isNum := raw.(json.Number); isNum {
				f, err := num.Float64()
				if err != nil {
					return time.Time{}, false
				}
				secs = f
			} else {
				return time.Time{}, false
			}
		}
		return normalizeNumber(secs)
	}
	return time.Time{}, false
}
