package temporal

import (
	"strings"
	"time"
)

// Frequency is a resampling bucket width.
type Frequency string

const (
	Daily     Frequency = "D"
	Weekly    Frequency = "W"
	Monthly   Frequency = "M"
	Quarterly Frequency = "Q"
	Yearly    Frequency = "Y"
)

// ParseFrequency accepts the short codes and their long names, case-insensitively.
func ParseFrequency(s string) (Frequency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d", "day", "daily":
		return Daily, true
	case "w", "week", "weekly":
		return Weekly, true
	case "m", "month", "monthly", "me":
		return Monthly, true
	case "q", "quarter", "quarterly", "qe":
		return Quarterly, true
	case "y", "a", "year", "yearly", "annual", "ye":
		return Yearly, true
	}
	return "", false
}

// Period is the seasonal cycle length assumed for the frequency.
func (f Frequency) Period() int {
	switch f {
	case Daily, Weekly:
		return 7
	case Quarterly:
		return 4
	default:
		return 12
	}
}

// Unit names one step of the frequency.
func (f Frequency) Unit() string {
	switch f {
	case Daily:
		return "day"
	case Weekly:
		return "week"
	case Quarterly:
		return "quarter"
	case Yearly:
		return "year"
	default:
		return "month"
	}
}

// bucket returns the label of the bucket containing t: the day itself, the
// Sunday ending its week, or the last day of its month, quarter or year.
func (f Frequency) bucket(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch f {
	case Daily:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case Weekly:
		ahead := (7 - int(t.Weekday())) % 7
		return time.Date(y, m, d+ahead, 0, 0, 0, 0, loc)
	case Monthly:
		return monthEnd(y, m, loc)
	case Quarterly:
		qm := time.Month(((int(m)-1)/3+1)*3)
		return monthEnd(y, qm, loc)
	default:
		return monthEnd(y, time.December, loc)
	}
}

// next returns the label of the bucket after label.
func (f Frequency) next(label time.Time) time.Time {
	y, m, d := label.Date()
	loc := label.Location()
	switch f {
	case Daily:
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	case Weekly:
		return time.Date(y, m, d+7, 0, 0, 0, 0, loc)
	case Monthly:
		return monthEnd(y, m+1, loc)
	case Quarterly:
		return monthEnd(y, m+3, loc)
	default:
		return monthEnd(y+1, time.December, loc)
	}
}

func monthEnd(y int, m time.Month, loc *time.Location) time.Time {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc)
}

// Point is one resampled or forecast value.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	// Filled marks buckets with no observations, carried forward from the previous bucket.
	Filled bool `json:"filled,omitempty"`
}

type observation struct {
	t time.Time
	v float64
}

// maxBuckets bounds the resampled length for very fine frequencies over long spans.
const maxBuckets = 1_000_000

// resample averages sorted observations per bucket and forward-fills gaps.
// It reports false when the span would exceed maxBuckets.
func resample(obs []observation, f Frequency) ([]Point, bool) {
	if len(obs) == 0 {
		return nil, true
	}
	var out []Point
	label := f.bucket(obs[0].t)
	i := 0
	for i < len(obs) {
		if len(out) >= maxBuckets {
			return nil, false
		}
		var sum float64
		count := 0
		for i < len(obs) && !f.bucket(obs[i].t).After(label) {
			sum += obs[i].v
			count++
			i++
		}
		if count > 0 {
			out = append(out, Point{Time: label, Value: sum / float64(count)})
		} else {
			out = append(out, Point{Time: label, Value: out[len(out)-1].Value, Filled: true})
		}
		label = f.next(label)
	}
	return out, true
}
