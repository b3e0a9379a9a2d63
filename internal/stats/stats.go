// Package stats computes five-number summaries.
//
// Quartiles use the R-8 (median-unbiased) estimator: for probability p over n
// sorted values, h = (n + 1/3)p + 1/3 and the result interpolates linearly
// between the order statistics floor(h) and floor(h)+1 (1-based), clamped to
// the minimum and maximum. The median is the middle value, or the mean of the
// two middle values for even n.
package stats

import (
	"encoding/json"
	"math"
	"sort"
)

// Stats is a five-number summary plus the sample size. An empty sample
// yields NaN for every field and a count of zero.
type Stats struct {
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
	Count  int
}

// Number is any numeric sample type the summaries accept.
type Number interface {
	~int | ~int32 | ~int64 | ~uint32 | ~float64
}

// NaN returns the summary of an empty sample.
func NaN() Stats {
	nan := math.NaN()
	return Stats{Min: nan, Q1: nan, Median: nan, Q3: nan, Max: nan}
}

// FromSlice summarises values. The input is not modified.
func FromSlice[T Number](values []T) Stats {
	if len(values) == 0 {
		return NaN()
	}

	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = float64(v)
	}
	sort.Float64s(data)

	return Stats{
		Min:    data[0],
		Q1:     quantile(data, 0.25),
		Median: median(data),
		Q3:     quantile(data, 0.75),
		Max:    data[len(data)-1],
		Count:  len(data),
	}
}

// IsEmpty reports whether the summary was built from no values.
func (s Stats) IsEmpty() bool {
	return s.Count == 0
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func quantile(sorted []float64, p float64) float64 {
	n := float64(len(sorted))
	h := (n+1.0/3.0)*p + 1.0/3.0
	hf := math.Floor(h)
	switch {
	case hf <= 0:
		return sorted[0]
	case hf >= n:
		return sorted[len(sorted)-1]
	}
	lo := sorted[int(hf)-1]
	hi := sorted[int(hf)]
	return lo + (h-hf)*(hi-lo)
}

// jsonStats carries NaN as null, which encoding/json cannot represent natively.
type jsonStats struct {
	Min    *float64 `json:"min"`
	Q1     *float64 `json:"q1"`
	Median *float64 `json:"median"`
	Q3     *float64 `json:"q3"`
	Max    *float64 `json:"max"`
	Count  int      `json:"count"`
}

func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonStats{
		Min:    finite(s.Min),
		Q1:     finite(s.Q1),
		Median: finite(s.Median),
		Q3:     finite(s.Q3),
		Max:    finite(s.Max),
		Count:  s.Count,
	})
}

func (s *Stats) UnmarshalJSON(data []byte) error {
	var js jsonStats
	if err := json.Unmarshal(data, &js); err != nil {
		return err
	}
	*s = Stats{
		Min:    orNaN(js.Min),
		Q1:     orNaN(js.Q1),
		Median: orNaN(js.Median),
		Q3:     orNaN(js.Q3),
		Max:    orNaN(js.Max),
		Count:  js.Count,
	}
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
