package analytics

import (
	"math"
	"sort"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// Running accumulates count, mean and variance in one pass (Welford).
type Running struct {
	n        int
	mean, m2 float64
	min, max float64
}

// Add folds v in.
func (r *Running) Add(v float64) {
	r.n++
	if r.n == 1 {
		r.min, r.max = v, v
	} else {
		r.min = math.Min(r.min, v)
		r.max = math.Max(r.max, v)
	}
	d := v - r.mean
	r.mean += d / float64(r.n)
	r.m2 += d * (v - r.mean)
}

// AddPtr folds v in when it is known.
func (r *Running) AddPtr(v *float64) {
	if v != nil {
		r.Add(*v)
	}
}

// N is the number of samples.
func (r *Running) N() int { return r.n }

// Mean is nil without samples.
func (r *Running) Mean() *float64 {
	if r.n == 0 {
		return nil
	}
	m := r.mean
	return &m
}

// Variance is the sample variance, nil below two samples.
func (r *Running) Variance() *float64 {
	if r.n < 2 {
		return nil
	}
	v := r.m2 / float64(r.n-1)
	return &v
}

// Value renders the statistics; unknown figures are left out rather than zeroed.
func (r *Running) Value() models.Value {
	v := models.Mapping(map[string]models.Value{"count": models.Int(r.n)})
	if r.n == 0 {
		return v
	}
	v = v.With("mean", models.Number(r.mean)).
		With("min", models.Number(r.min)).
		With("max", models.Number(r.max))
	if vr := r.Variance(); vr != nil {
		v = v.With("variance", models.Number(*vr)).With("std", models.Number(math.Sqrt(*vr)))
	}
	return v
}

// Counter counts occurrences of string keys.
type Counter map[string]int

// Value renders all counts.
func (c Counter) Value() models.Value {
	m := make(map[string]models.Value, len(c))
	for k, n := range c {
		m[k] = models.Int(n)
	}
	return models.Mapping(m)
}

// TopK returns the k most frequent keys, ties broken by key.
func (c Counter) TopK(k int) []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c[keys[i]] != c[keys[j]] {
			return c[keys[i]] > c[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if k > 0 && len(keys) > k {
		keys = keys[:k]
	}
	return keys
}

// TopKValue renders the top k keys as [{key, count}].
func (c Counter) TopKValue(k int) models.Value {
	items := []models.Value{}
	for _, key := range c.TopK(k) {
		items = append(items, models.Mapping(map[string]models.Value{
			"key":   models.String(key),
			"count": models.Int(c[key]),
		}))
	}
	return models.List(items...)
}

// Trend fits y = a + b*x by least squares and returns b. It reports false with fewer than
// two distinct x values.
type Trend struct {
	n                int
	sx, sy, sxx, sxy float64
	firstX           float64
	distinct         bool
}

// Add folds in one point.
func (t *Trend) Add(x, y float64) {
	if t.n == 0 {
		t.firstX = x
	} else if x != t.firstX {
		t.distinct = true
	}
	t.n++
	t.sx += x
	t.sy += y
	t.sxx += x * x
	t.sxy += x * y
}

// Slope returns the fitted slope.
func (t *Trend) Slope() (float64, bool) {
	if t.n < 2 || !t.distinct {
		return 0, false
	}
	n := float64(t.n)
	den := n*t.sxx - t.sx*t.sx
	if den == 0 {
		return 0, false
	}
	return (n*t.sxy - t.sx*t.sy) / den, true
}
