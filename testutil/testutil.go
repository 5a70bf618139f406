package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/falcon/backend/columnar"
	"github.com/hupe1980/falcon/model"
	"github.com/hupe1980/falcon/ndarray"
)

// Carriers are the categorical values of the synthetic "carrier" column.
var Carriers = []string{"AA", "DL", "UA", "WN"}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Uniform returns n values in [lo, hi) rounded down to multiples of grain.
// A grain of zero keeps full precision.
func (r *RNG) Uniform(n int, lo, hi, grain float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float64, n)
	for i := range out {
		v := lo + r.rand.Float64()*(hi-lo)
		if grain > 0 {
			v = lo + math.Floor((v-lo)/grain)*grain
		}
		out[i] = v
	}
	return out
}

// Gaussian returns n normally distributed values clipped to [lo, hi].
func (r *RNG) Gaussian(n int, mean, stddev, lo, hi float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float64, n)
	for i := range out {
		out[i] = min(max(mean+r.rand.NormFloat64()*stddev, lo), hi)
	}
	return out
}

// Zipf returns a Zipfian-distributed value in [0, n).
// s=1.0 gives standard Zipf, s=1.5 gives a heavy tail.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}
	return n - 1
}

// Categories draws n values from values with Zipfian skew s.
func (r *RNG) Categories(n int, values []string, s float64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, n)
	for i := range out {
		out[i] = values[r.zipfLocked(len(values), s)]
	}
	return out
}

// Present returns a validity bitmap where each entry is false with
// probability missingRate.
func (r *RNG) Present(n int, missingRate float64) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	present := make([]bool, n)
	for i := range present {
		present[i] = r.rand.Float64() >= missingRate
	}
	return present
}

// Flights builds a synthetic flights table of n rows:
//
//	delay     minutes in [-20, 180], a quarter-minute grid, 1% nulls
//	distance  miles in [100, 2500), a ten-mile grid
//	hour      departure hour 0..23
//	carrier   one of Carriers, Zipf distributed
//
// Values sit on coarse grids so brushes on those grids are exact.
func Flights(rng *RNG, n int) (*columnar.Store, error) {
	s := columnar.NewStore()
	delay := rng.Gaussian(n, 10, 40, -20, 180)
	for i, v := range delay {
		delay[i] = math.Floor(v*4) / 4
	}
	if err := s.AddFloat64("delay", delay, rng.Present(n, 0.01)); err != nil {
		return nil, err
	}
	if err := s.AddFloat64("distance", rng.Uniform(n, 100, 2500, 10), nil); err != nil {
		return nil, err
	}
	if err := s.AddFloat64("hour", rng.Uniform(n, 0, 24, 1), nil); err != nil {
		return nil, err
	}
	if err := s.AddString("carrier", rng.Categories(n, Carriers, 1.2), nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Accepts reports whether row i of tbl passes every filter. Nulls and NaN
// never pass.
func Accepts(tbl columnar.Table, filters model.Filters, i int) (bool, error) {
	for d, f := range filters {
		col, err := tbl.Column(d.Name)
		if err != nil {
			return false, err
		}
		if col.IsNull(i) {
			return false, nil
		}
		switch f := f.(type) {
		case model.Range:
			if !f.Accepts(col.Float(i)) {
				return false, nil
			}
		case model.Set:
			if !f.Matcher()(col.String(i)) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("testutil: unsupported filter %T", f)
		}
	}
	return true, nil
}

// ScanCount counts the rows of tbl passing filters by brute force.
func ScanCount(tbl columnar.Table, filters model.Filters) (int, error) {
	n := 0
	for i := range tbl.NumRows() {
		ok, err := Accepts(tbl, filters, i)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// ScanHistogram bins the rows of tbl passing filters over view by brute
// force. The dimensions of view must be initialized.
func ScanHistogram(tbl columnar.Table, view model.ViewSpec, filters model.Filters) (*ndarray.Counts, error) {
	out := ndarray.New[int64](view.Shape()...)
	cols := make([]columnar.Column, view.Arity())
	cats := make([]map[string]int, view.Arity())
	for k, d := range view.Dimensions {
		col, err := tbl.Column(d.Name)
		if err != nil {
			return nil, err
		}
		cols[k] = col
		if d.Kind == model.Categorical {
			cats[k] = d.CategoryIndex()
		}
	}

	idx := make([]int, max(view.Arity(), 1))
rows:
	for i := range tbl.NumRows() {
		ok, err := Accepts(tbl, filters, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for k, d := range view.Dimensions {
			if cols[k].IsNull(i) {
				continue rows
			}
			if cats[k] != nil {
				b, ok := cats[k][cols[k].String(i)]
				if !ok {
					continue rows
				}
				idx[k] = b
				continue
			}
			b, ok := d.Binning.Bin(cols[k].Float(i))
			if !ok {
				continue rows
			}
			idx[k] = b
		}
		out.Increment(1, idx...)
	}
	return out, nil
}
