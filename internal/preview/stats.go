package preview

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/microscope-data/scope.report/internal/acq"
)

// Stats summarizes one plane's intensity distribution.
type Stats struct {
	Min    uint16  `json:"min"`
	Max    uint16  `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// PlaneStats computes intensity statistics over all samples of a plane.
func PlaneStats(p acq.Plane) Stats {
	if len(p.Pix) == 0 {
		return Stats{}
	}
	vals := make([]float64, len(p.Pix))
	min, max := p.Pix[0], p.Pix[0]
	for i, v := range p.Pix {
		vals[i] = float64(v)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean, std := stat.MeanStdDev(vals, nil)
	return Stats{Min: min, Max: max, Mean: mean, StdDev: std}
}

// AutoscaleLimits returns display contrast limits at the given percentiles
// (e.g. 0.01 and 0.99), the way an array viewer autoscales its LUT.
func AutoscaleLimits(p acq.Plane, lowPct, highPct float64) (lo, hi float64, err error) {
	if len(p.Pix) == 0 {
		return 0, 0, fmt.Errorf("preview: empty plane")
	}
	if lowPct < 0 || highPct > 1 || lowPct >= highPct {
		return 0, 0, fmt.Errorf("preview: bad percentile range [%v, %v]", lowPct, highPct)
	}
	vals := make([]float64, len(p.Pix))
	for i, v := range p.Pix {
		vals[i] = float64(v)
	}
	sort.Float64s(vals)
	lo = stat.Quantile(lowPct, stat.Empirical, vals, nil)
	hi = stat.Quantile(highPct, stat.Empirical, vals, nil)
	return lo, hi, nil
}
