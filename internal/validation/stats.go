package validation

import "math"

// twoProportionZTest computes the two-sided p-value for the difference
// between two sample proportions. Returns 1 (no evidence) when either sample
// is empty or the pooled variance degenerates.
func twoProportionZTest(p1 float64, n1 int, p2 float64, n2 int) float64 {
	if n1 == 0 || n2 == 0 {
		return 1
	}
	pooled := (p1*float64(n1) + p2*float64(n2)) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return 1
	}
	z := (p1 - p2) / se
	return 2 * (1 - normalCDF(math.Abs(z)))
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
