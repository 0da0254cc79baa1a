package kelly

import "math"

// sampleStdDev returns the sample standard deviation of xs, or 0 for fewer
// than two samples.
func sampleStdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(n)

	var m2 float64
	for _, x := range xs {
		d := x - mean
		m2 += d * d
	}
	return math.Sqrt(m2 / float64(n-1))
}

// binaryEntropy returns the Shannon entropy of the distribution {p, 1-p} in
// bits. Already normalized to [0,1] for a binary outcome; 1 at p=0.5, 0 at
// the extremes.
func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	q := 1 - p
	return -(p*math.Log2(p) + q*math.Log2(q))
}
