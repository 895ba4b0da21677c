package utils

import "math"

// Dot returns the inner product of a and b accumulated in float64. Vectors of different
// length yield 0. For unit vectors this is the cosine similarity.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i, v := range a {
		sum += float64(v) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean length of x.
func Norm(x []float32) float64 {
	return math.Sqrt(Dot(x, x))
}

// NormalizeL2 scales x in place to unit length and returns its original length.
// A zero vector is left unchanged.
func NormalizeL2(x []float32) float64 {
	n := Norm(x)
	if n == 0 {
		return 0
	}
	inv := 1 / n
	for i, v := range x {
		x[i] = float32(float64(v) * inv)
	}
	return n
}
