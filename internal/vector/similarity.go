package vector

import "math"

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine similarity of a and b. Mismatched,
// empty or zero vectors have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return InnerProduct(a, b) / (na * nb)
}

// Normalize returns a unit-length copy of x. A zero vector is copied unchanged.
func Normalize(x []float32) []float32 {
	out := make([]float32, len(x))
	copy(out, x)
	n := L2Norm(x)
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / n)
	}
	return out
}
