package vector

// SquaredL2 returns the squared Euclidean distance between a and b.
// Callers guarantee equal lengths.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Similarity maps a non-negative distance into (0, 1]; smaller distance, larger similarity.
func Similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}
