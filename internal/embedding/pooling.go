package embedding

// meanPool averages the rows of hidden (tokens x dim, row-major) whose mask entry is set.
// Rows past the end of hidden are ignored. No unmasked token yields the zero vector.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	var n float32
	for t, m := range mask {
		if (t+1)*dim > len(hidden) {
			break
		}
		if m == 0 {
			continue
		}
		for i, v := range hidden[t*dim : (t+1)*dim] {
			out[i] += v
		}
		n++
	}
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}
