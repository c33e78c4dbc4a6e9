package grid

import "math"

// Layout returns the column and row count that arranges total cells closest
// to a square. Ties go to the fewer columns.
func Layout(total int) (cols, rows int) {
	if total <= 0 {
		return 0, 0
	}

	bestCols := total
	bestDiff := math.MaxInt
	limit := math.Sqrt(float64(total)) * 2

	for c := 1; float64(c) <= limit; c++ {
		r := ceilDiv(total, c)
		diff := c - r
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			bestCols = c
		}
	}

	return bestCols, ceilDiv(total, bestCols)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
