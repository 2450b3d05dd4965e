package intensify

// Schedule picks the cutoff levels Phase 1 escalates through. Levels are
// ascending and the last one is the maximum cutoff.
type Schedule interface {
	Levels(cutoffMax float64, challengers int) []float64
}

// Geometric halves the maximum cutoff while the half stays above one and
// not below the number of challengers, then doubles back up to the maximum.
// A maximum of 32 with three challengers gives 4, 8, 16, 32.
//
// The starting cutoff never drops below the number of challengers: Phase 1
// waits for that many completions, and the first level grants at least one
// time unit for each of them.
type Geometric struct{}

func (Geometric) Levels(cutoffMax float64, challengers int) []float64 {
	if cutoffMax <= 0 {
		return nil
	}
	start := cutoffMax
	for half := start / 2; half > 1 && half >= float64(challengers); half = start / 2 {
		start = half
	}
	var levels []float64
	for k := start; k < cutoffMax; k *= 2 {
		levels = append(levels, k)
	}
	return append(levels, cutoffMax)
}

// Fixed uses the given levels as they are.
type Fixed []float64

func (f Fixed) Levels(float64, int) []float64 {
	return f
}
