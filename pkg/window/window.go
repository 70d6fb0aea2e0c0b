package window

// Windows are fixed-width time buckets identified by an integer index.
// Window w covers the absolute interval [w*widthMs, (w+1)*widthMs). All
// window arithmetic in the engine goes through this package and stays in
// integer milliseconds; floating point is never involved.

// IndexOf returns the window index a timestamp falls into.
func IndexOf(tMs, widthMs int64) int64 {
	index := tMs / widthMs
	// Go division truncates toward zero; round negative timestamps down
	// so that -1 lands in window -1, not window 0.
	if tMs < 0 && tMs%widthMs != 0 {
		index--
	}
	return index
}

// StartOf returns the start of a window in absolute milliseconds.
func StartOf(index, widthMs int64) int64 {
	return index * widthMs
}

// Clamp limits an index range [from, to] to the bounds [lo, hi] and
// reports whether anything remains.
func Clamp(from, to, lo, hi int64) (int64, int64, bool) {
	if from < lo {
		from = lo
	}
	if to > hi {
		to = hi
	}
	return from, to, from <= to
}
