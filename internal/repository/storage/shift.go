package storage

// planShift computes the inclusive window [lo, hi] of sort orders that must
// move by delta when an attachment at current goes to next. moved is false
// for a no-op move.
//
// Forward (next > current): everything in (current, next] steps down one.
// Backward (next < current): everything in [next, current) steps up one.
// The moved row itself is placed afterwards, so density holds at commit.
func planShift(current, next int) (lo, hi, delta int, moved bool) {
	switch {
	case next == current:
		return 0, 0, 0, false
	case next > current:
		return current + 1, next, -1, true
	default:
		return next, current - 1, +1, true
	}
}
