package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanShift(t *testing.T) {
	tests := []struct {
		name    string
		current int
		next    int
		lo, hi  int
		delta   int
		moved   bool
	}{
		{name: "no-op", current: 3, next: 3, moved: false},
		{name: "forward 2 to 4", current: 2, next: 4, lo: 3, hi: 4, delta: -1, moved: true},
		{name: "forward adjacent", current: 1, next: 2, lo: 2, hi: 2, delta: -1, moved: true},
		{name: "forward to end", current: 1, next: 5, lo: 2, hi: 5, delta: -1, moved: true},
		{name: "backward 4 to 2", current: 4, next: 2, lo: 2, hi: 3, delta: 1, moved: true},
		{name: "backward adjacent", current: 2, next: 1, lo: 1, hi: 1, delta: 1, moved: true},
		{name: "backward to front", current: 5, next: 1, lo: 1, hi: 4, delta: 1, moved: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi, delta, moved := planShift(tt.current, tt.next)
			assert.Equal(t, tt.moved, moved)
			if !tt.moved {
				return
			}
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
			assert.Equal(t, tt.delta, delta)
		})
	}
}

// Simulate the two UPDATE statements over an in-memory sequence and check
// the result is a dense permutation with the moved element in place.
func TestPlanShiftPreservesDensity(t *testing.T) {
	apply := func(orders map[string]int, movedID string, next int) {
		current := orders[movedID]
		lo, hi, delta, moved := planShift(current, next)
		if !moved {
			return
		}
		for id, o := range orders {
			if o >= lo && o <= hi {
				orders[id] = o + delta
			}
		}
		orders[movedID] = next
	}

	for current := 1; current <= 5; current++ {
		for next := 1; next <= 5; next++ {
			orders := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
			ids := []string{"a", "b", "c", "d", "e"}
			movedID := ids[current-1]

			apply(orders, movedID, next)

			assert.Equal(t, next, orders[movedID], "moved %s from %d to %d", movedID, current, next)
			seen := make(map[int]bool)
			for _, o := range orders {
				assert.GreaterOrEqual(t, o, 1)
				assert.LessOrEqual(t, o, 5)
				assert.False(t, seen[o], "duplicate sort order %d after move %d->%d", o, current, next)
				seen[o] = true
			}
		}
	}
}

func TestPlanShiftExampleFromFiveItems(t *testing.T) {
	// moving position 2 to position 4 shifts 3,4 down to 2,3
	lo, hi, delta, moved := planShift(2, 4)
	assert.True(t, moved)
	assert.Equal(t, 3, lo)
	assert.Equal(t, 4, hi)
	assert.Equal(t, -1, delta)
}
