package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoll_InRange(t *testing.T) {
	for _, tc := range []struct{ n, sides, wantN, wantSides int }{
		{3, 6, 3, 6},
		{0, 20, 1, 20},
		{-2, 20, 1, 20},
		{2, 0, 2, 1},
	} {
		result := Roll(tc.n, tc.sides)
		assert.Len(t, result.Values, tc.wantN)
		assert.Equal(t, tc.wantSides, result.Sides)
		sum := 0
		for _, v := range result.Values {
			assert.GreaterOrEqual(t, v, 1)
			assert.LessOrEqual(t, v, tc.wantSides)
			sum += v
		}
		assert.Equal(t, sum, result.Total)
	}
}

func TestRoller_Deterministic(t *testing.T) {
	a := NewRoller(42).Roll(5, 20)
	b := NewRoller(42).Roll(5, 20)
	assert.Equal(t, a, b)
}

func TestDiceResult_String(t *testing.T) {
	r := DiceResult{Count: 2, Sides: 20, Values: []int{3, 17}, Total: 20}
	assert.Equal(t, "Dice roll (2d20): [3, 17] total 20", r.String())
}
