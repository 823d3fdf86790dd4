package trinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampIdempotent(t *testing.T) {
	for _, v := range []float64{-3, 0, 2.5, 5, 9.7} {
		once := clamp(v)
		assert.Equal(t, once, clamp(once), "clamp(clamp(x)) must equal clamp(x)")
		assert.GreaterOrEqual(t, once, 0.0)
		assert.LessOrEqual(t, once, 5.0)
	}
}

func TestClearScoreNormalize(t *testing.T) {
	t.Run("overall recomputed from axes when zero", func(t *testing.T) {
		s := ClearScore{Clarity: 4, Leverage: 3, Efficiency: 5, Alignment: 2, Resilience: 1}
		s.Normalize()
		assert.InDelta(t, 3.0, s.Overall, 1e-9)
	})

	t.Run("explicit overall preserved", func(t *testing.T) {
		s := ClearScore{Clarity: 4, Leverage: 4, Efficiency: 4, Alignment: 4, Resilience: 4, Overall: 2.5}
		s.Normalize()
		assert.Equal(t, 2.5, s.Overall)
	})

	t.Run("out of range axes clamped", func(t *testing.T) {
		s := ClearScore{Clarity: 11, Leverage: -2, Overall: 7}
		s.Normalize()
		assert.Equal(t, 5.0, s.Clarity)
		assert.Equal(t, 0.0, s.Leverage)
		assert.Equal(t, 5.0, s.Overall)
	})
}
