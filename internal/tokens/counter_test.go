package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_Count(t *testing.T) {
	counter, err := NewCounter()
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
		min  int
		max  int
	}{
		{"empty", "", 0, 0},
		{"short question", "What is 2+2?", 3, 10},
		{"sentence", "Explain photosynthesis to a ten year old student.", 6, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := counter.Count(tt.text)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestCounter_NilFallsBackToEstimate(t *testing.T) {
	var counter *Counter
	assert.Equal(t, Estimate("abcdefgh"), counter.Count("abcdefgh"))
	assert.Equal(t, 2, (&Counter{}).Count("abcdefg"))
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 1, Estimate("abc"))
	assert.Equal(t, 3, Estimate("abcdefghij"))
}
