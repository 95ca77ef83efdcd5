package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat32BytesRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		input []float32
	}{
		{"simple", []float32{1.0, 2.0, 3.0, 4.0}},
		{"fractional", []float32{0.1, 0.5, -0.3, 1.5}},
		{"empty", []float32{}},
		{"nil", nil},
		{"typical embedding", []float32{0.123, -0.456, 0.789, -0.012, 0.345}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := Float32SliceToBytes(tc.input)
			got := BytesToFloat32Slice(b)
			if len(tc.input) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.input, got)
		})
	}
}

func TestBytesToFloat32SliceRejectsMisalignedInput(t *testing.T) {
	assert.Nil(t, BytesToFloat32Slice([]byte{1, 2, 3}))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestNormalizeVectorUnitNorm(t *testing.T) {
	v := NormalizeVector([]float32{3, 4, 0})
	assert.InDelta(t, 1.0, VectorNorm(v), 1e-6)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
}

func TestNormalizeVectorZero(t *testing.T) {
	v := NormalizeVector([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestSignificantTokens(t *testing.T) {
	got := SignificantTokens("User likes green tea, a lot!")
	assert.Equal(t, []string{"user", "likes", "green", "tea", "lot"}, got)
}

func TestTokenOverlapRatio(t *testing.T) {
	a := SignificantTokens("User likes green tea")
	b := SignificantTokens("User likes tea")
	ratio := TokenOverlapRatio(a, b)
	assert.InDelta(t, 0.75, ratio, 1e-9)
	assert.Equal(t, 0.0, TokenOverlapRatio(nil, b))
}

func TestVectorNormInvariant(t *testing.T) {
	v := NormalizeVector([]float32{0.1, -0.2, 0.3, 0.4, -0.5})
	n := VectorNorm(v)
	assert.True(t, math.Abs(n-1) <= 1e-3, "norm %v not within 1e-3 of unit length", n)
}
