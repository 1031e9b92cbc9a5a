package histogram

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogram_EmptySummary(t *testing.T) {
	h := New()
	s := h.Summary()
	assert.EqualValues(t, 0, s.Count)
	assert.EqualValues(t, 0, s.Min)
	assert.EqualValues(t, 0, s.Max)
}

func TestHistogram_MinMaxCount(t *testing.T) {
	h := New()
	for _, v := range []int64{10, 1, 5000, 42} {
		h.Record(v)
	}
	assert.EqualValues(t, 4, h.Count())
	assert.EqualValues(t, 1, h.Min())
	assert.EqualValues(t, 5000, h.Max())
}

func TestHistogram_PercentileMonotonic(t *testing.T) {
	h := New()
	for i := int64(1); i <= 1000; i++ {
		h.Record(i)
	}
	prev := 0.0
	for _, p := range []float64{1, 10, 25, 50, 75, 90, 95, 99, 99.9, 100} {
		v := h.Percentile(p)
		assert.GreaterOrEqual(t, v, prev, "percentile must be non-decreasing in p")
		prev = v
	}
	assert.EqualValues(t, h.Max(), h.Percentile(100))
}

func TestHistogram_IdempotentAcrossTwoInstances(t *testing.T) {
	samples := []int64{3, 7, 7, 42, 1000, 1, 2, 2, 2, 999999}
	h1, h2 := New(), New()
	for _, v := range samples {
		h1.Record(v)
	}
	// Record in a different order: summary must match modulo float tolerance.
	for i := len(samples) - 1; i >= 0; i-- {
		h2.Record(samples[i])
	}

	s1, s2 := h1.Summary(), h2.Summary()
	assert.Equal(t, s1.Count, s2.Count)
	assert.InDelta(t, s1.Mean, s2.Mean, 1e-9)
	assert.InDelta(t, s1.StdDev, s2.StdDev, 1e-9)
	assert.Equal(t, s1.Min, s2.Min)
	assert.Equal(t, s1.Max, s2.Max)
}

func TestHistogram_ConcurrentRecordIsRaceFree(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for i := int64(0); i < 1000; i++ {
				h.Record(base + i)
			}
		}(int64(g * 1000))
	}
	wg.Wait()
	require.EqualValues(t, 16000, h.Count())
}

func TestHistogram_SummaryFields(t *testing.T) {
	h := New()
	for _, v := range []int64{100, 100, 100, 100} {
		h.Record(v)
	}
	s := h.Summary()
	assert.InDelta(t, 100, s.Mean, 1e-9)
	assert.InDelta(t, 0, s.StdDev, 1e-9)
	assert.InDelta(t, 0, s.CV, 1e-9)
}
