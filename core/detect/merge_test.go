package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strydelabs/hrrscan/core/hrr"
)

func TestMerge_PeakWinsCollision(t *testing.T) {
	samples := series(1200, make([]float64, 100)...)
	for i := range samples {
		samples[i].HR = 150
	}
	peaks := []hrr.Candidate{{OnsetIndex: 13, PeakHR: 169, Origin: hrr.OriginPeak}}
	valleys := []hrr.Candidate{{OnsetIndex: 32, PeakHR: 160, Origin: hrr.OriginValley}}

	result := Merge(samples, peaks, valleys, testConfig())

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, hrr.OriginPeak, result.Candidates[0].Origin)
	assert.Equal(t, 13, result.Candidates[0].OnsetIndex)
	require.Len(t, result.Superseded, 1)
	assert.Equal(t, hrr.OriginValley, result.Superseded[0].Origin)
}

func TestMerge_PeakWinsWhenValleyFirst(t *testing.T) {
	samples := series(0, make([]float64, 100)...)
	for i := range samples {
		samples[i].HR = 150
	}
	peaks := []hrr.Candidate{{OnsetIndex: 40, PeakHR: 169, Origin: hrr.OriginPeak}}
	valleys := []hrr.Candidate{{OnsetIndex: 25, PeakHR: 162, Origin: hrr.OriginValley}}

	result := Merge(samples, peaks, valleys, testConfig())

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, hrr.OriginPeak, result.Candidates[0].Origin)
	assert.Equal(t, 40, result.Candidates[0].OnsetIndex)
	require.Len(t, result.Superseded, 1)
}

func TestMerge_BeyondToleranceKeepsBoth(t *testing.T) {
	samples := series(0, make([]float64, 200)...)
	for i := range samples {
		samples[i].HR = 150
	}
	peaks := []hrr.Candidate{{OnsetIndex: 10, PeakHR: 170, Origin: hrr.OriginPeak}}
	valleys := []hrr.Candidate{{OnsetIndex: 100, PeakHR: 155, Origin: hrr.OriginValley}}

	result := Merge(samples, peaks, valleys, testConfig())

	require.Len(t, result.Candidates, 2)
	assert.Empty(t, result.Superseded)
	assert.Equal(t, 10, result.Candidates[0].OnsetIndex)
	assert.Equal(t, 100, result.Candidates[1].OnsetIndex)
}

func TestMerge_SameOnsetFromBothDetectors(t *testing.T) {
	samples := series(0, make([]float64, 50)...)
	for i := range samples {
		samples[i].HR = 150
	}
	peaks := []hrr.Candidate{{OnsetIndex: 20, PeakHR: 165, Origin: hrr.OriginPeak}}
	valleys := []hrr.Candidate{{OnsetIndex: 20, PeakHR: 165, Origin: hrr.OriginValley}}

	result := Merge(samples, peaks, valleys, testConfig())

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, hrr.OriginPeak, result.Candidates[0].Origin)
}

func TestMerge_Deterministic(t *testing.T) {
	samples := series(0, make([]float64, 300)...)
	for i := range samples {
		samples[i].HR = 150
	}
	peaks := []hrr.Candidate{
		{OnsetIndex: 10, PeakHR: 170, Origin: hrr.OriginPeak},
		{OnsetIndex: 150, PeakHR: 168, Origin: hrr.OriginPeak},
	}
	valleys := []hrr.Candidate{
		{OnsetIndex: 25, PeakHR: 160, Origin: hrr.OriginValley},
		{OnsetIndex: 160, PeakHR: 158, Origin: hrr.OriginValley},
		{OnsetIndex: 250, PeakHR: 152, Origin: hrr.OriginValley},
	}

	first := Merge(samples, peaks, valleys, testConfig())
	second := Merge(samples, peaks, valleys, testConfig())

	assert.Equal(t, first, second)
	require.Len(t, first.Candidates, 3)
	assert.Equal(t, []int{10, 150, 250}, []int{
		first.Candidates[0].OnsetIndex,
		first.Candidates[1].OnsetIndex,
		first.Candidates[2].OnsetIndex,
	})
}

func TestMerge_Empty(t *testing.T) {
	result := Merge(series(0, 100, 100, 100), nil, nil, testConfig())
	assert.Empty(t, result.Candidates)
	assert.Empty(t, result.Superseded)
}
