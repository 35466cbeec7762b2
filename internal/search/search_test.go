// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package search

import (
	"testing"

	"github.com/autoraid/tuner/internal/forest"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcPredictor func(x float64) float64

func (f funcPredictor) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = f(row[0])
	}
	return out, nil
}

type shortPredictor struct{}

func (shortPredictor) Predict(x [][]float64) ([]float64, error) {
	return make([]float64, len(x)-1), nil
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, Candidates(3))
	assert.Equal(t, []int{1}, Candidates(1))
	assert.Nil(t, Candidates(0))
	assert.Len(t, Candidates(180), 180)
	assert.Equal(t, 180, Candidates(180)[179])
}

func TestFindBestMonotone(t *testing.T) {
	for _, n := range []int{1, 2, 32, 100, 180} {
		res, err := FindBest(funcPredictor(func(x float64) float64 { return 3 * x }), n)
		require.NoError(t, err)
		assert.Equal(t, n, res.Best)
		assert.Equal(t, float64(3*n), res.Predicted)
		assert.Len(t, res.Curve, n)
	}
}

func TestFindBestPeak(t *testing.T) {
	peak := funcPredictor(func(x float64) float64 { return -(x - 17) * (x - 17) })
	res, err := FindBest(peak, 32)
	require.NoError(t, err)
	assert.Equal(t, 17, res.Best)
}

func TestFindBestTiesGoToFirst(t *testing.T) {
	flat := funcPredictor(func(x float64) float64 {
		if x >= 5 {
			return 10
		}
		return 1
	})
	res, err := FindBest(flat, 30)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Best)
}

func TestFindBestErrors(t *testing.T) {
	_, err := FindBest(funcPredictor(func(x float64) float64 { return x }), 0)
	assert.True(t, errors.Is(err, ErrInvalidBound))

	_, err = FindBest(forest.New(), 30)
	assert.True(t, errors.Is(err, forest.ErrNotFitted))

	_, err = FindBest(shortPredictor{}, 3)
	require.Error(t, err)
}

func TestFindBestForest(t *testing.T) {
	// Performance rises with the parameter across the whole range.
	var x [][]float64
	var y []float64
	for p := 1; p <= 30; p++ {
		x = append(x, []float64{float64(p)})
		y = append(y, 2000+10*float64(p))
	}
	f := forest.New()
	require.NoError(t, f.Fit(x, y))

	res, err := FindBest(f, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Best)
}
