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
	"github.com/cockroachdb/errors"
)

// ErrInvalidBound is returned for a candidate range with no members.
var ErrInvalidBound = errors.New("upper bound must be at least 1")

// Predictor scores feature rows.
type Predictor interface {
	Predict(x [][]float64) ([]float64, error)
}

// Candidates returns 1..upper inclusive.
func Candidates(upper int) []int {
	if upper < 1 {
		return nil
	}
	out := make([]int, upper)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// Result is the outcome of a search.
type Result struct {
	Best      int
	Predicted float64
	// Curve holds the prediction for every candidate, in candidate order.
	Curve []float64
}

// FindBest scores every candidate in 1..upper with p and returns the one
// with the highest predicted performance. Ties go to the smallest candidate.
func FindBest(p Predictor, upper int) (Result, error) {
	cands := Candidates(upper)
	if len(cands) == 0 {
		return Result{}, errors.Wrapf(ErrInvalidBound, "got %d", upper)
	}
	x := make([][]float64, len(cands))
	for i, c := range cands {
		x[i] = []float64{float64(c)}
	}
	pred, err := p.Predict(x)
	if err != nil {
		return Result{}, errors.Wrap(err, "scoring candidates")
	}
	if len(pred) != len(cands) {
		return Result{}, errors.AssertionFailedf("got %d predictions for %d candidates", len(pred), len(cands))
	}

	best := 0
	for i := 1; i < len(pred); i++ {
		if pred[i] > pred[best] {
			best = i
		}
	}
	return Result{Best: cands[best], Predicted: pred[best], Curve: pred}, nil
}
