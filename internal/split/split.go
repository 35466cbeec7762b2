// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package split

import (
	"math"
	"math/rand"

	"github.com/autoraid/tuner/internal/table"
	"github.com/cockroachdb/errors"
)

var (
	// ErrTooFewRows is returned for tables that cannot be split in two.
	ErrTooFewRows = errors.New("at least 2 rows are required to split")
	// ErrInvalidFraction is returned for a test fraction outside (0, 1).
	ErrInvalidFraction = errors.New("test fraction must be in (0, 1)")
)

// Split partitions t into disjoint train and test tables. The test set holds
// ceil(fraction*n) rows, clamped so that both sides are non-empty. Rows are
// assigned by a permutation drawn from seed, so identical inputs always
// yield the identical partition.
func Split(t *table.Table, fraction float64, seed int64) (train, test *table.Table, err error) {
	if math.IsNaN(fraction) || fraction <= 0 || fraction >= 1 {
		return nil, nil, errors.Wrapf(ErrInvalidFraction, "got %v", fraction)
	}
	n := t.Len()
	if n < 2 {
		return nil, nil, errors.Wrapf(ErrTooFewRows, "have %d", n)
	}

	nTest := int(math.Ceil(fraction * float64(n)))
	if nTest >= n {
		nTest = n - 1
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return t.Subset(perm[nTest:]), t.Subset(perm[:nTest]), nil
}
