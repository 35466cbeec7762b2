// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package forest implements a random-forest regressor: an ensemble of CART
// regression trees, each grown on a bootstrap sample of the training rows,
// whose predictions are averaged. Everything random is drawn from a single
// seeded source, so fitting the same data twice yields the same model.
package forest

import (
	"math"
	"math/rand"
	"sort"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned when predicting with a forest that was never fit.
var ErrNotFitted = errors.New("model has not been fit")

const (
	DefaultTrees = 100
	DefaultSeed  = 42
)

// Forest is a random-forest regressor. It is not safe for concurrent Fit
// calls.
type Forest struct {
	trees    int
	seed     int64
	minLeaf  int
	maxDepth int
	width    int
	fitted   []tree
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the ensemble size.
func WithTrees(n int) Option { return func(f *Forest) { f.trees = n } }

// WithSeed sets the seed of the bootstrap sampler.
func WithSeed(seed int64) Option { return func(f *Forest) { f.seed = seed } }

// WithMinLeaf sets the minimum number of rows per leaf.
func WithMinLeaf(n int) Option { return func(f *Forest) { f.minLeaf = n } }

// WithMaxDepth bounds tree depth; 0 grows trees until leaves are pure.
func WithMaxDepth(d int) Option { return func(f *Forest) { f.maxDepth = d } }

// New returns an untrained forest of 100 fully grown trees seeded with 42.
func New(opts ...Option) *Forest {
	f := &Forest{trees: DefaultTrees, seed: DefaultSeed, minLeaf: 1}
	for _, o := range opts {
		o(f)
	}
	if f.trees < 1 {
		f.trees = 1
	}
	if f.minLeaf < 1 {
		f.minLeaf = 1
	}
	return f
}

// Fitted reports whether Fit has succeeded.
func (f *Forest) Fitted() bool { return f.fitted != nil }

// Trees returns the ensemble size.
func (f *Forest) Trees() int { return f.trees }

// Fit trains the forest on rows x and targets y, replacing any earlier fit.
func (f *Forest) Fit(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return errors.New("no training rows")
	}
	if len(x) != len(y) {
		return errors.Newf("have %d rows but %d targets", len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return errors.New("rows have no features")
	}
	for i, row := range x {
		if len(row) != width {
			return errors.Newf("row %d has %d features, want %d", i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Newf("row %d has a non-finite feature", i)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return errors.Newf("row %d has a non-finite target", i)
		}
	}

	rng := rand.New(rand.NewSource(f.seed))
	trees := make([]tree, f.trees)
	sample := make([]int, len(x))
	for t := range trees {
		for i := range sample {
			sample[i] = rng.Intn(len(x))
		}
		b := builder{x: x, y: y, minLeaf: f.minLeaf, maxDepth: f.maxDepth, width: width}
		b.grow(append([]int(nil), sample...), 0)
		trees[t] = tree{nodes: b.nodes}
	}
	f.fitted = trees
	f.width = width
	return nil
}

// Predict returns the averaged tree prediction for every row.
func (f *Forest) Predict(x [][]float64) ([]float64, error) {
	if !f.Fitted() {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != f.width {
			return nil, errors.Newf("row %d has %d features, want %d", i, len(row), f.width)
		}
		var sum float64
		for _, t := range f.fitted {
			sum += t.predict(row)
		}
		out[i] = sum / float64(len(f.fitted))
	}
	return out, nil
}

type node struct {
	feature     int
	threshold   float64
	left, right int
	value       float64
}

func (n node) leaf() bool { return n.left < 0 }

type tree struct {
	nodes []node
}

func (t tree) predict(row []float64) float64 {
	n := t.nodes[0]
	for !n.leaf() {
		if row[n.feature] <= n.threshold {
			n = t.nodes[n.left]
		} else {
			n = t.nodes[n.right]
		}
	}
	return n.value
}

type builder struct {
	x        [][]float64
	y        []float64
	minLeaf  int
	maxDepth int
	width    int
	nodes    []node
}

// grow appends the subtree for rows and returns the index of its root.
func (b *builder) grow(rows []int, depth int) int {
	vals := make([]float64, len(rows))
	for i, r := range rows {
		vals[i] = b.y[r]
	}
	id := len(b.nodes)
	b.nodes = append(b.nodes, node{left: -1, right: -1, value: stat.Mean(vals, nil)})

	if len(rows) < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) || constant(vals) {
		return id
	}
	feature, threshold, ok := b.bestSplit(rows)
	if !ok {
		return id
	}

	var left, right []int
	for _, r := range rows {
		if b.x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].feature = feature
	b.nodes[id].threshold = threshold
	b.nodes[id].left = l
	b.nodes[id].right = r
	return id
}

// bestSplit finds the feature and threshold minimizing the summed squared
// error of the two children. Ties keep the first candidate found.
func (b *builder) bestSplit(rows []int) (feature int, threshold float64, ok bool) {
	n := len(rows)
	sorted := make([]int, n)
	best := math.Inf(-1)

	for f := 0; f < b.width; f++ {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.x[sorted[i]][f] < b.x[sorted[j]][f]
		})

		var total float64
		for _, r := range sorted {
			total += b.y[r]
		}
		var left float64
		for k := 1; k < n; k++ {
			left += b.y[sorted[k-1]]
			if k < b.minLeaf || n-k < b.minLeaf {
				continue
			}
			lo, hi := b.x[sorted[k-1]][f], b.x[sorted[k]][f]
			if lo == hi {
				continue
			}
			right := total - left
			// Maximizing this is equivalent to minimizing the children's SSE.
			score := left*left/float64(k) + right*right/float64(n-k)
			if score > best {
				best = score
				feature = f
				threshold = lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func constant(vals []float64) bool {
	for _, v := range vals[1:] {
		if v != vals[0] {
			return false
		}
	}
	return true
}
