// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package table turns benchmark samples into the feature table the tuner
// trains on.
package table

import (
	"sort"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Column names shared by every family.
const (
	ReadIOPS    = "read_iops"
	WriteIOPS   = "write_iops"
	ReadBW      = "read_bw"
	WriteBW     = "write_bw"
	Performance = "performance"
)

// ErrNoSamples is returned when a table would have no rows.
var ErrNoSamples = errors.New("no samples")

// Sample is one measurement row.
type Sample struct {
	Parameter int
	ReadIOPS  float64
	WriteIOPS float64
	ReadBW    float64
	WriteBW   float64
	// Extra carries any further fields the aggregation produced.
	Extra map[string]interface{}
}

// Performance is the optimization objective.
func (s Sample) Performance() float64 {
	return s.ReadIOPS + s.WriteIOPS
}

// Table is a column-oriented view over samples. Tables are immutable; the
// slices returned by accessors must not be modified.
type Table struct {
	feature string
	names   []string
	cols    map[string][]float64
	// index maps each row to its position in the table it was built from.
	index []int
}

// Build creates a table whose feature column is named feature.
func Build(feature string, samples []Sample) (*Table, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	names := []string{feature, ReadIOPS, WriteIOPS, ReadBW, WriteBW, Performance}
	t := &Table{
		feature: feature,
		cols:    make(map[string][]float64, len(names)),
		index:   make([]int, len(samples)),
	}
	for _, n := range names {
		t.cols[n] = make([]float64, len(samples))
	}
	for i, s := range samples {
		t.cols[feature][i] = float64(s.Parameter)
		t.cols[ReadIOPS][i] = s.ReadIOPS
		t.cols[WriteIOPS][i] = s.WriteIOPS
		t.cols[ReadBW][i] = s.ReadBW
		t.cols[WriteBW][i] = s.WriteBW
		t.cols[Performance][i] = s.Performance()
		t.index[i] = i
	}

	for _, extra := range numericExtras(samples) {
		if _, ok := t.cols[extra]; ok {
			continue
		}
		col := make([]float64, len(samples))
		for i, s := range samples {
			col[i], _ = Number(s.Extra[extra])
		}
		t.cols[extra] = col
		names = append(names, extra)
	}
	t.names = names
	return t, nil
}

// numericExtras returns the extra keys that hold a number in every sample.
func numericExtras(samples []Sample) []string {
	var keys []string
	for k := range samples[0].Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		numeric := true
		for _, s := range samples {
			if _, ok := Number(s.Extra[k]); !ok {
				numeric = false
				break
			}
		}
		if numeric {
			out = append(out, k)
		}
	}
	return out
}

// Number converts the numeric types produced by BSON and JSON decoding.
func Number(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func (t *Table) Feature() string { return t.feature }

func (t *Table) Len() int { return len(t.index) }

// Names returns the column names, feature first.
func (t *Table) Names() []string { return t.names }

// Column returns the named column, or nil if there is none.
func (t *Table) Column(name string) []float64 { return t.cols[name] }

// Index returns, for each row, its row number in the originating table.
func (t *Table) Index() []int { return t.index }

// X returns the feature column as a one-column design matrix.
func (t *Table) X() [][]float64 {
	col := t.cols[t.feature]
	x := make([][]float64, len(col))
	for i, v := range col {
		x[i] = []float64{v}
	}
	return x
}

// Y returns the performance column.
func (t *Table) Y() []float64 { return t.cols[Performance] }

// Subset returns a table holding the given rows, in the given order.
func (t *Table) Subset(rows []int) *Table {
	out := &Table{
		feature: t.feature,
		names:   t.names,
		cols:    make(map[string][]float64, len(t.cols)),
		index:   make([]int, len(rows)),
	}
	for name, col := range t.cols {
		sub := make([]float64, len(rows))
		for i, r := range rows {
			sub[i] = col[r]
		}
		out.cols[name] = sub
	}
	for i, r := range rows {
		out.index[i] = t.index[r]
	}
	return out
}

// Matrix is a labelled correlation matrix.
type Matrix struct {
	Names  []string
	Values *mat.SymDense
}

// At returns the correlation between columns a and b.
func (m *Matrix) At(a, b string) float64 {
	ia, ib := -1, -1
	for i, n := range m.Names {
		if n == a {
			ia = i
		}
		if n == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		panic(errors.AssertionFailedf("unknown column in %q, %q", a, b))
	}
	return m.Values.At(ia, ib)
}

// Correlation computes Pearson correlations between every pair of numeric
// columns. Columns with zero variance correlate as NaN.
func Correlation(t *Table) (*Matrix, error) {
	if t.Len() < 2 {
		return nil, errors.Newf("correlation needs at least 2 rows, have %d", t.Len())
	}
	data := mat.NewDense(t.Len(), len(t.names), nil)
	for j, name := range t.names {
		data.SetCol(j, t.cols[name])
	}
	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, data, nil)
	return &Matrix{
		Names:  append([]string(nil), t.names...),
		Values: &corr,
	}, nil
}
