// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package chart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/autoraid/tuner/internal/table"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type linear struct{ err error }

func (l linear) Predict(x [][]float64) ([]float64, error) {
	if l.err != nil {
		return nil, l.err
	}
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = 2000 + 10*row[0]
	}
	return out, nil
}

func fixture(t *testing.T) (train, test *table.Table) {
	t.Helper()
	var samples []table.Sample
	for p := 1; p <= 10; p++ {
		samples = append(samples, table.Sample{
			Parameter: p * 10,
			ReadIOPS:  1000 + 8*float64(p*10),
			WriteIOPS: 900 + float64(p*p),
			ReadBW:    float64(40 + p),
		})
	}
	tbl, err := table.Build("ramp_times", samples)
	require.NoError(t, err)
	return tbl.Subset([]int{0, 2, 3, 5, 6, 8, 9}), tbl.Subset([]int{7, 1, 4})
}

func requireFile(t *testing.T, path string) {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))
}

func TestRender(t *testing.T) {
	train, test := fixture(t)
	for _, name := range []string{"ramp.png", "ramp.svg"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, Render(path, train, test, linear{}))
		requireFile(t, path)
	}
}

func TestRenderPredictError(t *testing.T) {
	train, test := fixture(t)
	path := filepath.Join(t.TempDir(), "ramp.png")
	err := Render(path, train, test, linear{err: errors.New("not fit")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not fit")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRenderEmpty(t *testing.T) {
	train, _ := fixture(t)
	err := Render(filepath.Join(t.TempDir(), "x.png"), train, train.Subset(nil), linear{})
	require.True(t, errors.Is(err, table.ErrNoSamples))
}

func TestRenderUnwritable(t *testing.T) {
	train, test := fixture(t)
	err := Render(filepath.Join(t.TempDir(), "missing", "dir", "x.png"), train, test, linear{})
	require.Error(t, err)
}

func TestHeatmap(t *testing.T) {
	train, _ := fixture(t)
	m, err := table.Correlation(train)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "corr.png")
	require.NoError(t, Heatmap(path, m))
	requireFile(t, path)

	require.Error(t, Heatmap(filepath.Join(t.TempDir(), "empty.png"), &table.Matrix{}))
}
