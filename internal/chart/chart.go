// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package chart renders the fitted model and the correlation diagnostics
// to image files. The format follows the file extension (png, svg, pdf...).
package chart

import (
	"image/color"
	"sort"

	"github.com/autoraid/tuner/internal/search"
	"github.com/autoraid/tuner/internal/table"
	"github.com/cockroachdb/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	trainColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	testColor  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	modelColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

func points(t *table.Table) plotter.XYs {
	x, y := t.Column(t.Feature()), t.Y()
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X, pts[i].Y = x[i], y[i]
	}
	return pts
}

func scatter(t *table.Table, c color.Color, shape draw.GlyphDrawer) (*plotter.Scatter, error) {
	s, err := plotter.NewScatter(points(t))
	if err != nil {
		return nil, err
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(3)
	return s, nil
}

// Render writes a scatter of the training and evaluation points and the
// model's predictions over the sorted evaluation domain to path.
func Render(path string, train, test *table.Table, model search.Predictor) error {
	if train.Len() == 0 || test.Len() == 0 {
		return errors.Wrapf(table.ErrNoSamples, "rendering %s", path)
	}
	p := plot.New()
	p.Title.Text = test.Feature() + " vs performance"
	p.X.Label.Text = test.Feature()
	p.Y.Label.Text = table.Performance

	trainPts, err := scatter(train, trainColor, draw.CircleGlyph{})
	if err != nil {
		return errors.Wrap(err, "plotting training points")
	}
	testPts, err := scatter(test, testColor, draw.TriangleGlyph{})
	if err != nil {
		return errors.Wrap(err, "plotting evaluation points")
	}

	domain := append([]float64(nil), test.Column(test.Feature())...)
	sort.Float64s(domain)
	x := make([][]float64, len(domain))
	for i, v := range domain {
		x[i] = []float64{v}
	}
	pred, err := model.Predict(x)
	if err != nil {
		return errors.Wrap(err, "predicting evaluation domain")
	}
	curve := make(plotter.XYs, len(domain))
	for i := range domain {
		curve[i].X, curve[i].Y = domain[i], pred[i]
	}
	line, err := plotter.NewLine(curve)
	if err != nil {
		return errors.Wrap(err, "plotting predictions")
	}
	line.Color = modelColor
	line.Width = vg.Points(2)

	p.Add(plotter.NewGrid(), trainPts, testPts, line)
	p.Legend.Add("train", trainPts)
	p.Legend.Add("test", testPts)
	p.Legend.Add("model", line)
	p.Legend.Top = true

	return errors.Wrapf(p.Save(8*vg.Inch, 5*vg.Inch, path), "saving %s", path)
}

// grid adapts a correlation matrix to plotter.GridXYZ. Row 0 is drawn at
// the top so the picture reads like the matrix.
type grid struct {
	m *table.Matrix
	n int
}

func (g grid) Dims() (c, r int)   { return g.n, g.n }
func (g grid) Z(c, r int) float64 { return g.m.Values.At(g.n-1-r, c) }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

// Heatmap writes the correlation matrix m to path.
func Heatmap(path string, m *table.Matrix) error {
	n := len(m.Names)
	if n == 0 {
		return errors.Newf("rendering %s: empty correlation matrix", path)
	}
	p := plot.New()
	p.Title.Text = "Correlation matrix"

	h := plotter.NewHeatMap(grid{m: m, n: n}, moreland.SmoothBlueRed().Palette(255))
	h.Min, h.Max = -1, 1
	h.NaN = color.Gray{Y: 200}
	p.Add(h)

	rev := make([]string, n)
	for i, name := range m.Names {
		rev[n-1-i] = name
	}
	p.NominalX(m.Names...)
	p.NominalY(rev...)

	size := vg.Length(n)*vg.Inch + 2*vg.Inch
	return errors.Wrapf(p.Save(size, size, path), "saving %s", path)
}
