// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package tuner holds the regression model for one metric family: it builds
// the feature table, splits it, fits a random forest, reports held-out
// error and searches the candidate range for the best parameter value.
//
// A Tuner owns its model and split. It is meant for one pipeline run at a
// time; use one Tuner per family.
package tuner

import (
	"math"

	"github.com/autoraid/tuner/internal/family"
	"github.com/autoraid/tuner/internal/forest"
	"github.com/autoraid/tuner/internal/search"
	"github.com/autoraid/tuner/internal/split"
	"github.com/autoraid/tuner/internal/table"
	"github.com/cockroachdb/errors"
	"github.com/sajari/regression"
	"go.uber.org/zap"
)

var (
	// ErrNotPrepared is returned when fitting before Prepare.
	ErrNotPrepared = errors.New("data has not been prepared")
	// ErrModelInaccurate is returned by FindBest when the held-out error
	// exceeds the configured ceiling.
	ErrModelInaccurate = errors.New("model error exceeds the configured ceiling")
)

// Tuner fits and queries the model of one family.
type Tuner struct {
	fam        family.Family
	logger     *zap.Logger
	forestOpts []forest.Option
	model      *forest.Forest
	maxMSE     float64

	data  *table.Table
	train *table.Table
	test  *table.Table

	mse       float64
	evaluated bool
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithMaxMSE makes FindBest refuse to answer when the held-out mean squared
// error is above v. Zero disables the check.
func WithMaxMSE(v float64) Option {
	return func(t *Tuner) { t.maxMSE = v }
}

// WithForest adds forest options. The family seed is applied first, so an
// explicit forest.WithSeed here takes precedence.
func WithForest(opts ...forest.Option) Option {
	return func(t *Tuner) { t.forestOpts = append(t.forestOpts, opts...) }
}

// New returns an untrained tuner for fam.
func New(fam family.Family, logger *zap.Logger, opts ...Option) *Tuner {
	t := &Tuner{
		fam:    fam,
		logger: logger.With(zap.String("family", fam.Name)),
	}
	for _, o := range opts {
		o(t)
	}
	t.model = t.newForest()
	return t
}

func (t *Tuner) newForest() *forest.Forest {
	return forest.New(append([]forest.Option{forest.WithSeed(t.fam.Seed)}, t.forestOpts...)...)
}

// Family returns the tuner's family descriptor.
func (t *Tuner) Family() family.Family { return t.fam }

// Prepare builds the feature table from samples and splits it into train
// and test sets. Any earlier fit is discarded.
func (t *Tuner) Prepare(samples []table.Sample) error {
	data, err := table.Build(t.fam.Feature, samples)
	if err != nil {
		return errors.Wrapf(err, "building %s table", t.fam.Name)
	}
	train, test, err := split.Split(data, t.fam.TestFraction, t.fam.Seed)
	if err != nil {
		return errors.Wrapf(err, "splitting %s table", t.fam.Name)
	}
	t.data, t.train, t.test = data, train, test
	t.model = t.newForest()
	t.evaluated = false
	t.logger.Debug("prepared data",
		zap.Int("rows", data.Len()),
		zap.Int("train", train.Len()),
		zap.Int("test", test.Len()))
	return nil
}

func (t *Tuner) Table() *table.Table { return t.data }
func (t *Tuner) Train() *table.Table { return t.train }
func (t *Tuner) Test() *table.Table { return t.test }

// Model exposes the fitted forest for read-only use.
func (t *Tuner) Model() search.Predictor { return t.model }

// Fit trains the forest on the training split.
func (t *Tuner) Fit() error {
	if t.train == nil {
		return ErrNotPrepared
	}
	if err := t.model.Fit(t.train.X(), t.train.Y()); err != nil {
		return errors.Wrapf(err, "fitting %s model", t.fam.Name)
	}
	t.evaluated = false
	t.logger.Debug("model fit", zap.Int("trees", t.model.Trees()), zap.Int("rows", t.train.Len()))
	return nil
}

// Predict scores parameter values.
func (t *Tuner) Predict(params []float64) ([]float64, error) {
	x := make([][]float64, len(params))
	for i, p := range params {
		x[i] = []float64{p}
	}
	return t.model.Predict(x)
}

// Evaluate returns the mean squared error of the model on the test split.
func (t *Tuner) Evaluate() (float64, error) {
	if t.test == nil {
		return 0, ErrNotPrepared
	}
	pred, err := t.model.Predict(t.test.X())
	if err != nil {
		return 0, err
	}
	mse, err := MeanSquaredError(t.test.Y(), pred)
	if err != nil {
		return 0, err
	}
	t.mse, t.evaluated = mse, true
	t.logger.Info("model evaluated", zap.Float64("mse", mse), zap.Int("test_rows", t.test.Len()))
	return mse, nil
}

// FindBest searches 1..UpperBound for the parameter value with the highest
// predicted performance.
func (t *Tuner) FindBest() (search.Result, error) {
	if !t.model.Fitted() {
		return search.Result{}, forest.ErrNotFitted
	}
	if t.maxMSE > 0 {
		if !t.evaluated {
			if _, err := t.Evaluate(); err != nil {
				return search.Result{}, err
			}
		}
		if t.mse > t.maxMSE {
			return search.Result{}, errors.Wrapf(ErrModelInaccurate, "mse %.3f > %.3f", t.mse, t.maxMSE)
		}
	}
	res, err := search.FindBest(t.model, t.fam.UpperBound)
	if err != nil {
		return search.Result{}, err
	}
	t.logger.Info("best parameter found",
		zap.String("feature", t.fam.Feature),
		zap.Int("best", res.Best),
		zap.Float64("predicted_performance", res.Predicted))
	return res, nil
}

// Trend is an ordinary least squares fit of performance on the parameter.
// It is a diagnostic only and does not influence the search.
type Trend struct {
	Intercept float64
	Slope     float64
	R2        float64
}

// Trend fits a straight line through the whole table.
func (t *Tuner) Trend() (Trend, error) {
	if t.data == nil {
		return Trend{}, ErrNotPrepared
	}
	r := new(regression.Regression)
	r.SetObserved(table.Performance)
	r.SetVar(0, t.fam.Feature)
	x, y := t.data.Column(t.fam.Feature), t.data.Y()
	for i := range x {
		r.Train(regression.DataPoint(y[i], []float64{x[i]}))
	}
	if err := r.Run(); err != nil {
		return Trend{}, errors.Wrapf(err, "fitting %s trend", t.fam.Name)
	}
	tr := Trend{Intercept: r.Coeff(0), Slope: r.Coeff(1), R2: r.R2}
	if math.IsNaN(tr.Slope) {
		return Trend{}, errors.Newf("%s trend is undefined", t.fam.Name)
	}
	t.logger.Debug("linear trend", zap.Float64("slope", tr.Slope), zap.Float64("r2", tr.R2))
	return tr, nil
}

// MeanSquaredError returns the mean of the squared differences.
func MeanSquaredError(actual, predicted []float64) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, errors.Newf("have %d actual and %d predicted values", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return 0, errors.New("no values")
	}
	var sum float64
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return sum / float64(len(actual)), nil
}
