// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/autoraid/tuner/internal/aggregate"
	"github.com/autoraid/tuner/internal/chart"
	"github.com/autoraid/tuner/internal/extract"
	"github.com/autoraid/tuner/internal/family"
	"github.com/autoraid/tuner/internal/search"
	"github.com/autoraid/tuner/internal/table"
	"github.com/autoraid/tuner/internal/tuner"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var (
	suggestFamilies []string
	sampleCap       int
	useExtract      bool
	plotResults     bool
	suggestFilters  filterFlags
)

// suggestCmd represents the suggest command
var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggests the best ramp time and I/O depth",
	Long: `Aggregates benchmark runs, fits a random forest to the measured performance
(read + write IOPS) and searches 1..upper_bound for the best parameter value.
Results are written to <output-dir>/results/suggestions.csv.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return suggest(cmd)
	},
}

func init() {
	f := suggestCmd.Flags()
	f.StringSliceVarP(&suggestFamilies, "family", "f", []string{family.Ramp, family.Stress},
		"metric families to tune")
	f.IntVar(&sampleCap, "sample-cap", family.DefaultSampleCap,
		"maximum number of raw documents considered (default from config)")
	f.BoolVar(&useExtract, "extract", false,
		"extract samples from raw reports in the application instead of the aggregation pipeline")
	f.BoolVar(&plotResults, "plot", true, "render the model and correlation plots")
	f.Float64("max-mse", 0, "refuse to suggest when the held-out MSE exceeds this value (0 disables)")
	_ = viper.BindPFlag("policy.max_mse", f.Lookup("max-mse"))
	suggestFilters = addFilterFlags(suggestCmd, "write_pattern", "io_depth")
	rootCmd.AddCommand(suggestCmd)
}

// resultsAnalyzer is an interface responsible for analyzing benchmark
// results of one family at a time.
type resultsAnalyzer interface {
	io.Closer
	Analyze(ctx context.Context, fam family.Family, filters map[string]interface{}) error
}

// sampleSource produces the samples of one family.
type sampleSource interface {
	Samples(ctx context.Context, fam family.Family, sampleCap int, filters map[string]interface{}) ([]table.Sample, bool)
}

type pipelineSource struct {
	agg *aggregate.Aggregator
}

func (p pipelineSource) Samples(
	ctx context.Context, fam family.Family, sampleCap int, filters map[string]interface{},
) ([]table.Sample, bool) {
	res, ok := p.agg.Aggregate(ctx, fam, sampleCap, filters)
	if !ok {
		return nil, false
	}
	return res.Samples, true
}

// documentFinder reads raw report documents.
type documentFinder interface {
	Find(ctx context.Context, filter bson.M, limit int64) ([]bson.M, error)
}

// reportFilter selects the passing reports of fam's test class.
func reportFilter(fam family.Family) bson.M {
	return bson.M{
		"report.tests.keywords":     bson.M{"$regex": fam.TestClass},
		"report.collectors.outcome": bson.M{"$regex": "passed"},
	}
}

type extractSource struct {
	finder documentFinder
}

// records reads at most sampleCap reports of fam and extracts the runs
// matching filters. Failures are logged and reported as no data.
func (e extractSource) records(
	ctx context.Context, fam family.Family, sampleCap int, filters map[string]interface{},
) ([]extract.Record, bool) {
	if sampleCap <= 0 {
		logger.Error("sample cap must be positive", zap.String("family", fam.Name), zap.Int("cap", sampleCap))
		return nil, false
	}
	docs, err := e.finder.Find(ctx, reportFilter(fam), int64(sampleCap))
	if err != nil {
		logger.Error("reading reports", zap.String("family", fam.Name), zap.Error(err))
		return nil, false
	}
	recs, skipped := extract.Records(docs, fam)
	recs = extract.Select(recs, filters, fam)
	logger.Debug("extracted records", zap.String("family", fam.Name),
		zap.Int("documents", len(docs)), zap.Int("records", len(recs)), zap.Int("skipped", skipped))
	if len(recs) == 0 {
		logger.Error("no data found in reports", zap.String("family", fam.Name))
		return nil, false
	}
	return recs, true
}

func (e extractSource) Samples(
	ctx context.Context, fam family.Family, sampleCap int, filters map[string]interface{},
) ([]table.Sample, bool) {
	recs, ok := e.records(ctx, fam, sampleCap, filters)
	if !ok {
		return nil, false
	}
	return samplesOf(recs), true
}

func samplesOf(recs []extract.Record) []table.Sample {
	out := make([]table.Sample, len(recs))
	for i, r := range recs {
		out[i] = r.Sample
	}
	return out
}

const suggestionsCSVHeader = "Family,Feature,Samples,Train,Test,MSE,TrendSlope,Best,PredictedPerformance"

type suggestion struct {
	fam     family.Family
	samples int
	train   int
	test    int
	mse     float64
	slope   float64
	best    search.Result
}

func (s suggestion) fields() []string {
	return []string{
		s.fam.Name,
		s.fam.Feature,
		fmt.Sprintf("%d", s.samples),
		fmt.Sprintf("%d", s.train),
		fmt.Sprintf("%d", s.test),
		fmt.Sprintf("%.3f", s.mse),
		fmt.Sprintf("%.3f", s.slope),
		fmt.Sprintf("%d", s.best.Best),
		fmt.Sprintf("%.3f", s.best.Predicted),
	}
}

type suggestAnalyzer struct {
	source sampleSource
	// sampleCap overrides each family's cap when positive or zero.
	sampleCap int
	maxMSE    float64
	plotDir   string
	out       io.Writer
	results   []suggestion
}

var _ resultsAnalyzer = &suggestAnalyzer{}

func (s *suggestAnalyzer) capFor(fam family.Family) int {
	if s.sampleCap >= 0 {
		return s.sampleCap
	}
	return fam.SampleCap
}

func (s *suggestAnalyzer) Analyze(ctx context.Context, fam family.Family, filters map[string]interface{}) error {
	log := logger.With(zap.String("family", fam.Name))
	samples, ok := s.source.Samples(ctx, fam, s.capFor(fam), filters)
	if !ok {
		log.Warn("no data available, skipping family")
		fmt.Fprintf(s.out, "%s: no data available\n", fam.Name)
		return nil
	}

	t := tuner.New(fam, log, tuner.WithMaxMSE(s.maxMSE))
	if err := t.Prepare(samples); err != nil {
		return errors.Wrapf(err, "preparing %s", fam.Name)
	}
	if err := t.Fit(); err != nil {
		return errors.Wrapf(err, "fitting %s", fam.Name)
	}
	mse, err := t.Evaluate()
	if err != nil {
		return errors.Wrapf(err, "evaluating %s", fam.Name)
	}
	res := suggestion{
		fam:     fam,
		samples: t.Table().Len(),
		train:   t.Train().Len(),
		test:    t.Test().Len(),
		mse:     mse,
	}
	if tr, err := t.Trend(); err != nil {
		log.Warn("no linear trend", zap.Error(err))
	} else {
		res.slope = tr.Slope
	}

	best, err := t.FindBest()
	if errors.Is(err, tuner.ErrModelInaccurate) {
		log.Warn("model rejected", zap.Error(err))
		fmt.Fprintf(s.out, "%s: no suggestion, %v\n", fam.Name, err)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "searching %s", fam.Name)
	}
	res.best = best

	if s.plotDir != "" {
		if err := s.plot(t); err != nil {
			return err
		}
	}

	fmt.Fprintf(s.out, "%s: suggested %s = %d (predicted performance %.2f, mse %.2f)\n",
		fam.Name, fam.Feature, best.Best, best.Predicted, mse)
	s.results = append(s.results, res)
	return nil
}

func (s *suggestAnalyzer) plot(t *tuner.Tuner) error {
	if err := makeAllDirs(s.plotDir); err != nil {
		return err
	}
	name := t.Family().Name
	if err := chart.Render(filepath.Join(s.plotDir, name+".png"), t.Train(), t.Test(), t.Model()); err != nil {
		return err
	}
	m, err := table.Correlation(t.Table())
	if err != nil {
		logger.Warn("skipping correlation heat map", zap.String("family", name), zap.Error(err))
		return nil
	}
	return chart.Heatmap(filepath.Join(s.plotDir, name+"_correlation.png"), m)
}

func (s *suggestAnalyzer) Close() (err error) {
	p, err := ResultsFile("suggestions.csv")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	fmt.Fprintf(f, "%s\n", suggestionsCSVHeader)
	for _, r := range s.results {
		fmt.Fprintf(f, "%s\n", strings.Join(r.fields(), ","))
	}
	logger.Info("wrote suggestions", zap.String("path", p), zap.Int("rows", len(s.results)))
	return nil
}

// resolveFamilies looks up names with the configured overrides and checks
// that each family is, or is not, tunable.
func resolveFamilies(names []string, tunable bool) ([]family.Family, error) {
	var out []family.Family
	for _, n := range names {
		fam, err := cfg.Family(n)
		if err != nil {
			return nil, err
		}
		if fam.Tunable() != tunable {
			if tunable {
				return nil, errors.Newf("family %s has no parameter to tune", n)
			}
			return nil, errors.Newf("family %s is tuned with the suggest command", n)
		}
		out = append(out, fam)
	}
	return out, nil
}

func suggest(cmd *cobra.Command) error {
	fams, err := resolveFamilies(suggestFamilies, true)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close(ctx) }()

	a := &suggestAnalyzer{
		sampleCap: -1,
		maxMSE:    cfg.Policy.MaxMSE,
		out:       cmd.OutOrStdout(),
	}
	if cmd.Flags().Changed("sample-cap") {
		a.sampleCap = sampleCap
	}
	if plotResults {
		a.plotDir = filepath.Join(cfg.Output.Dir, "plots")
	}
	if useExtract {
		a.source = extractSource{finder: st}
	} else {
		a.source = pipelineSource{agg: aggregate.New(st, cfg.Pipelines.Dir, logger)}
	}
	return runAnalyzer(cmd, a, fams, suggestFilters)
}

// runAnalyzer feeds every family to a and closes it.
func runAnalyzer(cmd *cobra.Command, a resultsAnalyzer, fams []family.Family, flags filterFlags) (err error) {
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, fam := range fams {
		filters, err := flags.forFamily(cmd, fam)
		if err != nil {
			return err
		}
		if err := a.Analyze(ctx, fam, filters); err != nil {
			return err
		}
	}
	return nil
}
