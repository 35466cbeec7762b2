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
	"strings"

	"github.com/autoraid/tuner/internal/aggregate"
	"github.com/autoraid/tuner/internal/extract"
	"github.com/autoraid/tuner/internal/family"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	metricsFamilies []string
	metricsCap      int
	metricsExtract  bool
	metricsFilters  filterFlags
)

// metricsCmd represents the metrics command
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarizes random and sequential read/write runs",
	Long: `Computes average, maximum, minimum and population standard deviation of the
read/write IOPS and bandwidth of random and sequential runs for one write
pattern and I/O depth or block size. Results are written to
<output-dir>/results/metrics.csv.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return summarizeMetrics(cmd)
	},
}

func init() {
	f := metricsCmd.Flags()
	f.StringSliceVarP(&metricsFamilies, "family", "f", []string{family.Random, family.Sequential},
		"metric families to summarize")
	f.IntVar(&metricsCap, "sample-cap", family.DefaultSampleCap,
		"maximum number of reports read with --extract")
	f.BoolVar(&metricsExtract, "extract", false,
		"compute the statistics in the application instead of the aggregation pipeline")
	metricsFilters = addFilterFlags(metricsCmd, "write_pattern", "io_depth", "block_size")
	rootCmd.AddCommand(metricsCmd)
}

// summarizer produces the group statistics of one family.
type summarizer interface {
	Summarize(ctx context.Context, fam family.Family, filters map[string]interface{}) (*extract.Summary, bool)
}

// extractSummarizer computes the statistics from raw reports. Like the
// group pipelines it groups runs by write pattern and parameter and reports
// the first group in (write pattern, parameter) order.
type extractSummarizer struct {
	src       extractSource
	sampleCap int
}

func (e extractSummarizer) Summarize(
	ctx context.Context, fam family.Family, filters map[string]interface{},
) (*extract.Summary, bool) {
	recs, ok := e.src.records(ctx, fam, e.sampleCap, filters)
	if !ok {
		return nil, false
	}
	groups := extract.Groups(recs, fam)
	if len(groups) > 1 {
		logger.Debug("reporting first group only", zap.String("family", fam.Name),
			zap.Int("groups", len(groups)))
	}
	s, err := groups[0].Summarize()
	if err != nil {
		logger.Error("summarizing runs", zap.String("family", fam.Name), zap.Error(err))
		return nil, false
	}
	return &s, true
}

const metricsCSVHeader = "Family,WritePattern,Parameter,Count," +
	"RdIOPSAvg,RdIOPSMax,RdIOPSMin,RdIOPSStd,RdBWAvg,RdBWMax,RdBWMin,RdBWStd," +
	"WrIOPSAvg,WrIOPSMax,WrIOPSMin,WrIOPSStd,WrBWAvg,WrBWMax,WrBWMin,WrBWStd"

type metricsRow struct {
	fam     family.Family
	summary extract.Summary
}

func keyString(key map[string]interface{}, k string) string {
	v, ok := key[k]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (r metricsRow) fields() []string {
	fields := []string{
		r.fam.Name,
		keyString(r.summary.Key, "write_pattern"),
		keyString(r.summary.Key, r.fam.Feature),
		fmt.Sprintf("%d", r.summary.Count),
	}
	for _, m := range extract.Metrics {
		st := r.summary.Stat(m)
		fields = append(fields,
			fmt.Sprintf("%.3f", st.Avg),
			fmt.Sprintf("%.3f", st.Max),
			fmt.Sprintf("%.3f", st.Min),
			fmt.Sprintf("%.3f", st.StdDev),
		)
	}
	return fields
}

type metricsAnalyzer struct {
	source summarizer
	out    io.Writer
	rows   []metricsRow
}

var _ resultsAnalyzer = &metricsAnalyzer{}

func (m *metricsAnalyzer) Analyze(ctx context.Context, fam family.Family, filters map[string]interface{}) error {
	s, ok := m.source.Summarize(ctx, fam, filters)
	if !ok {
		logger.Warn("no data available, skipping family", zap.String("family", fam.Name))
		fmt.Fprintf(m.out, "%s: no data available\n", fam.Name)
		return nil
	}
	row := metricsRow{fam: fam, summary: *s}
	fmt.Fprintf(m.out, "%s write_pattern=%s %s=%s runs=%d\n", fam.Name,
		keyString(s.Key, "write_pattern"), fam.Feature, keyString(s.Key, fam.Feature), s.Count)
	for _, name := range extract.Metrics {
		st := s.Stat(name)
		fmt.Fprintf(m.out, "  %-10s avg %12.2f  max %12.2f  min %12.2f  std %10.2f\n",
			name, st.Avg, st.Max, st.Min, st.StdDev)
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *metricsAnalyzer) Close() (err error) {
	p, err := ResultsFile("metrics.csv")
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

	fmt.Fprintf(f, "%s\n", metricsCSVHeader)
	for _, r := range m.rows {
		fmt.Fprintf(f, "%s\n", strings.Join(r.fields(), ","))
	}
	logger.Info("wrote metrics", zap.String("path", p), zap.Int("rows", len(m.rows)))
	return nil
}

func summarizeMetrics(cmd *cobra.Command) error {
	fams, err := resolveFamilies(metricsFamilies, false)
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

	a := &metricsAnalyzer{out: cmd.OutOrStdout()}
	if metricsExtract {
		a.source = extractSummarizer{src: extractSource{finder: st}, sampleCap: metricsCap}
	} else {
		a.source = aggregate.New(st, cfg.Pipelines.Dir, logger)
	}
	return runAnalyzer(cmd, a, fams, metricsFilters)
}
