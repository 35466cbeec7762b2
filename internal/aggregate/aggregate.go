// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package aggregate runs the per-family aggregation pipelines against the
// document store and decodes their results.
//
// Every failure here is absorbed: it is logged and reported as "no data" so
// that the caller can move on to the next family.
package aggregate

import (
	"context"
	"math"
	"path/filepath"

	"github.com/autoraid/tuner/internal/extract"
	"github.com/autoraid/tuner/internal/family"
	"github.com/autoraid/tuner/internal/pipeline"
	"github.com/autoraid/tuner/internal/table"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// CombinedField is the field of the terminal $group stage holding the
// extracted samples.
const CombinedField = "combined_data"

// Querier executes one aggregation pipeline.
type Querier interface {
	Aggregate(ctx context.Context, p mongo.Pipeline) ([]bson.M, error)
}

// CombinedResult is the decoded output of a ramp or stress pipeline.
type CombinedResult struct {
	Family  string
	Samples []table.Sample
	// Skipped counts rows of combined_data that could not be decoded.
	Skipped int
	Raw     bson.M
}

// Aggregator is a thin parameterized executor for pipeline templates.
type Aggregator struct {
	q         Querier
	dir       string
	logger    *zap.Logger
	templates map[string]*pipeline.Template
}

// New returns an Aggregator that loads templates from dir.
func New(q Querier, dir string, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		q:         q,
		dir:       dir,
		logger:    logger,
		templates: map[string]*pipeline.Template{},
	}
}

func (a *Aggregator) template(fam family.Family) (*pipeline.Template, bool) {
	path := filepath.Join(a.dir, fam.PipelineFile)
	if t, ok := a.templates[path]; ok {
		return t, true
	}
	t, err := pipeline.Load(path)
	if err != nil {
		a.logger.Error("loading pipeline configuration",
			zap.String("family", fam.Name), zap.String("path", path), zap.Error(err))
		return nil, false
	}
	a.templates[path] = t
	return t, true
}

func (a *Aggregator) filters(fam family.Family, filters map[string]interface{}) []pipeline.Substitution {
	var subs []pipeline.Substitution
	for k, v := range filters {
		if v == nil {
			continue
		}
		if !fam.Allows(k) {
			a.logger.Warn("ignoring filter", zap.String("family", fam.Name), zap.String("key", k))
			continue
		}
		subs = append(subs, pipeline.MatchEq(k, v))
	}
	return subs
}

func (a *Aggregator) first(ctx context.Context, fam family.Family, p mongo.Pipeline) (bson.M, bool) {
	a.logger.Debug("running aggregation", zap.String("family", fam.Name), zap.Int("stages", len(p)))
	res, err := a.q.Aggregate(ctx, p)
	if err != nil {
		a.logger.Error("performing aggregation", zap.String("family", fam.Name), zap.Error(err))
		return nil, false
	}
	if len(res) == 0 {
		a.logger.Error("no data found for aggregation", zap.String("family", fam.Name))
		return nil, false
	}
	return res[0], true
}

// Aggregate runs fam's pipeline over at most sampleCap documents, with the
// given $match keys pinned, and returns the combined samples. It reports
// false, after logging, when the template is unusable, the query fails or
// nothing comes back.
func (a *Aggregator) Aggregate(
	ctx context.Context, fam family.Family, sampleCap int, filters map[string]interface{},
) (*CombinedResult, bool) {
	if sampleCap <= 0 {
		a.logger.Error("sample cap must be positive", zap.String("family", fam.Name), zap.Int("cap", sampleCap))
		return nil, false
	}
	tmpl, ok := a.template(fam)
	if !ok {
		return nil, false
	}
	subs := append([]pipeline.Substitution{pipeline.Limit(sampleCap)}, a.filters(fam, filters)...)
	doc, ok := a.first(ctx, fam, tmpl.Build(subs...))
	if !ok {
		return nil, false
	}

	rows := asSlice(doc[CombinedField])
	if len(rows) == 0 {
		a.logger.Error("aggregation produced no combined data", zap.String("family", fam.Name))
		return nil, false
	}
	out := &CombinedResult{Family: fam.Name, Raw: doc}
	for i, r := range rows {
		s, ok := decodeSample(r, fam.Feature)
		if !ok {
			a.logger.Warn("skipping undecodable sample", zap.String("family", fam.Name), zap.Int("row", i))
			out.Skipped++
			continue
		}
		out.Samples = append(out.Samples, s)
	}
	if len(out.Samples) == 0 {
		a.logger.Error("no decodable samples", zap.String("family", fam.Name), zap.Int("rows", len(rows)))
		return nil, false
	}
	a.logger.Info("aggregated samples", zap.String("family", fam.Name),
		zap.Int("samples", len(out.Samples)), zap.Int("skipped", out.Skipped))
	return out, true
}

// Summarize runs a group-statistics pipeline and returns its first group.
func (a *Aggregator) Summarize(
	ctx context.Context, fam family.Family, filters map[string]interface{},
) (*extract.Summary, bool) {
	tmpl, ok := a.template(fam)
	if !ok {
		return nil, false
	}
	doc, ok := a.first(ctx, fam, tmpl.Build(a.filters(fam, filters)...))
	if !ok {
		return nil, false
	}
	s := extract.SummaryFromDocument(doc)
	return &s, true
}

var metricColumns = []string{table.ReadIOPS, table.WriteIOPS, table.ReadBW, table.WriteBW}

// decodeSample reads one combined_data entry. The parameter must be a
// whole number; missing metrics read as zero and any other numeric field is kept
// as an extra column.
func decodeSample(v interface{}, feature string) (table.Sample, bool) {
	row, ok := asMap(v)
	if !ok {
		return table.Sample{}, false
	}
	p, ok := table.Number(row[feature])
	if !ok || math.IsNaN(p) || math.IsInf(p, 0) || p != math.Trunc(p) {
		return table.Sample{}, false
	}
	s := table.Sample{Parameter: int(p)}
	dst := []*float64{&s.ReadIOPS, &s.WriteIOPS, &s.ReadBW, &s.WriteBW}
	for i, c := range metricColumns {
		*dst[i], _ = table.Number(row[c])
	}
	for k, val := range row {
		if k == feature || k == "_id" || isMetric(k) {
			continue
		}
		if _, ok := table.Number(val); !ok {
			continue
		}
		if s.Extra == nil {
			s.Extra = map[string]interface{}{}
		}
		s.Extra[k] = val
	}
	return s, true
}

func isMetric(k string) bool {
	for _, c := range metricColumns {
		if c == k {
			return true
		}
	}
	return false
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]interface{}:
		return m, true
	case bson.D:
		out := make(map[string]interface{}, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

func asSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case bson.A:
		return s
	case []interface{}:
		return s
	}
	return nil
}
