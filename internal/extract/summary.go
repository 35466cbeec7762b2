// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package extract

import (
	"sort"

	"github.com/autoraid/tuner/internal/family"
	"github.com/autoraid/tuner/internal/table"
	"github.com/cockroachdb/errors"
	"github.com/montanaflynn/stats"
)

// Stat is the reduction applied to one metric of a group.
type Stat struct {
	Avg    float64
	Max    float64
	Min    float64
	StdDev float64
}

// Summary holds the group statistics of a set of runs sharing a write
// pattern and parameter.
type Summary struct {
	Key       map[string]interface{}
	Count     int
	ReadIOPS  Stat
	ReadBW    Stat
	WriteIOPS Stat
	WriteBW   Stat
}

// Metrics names the summarized metrics in output order.
var Metrics = []string{table.ReadIOPS, table.ReadBW, table.WriteIOPS, table.WriteBW}

// Stat returns the statistics of the named metric.
func (s Summary) Stat(metric string) Stat {
	switch metric {
	case table.ReadIOPS:
		return s.ReadIOPS
	case table.ReadBW:
		return s.ReadBW
	case table.WriteIOPS:
		return s.WriteIOPS
	case table.WriteBW:
		return s.WriteBW
	}
	return Stat{}
}

// Summarize reduces samples to average, extremes and population standard
// deviation per metric.
func Summarize(samples []table.Sample) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, table.ErrNoSamples
	}
	cols := map[string][]float64{}
	for _, s := range samples {
		for _, m := range Metrics {
			cols[m] = append(cols[m], metricOf(s, m))
		}
	}
	return summarize(cols, len(samples))
}

func metricOf(s table.Sample, metric string) float64 {
	switch metric {
	case table.ReadIOPS:
		return s.ReadIOPS
	case table.ReadBW:
		return s.ReadBW
	case table.WriteIOPS:
		return s.WriteIOPS
	case table.WriteBW:
		return s.WriteBW
	}
	return 0
}

// summarize reduces each metric column. An empty column reads as zero, as
// a $group over only null values does.
func summarize(cols map[string][]float64, count int) (Summary, error) {
	out := Summary{Count: count}
	targets := map[string]*Stat{
		table.ReadIOPS:  &out.ReadIOPS,
		table.ReadBW:    &out.ReadBW,
		table.WriteIOPS: &out.WriteIOPS,
		table.WriteBW:   &out.WriteBW,
	}
	for _, m := range Metrics {
		if len(cols[m]) == 0 {
			continue
		}
		st, err := reduce(cols[m])
		if err != nil {
			return Summary{}, errors.Wrapf(err, "summarizing %s", m)
		}
		*targets[m] = st
	}
	return out, nil
}

// Group is the set of runs sharing a write pattern and parameter.
type Group struct {
	// Key holds the write pattern and the parameter under the family's
	// feature name, typed as the aggregated documents type them.
	Key     map[string]interface{}
	Records []Record
}

// Groups partitions records by write pattern and parameter. Groups are
// ordered by write pattern, then parameter; parameters compare as numbers
// unless the family keeps them as text.
func Groups(records []Record, fam family.Family) []Group {
	type groupKey struct {
		wp    int
		param string
	}
	idx := map[groupKey]int{}
	var out []Group
	for _, r := range records {
		k := groupKey{r.WritePattern, r.Parameter}
		i, ok := idx[k]
		if !ok {
			var param interface{} = r.Sample.Parameter
			if fam.TextParameter {
				param = r.Parameter
			}
			i = len(out)
			idx[k] = i
			out = append(out, Group{Key: map[string]interface{}{
				"write_pattern": r.WritePattern,
				fam.Feature:     param,
			}})
		}
		out[i].Records = append(out[i].Records, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Records[0], out[j].Records[0]
		if a.WritePattern != b.WritePattern {
			return a.WritePattern < b.WritePattern
		}
		if fam.TextParameter {
			return a.Parameter < b.Parameter
		}
		return a.Sample.Parameter < b.Sample.Parameter
	})
	return out
}

// Summarize reduces the group's runs. A metric a run did not report is left
// out of that metric's reduction; records without a Found set count every
// metric.
func (g Group) Summarize() (Summary, error) {
	if len(g.Records) == 0 {
		return Summary{}, table.ErrNoSamples
	}
	cols := map[string][]float64{}
	for _, r := range g.Records {
		for _, m := range Metrics {
			if r.Found != nil && !r.Found[m] {
				continue
			}
			cols[m] = append(cols[m], metricOf(r.Sample, m))
		}
	}
	out, err := summarize(cols, len(g.Records))
	if err != nil {
		return Summary{}, err
	}
	out.Key = map[string]interface{}{}
	for k, v := range g.Key {
		out.Key[k] = v
	}
	return out, nil
}

func reduce(data []float64) (Stat, error) {
	var st Stat
	var err error
	if st.Avg, err = stats.Mean(data); err != nil {
		return Stat{}, err
	}
	if st.Max, err = stats.Max(data); err != nil {
		return Stat{}, err
	}
	if st.Min, err = stats.Min(data); err != nil {
		return Stat{}, err
	}
	if st.StdDev, err = stats.StandardDeviationPopulation(data); err != nil {
		return Stat{}, err
	}
	return st, nil
}

// SummaryFromDocument reads a $group result with avg_/max_/min_/std_dev_
// prefixed fields, as produced by the random and sequential pipelines.
// Missing or null fields read as zero.
func SummaryFromDocument(doc map[string]interface{}) Summary {
	stat := func(metric string) Stat {
		get := func(prefix string) float64 {
			v, _ := table.Number(doc[prefix+metric])
			return v
		}
		return Stat{
			Avg:    get("avg_"),
			Max:    get("max_"),
			Min:    get("min_"),
			StdDev: get("std_dev_"),
		}
	}
	out := Summary{
		ReadIOPS:  stat(table.ReadIOPS),
		ReadBW:    stat(table.ReadBW),
		WriteIOPS: stat(table.WriteIOPS),
		WriteBW:   stat(table.WriteBW),
	}
	if key, ok := asMap(doc["_id"]); ok {
		out.Key = key
	}
	if n, ok := table.Number(doc["count"]); ok {
		out.Count = int(n)
	}
	return out
}
