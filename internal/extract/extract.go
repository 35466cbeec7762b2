// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package extract pulls benchmark samples out of raw pytest report
// documents. It is the application-side counterpart of the regex stages in
// the aggregation pipelines, for collections that can be read but whose
// pipelines are unavailable or need to be checked.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/autoraid/tuner/internal/family"
	"github.com/autoraid/tuner/internal/table"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// keywordRe matches pytest ids like "test_run_io_operation[50-32]" or
// "test_run_io_operation[70-4k]".
var keywordRe = regexp.MustCompile(`test_run_io_operation\[(\d+)-([0-9]+[A-Za-z]*)`)

// Record is one test run extracted from a report.
type Record struct {
	WritePattern int
	// Parameter is the parameter exactly as it appears in the test id.
	Parameter string
	Sample    table.Sample
	// Found holds the metric columns present in the run's log. Metrics
	// missing from it read as zero in Sample.
	Found map[string]bool
}

type metricSet struct {
	readIOPS, writeIOPS, readBW, writeBW *regexp.Regexp
}

func newMetricSet(prefix string) metricSet {
	re := func(name string) *regexp.Regexp {
		return regexp.MustCompile(fmt.Sprintf(`%s_%s\s*=\s*(\d+(?:\.\d+)?)`, regexp.QuoteMeta(prefix), name))
	}
	return metricSet{
		readIOPS:  re("read_iops"),
		writeIOPS: re("write_iops"),
		readBW:    re("read_bw"),
		writeBW:   re("write_bw"),
	}
}

// ParseParameter converts a test-id parameter to an integer. A trailing
// k, m or g multiplies by the matching power of 1024.
func ParseParameter(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1<<10, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1<<20, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "g"):
		mult, s = 1<<30, strings.TrimSuffix(s, "g")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing parameter %q", s)
	}
	return n * mult, nil
}

// Records extracts one record per passing test of fam's test class. Tests
// without a parseable id or without any IOPS figure are skipped and counted.
func Records(docs []bson.M, fam family.Family) (records []Record, skipped int) {
	metrics := newMetricSet(fam.MetricPrefix)
	for _, doc := range docs {
		report, ok := asMap(doc["report"])
		if !ok || !passed(report) {
			continue
		}
		for _, t := range asSlice(report["tests"]) {
			test, ok := asMap(t)
			if !ok || !hasKeyword(test, fam.TestClass) {
				continue
			}
			rec, ok := record(test, metrics)
			if !ok {
				skipped++
				continue
			}
			rec.Sample.Extra = map[string]interface{}{"write_pattern": rec.WritePattern}
			records = append(records, rec)
		}
	}
	return records, skipped
}

// Samples is Records without the test-id details.
func Samples(docs []bson.M, fam family.Family) ([]table.Sample, int) {
	recs, skipped := Records(docs, fam)
	out := make([]table.Sample, len(recs))
	for i, r := range recs {
		out[i] = r.Sample
	}
	return out, skipped
}

// Select keeps the records matching every non-nil filter. Filter values are
// compared with the record's write pattern and parameter as strings.
func Select(records []Record, filters map[string]interface{}, fam family.Family) []Record {
	var out []Record
	for _, r := range records {
		if v, ok := filters["write_pattern"]; ok && fmt.Sprint(v) != strconv.Itoa(r.WritePattern) {
			continue
		}
		if v, ok := filters[fam.Feature]; ok && fmt.Sprint(v) != r.Parameter {
			continue
		}
		out = append(out, r)
	}
	return out
}

func record(test map[string]interface{}, metrics metricSet) (Record, bool) {
	var rec Record
	found := false
	for _, k := range asSlice(test["keywords"]) {
		s, _ := k.(string)
		if m := keywordRe.FindStringSubmatch(s); m != nil {
			wp, err := strconv.Atoi(m[1])
			if err != nil {
				return Record{}, false
			}
			rec.WritePattern, rec.Parameter = wp, m[2]
			found = true
			break
		}
	}
	if !found {
		return Record{}, false
	}
	p, err := ParseParameter(rec.Parameter)
	if err != nil {
		return Record{}, false
	}
	rec.Sample.Parameter = p

	call, _ := asMap(test["call"])
	rec.Found = map[string]bool{}
	targets := []struct {
		name string
		re   *regexp.Regexp
		dst  *float64
	}{
		{table.ReadIOPS, metrics.readIOPS, &rec.Sample.ReadIOPS},
		{table.WriteIOPS, metrics.writeIOPS, &rec.Sample.WriteIOPS},
		{table.ReadBW, metrics.readBW, &rec.Sample.ReadBW},
		{table.WriteBW, metrics.writeBW, &rec.Sample.WriteBW},
	}
	for _, l := range asSlice(call["log"]) {
		entry, ok := asMap(l)
		if !ok {
			continue
		}
		msg, _ := entry["msg"].(string)
		for _, tg := range targets {
			if v, ok := find(tg.re, msg); ok {
				*tg.dst = v
				rec.Found[tg.name] = true
			}
		}
	}
	haveIOPS := rec.Found[table.ReadIOPS] || rec.Found[table.WriteIOPS]
	return rec, haveIOPS
}

func find(re *regexp.Regexp, msg string) (float64, bool) {
	m := re.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return v, err == nil
}

func passed(report map[string]interface{}) bool {
	for _, c := range asSlice(report["collectors"]) {
		col, ok := asMap(c)
		if !ok {
			continue
		}
		if s, _ := col["outcome"].(string); strings.Contains(s, "passed") {
			return true
		}
	}
	return false
}

func hasKeyword(test map[string]interface{}, class string) bool {
	for _, k := range asSlice(test["keywords"]) {
		if s, _ := k.(string); strings.Contains(s, class) {
			return true
		}
	}
	return false
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case bson.M:
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
	case []interface{}:
		return s
	case bson.A:
		return s
	}
	return nil
}
