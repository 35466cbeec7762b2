// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package family

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Family describes one benchmark parameter under study. A single tuner
// implementation is parameterized by a Family instead of being specialized
// per parameter type.
type Family struct {
	// Name is the tag used on the command line and in configuration.
	Name string
	// Feature is the sample column holding the tuned parameter.
	Feature string
	// PipelineFile is the aggregation template, relative to the pipelines dir.
	PipelineFile string
	// TestClass is the report keyword identifying the family's test class.
	TestClass string
	// MetricPrefix prefixes the metric names found in log messages,
	// e.g. "random" for "random_read_iops = 1.0".
	MetricPrefix string
	// UpperBound is the inclusive upper end of the candidate range.
	UpperBound int
	// TestFraction is the share of rows held out for evaluation.
	TestFraction float64
	// SampleCap bounds the number of raw documents considered.
	SampleCap int
	// Seed drives both the split and the forest.
	Seed int64
	// Filters lists the $match keys a caller may pin to a value.
	Filters []string
	// TextParameter is set when the aggregated documents keep the
	// parameter as text, as block sizes like "4k" are.
	TextParameter bool
}

const (
	// Ramp tunes the warm-up duration of a benchmark run.
	Ramp = "ramp"
	// Stress tunes the I/O queue depth of a mixed read/write run.
	Stress = "stress"
	// Random summarizes random read/write runs.
	Random = "random"
	// Sequential summarizes sequential read/write runs.
	Sequential = "sequential"
)

const (
	DefaultSampleCap    = 10000
	DefaultTestFraction = 0.2
	DefaultSeed         = 42
)

var known = map[string]Family{
	Ramp: {
		Name:         Ramp,
		Feature:      "ramp_times",
		PipelineFile: "pipeline_ramp_times.json",
		TestClass:    "TestRampTime",
		MetricPrefix: "random",
		UpperBound:   180,
		TestFraction: DefaultTestFraction,
		SampleCap:    DefaultSampleCap,
		Seed:         DefaultSeed,
	},
	Stress: {
		Name:         Stress,
		Feature:      "io_depth",
		PipelineFile: "pipeline_stress.json",
		TestClass:    "TestStress",
		MetricPrefix: "random",
		UpperBound:   32,
		TestFraction: DefaultTestFraction,
		SampleCap:    DefaultSampleCap,
		Seed:         DefaultSeed,
		Filters:      []string{"write_pattern", "io_depth"},
	},
	Random: {
		Name:         Random,
		Feature:      "io_depth",
		PipelineFile: "pipeline_random.json",
		TestClass:    "TestRandomReadWrite",
		MetricPrefix: "random",
		Filters:      []string{"write_pattern", "io_depth"},
	},
	Sequential: {
		Name:          Sequential,
		Feature:       "block_size",
		PipelineFile:  "pipeline_sequential.json",
		TestClass:     "TestSequentialReadWrite",
		MetricPrefix:  "sequential",
		Filters:       []string{"write_pattern", "block_size"},
		TextParameter: true,
	},
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (Family, error) {
	f, ok := known[name]
	if !ok {
		return Family{}, errors.Newf("unknown metric family %q (known: %v)", name, Names())
	}
	f.Filters = append([]string(nil), f.Filters...)
	return f, nil
}

// Names returns the registered family names in sorted order.
func Names() []string {
	names := make([]string, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tunable reports whether the family feeds the regression pipeline, as
// opposed to only producing group statistics.
func (f Family) Tunable() bool {
	return f.UpperBound > 0
}

// Allows reports whether key may be pinned with an equality filter.
func (f Family) Allows(key string) bool {
	for _, k := range f.Filters {
		if k == key {
			return true
		}
	}
	return false
}

// FilterValue converts a filter given on the command line to the type the
// aggregated documents store for key.
func (f Family) FilterValue(key, raw string) (interface{}, error) {
	if !f.Allows(key) {
		return nil, errors.Newf("%s does not filter on %s (allowed: %v)", f.Name, key, f.Filters)
	}
	raw = strings.TrimSpace(raw)
	if key == f.Feature && f.TextParameter {
		return raw, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.Newf("%s filter %s: %q is not an integer", f.Name, key, raw)
	}
	return n, nil
}
