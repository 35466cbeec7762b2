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
	"math"
	"testing"

	"github.com/autoraid/tuner/internal/family"
	"github.com/autoraid/tuner/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func testDoc(outcome string, tests ...bson.M) bson.M {
	arr := bson.A{}
	for _, t := range tests {
		arr = append(arr, t)
	}
	return bson.M{
		"log": "raw uart log",
		"report": bson.M{
			"collectors": bson.A{bson.M{"outcome": outcome}},
			"tests":      arr,
		},
	}
}

func testRun(class, id string, msgs ...string) bson.M {
	logs := bson.A{}
	for _, m := range msgs {
		logs = append(logs, bson.M{"msg": m})
	}
	return bson.M{
		"keywords": bson.A{id, class, "tests"},
		"call":     bson.M{"log": logs},
	}
}

func stressFamily(t *testing.T) family.Family {
	t.Helper()
	f, err := family.Lookup(family.Stress)
	require.NoError(t, err)
	return f
}

func TestRecords(t *testing.T) {
	docs := []bson.M{
		testDoc("passed",
			testRun("TestStress", "test_run_io_operation[50-32]",
				"random_read_iops = 1500.5", "random_write_iops = 1300.25",
				"random_read_bw = 58.1", "random_write_bw=50.75"),
			testRun("TestStress", "test_run_io_operation[50-8]",
				"starting", "random_read_iops = 900", "random_write_iops = 800"),
			// Another test class in the same report.
			testRun("TestRampTime", "test_run_io_operation[50-30]",
				"random_read_iops = 1.0", "random_write_iops = 1.0"),
		),
		// Failed session: ignored entirely.
		testDoc("failed",
			testRun("TestStress", "test_run_io_operation[50-16]",
				"random_read_iops = 10", "random_write_iops = 10")),
	}

	recs, skipped := Records(docs, stressFamily(t))
	assert.Equal(t, 0, skipped)
	require.Len(t, recs, 2)

	assert.Equal(t, 50, recs[0].WritePattern)
	assert.Equal(t, "32", recs[0].Parameter)
	assert.Equal(t, table.Sample{
		Parameter: 32, ReadIOPS: 1500.5, WriteIOPS: 1300.25, ReadBW: 58.1, WriteBW: 50.75,
		Extra: map[string]interface{}{"write_pattern": 50},
	}, recs[0].Sample)

	assert.Equal(t, 8, recs[1].Sample.Parameter)
	assert.Equal(t, 1700.0, recs[1].Sample.Performance())
	assert.Zero(t, recs[1].Sample.ReadBW)
}

func TestRecordsSkipsMalformed(t *testing.T) {
	docs := []bson.M{
		testDoc("passed",
			testRun("TestStress", "test_run_io_operation[abc-32]", "random_read_iops = 1"),
			testRun("TestStress", "test_run_io_operation[50-32]", "no metrics here"),
			testRun("TestStress", "test_run_io_operation[50-32]", "sequential_read_iops = 5"),
			testRun("TestStress", "test_run_io_operation[50-16]", "random_write_iops = 7"),
		),
		{"report": "not a document"},
		{"other": 1},
	}
	recs, skipped := Records(docs, stressFamily(t))
	assert.Equal(t, 3, skipped)
	require.Len(t, recs, 1)
	assert.Equal(t, 7.0, recs[0].Sample.WriteIOPS)
}

func TestRecordsAcceptsOrderedDocuments(t *testing.T) {
	doc := bson.M{"report": bson.D{
		{Key: "collectors", Value: bson.A{bson.D{{Key: "outcome", Value: "passed"}}}},
		{Key: "tests", Value: []interface{}{map[string]interface{}{
			"keywords": []interface{}{"TestSequentialReadWrite", "test_run_io_operation[70-4k]"},
			"call": map[string]interface{}{"log": []interface{}{
				map[string]interface{}{"msg": "sequential_read_iops = 12.5"},
			}},
		}}},
	}}
	seq, err := family.Lookup(family.Sequential)
	require.NoError(t, err)

	recs, skipped := Records([]bson.M{doc}, seq)
	assert.Equal(t, 0, skipped)
	require.Len(t, recs, 1)
	assert.Equal(t, "4k", recs[0].Parameter)
	assert.Equal(t, 4096, recs[0].Sample.Parameter)
	assert.Equal(t, 70, recs[0].WritePattern)
}

func TestSamples(t *testing.T) {
	docs := []bson.M{testDoc("passed",
		testRun("TestStress", "test_run_io_operation[30-4]", "random_read_iops = 1", "random_write_iops = 2"))}
	samples, skipped := Samples(docs, stressFamily(t))
	assert.Equal(t, 0, skipped)
	require.Len(t, samples, 1)
	assert.Equal(t, 4, samples[0].Parameter)
}

func TestSelect(t *testing.T) {
	recs := []Record{
		{WritePattern: 50, Parameter: "32"},
		{WritePattern: 50, Parameter: "8"},
		{WritePattern: 70, Parameter: "32"},
	}
	fam := stressFamily(t)
	assert.Len(t, Select(recs, nil, fam), 3)
	assert.Len(t, Select(recs, map[string]interface{}{"write_pattern": 50}, fam), 2)
	got := Select(recs, map[string]interface{}{"write_pattern": 50, "io_depth": 32}, fam)
	require.Len(t, got, 1)
	assert.Equal(t, "32", got[0].Parameter)
}

func TestParseParameter(t *testing.T) {
	for in, want := range map[string]int{"32": 32, "4k": 4096, "4K": 4096, "1m": 1 << 20, "2g": 2 << 30, " 7 ": 7} {
		got, err := ParseParameter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "k", "abc", "4x"} {
		_, err := ParseParameter(in)
		assert.Error(t, err, in)
	}
}

func TestSummarize(t *testing.T) {
	samples := []table.Sample{
		{ReadIOPS: 200, WriteIOPS: 250, ReadBW: 100, WriteBW: 150},
		{ReadIOPS: 210, WriteIOPS: 260, ReadBW: 110, WriteBW: 160},
		{ReadIOPS: 220, WriteIOPS: 270, ReadBW: 120, WriteBW: 170},
		{ReadIOPS: 230, WriteIOPS: 280, ReadBW: 130, WriteBW: 180},
	}
	s, err := Summarize(samples)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 215.0, s.ReadIOPS.Avg)
	assert.Equal(t, 230.0, s.ReadIOPS.Max)
	assert.Equal(t, 200.0, s.ReadIOPS.Min)
	assert.InDelta(t, math.Sqrt(125), s.ReadIOPS.StdDev, 1e-9)
	assert.Equal(t, 115.0, s.ReadBW.Avg)
	assert.Equal(t, 265.0, s.WriteIOPS.Avg)
	assert.Equal(t, 165.0, s.Stat(table.WriteBW).Avg)
	assert.Equal(t, Stat{}, s.Stat("latency"))

	_, err = Summarize(nil)
	require.Error(t, err)
}

func TestSummaryFromDocument(t *testing.T) {
	doc := bson.M{
		"_id":                bson.M{"write_pattern": int32(50), "io_depth": int32(32)},
		"avg_read_iops":      215.0,
		"max_read_iops":      int32(230),
		"min_read_iops":      int64(200),
		"std_dev_read_iops":  11.18,
		"avg_write_iops":     265.0,
		"avg_read_bw":        115.0,
		"avg_write_bw":       165.0,
		"std_dev_write_bw":   nil,
		"count":              int32(4),
		"unrelated_constant": "x",
	}
	s := SummaryFromDocument(doc)
	assert.Equal(t, Stat{Avg: 215, Max: 230, Min: 200, StdDev: 11.18}, s.ReadIOPS)
	assert.Equal(t, 265.0, s.WriteIOPS.Avg)
	assert.Zero(t, s.WriteBW.StdDev)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, int32(50), s.Key["write_pattern"])
}

func TestGroups(t *testing.T) {
	recs := []Record{
		{WritePattern: 70, Parameter: "8", Sample: table.Sample{Parameter: 8}},
		{WritePattern: 50, Parameter: "32", Sample: table.Sample{Parameter: 32}},
		{WritePattern: 50, Parameter: "8", Sample: table.Sample{Parameter: 8, ReadIOPS: 10}},
		{WritePattern: 50, Parameter: "8", Sample: table.Sample{Parameter: 8, ReadIOPS: 30}},
	}
	groups := Groups(recs, stressFamily(t))
	require.Len(t, groups, 3)
	assert.Equal(t, map[string]interface{}{"write_pattern": 50, "io_depth": 8}, groups[0].Key)
	assert.Equal(t, map[string]interface{}{"write_pattern": 50, "io_depth": 32}, groups[1].Key)
	assert.Equal(t, map[string]interface{}{"write_pattern": 70, "io_depth": 8}, groups[2].Key)

	s, err := groups[0].Summarize()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 20.0, s.ReadIOPS.Avg)
	assert.Equal(t, groups[0].Key, s.Key)

	_, err = Group{}.Summarize()
	require.Error(t, err)
}

func TestGroupsTextParameter(t *testing.T) {
	seq, err := family.Lookup(family.Sequential)
	require.NoError(t, err)
	recs := []Record{
		{WritePattern: 70, Parameter: "4k", Sample: table.Sample{Parameter: 4096}},
		{WritePattern: 70, Parameter: "16k", Sample: table.Sample{Parameter: 16384}},
	}
	groups := Groups(recs, seq)
	require.Len(t, groups, 2)
	// Text parameters sort as strings, as the sequential pipeline's $sort does.
	assert.Equal(t, "16k", groups[0].Key["block_size"])
	assert.Equal(t, "4k", groups[1].Key["block_size"])
}

func TestGroupSummarizeLeavesOutMissingMetrics(t *testing.T) {
	docs := []bson.M{testDoc("passed",
		testRun("TestStress", "test_run_io_operation[50-8]", "random_read_iops = 900", "random_write_iops = 800"),
		testRun("TestStress", "test_run_io_operation[50-8]", "random_write_iops = 600"),
	)}
	recs, _ := Records(docs, stressFamily(t))
	require.Len(t, recs, 2)
	assert.False(t, recs[1].Found[table.ReadIOPS])
	assert.True(t, recs[1].Found[table.WriteIOPS])

	s, err := Groups(recs, stressFamily(t))[0].Summarize()
	require.NoError(t, err)
	assert.Equal(t, Stat{Avg: 900, Max: 900, Min: 900}, s.ReadIOPS)
	assert.Equal(t, 700.0, s.WriteIOPS.Avg)
	assert.Equal(t, Stat{}, s.WriteBW)
}
