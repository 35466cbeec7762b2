// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestReadLogAndReport(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "test.log", "Sample log data")
	reportPath := writeFile(t, dir, "report.json", `{"key": "value", "n": 3}`)

	doc, err := ReadLogAndReport(logPath, reportPath)
	require.NoError(t, err)
	assert.Equal(t, "Sample log data", doc["log"])
	report := doc["report"].(bson.M)
	assert.Equal(t, "value", report["key"])
	assert.EqualValues(t, 3, report["n"])
}

func TestReadLogAndReportErrors(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "test.log", "x")
	badReport := writeFile(t, dir, "bad.json", `{not json`)

	_, err := ReadLogAndReport(filepath.Join(dir, "missing.log"), badReport)
	require.Error(t, err)
	_, err = ReadLogAndReport(logPath, filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	_, err = ReadLogAndReport(logPath, badReport)
	require.Error(t, err)
}

func TestWriteDocuments(t *testing.T) {
	var buf bytes.Buffer
	docs := []bson.M{{"key1": "value1"}, {"key2": "value2"}}
	require.NoError(t, WriteDocuments(&buf, docs))

	var got []map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []map[string]string{{"key1": "value1"}, {"key2": "value2"}}, got)
}

func TestWriteDocumentsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDocuments(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestWriteDocumentsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dump.json", `[{"stale": "content that is longer than the new dump"}]`)
	require.NoError(t, WriteDocumentsFile(path, []bson.M{{"k": "v"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"k": "v"}]`, string(data))

	require.Error(t, WriteDocumentsFile(filepath.Join(dir, "missing", "dump.json"), nil))
	require.Error(t, WriteDocumentsFile(dir, nil))
}
