// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Template is a parsed aggregation pipeline. It is never modified after
// Parse; Build hands out independent copies with substitutions applied.
type Template struct {
	name   string
	stages []bson.D
}

// Substitution rewrites one stage of a pipeline copy.
type Substitution func(stage bson.D) bson.D

// Load reads a pipeline template from a JSON file holding an array of
// stages in MongoDB extended JSON.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading pipeline %s", path)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes a JSON array of stages.
func Parse(name string, data []byte) (*Template, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "decoding pipeline %s", name)
	}
	if len(raw) == 0 {
		return nil, errors.Newf("pipeline %s has no stages", name)
	}

	stages := make([]bson.D, 0, len(raw))
	for i, r := range raw {
		var stage bson.D
		if err := bson.UnmarshalExtJSON(r, false, &stage); err != nil {
			return nil, errors.Wrapf(err, "decoding stage %d of pipeline %s", i, name)
		}
		if len(stage) == 0 {
			return nil, errors.Newf("stage %d of pipeline %s is empty", i, name)
		}
		stages = append(stages, stage)
	}
	return &Template{name: name, stages: stages}, nil
}

// Name returns the template's file name.
func (t *Template) Name() string {
	return t.name
}

// Len returns the number of stages.
func (t *Template) Len() int {
	return len(t.stages)
}

// Has reports whether any stage uses the given operator, e.g. "$limit".
func (t *Template) Has(op string) bool {
	for _, s := range t.stages {
		if s[0].Key == op {
			return true
		}
	}
	return false
}

// Build returns a fresh pipeline with every substitution applied to every
// stage, in order.
func (t *Template) Build(subs ...Substitution) mongo.Pipeline {
	out := make(mongo.Pipeline, len(t.stages))
	for i, s := range t.stages {
		stage := clone(s).(bson.D)
		for _, sub := range subs {
			stage = sub(stage)
		}
		out[i] = stage
	}
	return out
}

// Limit overwrites the value of every $limit stage.
func Limit(n int) Substitution {
	return func(stage bson.D) bson.D {
		if stage[0].Key == "$limit" {
			stage[0].Value = int64(n)
		}
		return stage
	}
}

// MatchEq replaces the condition on field in every $match stage that
// mentions it with an equality test against value.
func MatchEq(field string, value interface{}) Substitution {
	return func(stage bson.D) bson.D {
		if stage[0].Key != "$match" {
			return stage
		}
		eq := bson.D{{Key: "$eq", Value: value}}
		switch m := stage[0].Value.(type) {
		case bson.D:
			for i := range m {
				if m[i].Key == field {
					m[i].Value = eq
				}
			}
		case bson.M:
			if _, ok := m[field]; ok {
				m[field] = eq
			}
		}
		return stage
	}
}

func clone(v interface{}) interface{} {
	switch x := v.(type) {
	case bson.D:
		out := make(bson.D, len(x))
		for i, e := range x {
			out[i] = bson.E{Key: e.Key, Value: clone(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = clone(e)
		}
		return out
	case bson.M:
		out := make(bson.M, len(x))
		for k, e := range x {
			out[k] = clone(e)
		}
		return out
	default:
		return v
	}
}
