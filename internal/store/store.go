// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package store wraps the MongoDB collection holding benchmark logs and
// pytest reports.
package store

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Options selects the collection to connect to.
type Options struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store is a handle on one collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// Open connects to the server and verifies it is reachable.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	co := options.Client().ApplyURI(opts.URI)
	if opts.Timeout > 0 {
		co.SetTimeout(opts.Timeout)
	}
	client, err := mongo.Connect(ctx, co)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", opts.URI)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "pinging %s", opts.URI)
	}
	logger.Debug("connected to document store",
		zap.String("database", opts.Database),
		zap.String("collection", opts.Collection))
	return &Store{
		client: client,
		coll:   client.Database(opts.Database).Collection(opts.Collection),
		logger: logger,
	}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Aggregate runs pipeline and returns every result document.
func (s *Store) Aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]bson.M, error) {
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "performing aggregation")
	}
	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "reading aggregation results")
	}
	return out, nil
}

// Find returns up to limit documents matching filter. A limit of zero
// returns all of them.
func (s *Store) Find(ctx context.Context, filter bson.M, limit int64) ([]bson.M, error) {
	fo := options.Find()
	if limit > 0 {
		fo.SetLimit(limit)
	}
	cur, err := s.coll.Find(ctx, filter, fo)
	if err != nil {
		return nil, errors.Wrap(err, "reading documents")
	}
	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decoding documents")
	}
	return out, nil
}

// FindOne returns the first document matching filter, or nil if none does.
func (s *Store) FindOne(ctx context.Context, filter bson.M) (bson.M, error) {
	var doc bson.M
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		s.logger.Debug("no document matches the given query")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "finding document")
	}
	return doc, nil
}

// Update applies a $set of values to the first document matching filter.
func (s *Store) Update(ctx context.Context, filter, values bson.M) (matched, modified int64, err error) {
	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$set": values})
	if err != nil {
		return 0, 0, errors.Wrap(err, "updating document")
	}
	if res.MatchedCount == 0 {
		s.logger.Debug("no document matches the given query")
	}
	return res.MatchedCount, res.ModifiedCount, nil
}

// Delete removes the first document matching filter.
func (s *Store) Delete(ctx context.Context, filter bson.M) (int64, error) {
	res, err := s.coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "deleting document")
	}
	return res.DeletedCount, nil
}

// InsertLogAndReport stores a benchmark log and its JSON report as one
// document.
func (s *Store) InsertLogAndReport(ctx context.Context, logPath, reportPath string) (interface{}, error) {
	doc, err := ReadLogAndReport(logPath, reportPath)
	if err != nil {
		return nil, err
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, errors.Wrap(err, "inserting document")
	}
	s.logger.Debug("log and report inserted", zap.Any("id", res.InsertedID))
	return res.InsertedID, nil
}

// Dump writes every document of the collection to path as a JSON array.
func (s *Store) Dump(ctx context.Context, path string) (int, error) {
	docs, err := s.Find(ctx, bson.M{}, 0)
	if err != nil {
		return 0, err
	}
	if err := WriteDocumentsFile(path, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// WriteDocumentsFile replaces path with docs as a JSON array. Errors from
// closing the file are reported, since a failed close can leave it truncated.
func WriteDocumentsFile(path string, docs []bson.M) (err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "closing %s", path)
		}
	}()
	if err := WriteDocuments(f, docs); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// ReadLogAndReport builds the {log, report} document ingested after a run.
func ReadLogAndReport(logPath, reportPath string) (bson.M, error) {
	logData, err := os.ReadFile(logPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading log %s", logPath)
	}
	reportData, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading report %s", reportPath)
	}
	var report bson.M
	if err := bson.UnmarshalExtJSON(reportData, false, &report); err != nil {
		return nil, errors.Wrapf(err, "decoding report %s", reportPath)
	}
	return bson.M{"log": string(logData), "report": report}, nil
}

// WriteDocuments encodes docs as a JSON array of relaxed extended JSON.
func WriteDocuments(w io.Writer, docs []bson.M) error {
	raw := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		b, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			return err
		}
		raw = append(raw, b)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}
