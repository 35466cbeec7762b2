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

	"github.com/autoraid/tuner/internal/store"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	docsFilter string
	docsSet    string
	docsLimit  int64
)

// parseDocument decodes a relaxed extended JSON document given on the
// command line. An empty string is the empty document.
func parseDocument(s string) (bson.M, error) {
	if s == "" {
		return bson.M{}, nil
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON([]byte(s), false, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing %q", s)
	}
	return doc, nil
}

// withStore parses the filter, connects and calls fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store, filter bson.M) error) error {
	filter, err := parseDocument(docsFilter)
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
	return fn(ctx, st, filter)
}

// docsCmd groups the single-document utilities.
var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Finds, updates and deletes stored documents",
}

var docsFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Prints the documents matching --filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store, filter bson.M) error {
			var docs []bson.M
			if docsLimit == 1 {
				doc, err := st.FindOne(ctx, filter)
				if err != nil {
					return err
				}
				if doc != nil {
					docs = append(docs, doc)
				}
			} else {
				var err error
				if docs, err = st.Find(ctx, filter, docsLimit); err != nil {
					return err
				}
			}
			return store.WriteDocuments(cmd.OutOrStdout(), docs)
		})
	},
}

var docsUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Sets fields of the first document matching --filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseDocument(docsSet)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return errors.New("--set must name at least one field")
		}
		return withStore(cmd, func(ctx context.Context, st *store.Store, filter bson.M) error {
			matched, modified, err := st.Update(ctx, filter, values)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "matched %d, modified %d\n", matched, modified)
			return nil
		})
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Deletes the first document matching --filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if docsFilter == "" {
			return errors.New("refusing to delete without --filter")
		}
		return withStore(cmd, func(ctx context.Context, st *store.Store, filter bson.M) error {
			n, err := st.Delete(ctx, filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", n)
			return nil
		})
	},
}

func init() {
	docsCmd.PersistentFlags().StringVar(&docsFilter, "filter", "", `query document, e.g. '{"report.created": 1700000000}'`)
	docsFindCmd.Flags().Int64Var(&docsLimit, "limit", 1, "maximum number of documents to print (0 for all)")
	docsUpdateCmd.Flags().StringVar(&docsSet, "set", "", "fields to set, as a JSON document")
	docsCmd.AddCommand(docsFindCmd, docsUpdateCmd, docsDeleteCmd)
	rootCmd.AddCommand(docsCmd)
}
