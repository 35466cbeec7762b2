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
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "Writes the whole collection to a JSON file",
	Long:  `Writes every document of the collection as relaxed extended JSON (default <output-dir>/dump.json)`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(cfg.Output.Dir, "dump.json")
		if len(args) == 1 {
			path = args[0]
		}
		if err := makeAllDirs(filepath.Dir(path)); err != nil {
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

		n, err := st.Dump(ctx, path)
		if err != nil {
			logger.Error("dumping collection", zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d documents to %s\n", n, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
