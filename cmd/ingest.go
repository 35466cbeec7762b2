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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	ingestLog    string
	ingestReport string
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Stores a benchmark log and its pytest report",
	Long:  `Reads a UART log and the matching JSON pytest report and inserts them as one {log, report} document`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close(ctx) }()

		id, err := st.InsertLogAndReport(ctx, ingestLog, ingestReport)
		if err != nil {
			logger.Error("ingesting log and report", zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "inserted %v\n", id)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestLog, "log", "", "path to the benchmark log")
	ingestCmd.Flags().StringVar(&ingestReport, "report", "", "path to the JSON pytest report")
	_ = ingestCmd.MarkFlagRequired("log")
	_ = ingestCmd.MarkFlagRequired("report")
	rootCmd.AddCommand(ingestCmd)
}
