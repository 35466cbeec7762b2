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
	"os"

	"github.com/autoraid/tuner/internal/sheets"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/api/option"
)

// sheetsCmd represents the sheets command
var sheetsCmd = &cobra.Command{
	Use:   "sheets [csv files]",
	Short: "Appends result CSV files to a Google spreadsheet",
	Long: `Appends the rows of suggestions.csv and metrics.csv (header excluded) to the
configured spreadsheet. Without arguments both files are taken from
<output-dir>/results.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Sheets.SpreadsheetID == "" {
			return errors.New("sheets.spreadsheet_id is not configured")
		}
		files := args
		if len(files) == 0 {
			for _, name := range []string{"suggestions.csv", "metrics.csv"} {
				p, err := ResultsFile(name)
				if err != nil {
					return err
				}
				if _, err := os.Stat(p); err == nil {
					files = append(files, p)
				}
			}
		}
		if len(files) == 0 {
			return errors.New("no result files to append")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		auth := sheets.Authorizer{
			CredentialsFile: cfg.Sheets.Credentials,
			TokenFile:       cfg.Sheets.Token,
			In:              cmd.InOrStdin(),
			Out:             cmd.OutOrStdout(),
		}
		client, err := auth.Client(ctx)
		if err != nil {
			return err
		}
		e, err := sheets.NewExporter(ctx, cfg.Sheets.SpreadsheetID, logger, option.WithHTTPClient(client))
		if err != nil {
			return err
		}
		for _, f := range files {
			n, err := e.AppendCSV(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "appended %d rows from %s\n", n, f)
		}
		return nil
	},
}

func init() {
	f := sheetsCmd.Flags()
	f.String("spreadsheet-id", "", "ID of the spreadsheet to append to")
	f.String("credentials", "credentials.json", "OAuth client secret file")
	f.String("token", "token.json", "file caching the OAuth token")
	_ = viper.BindPFlag("sheets.spreadsheet_id", f.Lookup("spreadsheet-id"))
	_ = viper.BindPFlag("sheets.credentials", f.Lookup("credentials"))
	_ = viper.BindPFlag("sheets.token", f.Lookup("token"))
	rootCmd.AddCommand(sheetsCmd)
}
