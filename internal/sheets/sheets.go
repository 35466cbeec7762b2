// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
// Package sheets appends result CSV files to a Google spreadsheet.
package sheets

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/net/context"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// fileToRange maps the result files written by the tuner to the sheet
// range they are appended to.
var fileToRange = map[string]string{
	"suggestions.csv": "Suggestions!A:I",
	"metrics.csv":     "Metrics!A:T",
}

// RangeFor returns the sheet range for a results file, by base name.
func RangeFor(path string) (string, bool) {
	r, ok := fileToRange[filepath.Base(path)]
	return r, ok
}

// Authorizer obtains an OAuth2 client for the spreadsheets scope. The
// first run prompts for an authorization code on Out and reads it from In;
// the resulting token is cached in TokenFile.
type Authorizer struct {
	CredentialsFile string
	TokenFile       string
	In              io.Reader
	Out             io.Writer
}

// Client returns an HTTP client authorized for the spreadsheets scope.
func (a Authorizer) Client(ctx context.Context) (*http.Client, error) {
	b, err := os.ReadFile(a.CredentialsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading client secret file %s", a.CredentialsFile)
	}
	// If modifying these scopes, delete the previously saved token file.
	config, err := google.ConfigFromJSON(b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, errors.Wrap(err, "parsing client secret file")
	}
	tok, err := tokenFromFile(a.TokenFile)
	if err != nil {
		if tok, err = a.tokenFromWeb(ctx, config); err != nil {
			return nil, err
		}
		if err := saveToken(a.TokenFile, tok); err != nil {
			return nil, err
		}
	}
	return config.Client(ctx, tok), nil
}

func (a Authorizer) tokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(a.Out, "Go to the following link in your browser then type the "+
		"authorization code: \n%v\n", authURL)

	var code string
	if _, err := fmt.Fscan(a.In, &code); err != nil {
		return nil, errors.Wrap(err, "reading authorization code")
	}
	tok, err := config.Exchange(ctx, code)
	return tok, errors.Wrap(err, "retrieving token from web")
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) (err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "caching oauth token in %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "closing %s", path)
		}
	}()
	return errors.Wrap(json.NewEncoder(f).Encode(token), "encoding oauth token")
}

// Rows reads a CSV document and returns its records without the header
// row, in the shape the Sheets API expects.
func Rows(r io.Reader) ([][]interface{}, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading csv")
	}
	if len(records) == 0 {
		return nil, nil
	}
	body := records[1:]
	out := make([][]interface{}, len(body))
	for i, rec := range body {
		out[i] = make([]interface{}, len(rec))
		for j, v := range rec {
			out[i][j] = v
		}
	}
	return out, nil
}

// Exporter appends rows to one spreadsheet.
type Exporter struct {
	srv           *sheets.Service
	spreadsheetID string
	logger        *zap.Logger
}

// NewExporter builds an Exporter. opts are passed to the Sheets client,
// typically option.WithHTTPClient with an authorized client.
func NewExporter(
	ctx context.Context, spreadsheetID string, logger *zap.Logger, opts ...option.ClientOption,
) (*Exporter, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating sheets client")
	}
	return &Exporter{srv: srv, spreadsheetID: spreadsheetID, logger: logger}, nil
}

// AppendCSV appends the rows of the CSV file at path, header excluded, to
// the range registered for its file name. It returns the number of rows
// the API reports as appended.
func (e *Exporter) AppendCSV(ctx context.Context, path string) (int64, error) {
	ssRange, ok := RangeFor(path)
	if !ok {
		return 0, errors.Newf("no spreadsheet range registered for %s", filepath.Base(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	rows, err := Rows(f)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", path)
	}
	if len(rows) == 0 {
		e.logger.Info("nothing to append", zap.String("file", path))
		return 0, nil
	}

	vr := &sheets.ValueRange{
		MajorDimension: "ROWS",
		Values:         rows,
	}
	resp, err := e.srv.Spreadsheets.Values.Append(e.spreadsheetID, ssRange, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return 0, errors.Wrapf(err, "appending %s to %s", path, ssRange)
	}
	var n int64
	if resp.Updates != nil {
		n = resp.Updates.UpdatedRows
	}
	e.logger.Info("appended results", zap.String("file", path), zap.String("range", ssRange), zap.Int64("rows", n))
	return n, nil
}
