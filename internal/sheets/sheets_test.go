// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package sheets

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/context"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

const suggestions = `Family,Feature,Samples,Train,Test,MSE,TrendSlope,Best,PredictedPerformance
ramp,ramp_times,120,96,24,1520.5,3.2,150,3100
stress,io_depth,80,64,16,80.25,10.1,32,4200
`

func TestRows(t *testing.T) {
	rows, err := Rows(strings.NewReader(suggestions))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []interface{}{"ramp", "ramp_times", "120", "96", "24", "1520.5", "3.2", "150", "3100"}, rows[0])

	rows, err = Rows(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = Rows(strings.NewReader("a,b\n\"unterminated"))
	require.Error(t, err)
}

func TestRangeFor(t *testing.T) {
	r, ok := RangeFor("/tmp/out/results/suggestions.csv")
	require.True(t, ok)
	assert.Equal(t, "Suggestions!A:I", r)
	_, ok = RangeFor("cpu.csv")
	assert.False(t, ok)
}

func TestTokenCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	_, err := tokenFromFile(path)
	require.Error(t, err)

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, saveToken(path, tok))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	got, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "r", got.RefreshToken)

	require.NoError(t, saveToken(path, &oauth2.Token{AccessToken: "b"}))
	got, err = tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b", got.AccessToken)
	assert.Empty(t, got.RefreshToken)

	require.Error(t, saveToken(filepath.Join(filepath.Dir(path), "missing", "token.json"), tok))
}

func TestAuthorizerMissingCredentials(t *testing.T) {
	a := Authorizer{CredentialsFile: filepath.Join(t.TempDir(), "credentials.json")}
	_, err := a.Client(context.Background())
	require.Error(t, err)
}

func TestAuthorizerCachedToken(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"installed":{
		"client_id":"id","client_secret":"secret",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":"https://oauth2.googleapis.com/token",
		"redirect_uris":["urn:ietf:wg:oauth:2.0:oob"]}}`), 0600))
	token := filepath.Join(dir, "token.json")
	require.NoError(t, saveToken(token, &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}))

	var out bytes.Buffer
	a := Authorizer{CredentialsFile: creds, TokenFile: token, In: strings.NewReader(""), Out: &out}
	c, err := a.Client(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Empty(t, out.String())
}

func TestAppendCSV(t *testing.T) {
	var got sheets.ValueRange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/v4/spreadsheets/sheet-id/values/")
		assert.True(t, strings.HasSuffix(r.URL.Path, ":append"), r.URL.Path)
		assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-id","updates":{"updatedRows":2}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	e, err := NewExporter(ctx, "sheet-id", zap.NewNop(),
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "suggestions.csv")
	require.NoError(t, os.WriteFile(path, []byte(suggestions), 0644))
	n, err := e.AppendCSV(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "ROWS", got.MajorDimension)
	require.Len(t, got.Values, 2)
	assert.Equal(t, "stress", got.Values[1][0])
}

func TestAppendCSVUnknownFile(t *testing.T) {
	e, err := NewExporter(context.Background(), "sheet-id", zap.NewNop(),
		option.WithHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cpu.csv")
	require.NoError(t, os.WriteFile(path, []byte(suggestions), 0644))
	_, err = e.AppendCSV(context.Background(), path)
	require.Error(t, err)
}

func TestAppendCSVHeaderOnly(t *testing.T) {
	e, err := NewExporter(context.Background(), "sheet-id", zap.NewNop(),
		option.WithHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "suggestions.csv")
	require.NoError(t, os.WriteFile(path, []byte("Family,Feature\n"), 0644))
	n, err := e.AppendCSV(context.Background(), path)
	require.NoError(t, err)
	assert.Zero(t, n)
}
