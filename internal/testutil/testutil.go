package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// TestToken is the access token handed out by NewTokenServer
const TestToken = "test-token"

// WriteWorkbook saves an .xlsx at path with one sheet per element of sheets,
// named Sheet1, Sheet2 and so on. Rows are written from A1 down.
func WriteWorkbook(t *testing.T, path string, sheets ...[][]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f := excelize.NewFile()
	defer f.Close()

	for i, rows := range sheets {
		sheet := fmt.Sprintf("Sheet%d", i+1)
		if i > 0 {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		for r, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheet, cell, &row))
		}
	}

	require.NoError(t, f.SaveAs(path))
}

// WriteServiceAccountKey writes dir/<identity>.json holding a freshly generated
// service-account key whose token endpoint is tokenURL.
func WriteServiceAccountKey(t *testing.T, dir, identity, tokenURL string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "index-inspector-test",
		"private_key_id": "test-key",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   identity + "@index-inspector-test.iam.gserviceaccount.com",
		"client_id":      "1234567890",
		"token_uri":      tokenURL,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, identity+".json"), data, 0o600))
}

// NewTokenServer starts an OAuth token endpoint that always grants TestToken.
// The server is closed when the test ends.
func NewTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "` + TestToken + `", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}
