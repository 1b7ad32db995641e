package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Harvey-AU/index-inspector/internal/quota"
	"github.com/Harvey-AU/index-inspector/internal/testutil"
	"github.com/Harvey-AU/index-inspector/internal/workbook"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("INSPECTOR_TEST_VALUE", "")
	assert.Equal(t, "fallback", getEnvWithDefault("INSPECTOR_TEST_VALUE", "fallback"))

	t.Setenv("INSPECTOR_TEST_VALUE", "set")
	assert.Equal(t, "set", getEnvWithDefault("INSPECTOR_TEST_VALUE", "fallback"))
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"APP_ENV", "LOG_LEVEL", "INSPECTOR_DATA_DIR", "INSPECTOR_CREDENTIALS_DIR",
		"INSPECTOR_OUTPUT_DIR", "INSPECTOR_CACHE_DIR", "INSPECTOR_SERVICE_ACCOUNT",
		"OBSERVABILITY_ENABLED", "METRICS_ADDR", "SLACK_BOT_TOKEN", "SLACK_CHANNEL_ID",
	} {
		t.Setenv(key, "")
	}

	config := loadConfig()
	assert.Equal(t, "development", config.Env)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "data", config.DataDir)
	assert.Equal(t, "json", config.CredentialsDir)
	assert.Equal(t, "processed", config.OutputDir)
	assert.Equal(t, "cache", config.CacheDir)
	assert.Equal(t, "main_service_account", config.ServiceAccount)
	assert.False(t, config.ObservabilityEnabled)
	assert.Equal(t, ":9464", config.MetricsAddr)
	assert.Equal(t, quota.DefaultConfig(), config.Quota)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("INSPECTOR_DATA_DIR", "/srv/in")
	t.Setenv("INSPECTOR_SERVICE_ACCOUNT", "reporting")
	t.Setenv("OBSERVABILITY_ENABLED", "true")

	config := loadConfig()
	assert.Equal(t, "production", config.Env)
	assert.Equal(t, "/srv/in", config.DataDir)
	assert.Equal(t, "reporting", config.ServiceAccount)
	assert.True(t, config.ObservabilityEnabled)
}

func TestParseOTLPHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "Authorization=Bearer abc", map[string]string{"Authorization": "Bearer abc"}},
		{"multiple with spaces", " a=1 , b = 2 ", map[string]string{"a": "1", "b": "2"}},
		{"malformed pairs skipped", "novalue,=x,,c=3", map[string]string{"c": "3"}},
		{"value keeps equals", "sig=a=b", map[string]string{"sig": "a=b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOTLPHeaders(tt.raw))
		})
	}
}

// testConfig returns a config rooted in a temp dir with quota pacing disabled
func testConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	return &Config{
		Env:            "test",
		DataDir:        filepath.Join(root, "data"),
		CredentialsDir: filepath.Join(root, "json"),
		OutputDir:      filepath.Join(root, "processed"),
		CacheDir:       filepath.Join(root, "cache"),
		ServiceAccount: "main_service_account",
		Quota:          quota.Config{Ceiling: quota.DefaultCeiling},
	}
}

func writeWorkbook(t *testing.T, dir string) {
	t.Helper()
	testutil.WriteWorkbook(t, filepath.Join(dir, "input.xlsx"),
		[][]any{
			{"USER", "LAST ACCESS DATE", "TOTAL COUNT"},
			{"a@example.com", nil, 4},
		},
		[][]any{
			{"USER", "PROPERTY", "URL"},
			{"a@example.com", "example.com", "https://example.com/1"},
			{"a@example.com", "example.com", "https://example.com/2"},
		},
	)
}

func TestRunWithoutWorkbook(t *testing.T) {
	assert.Equal(t, exitFailure, run(testConfig(t)))
}

func TestRunWithoutCredentials(t *testing.T) {
	config := testConfig(t)
	writeWorkbook(t, config.DataDir)

	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = previous })

	assert.Equal(t, exitFailure, run(config))

	_, err := os.Stat(config.OutputDir)
	assert.True(t, os.IsNotExist(err), "nothing is written when the pipeline cannot start")
	assert.Contains(t, buf.String(), "Failed to prepare inspection pipeline")
	assert.Contains(t, buf.String(), "No output workbook written")
	assert.Contains(t, buf.String(), config.OutputDir)
}

func TestRunEndToEnd(t *testing.T) {
	tokenServer := testutil.NewTokenServer(t)

	var calls atomic.Int32
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			SiteURL string `json:"siteUrl"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sc-domain:example.com", body.SiteURL)
		assert.Equal(t, "Bearer "+testutil.TestToken, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inspectionResult": {"indexStatusResult": {"verdict": "PASS", "coverageState": "Submitted and indexed"}}}`))
	}))
	defer apiServer.Close()

	config := testConfig(t)
	config.InspectionEndpoint = apiServer.URL
	testutil.WriteServiceAccountKey(t, config.CredentialsDir, config.ServiceAccount, tokenServer.URL)
	writeWorkbook(t, config.DataDir)

	require.Equal(t, exitOK, run(config))
	assert.Equal(t, int32(2), calls.Load())

	out, err := workbook.FindWorkbook(config.OutputDir)
	require.NoError(t, err)
	wb, err := workbook.Load(out)
	require.NoError(t, err)

	require.Len(t, wb.Ledger.Rows, 1)
	assert.Equal(t, 6, wb.Ledger.Rows[0].TotalCount)
	assert.NotEmpty(t, wb.Ledger.Rows[0].LastAccess)
	for _, row := range wb.Status {
		assert.Equal(t, "PASS", row.Result.Verdict)
		assert.Equal(t, "Submitted and indexed", row.Result.CoverageState)
	}

	entries, err := os.ReadDir(config.CacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
