package inspector

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Harvey-AU/index-inspector/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "inspectionResult": {
    "inspectionResultLink": "https://search.google.com/search-console/inspect?resource_id=sc-domain:example.com",
    "indexStatusResult": {
      "sitemap": ["https://example.com/sitemap.xml"],
      "referringUrls": ["https://example.com/"],
      "verdict": "PASS",
      "coverageState": "Submitted and indexed",
      "robotsTxtState": "ALLOWED",
      "indexingState": "INDEXING_ALLOWED",
      "lastCrawlTime": "2026-10-01T08:12:44Z",
      "pageFetchState": "SUCCESSFUL",
      "googleCanonical": "https://example.com/page",
      "userCanonical": "https://example.com/page",
      "crawledAs": "MOBILE"
    }
  }
}`

func TestSearchConsoleClientInspectURL(t *testing.T) {
	var gotBody inspectRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer ts.Close()

	client := NewSearchConsoleClient(ts.Client(), ts.URL)
	result, err := client.InspectURL(context.Background(), "https://example.com/page", "sc-domain:example.com")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/page", gotBody.InspectionURL)
	assert.Equal(t, "sc-domain:example.com", gotBody.SiteURL)

	assert.Equal(t, "PASS", result.Verdict)
	assert.Equal(t, "INDEXING_ALLOWED", result.IndexingState)
	assert.Equal(t, "Submitted and indexed", result.CoverageState)
	assert.Equal(t, "ALLOWED", result.RobotsTxtState)
	assert.Equal(t, "SUCCESSFUL", result.PageFetchState)
	assert.Equal(t, "2026-10-01T08:12:44Z", result.LastCrawlTime)
	assert.Equal(t, "MOBILE", result.CrawledAs)
	assert.Equal(t, []string{"https://example.com/sitemap.xml"}, result.Sitemaps)
	assert.Equal(t, "https://example.com/page", result.GoogleCanonical)
}

func TestSearchConsoleClientPartialResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"inspectionResult": {"indexStatusResult": {"verdict": "NEUTRAL", "coverageState": "URL is unknown to Google"}}}`))
	}))
	defer ts.Close()

	result, err := NewSearchConsoleClient(ts.Client(), ts.URL).InspectURL(context.Background(), "https://example.com/new", "sc-domain:example.com")
	require.NoError(t, err)
	assert.Equal(t, "NEUTRAL", result.Verdict)
	assert.Empty(t, result.LastCrawlTime)
	assert.Empty(t, result.CrawledAs)
}

func TestSearchConsoleClientFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   Kind
		wantStatus int
	}{
		{
			name:       "too_many_requests",
			status:     http.StatusTooManyRequests,
			body:       `{"error": {"code": 429, "message": "Quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`,
			wantKind:   KindRateLimited,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "forbidden_with_rate_limit_reason",
			status:     http.StatusForbidden,
			body:       `{"error": {"code": 403, "errors": [{"reason": "userRateLimitExceeded"}]}}`,
			wantKind:   KindRateLimited,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "forbidden_permission",
			status:     http.StatusForbidden,
			body:       `{"error": {"code": 403, "message": "User does not have sufficient permission", "status": "PERMISSION_DENIED"}}`,
			wantKind:   KindRemote,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "server_error",
			status:     http.StatusInternalServerError,
			body:       `oops`,
			wantKind:   KindRemote,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "malformed_body",
			status:     http.StatusOK,
			body:       `{"inspectionResult": `,
			wantKind:   KindRemote,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing_index_status",
			status:     http.StatusOK,
			body:       `{"inspectionResult": {}}`,
			wantKind:   KindRemote,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := NewSearchConsoleClient(ts.Client(), ts.URL).InspectURL(context.Background(), "https://example.com/x", "sc-domain:example.com")
			require.Error(t, err)

			var ie *Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.wantKind, ie.Kind)
			assert.Equal(t, tt.wantStatus, ie.StatusCode)
			assert.Equal(t, tt.wantKind == KindRateLimited, IsRetryable(err))
		})
	}
}

func TestSearchConsoleClientTLSFailureIsTransport(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer ts.Close()

	// A default client does not trust the test server's certificate.
	_, err := NewSearchConsoleClient(&http.Client{}, ts.URL).InspectURL(context.Background(), "https://example.com/x", "sc-domain:example.com")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.False(t, IsRetryable(err))
}

func TestSearchConsoleClientCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSearchConsoleClient(ts.Client(), ts.URL).InspectURL(ctx, "https://example.com/x", "sc-domain:example.com")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, KindOf(err))
}

func TestNewSearchConsoleClientDefaults(t *testing.T) {
	c := NewSearchConsoleClient(nil, "")
	assert.Equal(t, DefaultEndpoint, c.endpoint)
	assert.NotNil(t, c.httpClient)
}

func TestSearchConsoleClientThroughTransport(t *testing.T) {
	rt := &mocks.MockRoundTripper{}
	rt.On("RoundTrip", mock.MatchedBy(func(r *http.Request) bool { return r.URL.Path == "/limited" })).
		Return(mocks.CreateMockResponse(http.StatusTooManyRequests, `{"error": {"status": "RESOURCE_EXHAUSTED"}}`, nil), nil)
	rt.On("RoundTrip", mock.MatchedBy(func(r *http.Request) bool { return r.URL.Path == "/untrusted" })).
		Return(nil, x509.UnknownAuthorityError{})

	client := &http.Client{Transport: rt}

	_, err := NewSearchConsoleClient(client, "https://inspect.test/limited").InspectURL(context.Background(), "https://example.com/x", "sc-domain:example.com")
	assert.Equal(t, KindRateLimited, KindOf(err))

	_, err = NewSearchConsoleClient(client, "https://inspect.test/untrusted").InspectURL(context.Background(), "https://example.com/x", "sc-domain:example.com")
	assert.Equal(t, KindTransport, KindOf(err))

	rt.AssertNumberOfCalls(t, "RoundTrip", 2)
}
