package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/rs/zerolog/log"
)

// DefaultEndpoint is the Search Console URL Inspection API method
const DefaultEndpoint = "https://searchconsole.googleapis.com/v1/urlInspection/index:inspect"

// maxErrorBody caps how much of an error response is kept for logging
const maxErrorBody = 4096

// Service performs a single "inspect URL under site" call
type Service interface {
	InspectURL(ctx context.Context, inspectionURL, siteURL string) (inspection.Result, error)
}

// SearchConsoleClient is an HTTP client for the URL Inspection API.
// Authentication is handled by the supplied http.Client (see CredentialPool).
type SearchConsoleClient struct {
	httpClient   *http.Client
	endpoint     string
	languageCode string
}

// inspectRequest is the request body for index:inspect
type inspectRequest struct {
	InspectionURL string `json:"inspectionUrl"`
	SiteURL       string `json:"siteUrl"`
	LanguageCode  string `json:"languageCode,omitempty"`
}

// inspectResponse is the subset of the index:inspect response we use
type inspectResponse struct {
	InspectionResult struct {
		InspectionResultLink string             `json:"inspectionResultLink"`
		IndexStatusResult    *inspection.Result `json:"indexStatusResult"`
	} `json:"inspectionResult"`
}

// NewSearchConsoleClient creates a client. An empty endpoint selects DefaultEndpoint.
func NewSearchConsoleClient(httpClient *http.Client, endpoint string) *SearchConsoleClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &SearchConsoleClient{
		httpClient:   httpClient,
		endpoint:     endpoint,
		languageCode: "en-US",
	}
}

// InspectURL asks Search Console for the index status of inspectionURL within siteURL.
// Failures are returned as *Error.
func (c *SearchConsoleClient) InspectURL(ctx context.Context, inspectionURL, siteURL string) (inspection.Result, error) {
	start := time.Now()

	reqBody, err := json.Marshal(inspectRequest{
		InspectionURL: inspectionURL,
		SiteURL:       siteURL,
		LanguageCode:  c.languageCode,
	})
	if err != nil {
		return inspection.Result{}, &Error{Kind: KindRemote, URL: inspectionURL, Err: fmt.Errorf("failed to marshal inspect request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return inspection.Result{}, &Error{Kind: KindRemote, URL: inspectionURL, Err: fmt.Errorf("failed to create inspect request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return inspection.Result{}, ctxErr
		}
		kind := KindRemote
		if IsTransportError(err) {
			kind = KindTransport
		}
		return inspection.Result{}, &Error{Kind: kind, URL: inspectionURL, Err: fmt.Errorf("failed to execute inspect request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return inspection.Result{}, classifyStatus(inspectionURL, resp.StatusCode, body)
	}

	var decoded inspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return inspection.Result{}, &Error{Kind: KindRemote, StatusCode: resp.StatusCode, URL: inspectionURL, Err: fmt.Errorf("failed to decode inspect response: %w", err)}
	}
	if decoded.InspectionResult.IndexStatusResult == nil {
		return inspection.Result{}, &Error{Kind: KindRemote, StatusCode: resp.StatusCode, URL: inspectionURL, Err: errors.New("response has no index status result")}
	}

	log.Debug().
		Str("url", inspectionURL).
		Str("site_url", siteURL).
		Str("verdict", decoded.InspectionResult.IndexStatusResult.Verdict).
		Dur("duration", time.Since(start)).
		Msg("URL inspection completed")

	return *decoded.InspectionResult.IndexStatusResult, nil
}

// classifyStatus maps a non-200 response to an *Error
func classifyStatus(inspectionURL string, status int, body []byte) *Error {
	kind := KindRemote
	if status == http.StatusTooManyRequests {
		kind = KindRateLimited
	} else {
		var envelope googleErrorBody
		if json.Unmarshal(body, &envelope) == nil && envelope.rateLimited() {
			kind = KindRateLimited
		}
	}

	return &Error{
		Kind:       kind,
		StatusCode: status,
		URL:        inspectionURL,
		Err:        fmt.Errorf("search console returned status %d: %s", status, bytes.TrimSpace(body)),
	}
}
