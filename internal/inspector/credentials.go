package inspector

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// WebmastersScope grants read/write access to Search Console data
const WebmastersScope = "https://www.googleapis.com/auth/webmasters"

// CredentialPool loads service-account keys named after an identity and keeps one
// authenticated client per identity for the life of the process.
type CredentialPool struct {
	dir     string
	scopes  []string
	base    http.RoundTripper
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewCredentialPool reads keys from dir/<identity>.json
func NewCredentialPool(dir string) *CredentialPool {
	return &CredentialPool{
		dir:     dir,
		scopes:  []string{WebmastersScope},
		base:    http.DefaultTransport,
		timeout: 60 * time.Second,
		clients: make(map[string]*http.Client),
	}
}

// Client returns the authenticated client for identity, creating it on first use.
// Failed loads are not cached, so a later call can succeed once the key file is fixed.
func (p *CredentialPool) Client(ctx context.Context, identity string) (*http.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[identity]; ok {
		return client, nil
	}

	keyPath := filepath.Join(p.dir, identity+".json")
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials for %s: %w", identity, err)
	}

	cfg, err := google.JWTConfigFromJSON(data, p.scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key for %s: %w", identity, err)
	}

	// Token refreshes outlive any single request, so they are bound to a background context.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Timeout:   p.timeout,
		Transport: p.base,
	})

	client := &http.Client{
		Timeout: p.timeout,
		Transport: &oauth2.Transport{
			Source: cfg.TokenSource(tokenCtx),
			Base:   observability.WrapTransport(p.base),
		},
	}
	p.clients[identity] = client

	log.Info().
		Str("identity", identity).
		Str("client_email", cfg.Email).
		Msg("Authenticated Search Console client")

	return client, nil
}
