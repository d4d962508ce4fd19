package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// ClientConfig configures the API client.
type ClientConfig struct {
	// Token is a personal access token. Without one, requests are
	// unauthenticated and the search rate limit is much lower.
	Token string

	// BaseURL overrides the API endpoint, e.g. for GitHub Enterprise.
	BaseURL string

	// HTTPClient is the underlying client, e.g. from NewHTTPClient.
	HTTPClient *http.Client
}

// NewClient creates an API client. The token is attached by an oauth2
// transport layered over the configured HTTP client.
func NewClient(ctx context.Context, cfg ClientConfig) (*gh.Client, error) {
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}

	httpClient := base
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = base.Timeout
	}

	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		raw := cfg.BaseURL
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL %q: %w", cfg.BaseURL, err)
		}
		client.BaseURL = u
	}
	return client, nil
}
