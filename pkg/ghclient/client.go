// Package ghclient builds go-github clients for the reporters and pollers.
package ghclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
)

// New returns a client authenticated with token. An empty token gives an
// anonymous client; a non-empty baseURL points it at GitHub Enterprise or a
// test server.
func New(token, baseURL string, httpClient *http.Client) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		client.BaseURL = u
	}
	return client, nil
}
