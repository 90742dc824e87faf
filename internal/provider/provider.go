// Package provider exchanges OAuth authorization codes with external
// identity providers and reports the resulting account as a domain
// identifier. Providers only report facts; linking decisions belong to the
// service layer.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/sumire/userlink/internal/domain"
)

// Profile is what a provider knows about the account that signed in.
type Profile struct {
	Identifier    domain.Identifier
	Email         string
	EmailVerified bool
	DisplayName   string
}

// Provider is an OAuth identity provider.
type Provider interface {
	// Name returns the provider key stored on identifiers, e.g. "google".
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// Config holds OAuth client settings. Endpoint and URL fields default to
// the provider's public values when empty.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
	EmailsURL    string
}

// Registry looks providers up by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry registers providers by their Name. Later duplicates win.
func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrNotFound, name)
	}
	return p, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// fetchJSON GETs url with client and decodes the body both into dst and into
// a raw map kept as identifier payload.
func fetchJSON(ctx context.Context, client *http.Client, url string, header http.Header, dst any) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = nil
	}
	return raw, nil
}
