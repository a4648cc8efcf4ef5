package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// providerMetadata is the subset of the OIDC discovery document the verifier needs.
type providerMetadata struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// discoverProvider loads the issuer's discovery document. The document must
// name the same issuer it was fetched from.
func discoverProvider(ctx context.Context, httpClient *http.Client, issuer string) (*providerMetadata, error) {
	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var meta providerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	switch {
	case meta.JWKSURI == "":
		return nil, fmt.Errorf("jwks_uri not found in discovery document")
	case meta.Issuer != "" && strings.TrimSuffix(meta.Issuer, "/") != strings.TrimSuffix(issuer, "/"):
		return nil, fmt.Errorf("discovery document issuer %q does not match %q", meta.Issuer, issuer)
	}
	if meta.Issuer == "" {
		meta.Issuer = issuer
	}
	return &meta, nil
}
