// Copyright 2021 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sign is the keyless-signing orchestrator described in
// spec.md §4.7: OIDC identity acquisition, CA certificate issuance,
// and transparency-log anchoring, composed into one sign() pipeline.
package sign

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sigstore-contrib/coresign/pkg/oidcroot"
)

// Config is the orchestrator's ~8-knob configuration record, per
// spec.md §9: a flat typed struct, not a fluent builder with hidden
// state.
type Config struct {
	TUFRemoteURL    string
	TUFCacheDir     string
	OIDCIssuerURL   string
	OIDCClientID    string
	OIDCFlow        oidcroot.FlowKind
	CABaseURL       string
	TLogBaseURL     string
	HTTPClient      *http.Client
	Clock           func() time.Time
}

const (
	publicGoodTUFRemote  = "https://tuf-repo-cdn.sigstore.dev"
	publicGoodOIDCIssuer = "https://oauth2.sigstore.dev/auth"
	publicGoodOIDCClient = "sigstore"
	publicGoodCABaseURL  = "https://fulcio.sigstore.dev"
	publicGoodTLogURL    = "https://rekor.sigstore.dev"
)

// Defaults is the sigstore public-good instance configuration
// (spec.md §4.7's sigstorePublicDefaults()), with browser-interactive
// OIDC and the system clock.
var Defaults = Config{
	TUFRemoteURL:  publicGoodTUFRemote,
	OIDCIssuerURL: publicGoodOIDCIssuer,
	OIDCClientID:  publicGoodOIDCClient,
	OIDCFlow:      oidcroot.FlowBrowserInteractive,
	CABaseURL:     publicGoodCABaseURL,
	TLogBaseURL:   publicGoodTLogURL,
}

// PublicGoodDefaults returns a copy of Defaults with TUFCacheDir set,
// matching spec.md §4.7's sigstorePublicDefaults() preset.
func PublicGoodDefaults(tufCacheDir string) Config {
	cfg := Defaults
	cfg.TUFCacheDir = tufCacheDir
	return cfg
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// envOverlay mirrors the subset of Config an operator may override via
// environment variables, prefixed CORESIGN_ (e.g. CORESIGN_CA_BASE_URL).
type envOverlay struct {
	TUFRemoteURL  string `envconfig:"TUF_REMOTE_URL"`
	OIDCIssuerURL string `envconfig:"OIDC_ISSUER_URL"`
	OIDCClientID  string `envconfig:"OIDC_CLIENT_ID"`
	CABaseURL     string `envconfig:"CA_BASE_URL"`
	TLogBaseURL   string `envconfig:"TLOG_BASE_URL"`
}

// ApplyEnvOverrides overlays CORESIGN_*-prefixed environment variables
// onto cfg, leaving fields with no corresponding variable untouched.
func ApplyEnvOverrides(cfg *Config) error {
	var overlay envOverlay
	if err := envconfig.Process("coresign", &overlay); err != nil {
		return fmt.Errorf("sign: reading environment overrides: %w", err)
	}
	if overlay.TUFRemoteURL != "" {
		cfg.TUFRemoteURL = overlay.TUFRemoteURL
	}
	if overlay.OIDCIssuerURL != "" {
		cfg.OIDCIssuerURL = overlay.OIDCIssuerURL
	}
	if overlay.OIDCClientID != "" {
		cfg.OIDCClientID = overlay.OIDCClientID
	}
	if overlay.CABaseURL != "" {
		cfg.CABaseURL = overlay.CABaseURL
	}
	if overlay.TLogBaseURL != "" {
		cfg.TLogBaseURL = overlay.TLogBaseURL
	}
	return nil
}

func (c Config) clock() func() time.Time {
	if c.Clock != nil {
		return c.Clock
	}
	return time.Now
}
