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

package oidcroot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spiffe/go-spiffe/v2/svid/jwtsvid"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
	"google.golang.org/api/idtoken"

	"github.com/sigstore-contrib/coresign/internal/log"
)

// AmbientProvider walks the ambient-credential detectors cosign uses
// (spec.md §4.4, "ambient"): SPIFFE Workload API, GCP's metadata server,
// and the GitHub Actions OIDC request-token endpoint, in that order,
// using whichever responds first.
type AmbientProvider struct{}

func (AmbientProvider) Token(ctx context.Context, cfg Config) (Token, error) {
	detectors := []func(context.Context, Config) (Token, error){
		spiffeToken,
		gcpToken,
		githubActionsToken,
	}
	var errs []error
	for _, detect := range detectors {
		tok, err := detect(ctx, cfg)
		if err == nil {
			return tok, nil
		}
		errs = append(errs, err)
	}
	return Token{}, fmt.Errorf("ambient: no ambient credential detected: %w", errors.Join(errs...))
}

func spiffeToken(ctx context.Context, cfg Config) (Token, error) {
	source, err := workloadapi.NewJWTSource(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("spiffe: connecting to workload api: %w", err)
	}
	defer source.Close()

	svid, err := source.FetchJWTSVID(ctx, jwtsvid.Params{Audience: cfg.ClientID})
	if err != nil {
		return Token{}, fmt.Errorf("spiffe: fetching jwt-svid: %w", err)
	}
	subject, err := subjectFromIDToken(svid.Marshal())
	if err != nil {
		subject = svid.ID.String()
	}
	return Token{IDToken: svid.Marshal(), Subject: subject}, nil
}

func gcpToken(ctx context.Context, cfg Config) (Token, error) {
	ts, err := idtoken.NewTokenSource(ctx, cfg.ClientID)
	if err != nil {
		return Token{}, fmt.Errorf("gcp: creating id-token source: %w", err)
	}
	tok, err := ts.Token()
	if err != nil {
		return Token{}, fmt.Errorf("gcp: fetching id token from metadata server: %w", err)
	}
	subject, err := subjectFromIDToken(tok.AccessToken)
	if err != nil {
		return Token{}, err
	}
	return Token{IDToken: tok.AccessToken, Subject: subject}, nil
}

// githubActionsToken implements the ACTIONS_ID_TOKEN_REQUEST_URL flow
// documented by GitHub Actions' OIDC integration; no dedicated SDK in
// the corpus covers it, so it is a direct HTTP call.
func githubActionsToken(ctx context.Context, cfg Config) (Token, error) {
	reqURL := os.Getenv("ACTIONS_ID_TOKEN_REQUEST_URL")
	reqToken := os.Getenv("ACTIONS_ID_TOKEN_REQUEST_TOKEN")
	if reqURL == "" || reqToken == "" {
		return Token{}, errors.New("github actions: not running in Actions (no ACTIONS_ID_TOKEN_REQUEST_URL)")
	}

	url := reqURL
	if cfg.ClientID != "" {
		url += "&audience=" + cfg.ClientID
	}
	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(httpCtx, http.MethodGet, url, nil)
	if err != nil {
		return Token{}, fmt.Errorf("github actions: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+reqToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("github actions: requesting id token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("github actions: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("github actions: request token endpoint returned %d", resp.StatusCode)
	}

	var parsed struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, fmt.Errorf("github actions: parsing response: %w", err)
	}
	if parsed.Value == "" {
		return Token{}, errors.New("github actions: empty id token in response")
	}
	subject, err := subjectFromIDToken(parsed.Value)
	if err != nil {
		return Token{}, err
	}
	log.Logger().Debugw("obtained ambient credential from github actions")
	return Token{IDToken: parsed.Value, Subject: subject}, nil
}
