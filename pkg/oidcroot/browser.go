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
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/sigstore-contrib/coresign/internal/log"
)

// BrowserProvider implements the interactive authorization-code flow
// (spec.md §4.4, "browser-interactive"): a local callback listener plus
// the system browser, matching cosign's --oidc-* flag defaults.
type BrowserProvider struct{}

func (BrowserProvider) Token(ctx context.Context, cfg Config) (Token, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return Token{}, fmt.Errorf("discovering oidc provider: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.RedirectURLPort))
	if err != nil {
		return Token{}, fmt.Errorf("opening callback listener: %w", err)
	}
	defer ln.Close()
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/auth/callback", ln.Addr().(*net.TCPAddr).Port)

	oauthCfg := &oauth2.Config{
		ClientID:    cfg.ClientID,
		Endpoint:    provider.Endpoint(),
		RedirectURL: redirectURL,
		Scopes:      []string{oidc.ScopeOpenID, "email"},
	}

	state, err := randomString(32)
	if err != nil {
		return Token{}, err
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			errCh <- errors.New("oidc callback: state mismatch")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			errCh <- fmt.Errorf("oidc provider returned error: %s", errMsg)
			http.Error(w, errMsg, http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errCh <- errors.New("oidc callback: missing code")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "You may close this window.")
		codeCh <- code
	})}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger().Warnw("oidc callback server exited", "error", err)
		}
	}()
	defer srv.Close()

	authURL := oauthCfg.AuthCodeURL(state)
	if err := browser.OpenURL(authURL); err != nil {
		log.Logger().Infow("could not auto-open browser, visit the URL manually", "url", authURL)
	}

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return Token{}, err
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case <-time.After(5 * time.Minute):
		return Token{}, errors.New("oidc: timed out waiting for browser authorization")
	}

	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return Token{}, fmt.Errorf("exchanging authorization code: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Token{}, errors.New("oidc: token response missing id_token")
	}
	subject, err := subjectFromIDToken(rawIDToken)
	if err != nil {
		return Token{}, err
	}
	return Token{IDToken: rawIDToken, Subject: subject}, nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
