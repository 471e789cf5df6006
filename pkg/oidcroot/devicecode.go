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
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/sigstore-contrib/coresign/internal/log"
)

// DeviceCodeProvider implements RFC 8628 for headless environments
// (spec.md §4.4, "device-code"): the user completes authorization on a
// second device while this process polls the token endpoint.
type DeviceCodeProvider struct{}

func (DeviceCodeProvider) Token(ctx context.Context, cfg Config) (Token, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return Token{}, fmt.Errorf("discovering oidc provider: %w", err)
	}
	oauthCfg := &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: provider.Endpoint(),
		Scopes:   []string{oidc.ScopeOpenID, "email"},
	}

	resp, err := oauthCfg.DeviceAuth(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("starting device authorization: %w", err)
	}

	log.Logger().Infow("complete sign-in to continue",
		"verification_uri", resp.VerificationURI,
		"user_code", resp.UserCode)
	if resp.VerificationURIComplete != "" {
		log.Logger().Infow("or open directly", "url", resp.VerificationURIComplete)
	}

	tok, err := oauthCfg.DeviceAccessToken(ctx, resp)
	if err != nil {
		return Token{}, fmt.Errorf("polling for device token: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Token{}, errors.New("oidc: device token response missing id_token")
	}
	subject, err := subjectFromIDToken(rawIDToken)
	if err != nil {
		return Token{}, err
	}
	return Token{IDToken: rawIDToken, Subject: subject}, nil
}
