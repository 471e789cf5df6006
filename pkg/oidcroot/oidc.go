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

// Package oidcroot obtains the identity token described in spec.md §4.4:
// a narrow (id-token, subject) pair, opaque beyond that to the caller.
package oidcroot

import (
	"context"
	"fmt"

	josejwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
)

// FlowKind selects how the identity token is obtained, per spec.md §4.4.
type FlowKind string

const (
	FlowBrowserInteractive FlowKind = "browser-interactive"
	FlowDeviceCode         FlowKind = "device-code"
	FlowAmbient            FlowKind = "ambient"
)

// Config configures the OIDC client: issuer URL, client-id, and flow kind.
type Config struct {
	IssuerURL string
	ClientID  string
	Flow      FlowKind

	// RedirectURLPort is used only by FlowBrowserInteractive, where a
	// local HTTP listener receives the authorization-code callback.
	RedirectURLPort int
}

// Token is the narrow result spec.md §4.4 requires: a signed identity JWT
// and the subject claim extracted from it, passed opaquely to the CA.
type Token struct {
	IDToken string
	Subject string
}

// Provider is implemented by each flow kind.
type Provider interface {
	Token(ctx context.Context, cfg Config) (Token, error)
}

// GetToken dispatches cfg.Flow to the matching Provider.
func GetToken(ctx context.Context, cfg Config) (Token, error) {
	var p Provider
	switch cfg.Flow {
	case FlowBrowserInteractive:
		p = BrowserProvider{}
	case FlowDeviceCode:
		p = DeviceCodeProvider{}
	case FlowAmbient:
		p = AmbientProvider{}
	default:
		return Token{}, &sigerrors.IdentityError{Flow: string(cfg.Flow), Err: fmt.Errorf("unknown flow kind")}
	}
	tok, err := p.Token(ctx, cfg)
	if err != nil {
		return Token{}, &sigerrors.IdentityError{Flow: string(cfg.Flow), Err: err}
	}
	return tok, nil
}

// subjectFromIDToken extracts the "sub" (falling back to "email") claim
// from idToken without verifying its signature — the CA, not this
// client, is the verifier of record for the token (spec.md §4.5).
func subjectFromIDToken(idToken string) (string, error) {
	tok, err := josejwt.ParseSigned(idToken, []josejwt.KeyAlgorithm{"RS256", "ES256"})
	if err != nil {
		return "", fmt.Errorf("parsing id token: %w", err)
	}
	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
	}
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return "", fmt.Errorf("reading id token claims: %w", err)
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	if claims.Email != "" {
		return claims.Email, nil
	}
	return "", fmt.Errorf("id token has neither sub nor email claim")
}
