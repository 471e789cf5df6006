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

// Package caclient issues short-lived signing certificates from a
// Fulcio-shaped CA, per spec.md §4.5: a request carrying the OIDC
// identity plus a proof-of-possession signature over it, exchanged for
// a leaf certificate chained to one of the trust root's CAs.
package caclient

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sigstore-contrib/coresign/internal/retry"
	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
	"github.com/sigstore-contrib/coresign/pkg/trustroot"
)

// Config configures the CA client.
type Config struct {
	BaseURL string
	Client  *http.Client
}

// Client issues certificates against a Fulcio-shaped CA's
// /api/v2/signingCert endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	c := cfg.Client
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{baseURL: cfg.BaseURL, http: c}, nil
}

// CertificateChain is the certificate issuance result: the leaf
// certificate signed by the CA, followed in Chain by the remaining
// certificates of the CA's response in the order returned (intermediates,
// and the root when the CA includes it).
type CertificateChain struct {
	Leaf  *x509.Certificate
	Chain []*x509.Certificate
}

type signingCertRequest struct {
	Credentials      credentials      `json:"credentials"`
	PublicKeyRequest publicKeyRequest `json:"publicKeyRequest"`
}

type credentials struct {
	OIDCIdentityToken string `json:"oidcIdentityToken"`
}

type publicKeyRequest struct {
	PublicKey         publicKey `json:"publicKey"`
	ProofOfPossession string    `json:"proofOfPossession"`
}

type publicKey struct {
	Algorithm string `json:"algorithm"`
	Content   string `json:"content"`
}

type signingCertResponse struct {
	SignedCertificateEmbeddedSct *signedCertificate `json:"signedCertificateEmbeddedSct"`
	SignedCertificateDetachedSct *signedCertificate `json:"signedCertificateDetachedSct"`
}

type signedCertificate struct {
	Chain struct {
		Certificates []string `json:"certificates"`
	} `json:"chain"`
}

// RequestCertificate builds a proof-of-possession signature over
// idToken with signFn, and exchanges idToken + pub for a certificate
// chain (spec.md §4.5).
func RequestCertificate(
	ctx context.Context,
	c *Client,
	idToken string,
	pub *ecdsa.PublicKey,
	signFn func(digest []byte) ([]byte, error),
) (*CertificateChain, error) {
	proof, err := proofOfPossession(idToken, signFn)
	if err != nil {
		return nil, &sigerrors.CertificateError{Subkind: sigerrors.CertProofOfPossessionFailed, Err: err}
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, &sigerrors.CertificateError{Subkind: sigerrors.CertProofOfPossessionFailed, Err: err}
	}

	reqBody := signingCertRequest{
		Credentials: credentials{OIDCIdentityToken: idToken},
		PublicKeyRequest: publicKeyRequest{
			PublicKey:         publicKey{Algorithm: "ECDSA", Content: base64.StdEncoding.EncodeToString(pubDER)},
			ProofOfPossession: base64.StdEncoding.EncodeToString(proof),
		},
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &sigerrors.CertificateError{Subkind: sigerrors.CertIssuanceFailed, Err: err}
	}

	var respBody signingCertResponse
	err = retry.Do(ctx, isRetryableCAErr, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/signingCert", bytes.NewReader(reqJSON))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+idToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return &sigerrors.IOError{Op: "fulcio signing cert", Err: err}
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return &sigerrors.IOError{Op: "fulcio signing cert read", Err: err}
		}
		switch {
		case resp.StatusCode >= 500:
			return &sigerrors.IOError{Op: "fulcio signing cert", Err: fmt.Errorf("server error %d: %s", resp.StatusCode, raw)}
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return &sigerrors.CertificateError{Subkind: sigerrors.CertIdentityRejected, Err: fmt.Errorf("%d: %s", resp.StatusCode, raw)}
		case resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK:
			return &sigerrors.CertificateError{Subkind: sigerrors.CertIssuanceFailed, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)}
		}
		return json.Unmarshal(raw, &respBody)
	})
	if err != nil {
		var certErr *sigerrors.CertificateError
		if asCertificateError(err, &certErr) {
			return nil, certErr
		}
		return nil, &sigerrors.CertificateError{Subkind: sigerrors.CertIssuanceFailed, Err: err}
	}

	signed := respBody.SignedCertificateEmbeddedSct
	if signed == nil {
		signed = respBody.SignedCertificateDetachedSct
	}
	if signed == nil || len(signed.Chain.Certificates) == 0 {
		return nil, &sigerrors.CertificateError{Subkind: sigerrors.CertChainUnparseable, Err: fmt.Errorf("response carried no certificate chain")}
	}

	var pemChain []byte
	for _, c := range signed.Chain.Certificates {
		pemChain = append(pemChain, c...)
		pemChain = append(pemChain, '\n')
	}
	chain, err := parsePEMChain(pemChain)
	if err != nil {
		return nil, &sigerrors.CertificateError{Subkind: sigerrors.CertChainUnparseable, Err: err}
	}
	if len(chain) == 0 {
		return nil, &sigerrors.CertificateError{Subkind: sigerrors.CertChainUnparseable, Err: fmt.Errorf("empty certificate chain in response")}
	}
	return &CertificateChain{Leaf: chain[0], Chain: chain[1:]}, nil
}

// proofOfPossession signs the SHA-256 digest of the OIDC identity
// token, proving the requester controls both the identity and the key
// being bound to it.
func proofOfPossession(idToken string, signFn func([]byte) ([]byte, error)) ([]byte, error) {
	digest := sha256.Sum256([]byte(idToken))
	return signFn(digest[:])
}

func parsePEMChain(raw []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func isRetryableCAErr(err error) bool {
	var certErr *sigerrors.CertificateError
	if asCertificateError(err, &certErr) {
		return false
	}
	var ioErr *sigerrors.IOError
	return asIOError(err, &ioErr)
}

func asCertificateError(err error, target **sigerrors.CertificateError) bool {
	for err != nil {
		if ce, ok := err.(*sigerrors.CertificateError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func asIOError(err error, target **sigerrors.IOError) bool {
	for err != nil {
		if ioe, ok := err.(*sigerrors.IOError); ok {
			*target = ioe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// VerifyChain checks chain.Leaf + chain.Chain against one of tr's CAs
// valid at t (spec.md §4.5's leaf/chain validation), and that the
// leaf's public key matches pub exactly.
func VerifyChain(tr *trustroot.TrustedRoot, chain *CertificateChain, pub *ecdsa.PublicKey, t time.Time) error {
	leafDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return &sigerrors.CertificateError{Subkind: sigerrors.PublicKeyMismatch, Err: err}
	}
	gotDER, err := x509.MarshalPKIXPublicKey(chain.Leaf.PublicKey)
	if err != nil {
		return &sigerrors.CertificateError{Subkind: sigerrors.PublicKeyMismatch, Err: err}
	}
	if !bytes.Equal(leafDER, gotDER) {
		return &sigerrors.CertificateError{Subkind: sigerrors.PublicKeyMismatch, Err: fmt.Errorf("leaf certificate public key does not match signing key")}
	}
	if t.Before(chain.Leaf.NotBefore) {
		return &sigerrors.CertificateError{Subkind: sigerrors.NotYetValid, Err: fmt.Errorf("time %s before certificate validity window", t)}
	}
	if t.After(chain.Leaf.NotAfter) {
		return &sigerrors.CertificateError{Subkind: sigerrors.Expired, Err: fmt.Errorf("time %s after certificate validity window", t)}
	}

	cas := tr.CAsValidAt(t)
	var lastErr error
	for _, ca := range cas {
		roots := x509.NewCertPool()
		roots.AddCert(ca.Root)
		inter := x509.NewCertPool()
		for _, cert := range chain.Chain {
			inter.AddCert(cert)
		}
		for _, cert := range ca.Intermediates {
			inter.AddCert(cert)
		}
		_, err := chain.Leaf.Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: inter,
			CurrentTime:   t,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning, x509.ExtKeyUsageAny},
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no certificate authority valid at %s", t)
	}
	return &sigerrors.CertificateError{Subkind: sigerrors.CAVerificationFailed, Err: lastErr}
}
