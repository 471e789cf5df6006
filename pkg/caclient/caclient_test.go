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

package caclient

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/assert"

	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
	"github.com/sigstore-contrib/coresign/pkg/trustroot"
)

func selfSignedCodeSigningCert(t *testing.T, pub *ecdsa.PublicKey, caKey *ecdsa.PrivateKey, caCert *x509.Certificate) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test leaf"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, pub, caKey)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func selfSignedCA(t *testing.T) (*ecdsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func TestRequestCertificate_ParsesChainFromResponse(t *testing.T) {
	caKey, caCert := selfSignedCA(t)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafPEM := selfSignedCodeSigningCert(t, &leafKey.PublicKey, caKey, caCert)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req signingCertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fake-id-token", req.Credentials.OIDCIdentityToken)
		assert.NotEmpty(t, req.PublicKeyRequest.ProofOfPossession)

		resp := signingCertResponse{SignedCertificateEmbeddedSct: &signedCertificate{}}
		resp.SignedCertificateEmbeddedSct.Chain.Certificates = []string{string(leafPEM)}
		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	chain, err := RequestCertificate(context.Background(), c, "fake-id-token", &leafKey.PublicKey, func(digest []byte) ([]byte, error) {
		return []byte("signature-bytes"), nil
	})
	require.NoError(t, err)
	require.NotNil(t, chain.Leaf)
	assert.Equal(t, "test leaf", chain.Leaf.Subject.CommonName)
}

func TestRequestCertificate_RejectsIdentityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"identity rejected"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = RequestCertificate(context.Background(), c, "bad-token", &key.PublicKey, func(digest []byte) ([]byte, error) {
		return []byte("sig"), nil
	})
	require.Error(t, err)
	var certErr *sigerrors.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, sigerrors.CertIdentityRejected, certErr.Subkind)
}

func TestVerifyChain_RejectsKeyMismatch(t *testing.T) {
	caKey, caCert := selfSignedCA(t)
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafPEM := selfSignedCodeSigningCert(t, &leafKey.PublicKey, caKey, caCert)
	block, _ := pem.Decode(leafPEM)
	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	tr := &trustroot.TrustedRoot{
		CAs: []trustroot.CertificateAuthority{{
			Root:      caCert,
			Validity:  trustroot.ValidityWindow{Start: time.Now().Add(-time.Hour)},
		}},
	}

	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	err = VerifyChain(tr, &CertificateChain{Leaf: leaf}, &otherKey.PublicKey, time.Now())
	require.Error(t, err)
	var certErr *sigerrors.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, sigerrors.PublicKeyMismatch, certErr.Subkind)
}
