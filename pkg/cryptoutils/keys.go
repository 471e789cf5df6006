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

// Package cryptoutils implements the crypto primitives named in spec.md
// §4.1: PEM/DER public key parsing, ephemeral keypair generation, digest
// computation, and raw signature production/verification. PEM marshaling
// delegates to github.com/sigstore/sigstore/pkg/cryptoutils; PEM and DER
// parsing are done in this package with encoding/pem and crypto/x509.
package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/sigstore/sigstore/pkg/cryptoutils"

	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
)

// KeyAlgorithm tags the three algorithm families spec.md §4.1 names.
type KeyAlgorithm string

const (
	AlgorithmRSA     KeyAlgorithm = "RSA"
	AlgorithmECDSA   KeyAlgorithm = "ECDSA"
	AlgorithmEd25519 KeyAlgorithm = "Ed25519"
)

// ParsePEMPublicKey parses a single PEM-framed public key. Per spec.md
// §4.1, parsing fails if more than one PEM section is present, the
// section is empty, or the resulting algorithm is outside
// {RSA, ECDSA, Ed25519}. PKCS#1 "RSA PUBLIC KEY" sections are read as a
// (modulus, exponent) sequence; every other section is treated as
// SubjectPublicKeyInfo.
func ParsePEMPublicKey(pemBytes []byte) (crypto.PublicKey, KeyAlgorithm, error) {
	block, rest := pem.Decode(pemBytes)
	if block == nil {
		return nil, "", &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: fmt.Errorf("no PEM block found")}
	}
	if len(block.Bytes) == 0 {
		return nil, "", &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: fmt.Errorf("empty PEM section")}
	}
	if next, _ := pem.Decode(rest); next != nil {
		return nil, "", &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: fmt.Errorf("more than one PEM section present")}
	}

	var pub crypto.PublicKey
	var err error
	if block.Type == "RSA PUBLIC KEY" {
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	} else {
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	}
	if err != nil {
		return nil, "", &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: err}
	}

	switch pub.(type) {
	case *rsa.PublicKey:
		return pub, AlgorithmRSA, nil
	case *ecdsa.PublicKey:
		return pub, AlgorithmECDSA, nil
	case ed25519.PublicKey:
		return pub, AlgorithmEd25519, nil
	default:
		return nil, "", &sigerrors.CryptoError{Subkind: sigerrors.UnsupportedAlgorithm, Err: fmt.Errorf("unsupported key algorithm %T", pub)}
	}
}

// ParseDERPublicKey parses raw DER key material given an explicit
// algorithm label, rather than sniffing it from PEM framing.
func ParseDERPublicKey(der []byte, alg KeyAlgorithm) (crypto.PublicKey, error) {
	switch alg {
	case AlgorithmRSA:
		if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
			return pub, nil
		}
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: err}
		}
		if _, ok := pub.(*rsa.PublicKey); !ok {
			return nil, &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: fmt.Errorf("not an RSA key")}
		}
		return pub, nil
	case AlgorithmECDSA, AlgorithmEd25519:
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: err}
		}
		return pub, nil
	default:
		return nil, &sigerrors.CryptoError{Subkind: sigerrors.UnsupportedAlgorithm, Err: fmt.Errorf("unsupported algorithm %q", alg)}
	}
}

// MarshalPublicKeyPEM round-trips a public key back to PEM, delegating to
// sigstore/sigstore/pkg/cryptoutils which already gets the PKIX framing
// right for all three algorithm families.
func MarshalPublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	return cryptoutils.MarshalPublicKeyToPEM(pub)
}

// VerifyRawSignature verifies sig over message using pub, dispatching on
// key type the way spec.md §4.1 requires ("verify a signature against a
// public key and message").
func VerifyRawSignature(pub crypto.PublicKey, message, sig []byte) error {
	digest := HashBytes(message)
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest.Bytes, sig) {
			return &sigerrors.CryptoError{Subkind: sigerrors.SignatureFailure, Err: fmt.Errorf("ecdsa signature verification failed")}
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(k, message, sig) {
			return &sigerrors.CryptoError{Subkind: sigerrors.SignatureFailure, Err: fmt.Errorf("ed25519 signature verification failed")}
		}
		return nil
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(k, crypto.SHA256, digest.Bytes, sig); err != nil {
			return &sigerrors.CryptoError{Subkind: sigerrors.SignatureFailure, Err: err}
		}
		return nil
	default:
		return &sigerrors.CryptoError{Subkind: sigerrors.UnsupportedAlgorithm, Err: fmt.Errorf("unsupported public key type %T", pub)}
	}
}
