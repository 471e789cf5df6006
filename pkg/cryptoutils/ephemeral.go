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

package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
)

// EphemeralKeypair is held only in memory for the lifetime of one signing
// call (spec.md §3). It is never persisted and Zeroize must be called on
// every exit path.
type EphemeralKeypair struct {
	priv *ecdsa.PrivateKey
}

// NewEphemeralKeypair generates an ECDSA P-256 keypair, the default
// algorithm per spec.md §3.
func NewEphemeralKeypair() (*EphemeralKeypair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: err}
	}
	return &EphemeralKeypair{priv: priv}, nil
}

// Public returns the public half of the keypair.
func (k *EphemeralKeypair) Public() *ecdsa.PublicKey {
	return &k.priv.PublicKey
}

// Sign produces an ECDSA signature over SHA-256(digest) using the
// ephemeral private key, per spec.md §4.1.
func (k *EphemeralKeypair) Sign(digest []byte) ([]byte, error) {
	d := HashBytes(digest)
	sig, err := ecdsa.SignASN1(rand.Reader, k.priv, d.Bytes)
	if err != nil {
		return nil, &sigerrors.CryptoError{Subkind: sigerrors.SignatureFailure, Err: err}
	}
	return sig, nil
}

// Zeroize scrubs the private scalar from memory. Called on every exit
// path of a signing call: success, failure, or cancellation (spec.md §4.7).
func (k *EphemeralKeypair) Zeroize() {
	if k == nil || k.priv == nil {
		return
	}
	if k.priv.D != nil {
		k.priv.D.SetInt64(0)
	}
	k.priv = nil
}
