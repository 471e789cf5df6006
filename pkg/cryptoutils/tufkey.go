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
	"encoding/json"
	"fmt"

	"github.com/theupdateframework/go-tuf/data"

	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
)

// TUFKeyScheme is the closed set of schemes spec.md §4.1 allows for
// constructing a TUF-style key from raw bytes.
type TUFKeyScheme string

const (
	SchemeEd25519          TUFKeyScheme = "ed25519"
	SchemeECDSASHA2NistP256 TUFKeyScheme = "ecdsa-sha2-nistp256"
)

// NewTUFKey constructs a *data.Key from raw public-key bytes and a scheme
// name, for embedding into hand-built TUF root metadata or for comparing
// against a fetched root's key database. raw is the hex-decodable public
// value go-tuf expects in keyval.public (32-byte Ed25519 point, or the
// PKIX-encoded ECDSA point for nistp256).
func NewTUFKey(scheme TUFKeyScheme, raw []byte) (*data.Key, error) {
	switch scheme {
	case SchemeEd25519, SchemeECDSASHA2NistP256:
	default:
		return nil, &sigerrors.CryptoError{Subkind: sigerrors.UnsupportedAlgorithm, Err: fmt.Errorf("unsupported tuf key scheme %q", scheme)}
	}

	value := data.KeyValue{Public: data.HexBytes(raw)}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return nil, &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: err}
	}

	keyType := string(scheme)
	if scheme == SchemeECDSASHA2NistP256 {
		keyType = "ecdsa-sha2-nistp256"
	}

	return &data.Key{
		Type:       keyType,
		Scheme:     string(scheme),
		Algorithms: data.HashAlgorithms,
		Value:      valueJSON,
	}, nil
}
