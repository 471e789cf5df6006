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

// Package tlogclient anchors a signature in a transparency log shaped
// like Rekor (spec.md §4.6): a hashedrekord entry submitted and
// verified for inclusion and freshness.
package tlogclient

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// hashedRekordEntry is the hashedrekord v0.0.1 entry body Rekor accepts
// for signatures over a pre-hashed artifact: the signature, the
// signing public key, and the artifact digest, with no raw payload
// ever transmitted to the log.
type hashedRekordEntry struct {
	Kind       string `json:"kind"`
	APIVersion string `json:"apiVersion"`
	Spec       struct {
		Signature struct {
			Format    string `json:"format"`
			Content   string `json:"content"`
			PublicKey struct {
				Content string `json:"content"`
			} `json:"publicKey"`
		} `json:"signature"`
		Data struct {
			Hash struct {
				Algorithm string `json:"algorithm"`
				Value     string `json:"value"`
			} `json:"hash"`
		} `json:"data"`
	} `json:"spec"`
}

// NewHashedRekordEntry builds the entry body for a digest/signature/
// public-key triple.
func NewHashedRekordEntry(digest, sig, pubKeyPEM []byte) []byte {
	var e hashedRekordEntry
	e.Kind = "hashedrekord"
	e.APIVersion = "0.0.1"
	e.Spec.Signature.Format = "x509"
	e.Spec.Signature.Content = base64.StdEncoding.EncodeToString(sig)
	e.Spec.Signature.PublicKey.Content = base64.StdEncoding.EncodeToString(pubKeyPEM)
	e.Spec.Data.Hash.Algorithm = "sha256"
	e.Spec.Data.Hash.Value = hex.EncodeToString(digest)
	b, _ := json.Marshal(e)
	return b
}

// CanonicalizeEntry returns the JSON Canonicalization Scheme (RFC 8785)
// encoding of an entry body, the exact bytes Rekor hashes to produce
// the entry's content-addressed UUID (spec.md §4.6).
func CanonicalizeEntry(entryBody []byte) ([]byte, error) {
	canon, err := jsoncanonicalizer.Transform(entryBody)
	if err != nil {
		return nil, fmt.Errorf("tlogclient: canonicalizing entry: %w", err)
	}
	return canon, nil
}

// EntryUUID computes the content-addressed log entry identifier: the
// hex SHA-256 of the entry's canonical body. Deliberately not
// google/uuid — the UUID here is derived, not generated.
func EntryUUID(canonicalEntry []byte) string {
	sum := sha256.Sum256(canonicalEntry)
	return hex.EncodeToString(sum[:])
}
