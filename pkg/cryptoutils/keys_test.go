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
	"bytes"
	"crypto/ecdsa"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePEMPublicKey_ECDSA(t *testing.T) {
	kp, err := NewEphemeralKeypair()
	require.NoError(t, err)

	pemBytes, err := MarshalPublicKeyPEM(kp.Public())
	require.NoError(t, err)

	pub, alg, err := ParsePEMPublicKey(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmECDSA, alg)
	_, ok := pub.(*ecdsa.PublicKey)
	assert.True(t, ok)
}

func TestParsePEMPublicKey_RejectsMultipleSections(t *testing.T) {
	kp, err := NewEphemeralKeypair()
	require.NoError(t, err)
	one, err := MarshalPublicKeyPEM(kp.Public())
	require.NoError(t, err)

	doubled := append(bytes.Clone(one), one...)
	_, _, err = ParsePEMPublicKey(doubled)
	assert.Error(t, err)
}

func TestParsePEMPublicKey_RejectsEmptySection(t *testing.T) {
	empty := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: nil})
	_, _, err := ParsePEMPublicKey(empty)
	assert.Error(t, err)
}

func TestEphemeralKeypair_SignVerify(t *testing.T) {
	kp, err := NewEphemeralKeypair()
	require.NoError(t, err)
	defer kp.Zeroize()

	digest := HashBytes([]byte("hello")).Bytes
	sig, err := kp.Sign(digest)
	require.NoError(t, err)

	// Sign hashes digest again before signing (spec.md §4.1), so verify
	// against that same pre-image.
	err = VerifyRawSignature(kp.Public(), digest, sig)
	assert.NoError(t, err)
}

func TestZeroize_ClearsPrivateKey(t *testing.T) {
	kp, err := NewEphemeralKeypair()
	require.NoError(t, err)
	kp.Zeroize()
	assert.Nil(t, kp.priv)
}

func TestDigestFile_EmptyInput(t *testing.T) {
	d, err := DigestFile(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hexString(d.Bytes))
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
