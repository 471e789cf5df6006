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
	"crypto/rsa"
	"testing"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/assert"
)

func signTestIDToken(t *testing.T, sub, email string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	require.NoError(t, err)

	builder := josejwt.Signed(signer)
	claims := struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
		Exp     int64  `json:"exp"`
	}{Subject: sub, Email: email, Exp: time.Now().Add(time.Hour).Unix()}
	raw, err := builder.Claims(claims).Serialize()
	require.NoError(t, err)
	return raw
}

func TestSubjectFromIDToken_PrefersSub(t *testing.T) {
	tok := signTestIDToken(t, "subject-123", "someone@example.com")
	subject, err := subjectFromIDToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "subject-123", subject)
}

func TestSubjectFromIDToken_FallsBackToEmail(t *testing.T) {
	tok := signTestIDToken(t, "", "someone@example.com")
	subject, err := subjectFromIDToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "someone@example.com", subject)
}

func TestGetToken_UnknownFlow(t *testing.T) {
	_, err := GetToken(context.Background(), Config{Flow: "not-a-flow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flow kind")
}
