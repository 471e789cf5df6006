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

package sign

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAll_EmptyInputNoNetworkCalls(t *testing.T) {
	s := &Signer{} // ca/tlog/tufClient deliberately nil: any use would panic
	bundles, err := s.SignAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, bundles)
}

func TestDigestFile_MatchesKnownSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	digest, err := digestFile(path)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", hexString(digest))
}

func TestDedupPaths_PreservesFirstOccurrenceOrder(t *testing.T) {
	got := dedupPaths([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSignFiles_EmptyInputNoNetworkCalls(t *testing.T) {
	s := &Signer{} // ca/tlog deliberately nil: SignFiles must not reach them
	bundles, err := s.SignFiles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}
