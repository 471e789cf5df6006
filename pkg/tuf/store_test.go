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

package tuf

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/theupdateframework/go-tuf/data"
)

// TestFileStore_RoundTripsSignedRoleByteIdentical exercises spec.md §5's
// single-writer persistence: writing a role and reading it back must
// reproduce the exact same *data.Signed, not just an equivalent one, so
// that a client which sees no new version also sees no spurious diff.
func TestFileStore_RoundTripsSignedRoleByteIdentical(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	want := &data.Signed{
		Signed: json.RawMessage(`{"_type":"root","version":1}`),
		Signatures: []data.Signature{
			{KeyID: "abc123", Signature: []byte{0x01, 0x02, 0x03}},
		},
	}
	require.NoError(t, s.SetRoot(want))

	got, err := s.GetRoot()
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round-tripped root differs (-want +got):\n%s", diff)
	}
}

func TestFileStore_RoundTripsTargetFileBytes(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	content := []byte("target file contents")
	require.NoError(t, s.SetTargetFile("a/b/file.txt", content))

	got, err := s.GetTargetFile("a/b/file.txt")
	require.NoError(t, err)
	if diff := cmp.Diff(content, got); diff != "" {
		t.Fatalf("round-tripped target differs (-want +got):\n%s", diff)
	}
}
