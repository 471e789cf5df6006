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
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theupdateframework/go-tuf/data"
)

// memStore is an in-memory LocalStore for tests.
type memStore struct {
	root, timestamp, snapshot, targets *data.Signed
	targetFiles                        map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{targetFiles: map[string][]byte{}}
}

func (m *memStore) GetRoot() (*data.Signed, error)      { return m.root, nil }
func (m *memStore) GetTimestamp() (*data.Signed, error) { return m.timestamp, nil }
func (m *memStore) GetSnapshot() (*data.Signed, error)  { return m.snapshot, nil }
func (m *memStore) GetTargets() (*data.Signed, error)   { return m.targets, nil }
func (m *memStore) GetTargetFile(name string) ([]byte, error) {
	return m.targetFiles[name], nil
}
func (m *memStore) SetRoot(s *data.Signed) error      { m.root = s; return nil }
func (m *memStore) SetTimestamp(s *data.Signed) error { m.timestamp = s; return nil }
func (m *memStore) SetSnapshot(s *data.Signed) error  { m.snapshot = s; return nil }
func (m *memStore) SetTargets(s *data.Signed) error   { m.targets = s; return nil }
func (m *memStore) SetTargetFile(name string, content []byte) error {
	m.targetFiles[name] = content
	return nil
}
func (m *memStore) Lock() (func(), error) { return func() {}, nil }

// fakeRemote serves fixed role/target bytes from maps, for deterministic
// tests without a network.
type fakeRemote struct {
	roots   map[int64][]byte
	ts      []byte
	snap    []byte
	tgts    []byte
	targets map[string][]byte
}

func (f *fakeRemote) FetchRoot(_ context.Context, version int64) ([]byte, bool, error) {
	b, ok := f.roots[version]
	return b, ok, nil
}
func (f *fakeRemote) FetchTimestamp(context.Context) ([]byte, error) { return f.ts, nil }
func (f *fakeRemote) FetchSnapshot(context.Context) ([]byte, error)  { return f.snap, nil }
func (f *fakeRemote) FetchTargets(context.Context) ([]byte, error)   { return f.tgts, nil }
func (f *fakeRemote) FetchTarget(_ context.Context, name string) ([]byte, error) {
	return f.targets[name], nil
}

func signRole(t *testing.T, priv ed25519.PrivateKey, keyID string, v any) *data.Signed {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	body, err := jsoncanonicalizer.Transform(raw)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, body)
	return &data.Signed{
		Signed: body,
		Signatures: []data.Signature{{
			KeyID:     keyID,
			Signature: data.HexBytes(sig),
		}},
	}
}

func tufKeyFromEd25519(pub ed25519.PublicKey) (*data.Key, string) {
	value, _ := json.Marshal(data.KeyValue{Public: data.HexBytes(pub)})
	k := &data.Key{Type: "ed25519", Scheme: "ed25519", Value: value}
	return k, k.ID()
}

func newTestRoot(t *testing.T, version int64, pub ed25519.PublicKey, keyID string, expires time.Time) *data.Root {
	t.Helper()
	k, _ := tufKeyFromEd25519(pub)
	role := &data.Role{KeyIDs: []string{keyID}, Threshold: 1}
	return &data.Root{
		Type:    "root",
		Version: version,
		Expires: expires,
		Keys:    map[string]*data.Key{keyID: k},
		Roles: map[string]*data.Role{
			"root":      role,
			"timestamp": role,
			"snapshot":  role,
			"targets":   role,
		},
	}
}

func hashesOf(b []byte) data.Hashes {
	sum := sha256.Sum256(b)
	return data.Hashes{"sha256": data.HexBytes(sum[:])}
}

func TestUpdate_RollbackTimestampDetected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, keyID := tufKeyFromEd25519(pub)

	root := newTestRoot(t, 1, pub, keyID, time.Now().Add(365*24*time.Hour))
	signedRoot := signRole(t, priv, keyID, root)

	store := newMemStore()
	require.NoError(t, store.SetRoot(signedRoot))

	storedTS := &data.Timestamp{Type: "timestamp", Version: 10, Expires: time.Now().Add(time.Hour)}
	require.NoError(t, store.SetTimestamp(signRole(t, priv, keyID, storedTS)))

	fetchedTS := &data.Timestamp{Type: "timestamp", Version: 9, Expires: time.Now().Add(time.Hour)}
	remote := &fakeRemote{
		roots: map[int64][]byte{},
		ts:    marshalSigned(t, signRole(t, priv, keyID, fetchedTS)),
	}

	c, err := NewClient(store, remote, marshalSigned(t, signedRoot), nil)
	require.NoError(t, err)

	err = c.Update(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollback")
	assert.Equal(t, PhaseFailed, c.Phase())
}

func marshalSigned(t *testing.T, s *data.Signed) []byte {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestGetTargetBytes_LengthMismatchCachesNothing(t *testing.T) {
	store := newMemStore()
	c := &Client{
		store: store,
		trustedTargets: &data.Targets{
			Targets: data.TargetFiles{
				"trusted_root.json": data.TargetFileMeta{
					FileMeta: data.FileMeta{Length: 120, Hashes: hashesOf(make([]byte, 120))},
				},
			},
		},
	}
	remote := &fakeRemote{targets: map[string][]byte{"trusted_root.json": make([]byte, 121)}}
	c.remote = remote

	_, err := c.GetTargetBytes(context.Background(), "trusted_root.json")
	require.Error(t, err)
	assert.Nil(t, store.targetFiles["trusted_root.json"])
}

func TestGetTargetBytes_MissingTarget(t *testing.T) {
	c := &Client{
		store:          newMemStore(),
		remote:         &fakeRemote{},
		trustedTargets: &data.Targets{Targets: data.TargetFiles{}},
	}
	_, err := c.GetTargetBytes(context.Background(), "trusted_root.json")
	require.Error(t, err)
}
