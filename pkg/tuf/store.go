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
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/theupdateframework/go-tuf/data"

	"github.com/sigstore-contrib/coresign/internal/log"
)

// LocalStore is the persistent directory described in spec.md §3/§6: the
// most recently trusted root/timestamp/snapshot/targets metadata, plus
// every downloaded target file keyed by name. It is single-writer
// (spec.md §5); FileStore enforces that with an advisory file lock.
type LocalStore interface {
	GetRoot() (*data.Signed, error)
	GetTimestamp() (*data.Signed, error)
	GetSnapshot() (*data.Signed, error)
	GetTargets() (*data.Signed, error)
	GetTargetFile(name string) ([]byte, error)

	SetRoot(*data.Signed) error
	SetTimestamp(*data.Signed) error
	SetSnapshot(*data.Signed) error
	SetTargets(*data.Signed) error
	SetTargetFile(name string, content []byte) error

	// Lock acquires the single-writer lock for the duration of one
	// update() call; the returned func releases it.
	Lock() (unlock func(), err error)
}

// FileStore is the on-disk LocalStore: one JSON file per role plus
// targets/ for cached target files, matching spec.md §6's "Persisted
// state" wire layout exactly.
type FileStore struct {
	dir  string
	lock *flock.Flock
}

// NewFileStore opens (creating if absent) a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "targets"), 0o755); err != nil {
		return nil, errors.Wrap(err, "tuf: creating store directory")
	}
	return &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

func (s *FileStore) Lock() (func(), error) {
	if err := s.lock.Lock(); err != nil {
		return nil, errors.Wrap(err, "tuf: acquiring store lock")
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			log.Logger().Warnw("tuf: failed to release store lock", "error", err)
		}
	}, nil
}

func (s *FileStore) rolePath(role string) string {
	return filepath.Join(s.dir, role+".json")
}

func (s *FileStore) readSigned(role string) (*data.Signed, error) {
	b, err := os.ReadFile(s.rolePath(role))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "tuf: reading %s", role)
	}
	signed := &data.Signed{}
	if err := json.Unmarshal(b, signed); err != nil {
		return nil, errors.Wrapf(err, "tuf: parsing %s", role)
	}
	return signed, nil
}

// writeAtomic commits content to path via write-to-temp-then-rename, so a
// crash or cancellation mid-write leaves the previous file intact
// (spec.md §5).
func writeAtomic(path string, content []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return errors.Wrap(err, "tuf: writing temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "tuf: renaming temp file")
	}
	return nil
}

func (s *FileStore) writeSigned(role string, signed *data.Signed) error {
	b, err := json.Marshal(signed)
	if err != nil {
		return errors.Wrapf(err, "tuf: marshaling %s", role)
	}
	return writeAtomic(s.rolePath(role), b)
}

func (s *FileStore) GetRoot() (*data.Signed, error)      { return s.readSigned("root") }
func (s *FileStore) GetTimestamp() (*data.Signed, error) { return s.readSigned("timestamp") }
func (s *FileStore) GetSnapshot() (*data.Signed, error)  { return s.readSigned("snapshot") }
func (s *FileStore) GetTargets() (*data.Signed, error)   { return s.readSigned("targets") }

func (s *FileStore) SetRoot(signed *data.Signed) error      { return s.writeSigned("root", signed) }
func (s *FileStore) SetTimestamp(signed *data.Signed) error { return s.writeSigned("timestamp", signed) }
func (s *FileStore) SetSnapshot(signed *data.Signed) error  { return s.writeSigned("snapshot", signed) }
func (s *FileStore) SetTargets(signed *data.Signed) error   { return s.writeSigned("targets", signed) }

func (s *FileStore) targetPath(name string) string {
	return filepath.Join(s.dir, "targets", filepath.Clean(name))
}

func (s *FileStore) GetTargetFile(name string) ([]byte, error) {
	b, err := os.ReadFile(s.targetPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "tuf: reading cached target %s", name)
	}
	return b, nil
}

func (s *FileStore) SetTargetFile(name string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.targetPath(name)), 0o755); err != nil {
		return errors.Wrap(err, "tuf: creating target directory")
	}
	return writeAtomic(s.targetPath(name), content)
}
