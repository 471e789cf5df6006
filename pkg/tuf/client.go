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

// Package tuf implements the version-monotonic, hash-checked TUF client
// described in spec.md §4.3: root rotation with two-sided signature
// verification, rollback-protected timestamp/snapshot refresh, and
// length+hash-exact target retrieval. The verification primitives
// (data.Signed, verify.DB) are theupdateframework/go-tuf's, used the way
// the pack's rekor/pki/tuf package uses them.
package tuf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/theupdateframework/go-tuf/data"
	"github.com/theupdateframework/go-tuf/verify"

	"github.com/sigstore-contrib/coresign/internal/log"
	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
	"github.com/sigstore-contrib/coresign/pkg/trustroot"
)

// Phase is a state in the per-refresh state machine of spec.md §4.3:
// Idle -> RootRotating -> TimestampVerifying -> SnapshotVerifying ->
// TargetsVerifying -> Ready, with failure transitions to Failed.
type Phase string

const (
	PhaseIdle                Phase = "Idle"
	PhaseRootRotating        Phase = "RootRotating"
	PhaseTimestampVerifying  Phase = "TimestampVerifying"
	PhaseSnapshotVerifying   Phase = "SnapshotVerifying"
	PhaseTargetsVerifying    Phase = "TargetsVerifying"
	PhaseReady               Phase = "Ready"
	PhaseFailed              Phase = "Failed"
)

// Clock is injected for testability; time.Now in production.
type Clock func() time.Time

// Client is a TUF updater bound to one LocalStore and one Remote. Not
// concurrency-safe (spec.md §5): refresh before sharing a Client across
// goroutines.
type Client struct {
	store      LocalStore
	remote     Remote
	clock      Clock
	phase      Phase
	failReason error

	trustedRoot       *data.Root
	trustedRootSigned *data.Signed
	trustedTimestamp  *data.Timestamp
	trustedSnapshot   *data.Snapshot
	trustedTargets    *data.Targets
}

// NewClient constructs a Client. initialRoot is the embedded
// trust-on-first-use 1.root.json used only when the store has no trusted
// root yet.
func NewClient(store LocalStore, remote Remote, initialRoot []byte, clock Clock) (*Client, error) {
	if clock == nil {
		clock = time.Now
	}
	c := &Client{store: store, remote: remote, clock: clock, phase: PhaseIdle}

	signed, err := store.GetRoot()
	if err != nil {
		return nil, err
	}
	if signed == nil {
		signed = &data.Signed{}
		if err := json.Unmarshal(initialRoot, signed); err != nil {
			return nil, fmt.Errorf("tuf: parsing embedded initial root: %w", err)
		}
		root := &data.Root{}
		if err := json.Unmarshal(signed.Signed, root); err != nil {
			return nil, fmt.Errorf("tuf: parsing embedded initial root body: %w", err)
		}
		db, err := dbFromRoot(root)
		if err != nil {
			return nil, err
		}
		if err := db.Verify(signed, "root", 0); err != nil {
			return nil, fmt.Errorf("tuf: embedded initial root does not self-verify: %w", err)
		}
		c.trustedRoot, c.trustedRootSigned = root, signed
		return c, nil
	}

	root := &data.Root{}
	if err := json.Unmarshal(signed.Signed, root); err != nil {
		return nil, fmt.Errorf("tuf: parsing stored root: %w", err)
	}
	c.trustedRoot, c.trustedRootSigned = root, signed
	return c, nil
}

// Phase reports the state-machine phase of the most recent Update call.
func (c *Client) Phase() Phase { return c.phase }

func dbFromRoot(root *data.Root) (*verify.DB, error) {
	db := verify.NewDB()
	for id, key := range root.Keys {
		if err := db.AddKey(id, key); err != nil {
			return nil, fmt.Errorf("tuf: adding key %s: %w", id, err)
		}
	}
	for name, role := range root.Roles {
		if err := db.AddRole(name, role); err != nil {
			return nil, fmt.Errorf("tuf: adding role %s: %w", name, err)
		}
	}
	return db, nil
}

// Update brings the local store to the latest consistent state anchored
// on the trusted root, implementing spec.md §4.3's six-step algorithm.
// Each role's new metadata is written to the store as soon as that role
// verifies, so a failure leaves the roles verified earlier in the same
// call committed; the failing role and the roles after it keep their
// previous contents. The update is not all-or-nothing across roles; with
// FileStore, each single file write is a write-to-temp-then-rename.
func (c *Client) Update(ctx context.Context) error {
	unlock, err := c.store.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	c.phase = PhaseIdle
	if err := c.rotateRoot(ctx); err != nil {
		return c.fail(err)
	}
	if c.trustedRoot.Expires.Before(c.clock()) {
		return c.fail(&sigerrors.TrustRootRefreshError{Subkind: sigerrors.ExpiredMetadata, Role: "root"})
	}

	if err := c.refreshTimestamp(ctx); err != nil {
		return c.fail(err)
	}
	if err := c.refreshSnapshot(ctx); err != nil {
		return c.fail(err)
	}
	if err := c.refreshTargets(ctx); err != nil {
		return c.fail(err)
	}

	c.phase = PhaseReady
	return nil
}

func (c *Client) fail(err error) error {
	c.phase = PhaseFailed
	c.failReason = err
	log.Logger().Debugw("tuf: update failed", "phase", c.phase, "error", err)
	return err
}

// rotateRoot implements spec.md §4.3 step 1: fetch {N+1}.root.json until
// a 404, verifying each candidate under both the previous and its own
// root-role keys, requiring a strict +1 version increment.
func (c *Client) rotateRoot(ctx context.Context) error {
	c.phase = PhaseRootRotating
	current := c.trustedRoot
	currentSigned := c.trustedRootSigned
	rotated := false

	for {
		next := current.Version + 1
		raw, ok, err := c.remote.FetchRoot(ctx, next)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		signed := &data.Signed{}
		if err := json.Unmarshal(raw, signed); err != nil {
			return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "root", Err: err}
		}

		prevDB, err := dbFromRoot(current)
		if err != nil {
			return err
		}
		if err := prevDB.Verify(signed, "root", 0); err != nil {
			return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "root", Err: err}
		}

		candidate := &data.Root{}
		if err := json.Unmarshal(signed.Signed, candidate); err != nil {
			return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.VersionMismatch, Role: "root", Err: err}
		}
		if candidate.Version != next {
			return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.VersionMismatch, Role: "root", Expected: next, Actual: candidate.Version}
		}

		selfDB, err := dbFromRoot(candidate)
		if err != nil {
			return err
		}
		if err := selfDB.Verify(signed, "root", 0); err != nil {
			return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "root", Err: err}
		}

		current, currentSigned = candidate, signed
		rotated = true
	}

	if rotated {
		if err := c.store.SetRoot(currentSigned); err != nil {
			return err
		}
	}
	c.trustedRoot, c.trustedRootSigned = current, currentSigned
	return nil
}

func (c *Client) rootDB() (*verify.DB, error) { return dbFromRoot(c.trustedRoot) }

// refreshTimestamp implements spec.md §4.3 step 3.
func (c *Client) refreshTimestamp(ctx context.Context) error {
	c.phase = PhaseTimestampVerifying
	raw, err := c.remote.FetchTimestamp(ctx)
	if err != nil {
		return err
	}
	signed := &data.Signed{}
	if err := json.Unmarshal(raw, signed); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "timestamp", Err: err}
	}
	db, err := c.rootDB()
	if err != nil {
		return err
	}
	if err := db.Verify(signed, "timestamp", 0); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "timestamp", Err: err}
	}

	next := &data.Timestamp{}
	if err := json.Unmarshal(signed.Signed, next); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.VersionMismatch, Role: "timestamp", Err: err}
	}

	if storedSigned, err := c.store.GetTimestamp(); err != nil {
		return err
	} else if storedSigned != nil {
		stored := &data.Timestamp{}
		if err := json.Unmarshal(storedSigned.Signed, stored); err == nil {
			switch {
			case next.Version < stored.Version:
				return sigerrors.NewRollbackError("timestamp", stored.Version, next.Version)
			case next.Version == stored.Version:
				if !bytes.Equal(signed.Signed, storedSigned.Signed) {
					return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.VersionMismatch, Role: "timestamp", Expected: stored.Version, Actual: next.Version}
				}
			}
		}
	}

	if next.Expires.Before(c.clock()) {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.ExpiredMetadata, Role: "timestamp"}
	}

	if err := c.store.SetTimestamp(signed); err != nil {
		return err
	}
	c.trustedTimestamp = next
	return nil
}

// refreshSnapshot implements spec.md §4.3 step 4.
func (c *Client) refreshSnapshot(ctx context.Context) error {
	c.phase = PhaseSnapshotVerifying
	meta, ok := c.trustedTimestamp.Meta["snapshot.json"]
	if !ok {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.TargetMissing, Role: "timestamp", Target: "snapshot.json"}
	}

	raw, err := c.remote.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	if int64(len(raw)) != meta.Length {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.TargetLengthMismatch, Role: "snapshot", Expected: meta.Length, Actual: len(raw)}
	}
	if err := verifyHashes(raw, meta.Hashes); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.TargetHashMismatch, Role: "snapshot", Err: err}
	}

	signed := &data.Signed{}
	if err := json.Unmarshal(raw, signed); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "snapshot", Err: err}
	}
	db, err := c.rootDB()
	if err != nil {
		return err
	}
	if err := db.Verify(signed, "snapshot", 0); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "snapshot", Err: err}
	}

	next := &data.Snapshot{}
	if err := json.Unmarshal(signed.Signed, next); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.VersionMismatch, Role: "snapshot", Err: err}
	}
	if next.Version != meta.Version {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.VersionMismatch, Role: "snapshot", Expected: meta.Version, Actual: next.Version}
	}

	if storedSigned, err := c.store.GetSnapshot(); err != nil {
		return err
	} else if storedSigned != nil {
		stored := &data.Snapshot{}
		if err := json.Unmarshal(storedSigned.Signed, stored); err == nil {
			for name, oldMeta := range stored.Meta {
				if newMeta, ok := next.Meta[name]; ok && newMeta.Version < oldMeta.Version {
					return sigerrors.NewRollbackError(name, oldMeta.Version, newMeta.Version)
				}
			}
		}
	}

	if next.Expires.Before(c.clock()) {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.ExpiredMetadata, Role: "snapshot"}
	}

	if err := c.store.SetSnapshot(signed); err != nil {
		return err
	}
	c.trustedSnapshot = next
	return nil
}

// refreshTargets implements spec.md §4.3 step 5 for the top-level
// targets role only; delegated targets roles are out of scope (see
// Non-goals) and GetTargetBytes looks names up directly in this role's
// Targets map.
func (c *Client) refreshTargets(ctx context.Context) error {
	c.phase = PhaseTargetsVerifying
	meta, ok := c.trustedSnapshot.Meta["targets.json"]
	if !ok {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.TargetMissing, Role: "snapshot", Target: "targets.json"}
	}

	raw, err := c.remote.FetchTargets(ctx)
	if err != nil {
		return err
	}
	if meta.Length != 0 && int64(len(raw)) != meta.Length {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.TargetLengthMismatch, Role: "targets", Expected: meta.Length, Actual: len(raw)}
	}
	if len(meta.Hashes) > 0 {
		if err := verifyHashes(raw, meta.Hashes); err != nil {
			return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.TargetHashMismatch, Role: "targets", Err: err}
		}
	}

	signed := &data.Signed{}
	if err := json.Unmarshal(raw, signed); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "targets", Err: err}
	}
	db, err := c.rootDB()
	if err != nil {
		return err
	}
	if err := db.Verify(signed, "targets", 0); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.SignatureThresholdNotMet, Role: "targets", Err: err}
	}

	next := &data.Targets{}
	if err := json.Unmarshal(signed.Signed, next); err != nil {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.VersionMismatch, Role: "targets", Err: err}
	}
	if next.Expires.Before(c.clock()) {
		return &sigerrors.TrustRootRefreshError{Subkind: sigerrors.ExpiredMetadata, Role: "targets"}
	}

	if err := c.store.SetTargets(signed); err != nil {
		return err
	}
	c.trustedTargets = next
	return nil
}

func verifyHashes(raw []byte, hashes data.Hashes) error {
	for algo, want := range hashes {
		var got []byte
		switch algo {
		case "sha256":
			sum := sha256.Sum256(raw)
			got = sum[:]
		case "sha512":
			sum := sha512.Sum512(raw)
			got = sum[:]
		default:
			continue
		}
		if hex.EncodeToString(got) != hex.EncodeToString([]byte(want)) {
			return fmt.Errorf("hash mismatch for algorithm %s", algo)
		}
	}
	return nil
}

// GetTargetBytes returns the bytes of a named target, guaranteed
// length-exact and hash-exact per the current targets metadata
// (spec.md §4.3 step 6). Bytes are cached in the local store keyed by
// name; on any mismatch, nothing is cached.
func (c *Client) GetTargetBytes(ctx context.Context, name string) ([]byte, error) {
	if c.trustedTargets == nil {
		return nil, fmt.Errorf("tuf: no verified targets metadata; call Update first")
	}
	meta, ok := c.trustedTargets.Targets[name]
	if !ok {
		return nil, sigerrors.NewTargetMissingError(name)
	}

	if cached, err := c.store.GetTargetFile(name); err == nil && cached != nil {
		if int64(len(cached)) == meta.Length && verifyHashes(cached, meta.Hashes) == nil {
			return cached, nil
		}
	}

	raw, err := c.remote.FetchTarget(ctx, name)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) != meta.Length {
		return nil, sigerrors.NewTargetLengthError(name, int(meta.Length), len(raw))
	}
	if err := verifyHashes(raw, meta.Hashes); err != nil {
		for algo, want := range meta.Hashes {
			return nil, sigerrors.NewTargetHashError(name, algo, hex.EncodeToString([]byte(want)), "mismatch")
		}
		return nil, sigerrors.NewTargetHashError(name, "", "", "mismatch")
	}

	if err := c.store.SetTargetFile(name, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// TrustedRoot fetches and parses "trusted_root.json" as the trust-root
// model described in spec.md §3, the convenience path the signing
// orchestrator uses at construction.
func (c *Client) TrustedRoot(ctx context.Context) (*trustroot.TrustedRoot, error) {
	raw, err := c.GetTargetBytes(ctx, "trusted_root.json")
	if err != nil {
		return nil, err
	}
	return trustroot.Parse(raw)
}
