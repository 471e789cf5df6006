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

package tlogclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/sigstore-contrib/coresign/internal/retry"
	"github.com/sigstore-contrib/coresign/pkg/cryptoutils"
	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
	"github.com/sigstore-contrib/coresign/pkg/trustroot"
)

// Config configures the transparency-log client.
type Config struct {
	BaseURL string
	Client  *http.Client
}

// Client submits and fetches entries against a Rekor-shaped log's
// /api/v1/log/entries endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against cfg.BaseURL.
func NewClient(cfg Config) *Client {
	c := cfg.Client
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{baseURL: cfg.BaseURL, http: c}
}

// InclusionProof is the Merkle inclusion proof a log returns alongside
// an accepted entry.
type InclusionProof struct {
	LogIndex int64
	TreeSize int64
	RootHash []byte
	Hashes   [][]byte
}

// Entry is the anchored transparency-log record (spec.md §4.6): the
// log-assigned position, the Signed Entry Timestamp attesting to it,
// and the inclusion proof tying it to a tree root.
type Entry struct {
	UUID           string
	LogIndex       int64
	IntegratedTime int64
	LogID          []byte
	Body           []byte // canonical entry body
	SET            []byte
	Inclusion      InclusionProof
}

type createResponseEntry struct {
	Body           string `json:"body"`
	IntegratedTime int64  `json:"integratedTime"`
	LogID          string `json:"logID"`
	LogIndex       int64  `json:"logIndex"`
	Verification   struct {
		SignedEntryTimestamp string `json:"signedEntryTimestamp"`
		InclusionProof       struct {
			LogIndex int64    `json:"logIndex"`
			RootHash string   `json:"rootHash"`
			TreeSize int64    `json:"treeSize"`
			Hashes   []string `json:"hashes"`
		} `json:"inclusionProof"`
	} `json:"verification"`
}

// Upload submits entryBody (built by NewHashedRekordEntry) to the log.
// A 409 Conflict — the entry already exists — is treated as success and
// the existing entry is fetched by its content-addressed UUID
// (spec.md §4.6's idempotent-submission requirement).
func Upload(ctx context.Context, c *Client, entryBody []byte) (*Entry, error) {
	canon, err := CanonicalizeEntry(entryBody)
	if err != nil {
		return nil, &sigerrors.TransparencyLogError{Subkind: sigerrors.MalformedResponse, Err: err}
	}
	uuid := EntryUUID(canon)

	var parsed map[string]createResponseEntry
	err = retry.Do(ctx, isRetryableTLogErr, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/log/entries", bytes.NewReader(entryBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return &sigerrors.IOError{Op: "tlog submit", Err: err}
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return &sigerrors.IOError{Op: "tlog submit read", Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusConflict:
			return fetchEntry(ctx, c, uuid, &parsed)
		case resp.StatusCode >= 500:
			return &sigerrors.TransparencyLogError{Subkind: sigerrors.SubmissionFailed, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", raw)}
		case resp.StatusCode != http.StatusCreated:
			return &sigerrors.TransparencyLogError{Subkind: sigerrors.SubmissionFailed, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", raw)}
		}
		return json.Unmarshal(raw, &parsed)
	})
	if err != nil {
		var tlogErr *sigerrors.TransparencyLogError
		if asTLogError(err, &tlogErr) {
			return nil, tlogErr
		}
		return nil, &sigerrors.TransparencyLogError{Subkind: sigerrors.SubmissionFailed, Err: err}
	}

	for respUUID, re := range parsed {
		return entryFromResponse(respUUID, re, canon)
	}
	return nil, &sigerrors.TransparencyLogError{Subkind: sigerrors.MalformedResponse, Err: fmt.Errorf("empty response body")}
}

func fetchEntry(ctx context.Context, c *Client, uuid string, out *map[string]createResponseEntry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/log/entries/"+uuid, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &sigerrors.IOError{Op: "tlog fetch", Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &sigerrors.IOError{Op: "tlog fetch read", Err: err}
	}
	if resp.StatusCode >= 500 {
		return &sigerrors.TransparencyLogError{Subkind: sigerrors.SubmissionFailed, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", raw)}
	}
	return json.Unmarshal(raw, out)
}

func entryFromResponse(uuid string, re createResponseEntry, fallbackBody []byte) (*Entry, error) {
	body := fallbackBody
	if re.Body != "" {
		decoded, err := base64.StdEncoding.DecodeString(re.Body)
		if err == nil {
			body = decoded
		}
	}
	logID, err := hex.DecodeString(re.LogID)
	if err != nil {
		return nil, &sigerrors.TransparencyLogError{Subkind: sigerrors.MalformedResponse, Err: fmt.Errorf("decoding logID: %w", err)}
	}
	set, err := base64.StdEncoding.DecodeString(re.Verification.SignedEntryTimestamp)
	if err != nil {
		return nil, &sigerrors.TransparencyLogError{Subkind: sigerrors.MalformedResponse, Err: fmt.Errorf("decoding SET: %w", err)}
	}
	rootHash, err := hex.DecodeString(re.Verification.InclusionProof.RootHash)
	if err != nil {
		return nil, &sigerrors.TransparencyLogError{Subkind: sigerrors.MalformedResponse, Err: fmt.Errorf("decoding root hash: %w", err)}
	}
	hashes := make([][]byte, 0, len(re.Verification.InclusionProof.Hashes))
	for _, h := range re.Verification.InclusionProof.Hashes {
		hb, err := hex.DecodeString(h)
		if err != nil {
			return nil, &sigerrors.TransparencyLogError{Subkind: sigerrors.MalformedResponse, Err: fmt.Errorf("decoding inclusion proof hash: %w", err)}
		}
		hashes = append(hashes, hb)
	}

	return &Entry{
		UUID:           uuid,
		LogIndex:       re.LogIndex,
		IntegratedTime: re.IntegratedTime,
		LogID:          logID,
		Body:           body,
		SET:            set,
		Inclusion: InclusionProof{
			LogIndex: re.Verification.InclusionProof.LogIndex,
			TreeSize: re.Verification.InclusionProof.TreeSize,
			RootHash: rootHash,
			Hashes:   hashes,
		},
	}, nil
}

func isRetryableTLogErr(err error) bool {
	var tlogErr *sigerrors.TransparencyLogError
	if asTLogError(err, &tlogErr) {
		return tlogErr.Retryable()
	}
	var ioErr *sigerrors.IOError
	return asIOError(err, &ioErr)
}

func asTLogError(err error, target **sigerrors.TransparencyLogError) bool {
	for err != nil {
		if te, ok := err.(*sigerrors.TransparencyLogError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func asIOError(err error, target **sigerrors.IOError) bool {
	for err != nil {
		if ioe, ok := err.(*sigerrors.IOError); ok {
			*target = ioe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// VerifyInclusion checks e's Merkle inclusion proof against its own
// claimed root hash (spec.md §4.6), using RFC 6962's leaf/node hashing.
func VerifyInclusion(e *Entry) error {
	canon, err := CanonicalizeEntry(e.Body)
	if err != nil {
		return &sigerrors.TransparencyLogError{Subkind: sigerrors.InclusionProofInvalid, Err: err}
	}
	leafHash := rfc6962.DefaultHasher.HashLeaf(canon)
	if err := proof.VerifyInclusion(
		rfc6962.DefaultHasher,
		uint64(e.Inclusion.LogIndex),
		uint64(e.Inclusion.TreeSize),
		leafHash,
		e.Inclusion.Hashes,
		e.Inclusion.RootHash,
	); err != nil {
		return &sigerrors.TransparencyLogError{Subkind: sigerrors.InclusionProofInvalid, Err: err}
	}
	return nil
}

// VerifySET checks e's Signed Entry Timestamp against the matching
// TransparencyLog entry in tr (spec.md §4.6), over the canonical JSON
// bundle {body, integratedTime, logIndex, logID} Rekor actually signs.
func VerifySET(tr *trustroot.TrustedRoot, e *Entry) error {
	integratedAt := time.Unix(e.IntegratedTime, 0)
	tlog, ok := tr.FindTLog(trustroot.LogID(e.LogID), integratedAt)
	if !ok {
		return &sigerrors.TransparencyLogError{Subkind: sigerrors.SETInvalid, Err: fmt.Errorf("no transparency log in trust root matches log id at integration time")}
	}

	bundle := struct {
		Body           string `json:"body"`
		IntegratedTime int64  `json:"integratedTime"`
		LogIndex       int64  `json:"logIndex"`
		LogID          string `json:"logID"`
	}{
		Body:           base64.StdEncoding.EncodeToString(e.Body),
		IntegratedTime: e.IntegratedTime,
		LogIndex:       e.LogIndex,
		LogID:          hex.EncodeToString(e.LogID),
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return &sigerrors.TransparencyLogError{Subkind: sigerrors.SETInvalid, Err: err}
	}
	canon, err := CanonicalizeEntry(raw)
	if err != nil {
		return &sigerrors.TransparencyLogError{Subkind: sigerrors.SETInvalid, Err: err}
	}

	if err := cryptoutils.VerifyRawSignature(tlog.PublicKey, canon, e.SET); err != nil {
		return &sigerrors.TransparencyLogError{Subkind: sigerrors.SETInvalid, Err: err}
	}
	return nil
}
