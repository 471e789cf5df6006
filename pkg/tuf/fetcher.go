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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/sigstore-contrib/coresign/internal/retry"
	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
)

// Remote fetches TUF role metadata and target files from the mirror
// described by spec.md §6. Versioned root files are requested as
// "{version}.root.json"; everything else is unversioned unless consistent
// snapshots are enabled.
type Remote interface {
	// FetchRoot fetches {version}.root.json. ok is false on a 404,
	// signalling the end of the root-rotation loop (spec.md §4.3 step 1).
	FetchRoot(ctx context.Context, version int64) (content []byte, ok bool, err error)
	FetchTimestamp(ctx context.Context) ([]byte, error)
	FetchSnapshot(ctx context.Context) ([]byte, error)
	FetchTargets(ctx context.Context) ([]byte, error)
	FetchTarget(ctx context.Context, name string) ([]byte, error)
}

// HTTPRemote is the production Remote: a plain HTTP GET against a base
// URL, each call bounded by internal/retry's 3-attempt exponential
// backoff for transient failures.
type HTTPRemote struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPRemote constructs an HTTPRemote with a sane default client if c
// is nil.
func NewHTTPRemote(baseURL string, c *http.Client) *HTTPRemote {
	if c == nil {
		c = http.DefaultClient
	}
	return &HTTPRemote{BaseURL: baseURL, Client: c}
}

func (r *HTTPRemote) get(ctx context.Context, relPath string) ([]byte, int, error) {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return nil, 0, fmt.Errorf("tuf: invalid remote base url: %w", err)
	}
	u.Path = path.Join(u.Path, relPath)

	var body []byte
	var status int
	err = retry.Do(ctx, isRetryableHTTPErr, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := r.Client.Do(req)
		if err != nil {
			return &sigerrors.IOError{Op: "tuf fetch " + relPath, Err: err}
		}
		defer resp.Body.Close()
		status = resp.StatusCode
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &sigerrors.IOError{Op: "tuf read " + relPath, Err: err}
		}
		if status >= 500 {
			return &sigerrors.IOError{Op: "tuf fetch " + relPath, Err: fmt.Errorf("server error %d", status)}
		}
		return nil
	})
	return body, status, err
}

func isRetryableHTTPErr(err error) bool {
	var ioErr *sigerrors.IOError
	return asIOError(err, &ioErr)
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

func (r *HTTPRemote) FetchRoot(ctx context.Context, version int64) ([]byte, bool, error) {
	body, status, err := r.get(ctx, strconv.FormatInt(version, 10)+".root.json")
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (r *HTTPRemote) FetchTimestamp(ctx context.Context) ([]byte, error) {
	body, _, err := r.get(ctx, "timestamp.json")
	return body, err
}

func (r *HTTPRemote) FetchSnapshot(ctx context.Context) ([]byte, error) {
	body, _, err := r.get(ctx, "snapshot.json")
	return body, err
}

func (r *HTTPRemote) FetchTargets(ctx context.Context) ([]byte, error) {
	body, _, err := r.get(ctx, "targets.json")
	return body, err
}

func (r *HTTPRemote) FetchTarget(ctx context.Context, name string) ([]byte, error) {
	body, _, err := r.get(ctx, path.Join("targets", name))
	return body, err
}
