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
	"crypto/sha256"
	"hash"
	"io"
)

// Digest is a (algorithm, bytes) pair. The core uses SHA-256 exclusively.
type Digest struct {
	Algorithm string
	Bytes     []byte
}

const AlgorithmSHA256 = "sha256"

// HashBytes computes the SHA-256 digest of b.
func HashBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest{Algorithm: AlgorithmSHA256, Bytes: sum[:]}
}

// HashReader wraps an io.Reader, accumulating a SHA-256 digest over every
// byte read through it, so callers can stream a file once and obtain both
// its contents and its digest. Adapted from the teacher's
// internal/pkg/cosign.HashReader.
type HashReader struct {
	r io.Reader
	h hash.Hash
}

// NewHashReader wraps r, hashing everything read through it with h.
func NewHashReader(r io.Reader, h hash.Hash) HashReader {
	return HashReader{r: r, h: h}
}

func (h *HashReader) Read(b []byte) (int, error) {
	n, err := h.r.Read(b)
	if n > 0 {
		if n2, err2 := h.h.Write(b[:n]); err2 != nil {
			return n2, err2
		}
	}
	return n, err
}

// Sum returns the accumulated digest of everything read so far.
func (h *HashReader) Sum(b []byte) []byte {
	return h.h.Sum(b)
}

// DigestFile streams r fully and returns its SHA-256 digest.
func DigestFile(r io.Reader) (Digest, error) {
	hr := NewHashReader(r, sha256.New())
	if _, err := io.Copy(io.Discard, &hr); err != nil {
		return Digest{}, err
	}
	return Digest{Algorithm: AlgorithmSHA256, Bytes: hr.Sum(nil)}, nil
}
