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

// Package trustroot is the in-memory representation of the set of CAs and
// transparency logs a signer considers authoritative at a given time
// (spec.md §3/§4.2). It is parsed from the Protocol-Buffers "TrustedRoot"
// message (spec.md §6), grounded on the parsing shape of
// sigstore-go's pkg/root.
package trustroot

import (
	"crypto"
	"crypto/subtle"
	"crypto/x509"
	"fmt"
	"time"

	protocommon "github.com/sigstore/protobuf-specs/gen/pb-go/common/v1"
	prototrustroot "github.com/sigstore/protobuf-specs/gen/pb-go/trustroot/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// TrustedRootMediaType is the only media type this parser accepts.
const TrustedRootMediaType = "application/vnd.dev.sigstore.trustedroot+json;version=0.1"

// ValidityWindow is a pair (start, optional end). A window with no end is
// "current" (spec.md §3).
type ValidityWindow struct {
	Start time.Time
	End   *time.Time
}

// Current reports whether the window has no end, i.e. is the unbounded,
// presently-active entry of its kind.
func (v ValidityWindow) Current() bool { return v.End == nil }

// Contains reports whether t falls within [Start, End] (End absent means
// unbounded).
func (v ValidityWindow) Contains(t time.Time) bool {
	if t.Before(v.Start) {
		return false
	}
	return v.End == nil || !t.After(*v.End)
}

// CertificateAuthority is a CA's URL, X.509 subject chain, and validity
// window (spec.md §3).
type CertificateAuthority struct {
	URI           string
	Root          *x509.Certificate
	Intermediates []*x509.Certificate
	Validity      ValidityWindow
}

// Chain returns intermediates followed by the root, the order
// x509.Verify expects in a certificate pool.
func (ca CertificateAuthority) Chain() []*x509.Certificate {
	out := make([]*x509.Certificate, 0, len(ca.Intermediates)+1)
	out = append(out, ca.Intermediates...)
	if ca.Root != nil {
		out = append(out, ca.Root)
	}
	return out
}

// LogID is an opaque byte string identifying a transparency log, typically
// SHA-256 of the log's DER-encoded public key (spec.md §3).
type LogID []byte

// Equal does constant-time comparison, per spec.md §4.2 "equality on
// log-id is constant-time byte equality".
func (id LogID) Equal(other LogID) bool {
	return len(id) == len(other) && subtle.ConstantTimeCompare(id, other) == 1
}

// TransparencyLog is a (log-id, base URL, public key, hash function,
// validity) tuple (spec.md §3); no signature algorithm is recorded. Used
// for both TLogs and CTLogs.
type TransparencyLog struct {
	LogID      LogID
	BaseURL    string
	PublicKey  crypto.PublicKey
	HashFunc   crypto.Hash
	Validity   ValidityWindow
}

// TrustedRoot holds the sets of CAs, TLogs, and CTLogs a signer trusts
// (spec.md §3). Immutable once constructed and freely shareable across
// goroutines (spec.md §5).
type TrustedRoot struct {
	CAs    []CertificateAuthority
	TLogs  []TransparencyLog
	CTLogs []TransparencyLog
}

// Parse builds a TrustedRoot from the raw protojson bytes of a
// prototrustroot.TrustedRoot message (spec.md §6), validating the
// at-most-one-unbounded-entry invariant for each of CAs/TLogs/CTLogs
// eagerly so a structurally invalid trust root never leaves this
// constructor.
func Parse(raw []byte) (*TrustedRoot, error) {
	pb := &prototrustroot.TrustedRoot{}
	if err := protojson.Unmarshal(raw, pb); err != nil {
		return nil, fmt.Errorf("trustroot: unmarshal: %w", err)
	}
	if pb.GetMediaType() != TrustedRootMediaType {
		return nil, fmt.Errorf("trustroot: unsupported media type %q", pb.GetMediaType())
	}

	cas, err := parseCertificateAuthorities(pb.GetCertificateAuthorities())
	if err != nil {
		return nil, err
	}
	tlogs, err := parseTransparencyLogs(pb.GetTlogs())
	if err != nil {
		return nil, err
	}
	ctlogs, err := parseTransparencyLogs(pb.GetCtlogs())
	if err != nil {
		return nil, err
	}

	tr := &TrustedRoot{CAs: cas, TLogs: tlogs, CTLogs: ctlogs}
	if err := tr.validateSingleCurrent(); err != nil {
		return nil, err
	}
	return tr, nil
}

func (tr *TrustedRoot) validateSingleCurrent() error {
	if n := countCurrentCAs(tr.CAs); n > 1 {
		return fmt.Errorf("trustroot: %d current (unbounded) certificate authorities, expected at most 1", n)
	}
	if n := countCurrentLogs(tr.TLogs); n > 1 {
		return fmt.Errorf("trustroot: %d current (unbounded) tlogs, expected at most 1", n)
	}
	if n := countCurrentLogs(tr.CTLogs); n > 1 {
		return fmt.Errorf("trustroot: %d current (unbounded) ctlogs, expected at most 1", n)
	}
	return nil
}

func countCurrentCAs(cas []CertificateAuthority) int {
	n := 0
	for _, ca := range cas {
		if ca.Validity.Current() {
			n++
		}
	}
	return n
}

func countCurrentLogs(logs []TransparencyLog) int {
	n := 0
	for _, l := range logs {
		if l.Validity.Current() {
			n++
		}
	}
	return n
}

// CAsValidAt lists every CA whose validity window contains t
// (spec.md §4.2).
func (tr *TrustedRoot) CAsValidAt(t time.Time) []CertificateAuthority {
	var out []CertificateAuthority
	for _, ca := range tr.CAs {
		if ca.Validity.Contains(t) {
			out = append(out, ca)
		}
	}
	return out
}

// FindTLog returns the first TLog matching (id, t), per spec.md §4.2's
// "linear scan, first match" lookup semantics.
func (tr *TrustedRoot) FindTLog(id LogID, t time.Time) (*TransparencyLog, bool) {
	return findLog(tr.TLogs, id, t)
}

// FindCTLog returns the first CTLog matching (id, t).
func (tr *TrustedRoot) FindCTLog(id LogID, t time.Time) (*TransparencyLog, bool) {
	return findLog(tr.CTLogs, id, t)
}

func findLog(logs []TransparencyLog, id LogID, t time.Time) (*TransparencyLog, bool) {
	for i := range logs {
		if logs[i].LogID.Equal(id) && logs[i].Validity.Contains(t) {
			return &logs[i], true
		}
	}
	return nil, false
}

// CurrentCA returns the unique unbounded CA, failing loudly if the count
// is not exactly 1 (spec.md §4.2, §9 Open Question — resolved: exactly one
// unbounded CA is required, CA rotation overlap is expected to always
// leave one and only one without an end).
func (tr *TrustedRoot) CurrentCA() (*CertificateAuthority, error) {
	var found *CertificateAuthority
	count := 0
	for i := range tr.CAs {
		if tr.CAs[i].Validity.Current() {
			found = &tr.CAs[i]
			count++
		}
	}
	if count != 1 {
		return nil, fmt.Errorf("trustroot: expected exactly 1 current CA, found %d", count)
	}
	return found, nil
}

// CurrentTLog returns the unique unbounded TLog.
func (tr *TrustedRoot) CurrentTLog() (*TransparencyLog, error) {
	return currentLog(tr.TLogs, "tlog")
}

// CurrentCTLog returns the unique unbounded CTLog.
func (tr *TrustedRoot) CurrentCTLog() (*TransparencyLog, error) {
	return currentLog(tr.CTLogs, "ctlog")
}

func currentLog(logs []TransparencyLog, kind string) (*TransparencyLog, error) {
	var found *TransparencyLog
	count := 0
	for i := range logs {
		if logs[i].Validity.Current() {
			found = &logs[i]
			count++
		}
	}
	if count != 1 {
		return nil, fmt.Errorf("trustroot: expected exactly 1 current %s, found %d", kind, count)
	}
	return found, nil
}

func parseValidity(v *protocommon.TimeRange) ValidityWindow {
	if v == nil {
		return ValidityWindow{}
	}
	w := ValidityWindow{}
	if s := v.GetStart(); s != nil {
		w.Start = s.AsTime()
	}
	if e := v.GetEnd(); e != nil {
		t := e.AsTime()
		w.End = &t
	}
	return w
}

func parseCertificateAuthorities(in []*prototrustroot.CertificateAuthority) ([]CertificateAuthority, error) {
	out := make([]CertificateAuthority, 0, len(in))
	for _, pbCA := range in {
		chain := pbCA.GetCertChain()
		if chain == nil || len(chain.GetCertificates()) == 0 {
			return nil, fmt.Errorf("trustroot: certificate authority missing cert chain")
		}
		certs := chain.GetCertificates()
		ca := CertificateAuthority{
			URI:      pbCA.GetUri(),
			Validity: parseValidity(pbCA.GetValidFor()),
		}
		for i, c := range certs {
			parsed, err := x509.ParseCertificate(c.GetRawBytes())
			if err != nil {
				return nil, fmt.Errorf("trustroot: parsing CA certificate: %w", err)
			}
			if i == len(certs)-1 {
				ca.Root = parsed
			} else {
				ca.Intermediates = append(ca.Intermediates, parsed)
			}
		}
		out = append(out, ca)
	}
	return out, nil
}

func parseTransparencyLogs(in []*prototrustroot.TransparencyLogInstance) ([]TransparencyLog, error) {
	out := make([]TransparencyLog, 0, len(in))
	for _, pbLog := range in {
		if pbLog.GetHashAlgorithm() != protocommon.HashAlgorithm_SHA2_256 {
			return nil, fmt.Errorf("trustroot: unsupported log hash algorithm %v", pbLog.GetHashAlgorithm())
		}
		keyID := pbLog.GetLogId().GetKeyId()
		if len(keyID) == 0 {
			return nil, fmt.Errorf("trustroot: log missing log-id")
		}
		rawKey := pbLog.GetPublicKey().GetRawBytes()
		if len(rawKey) == 0 {
			return nil, fmt.Errorf("trustroot: log missing public key")
		}
		pub, err := x509.ParsePKIXPublicKey(rawKey)
		if err != nil {
			return nil, fmt.Errorf("trustroot: parsing log public key: %w", err)
		}
		out = append(out, TransparencyLog{
			LogID:     LogID(keyID),
			BaseURL:   pbLog.GetBaseUrl(),
			PublicKey: pub,
			HashFunc:  crypto.SHA256,
			Validity:  parseValidity(pbLog.GetPublicKey().GetValidFor()),
		})
	}
	return out, nil
}
