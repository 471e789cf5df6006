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

// Package sigerrors defines the error taxonomy for the signing core: one
// Go type per kind, carrying enough context to diagnose without string
// matching.
package sigerrors

import "fmt"

// TrustRootRefreshSubkind enumerates the ways a TUF refresh can fail.
type TrustRootRefreshSubkind string

const (
	RollbackDetected        TrustRootRefreshSubkind = "RollbackDetected"
	ExpiredMetadata         TrustRootRefreshSubkind = "ExpiredMetadata"
	SignatureThresholdNotMet TrustRootRefreshSubkind = "SignatureThresholdNotMet"
	VersionMismatch         TrustRootRefreshSubkind = "VersionMismatch"
	TargetMissing           TrustRootRefreshSubkind = "TargetMissing"
	TargetHashMismatch      TrustRootRefreshSubkind = "TargetHashMismatch"
	TargetLengthMismatch    TrustRootRefreshSubkind = "TargetLengthMismatch"
)

// TrustRootRefreshError reports a failure during TUF metadata refresh or
// target retrieval. Role, and the expected/actual values relevant to the
// subkind, are carried for diagnosis.
type TrustRootRefreshError struct {
	Subkind  TrustRootRefreshSubkind
	Role     string
	Target   string
	Expected any
	Actual   any
	Err      error
}

func (e *TrustRootRefreshError) Error() string {
	switch e.Subkind {
	case TargetMissing:
		return fmt.Sprintf("tuf: target metadata missing: %s", e.Target)
	case TargetHashMismatch:
		return fmt.Sprintf("tuf: hash mismatch for target %s: expected %v, got %v", e.Target, e.Expected, e.Actual)
	case TargetLengthMismatch:
		return fmt.Sprintf("tuf: length mismatch for target %s: expected %v, got %v", e.Target, e.Expected, e.Actual)
	case RollbackDetected:
		return fmt.Sprintf("tuf: rollback detected on role %s: stored version %v, fetched version %v", e.Role, e.Expected, e.Actual)
	case VersionMismatch:
		return fmt.Sprintf("tuf: version mismatch on role %s: expected %v, got %v", e.Role, e.Expected, e.Actual)
	case ExpiredMetadata:
		return fmt.Sprintf("tuf: role %s metadata expired", e.Role)
	case SignatureThresholdNotMet:
		return fmt.Sprintf("tuf: signature threshold not met for role %s", e.Role)
	default:
		return fmt.Sprintf("tuf: refresh failed (%s) for role %s", e.Subkind, e.Role)
	}
}

func (e *TrustRootRefreshError) Unwrap() error { return e.Err }

// Convenience constructors matching spec.md §8's literal scenarios.

func NewRollbackError(role string, stored, fetched int64) *TrustRootRefreshError {
	return &TrustRootRefreshError{Subkind: RollbackDetected, Role: role, Expected: stored, Actual: fetched}
}

func NewTargetMissingError(name string) *TrustRootRefreshError {
	return &TrustRootRefreshError{Subkind: TargetMissing, Target: name}
}

func NewTargetLengthError(name string, expected, actual int) *TrustRootRefreshError {
	return &TrustRootRefreshError{Subkind: TargetLengthMismatch, Target: name, Expected: expected, Actual: actual}
}

func NewTargetHashError(name string, algo, expected, actual string) *TrustRootRefreshError {
	return &TrustRootRefreshError{Subkind: TargetHashMismatch, Target: name, Expected: algo + ":" + expected, Actual: algo + ":" + actual}
}

// CryptoSubkind enumerates crypto-primitive failures.
type CryptoSubkind string

const (
	InvalidKeySpec      CryptoSubkind = "InvalidKeySpec"
	UnsupportedAlgorithm CryptoSubkind = "UnsupportedAlgorithm"
	SignatureFailure    CryptoSubkind = "SignatureFailure"
)

type CryptoError struct {
	Subkind CryptoSubkind
	Err     error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: %s: %v", e.Subkind, e.Err)
	}
	return fmt.Sprintf("crypto: %s", e.Subkind)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// IdentityError reports OIDC flow failure.
type IdentityError struct {
	Flow string
	Err  error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity: flow %s failed: %v", e.Flow, e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// CertificateSubkind enumerates CA-verification failures.
type CertificateSubkind string

const (
	CAVerificationFailed CertificateSubkind = "CAVerificationFailed"
	PublicKeyMismatch    CertificateSubkind = "PublicKeyMismatch"
	NotYetValid          CertificateSubkind = "NotYetValid"
	Expired              CertificateSubkind = "Expired"

	// CertProofOfPossessionFailed through CertChainUnparseable cover the
	// CA issuance leg of spec.md §4.5, ahead of the verification leg the
	// four subkinds above already describe.
	CertProofOfPossessionFailed CertificateSubkind = "ProofOfPossessionFailed"
	CertIssuanceFailed          CertificateSubkind = "IssuanceFailed"
	CertIdentityRejected        CertificateSubkind = "IdentityRejected"
	CertChainUnparseable        CertificateSubkind = "ChainUnparseable"
)

// CertificateError is FulcioVerificationException from spec.md §4.5.
type CertificateError struct {
	Subkind CertificateSubkind
	Err     error
}

func (e *CertificateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("certificate: %s: %v", e.Subkind, e.Err)
	}
	return fmt.Sprintf("certificate: %s", e.Subkind)
}

func (e *CertificateError) Unwrap() error { return e.Err }

// TransparencyLogSubkind enumerates Rekor client failures.
type TransparencyLogSubkind string

const (
	SubmissionFailed      TransparencyLogSubkind = "SubmissionFailed"
	MalformedResponse     TransparencyLogSubkind = "MalformedResponse"
	InclusionProofInvalid TransparencyLogSubkind = "InclusionProofInvalid"
	SETInvalid            TransparencyLogSubkind = "SETInvalid"
)

// TransparencyLogError is RekorVerificationException/RekorParseException
// from spec.md §4.6, unified by subkind.
type TransparencyLogError struct {
	Subkind    TransparencyLogSubkind
	StatusCode int
	Err        error
}

func (e *TransparencyLogError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transparency-log: %s (status %d): %v", e.Subkind, e.StatusCode, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("transparency-log: %s: %v", e.Subkind, e.Err)
	}
	return fmt.Sprintf("transparency-log: %s", e.Subkind)
}

func (e *TransparencyLogError) Unwrap() error { return e.Err }

// Retryable reports whether e is a SubmissionFailed with a 5xx status,
// the transparency-log case spec.md §7 treats as retryable. IOError, the
// other retryable kind, is a separate type and is not covered here.
func (e *TransparencyLogError) Retryable() bool {
	return e.Subkind == SubmissionFailed && e.StatusCode >= 500 && e.StatusCode < 600
}

// IOError wraps network or filesystem failures; always retryable.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
