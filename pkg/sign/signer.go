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
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/sigstore-contrib/coresign/internal/log"
	"github.com/sigstore-contrib/coresign/pkg/caclient"
	"github.com/sigstore-contrib/coresign/pkg/cryptoutils"
	"github.com/sigstore-contrib/coresign/pkg/oidcroot"
	"github.com/sigstore-contrib/coresign/pkg/sigerrors"
	"github.com/sigstore-contrib/coresign/pkg/sign/embedded"
	"github.com/sigstore-contrib/coresign/pkg/tlogclient"
	"github.com/sigstore-contrib/coresign/pkg/trustroot"
	"github.com/sigstore-contrib/coresign/pkg/tuf"
)

// Bundle is a completed signing result (spec.md's GLOSSARY): the
// digest that was signed, the certificate chain binding the signing
// key to an OIDC identity, the raw signature, and the transparency-log
// entry anchoring the event.
type Bundle struct {
	Digest    []byte
	Leaf      *x509.Certificate
	Chain     []*x509.Certificate
	Signature []byte
	LogEntry  *tlogclient.Entry
}

// Signer runs the keyless-signing pipeline of spec.md §4.7: OIDC
// identity acquisition, CA certificate issuance, and transparency-log
// anchoring, composed into sign().
type Signer struct {
	cfg       Config
	tufClient *tuf.Client
	ca        *caclient.Client
	tlog      *tlogclient.Client
}

// NewSigner constructs a Signer. It refreshes the TUF client and
// fetches the current trust root before returning, so the first sign()
// call never pays that latency.
func NewSigner(ctx context.Context, cfg Config) (*Signer, error) {
	store, err := tuf.NewFileStore(cfg.TUFCacheDir)
	if err != nil {
		return nil, fmt.Errorf("sign: opening tuf store: %w", err)
	}
	remote := tuf.NewHTTPRemote(cfg.TUFRemoteURL, cfg.httpClient())

	tufClient, err := tuf.NewClient(store, remote, embedded.RootJSON, cfg.clock())
	if err != nil {
		return nil, fmt.Errorf("sign: constructing tuf client: %w", err)
	}
	if err := tufClient.Update(ctx); err != nil {
		return nil, fmt.Errorf("sign: refreshing tuf metadata: %w", err)
	}
	log.Logger().Debugw("tuf metadata refreshed", "phase", tufClient.Phase())
	if _, err := tufClient.TrustedRoot(ctx); err != nil {
		return nil, fmt.Errorf("sign: fetching trusted root: %w", err)
	}

	s := &Signer{
		cfg:       cfg,
		tufClient: tufClient,
	}

	caClient, err := caclient.NewClient(caclient.Config{BaseURL: cfg.CABaseURL, Client: cfg.httpClient()})
	if err != nil {
		return nil, fmt.Errorf("sign: constructing ca client: %w", err)
	}
	s.ca = caClient
	s.tlog = tlogclient.NewClient(tlogclient.Config{BaseURL: cfg.TLogBaseURL, Client: cfg.httpClient()})

	return s, nil
}

func (s *Signer) trustedRoot(ctx context.Context) (*trustroot.TrustedRoot, error) {
	return s.tufClient.TrustedRoot(ctx)
}

// Sign runs the full pipeline for a single digest (spec.md §4.7's
// "sign(digest) → bundle").
func (s *Signer) Sign(ctx context.Context, digest []byte) (*Bundle, error) {
	bundles, err := s.SignAll(ctx, [][]byte{digest})
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		return nil, fmt.Errorf("sign: no bundle produced")
	}
	return bundles[0], nil
}

// SignAll signs a batch of digests, reusing one OIDC token and one
// ephemeral keypair across all of them (spec.md §4.7). An empty input
// returns an empty result without any network call (spec.md §8
// invariant 5). The batch fails atomically: no partial result is
// returned on error (spec.md §7).
func (s *Signer) SignAll(ctx context.Context, digests [][]byte) ([]*Bundle, error) {
	if len(digests) == 0 {
		return nil, nil
	}

	kp, err := cryptoutils.NewEphemeralKeypair()
	if err != nil {
		return nil, &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: err}
	}
	defer kp.Zeroize()

	tok, err := oidcroot.GetToken(ctx, oidcroot.Config{
		IssuerURL: s.cfg.OIDCIssuerURL,
		ClientID:  s.cfg.OIDCClientID,
		Flow:      s.cfg.OIDCFlow,
	})
	if err != nil {
		return nil, err
	}

	chain, err := caclient.RequestCertificate(ctx, s.ca, tok.IDToken, kp.Public(), kp.Sign)
	if err != nil {
		return nil, err
	}

	tr, err := s.trustedRoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("sign: fetching trusted root: %w", err)
	}
	if err := caclient.VerifyChain(tr, chain, kp.Public(), s.cfg.clock()()); err != nil {
		return nil, err
	}
	log.Logger().Debugw("certificate issued and verified", "subject", tok.Subject)

	pubPEM, err := cryptoutils.MarshalPublicKeyPEM(kp.Public())
	if err != nil {
		return nil, &sigerrors.CryptoError{Subkind: sigerrors.InvalidKeySpec, Err: err}
	}

	// Log submissions run concurrently (spec.md §5 permits this for a
	// batch); bundles is pre-sized so each goroutine writes its own slot
	// and the returned order matches digests regardless of completion
	// order.
	bundles := make([]*Bundle, len(digests))
	g, gctx := errgroup.WithContext(ctx)
	for i, digest := range digests {
		i, digest := i, digest
		g.Go(func() error {
			bundle, err := s.signOne(gctx, kp, digest, chain, pubPEM, tr)
			if err != nil {
				return err
			}
			bundles[i] = bundle
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundles, nil
}

// signOne signs digest with kp and anchors it in the transparency log,
// producing the Bundle for that one digest. Split out of SignAll so the
// per-digest work can run concurrently across a batch.
func (s *Signer) signOne(
	ctx context.Context,
	kp *cryptoutils.EphemeralKeypair,
	digest []byte,
	chain *caclient.CertificateChain,
	pubPEM []byte,
	tr *trustroot.TrustedRoot,
) (*Bundle, error) {
	sig, err := kp.Sign(digest)
	if err != nil {
		return nil, err
	}

	entryBody := tlogclient.NewHashedRekordEntry(digest, sig, pubPEM)
	entry, err := tlogclient.Upload(ctx, s.tlog, entryBody)
	if err != nil {
		return nil, err
	}
	if err := tlogclient.VerifyInclusion(entry); err != nil {
		return nil, err
	}
	if err := tlogclient.VerifySET(tr, entry); err != nil {
		return nil, err
	}

	return &Bundle{
		Digest:    digest,
		Leaf:      chain.Leaf,
		Chain:     chain.Chain,
		Signature: sig,
		LogEntry:  entry,
	}, nil
}

// SignFile reads path, computes its SHA-256 digest, and delegates to
// Sign.
func (s *Signer) SignFile(ctx context.Context, path string) (*Bundle, error) {
	digest, err := digestFile(path)
	if err != nil {
		return nil, err
	}
	return s.Sign(ctx, digest)
}

// SignFiles computes digests for paths, delegates to the batch Sign,
// and rekeys results by path. Duplicate paths collapse to one signing;
// the caller sees one entry per distinct path (spec.md §4.7).
func (s *Signer) SignFiles(ctx context.Context, paths []string) (map[string]*Bundle, error) {
	order := dedupPaths(paths)

	digests := make([][]byte, 0, len(order))
	for _, p := range order {
		digest, err := digestFile(p)
		if err != nil {
			return nil, err
		}
		digests = append(digests, digest)
	}

	bundles, err := s.SignAll(ctx, digests)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*Bundle, len(order))
	for i, p := range order {
		result[p] = bundles[i]
	}
	return result, nil
}

// dedupPaths returns paths with duplicates removed, preserving the order
// of first occurrence, so SignFiles signs each distinct path exactly
// once (spec.md §4.7).
func dedupPaths(paths []string) []string {
	order := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		order = append(order, p)
	}
	return order
}

func digestFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &sigerrors.IOError{Op: "open " + path, Err: err}
	}
	defer f.Close()

	d, err := cryptoutils.DigestFile(f)
	if err != nil {
		return nil, &sigerrors.IOError{Op: "digest " + path, Err: err}
	}
	return d.Bytes, nil
}
