// Package didauth builds nonce-bound authentication assertions for a DID.
package didauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/weticket/go-did-sdk/common/model"
	"github.com/weticket/go-did-sdk/common/sdkerr"
	"github.com/weticket/go-did-sdk/did"
	"github.com/weticket/go-did-sdk/proof"
)

// DIDAuth is a one-shot signed assertion of control over DID, bound to a
// server nonce.
type DIDAuth struct {
	DID       string       `json:"did"`
	AuthNonce string       `json:"authNonce"`
	Proof     *model.Proof `json:"proof"`
}

// AttachedProof implements proof.Container.
func (a *DIDAuth) AttachedProof() *model.Proof {
	return a.Proof
}

// CanonicalCheck refuses canonicalization of an incomplete assertion.
func (a *DIDAuth) CanonicalCheck() error {
	switch {
	case a.DID == "":
		return errors.New("did is not set")
	case a.AuthNonce == "":
		return errors.New("authNonce is not set")
	case a.Proof == nil:
		return errors.New("proof is not attached")
	}
	if err := a.Proof.CheckSkeleton(); err != nil {
		return err
	}

	u, err := model.ParseVerificationMethodURL(a.Proof.VerificationMethod)
	if err != nil {
		return err
	}
	if u.DID != a.DID {
		return errors.New("proof is bound to a different DID")
	}

	return nil
}

// SelectKey returns the key id of the document's first authentication
// verification method.
func SelectKey(doc *did.Document) (string, error) {
	vm, err := doc.FirstVerificationMethod(did.RoleAuthentication)
	if err != nil {
		return "", err
	}

	return model.KeyIDFromFragment(vm.ID), nil
}

// BuildChallenge returns an unsigned DIDAuth for nonce whose proof skeleton is
// bound to the document's current id and version.
func BuildChallenge(doc *did.Document, keyFragment, nonce string, now time.Time) (*DIDAuth, error) {
	const op = "didauth.BuildChallenge"

	if doc == nil {
		return nil, sdkerr.New(sdkerr.DocumentNotFound, op, "no document")
	}
	if strings.TrimSpace(nonce) == "" {
		return nil, sdkerr.New(sdkerr.InvalidArgument, op, "nonce is empty")
	}
	if _, err := doc.Version(); err != nil {
		return nil, sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
	}

	keyID := model.KeyIDFromFragment(keyFragment)
	vm, ok := doc.VerificationMethodByID(keyID)
	if !ok || !doc.HasRole(keyID, did.RoleAuthentication) {
		return nil, sdkerr.New(sdkerr.KeyNotFound, op, "%q is not an authentication method of %s", keyID, doc.ID)
	}

	alg, err := vm.Algorithm()
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.InvalidArgument, op, err)
	}

	return &DIDAuth{
		DID:       doc.ID,
		AuthNonce: nonce,
		Proof: &model.Proof{
			Type:               model.ProofTypeFor(alg),
			Created:            model.FormatCreated(now),
			VerificationMethod: model.BuildVerificationMethodURL(doc.ID, doc.VersionID, keyID),
			ProofPurpose:       model.PurposeAuthentication,
		},
	}, nil
}

// Authenticator signs challenges with the proof engine.
type Authenticator struct {
	engine *proof.Engine
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the proof timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = l
	}
}

// NewAuthenticator returns an Authenticator over engine.
func NewAuthenticator(engine *proof.Engine, opts ...Option) *Authenticator {
	a := &Authenticator{engine: engine, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Authenticate answers nonce with an assertion signed by the document's first
// authentication key. The document is not modified.
func (a *Authenticator) Authenticate(ctx context.Context, doc *did.Document, nonce string) (*DIDAuth, error) {
	if doc == nil {
		return nil, sdkerr.New(sdkerr.DocumentNotFound, "didauth.Authenticate", "no document")
	}

	keyID, err := SelectKey(doc)
	if err != nil {
		return nil, err
	}

	auth, err := BuildChallenge(doc, keyID, nonce, a.now())
	if err != nil {
		return nil, err
	}

	if err := a.engine.Produce(ctx, auth); err != nil {
		return nil, err
	}

	a.logger.Info().Str("did", doc.ID).Str("key_id", keyID).Msg("authentication assertion signed")

	return auth, nil
}

// Verify checks auth the way the verifying server does: the assertion must name
// doc's id and version, reference one of its authentication methods and carry
// a signature from that method's key.
func Verify(doc *did.Document, auth *DIDAuth) error {
	if doc == nil || auth == nil || auth.Proof == nil {
		return errors.New("document and sealed assertion required")
	}
	if auth.Proof.ProofPurpose != model.PurposeAuthentication {
		return fmt.Errorf("proof purpose is %s", auth.Proof.ProofPurpose)
	}

	u, err := model.ParseVerificationMethodURL(auth.Proof.VerificationMethod)
	if err != nil {
		return err
	}
	if auth.DID != doc.ID || u.DID != doc.ID || u.VersionID != doc.VersionID {
		return fmt.Errorf("assertion is bound to %s version %s, document is %s version %s",
			u.DID, u.VersionID, doc.ID, doc.VersionID)
	}

	vm, ok := doc.VerificationMethodByID(u.KeyID)
	if !ok || !doc.HasRole(u.KeyID, did.RoleAuthentication) {
		return fmt.Errorf("%q is not an authentication method of %s", u.KeyID, doc.ID)
	}

	alg, err := vm.Algorithm()
	if err != nil {
		return err
	}
	pub, err := vm.PublicKey()
	if err != nil {
		return err
	}

	return proof.Verify(auth, alg, pub)
}
