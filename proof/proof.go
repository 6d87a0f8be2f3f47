// Package proof seals documents and DIDAuth assertions: it canonicalizes the
// container with its proof skeleton, hashes the canonical bytes, has key custody
// sign the digest and writes the multibase signature into proofValue.
//
// A verifier reverses this by removing proofValue from the sealed container,
// canonicalizing, hashing and checking the signature against the key named by
// proof.verificationMethod.
package proof

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/jsoncanonicalizer"
	"github.com/weticket/go-did-sdk/common/model"
	"github.com/weticket/go-did-sdk/common/sdkerr"
)

// Container is an object that owns exactly one proof.
type Container interface {
	AttachedProof() *model.Proof
}

// Signer signs a 32-byte digest with a custody key.
type Signer interface {
	Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error)
}

// ErrAlreadySealed is returned when a container already carries a signature.
var ErrAlreadySealed = errors.New("proof already carries a proofValue")

// Engine produces proofs.
type Engine struct {
	signer Signer
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine returns an Engine that signs through signer.
func NewEngine(signer Signer, opts ...Option) *Engine {
	e := &Engine{signer: signer, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SigningInput returns the canonical bytes the proof of c signs: c with its
// proof skeleton and without proofValue.
func SigningInput(c Container) ([]byte, error) {
	p := c.AttachedProof()
	if p == nil {
		return nil, sdkerr.New(sdkerr.CanonicalizationFailed, "proof.SigningInput", "container has no proof")
	}

	value := p.ProofValue
	p.ProofValue = ""
	defer func() { p.ProofValue = value }()

	return jsoncanonicalizer.Canonicalize(c)
}

// Produce seals c in place. On failure c is left exactly as it was passed in,
// with proofValue still empty.
func (e *Engine) Produce(ctx context.Context, c Container) error {
	const op = "proof.Produce"

	p := c.AttachedProof()
	if err := p.CheckSkeleton(); err != nil {
		return sdkerr.Wrap(sdkerr.ProofGenerationFailed, op, err)
	}
	if p.ProofValue != "" {
		return sdkerr.Wrap(sdkerr.ProofGenerationFailed, op, ErrAlreadySealed)
	}

	payload, err := jsoncanonicalizer.Canonicalize(c)
	if err != nil {
		return err
	}
	digest := crypto.Digest(payload)

	keyID := model.KeyIDFromFragment(p.VerificationMethod)
	sig, err := e.signer.Sign(ctx, keyID, digest)
	if err != nil {
		e.logger.Warn().Err(err).Str("key_id", keyID).Str("purpose", string(p.ProofPurpose)).Msg("proof signing failed")
		return upgrade(op, err)
	}

	value, err := crypto.EncodeMultibase(crypto.Base58BTC, sig)
	if err != nil {
		return sdkerr.Wrap(sdkerr.ProofGenerationFailed, op, err)
	}
	p.ProofValue = value

	e.logger.Debug().
		Str("key_id", keyID).
		Str("verification_method", p.VerificationMethod).
		Str("purpose", string(p.ProofPurpose)).
		Msg("proof produced")

	return nil
}

// upgrade reports signing failures as ProofGenerationFailed. Kinds a caller
// acts on differently pass through unchanged.
func upgrade(op string, err error) error {
	switch sdkerr.KindOf(err) {
	case sdkerr.UserCancelled, sdkerr.BiometricUnavailable, sdkerr.KeyNotFound, sdkerr.CanonicalizationFailed:
		return err
	default:
		return sdkerr.Wrap(sdkerr.ProofGenerationFailed, op, err)
	}
}

// Verify checks the proof of a sealed container against a public key.
func Verify(c Container, alg crypto.Algorithm, publicKey []byte) error {
	p := c.AttachedProof()
	if !p.Sealed() {
		return errors.New("container is not sealed")
	}

	proofAlg, err := p.Type.Algorithm()
	if err != nil {
		return err
	}
	if proofAlg != alg {
		return fmt.Errorf("proof type %s does not match key algorithm %s", p.Type, alg)
	}

	sig, err := crypto.DecodeMultibase(p.ProofValue)
	if err != nil {
		return fmt.Errorf("invalid proofValue: %w", err)
	}

	payload, err := SigningInput(c)
	if err != nil {
		return err
	}

	ok, err := crypto.Verify(alg, publicKey, crypto.Digest(payload), sig)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("proof signature does not verify")
	}

	return nil
}
