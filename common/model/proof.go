package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/weticket/go-did-sdk/common/crypto"
)

// ProofPurpose is the verification relationship a proof asserts.
type ProofPurpose string

// Proof purposes.
const (
	PurposeAssertionMethod ProofPurpose = "assertionMethod"
	PurposeAuthentication  ProofPurpose = "authentication"
)

// ProofType is the signature scheme tag of a proof.
type ProofType string

// Proof types.
const (
	Secp256r1Signature2018 ProofType = "Secp256r1Signature2018"
	Secp256k1Signature2018 ProofType = "Secp256k1Signature2018"
)

// ProofTypeFor returns the proof type produced by keys of alg.
func ProofTypeFor(alg crypto.Algorithm) ProofType {
	if alg == crypto.SECP256K1 {
		return Secp256k1Signature2018
	}

	return Secp256r1Signature2018
}

// Algorithm returns the key algorithm a proof of type t is verified with.
func (t ProofType) Algorithm() (crypto.Algorithm, error) {
	switch t {
	case Secp256r1Signature2018:
		return crypto.SECP256R1, nil
	case Secp256k1Signature2018:
		return crypto.SECP256K1, nil
	default:
		return "", fmt.Errorf("unknown proof type %q", t)
	}
}

// CreatedLayout is the timestamp layout of Proof.Created: UTC, second precision,
// trailing Z.
const CreatedLayout = "2006-01-02T15:04:05Z"

// FormatCreated formats t as a proof timestamp.
func FormatCreated(t time.Time) string {
	return t.UTC().Format(CreatedLayout)
}

// Proof is a signature embedded in a document or a DIDAuth.
type Proof struct {
	Type               ProofType    `json:"type"`
	Created            string       `json:"created"`
	VerificationMethod string       `json:"verificationMethod"`
	ProofPurpose       ProofPurpose `json:"proofPurpose"`
	ProofValue         string       `json:"proofValue,omitempty"`
}

// Valid reports whether p is a known purpose.
func (p ProofPurpose) Valid() bool {
	return p == PurposeAssertionMethod || p == PurposeAuthentication
}

// CheckSkeleton returns an error naming the first skeleton field that is not set.
func (p *Proof) CheckSkeleton() error {
	if p == nil {
		return errors.New("proof is not attached")
	}

	switch {
	case p.Type == "":
		return errors.New("proof.type is not set")
	case p.Created == "":
		return errors.New("proof.created is not set")
	case p.VerificationMethod == "":
		return errors.New("proof.verificationMethod is not set")
	case !p.ProofPurpose.Valid():
		return fmt.Errorf("proof.proofPurpose %q is invalid", p.ProofPurpose)
	}

	if _, err := time.Parse(CreatedLayout, p.Created); err != nil {
		return fmt.Errorf("proof.created %q: %w", p.Created, err)
	}

	return nil
}

// Sealed reports whether the proof carries a signature.
func (p *Proof) Sealed() bool {
	return p != nil && p.ProofValue != ""
}

// Unsigned returns a copy of p without its proofValue.
func (p Proof) Unsigned() Proof {
	p.ProofValue = ""

	return p
}
