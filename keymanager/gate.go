package keymanager

import (
	"context"
	"errors"

	"github.com/weticket/go-did-sdk/common/sdkerr"
)

// Confirmation is the answer of a biometric prompt.
type Confirmation int

const (
	ConfirmApproved Confirmation = iota
	ConfirmCancelled
	ConfirmUnavailable
)

// Prompt is what the user is asked to confirm.
type Prompt struct {
	KeyID  string
	Reason string
}

// Confirmer asks the user to unlock a key. Confirm blocks until the user
// answers or ctx is done; a ctx that expires is treated as a cancellation.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (Confirmation, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, p Prompt) (Confirmation, error)

// Confirm implements Confirmer.
func (f ConfirmerFunc) Confirm(ctx context.Context, p Prompt) (Confirmation, error) {
	return f(ctx, p)
}

func (m *Manager) confirm(ctx context.Context, info KeyInfo) error {
	const op = "keymanager.confirm"

	if m.confirmer == nil {
		return sdkerr.New(sdkerr.BiometricUnavailable, op, "no biometric confirmer configured")
	}

	c, err := m.confirmer.Confirm(ctx, Prompt{KeyID: info.ID, Reason: "Confirm signing with " + info.ID})
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		return sdkerr.Wrap(sdkerr.UserCancelled, op, err)
	case err != nil:
		return sdkerr.Ensure(sdkerr.BiometricUnavailable, op, err)
	}

	switch c {
	case ConfirmApproved:
		return nil
	case ConfirmCancelled:
		return sdkerr.New(sdkerr.UserCancelled, op, "user cancelled confirmation for %s", info.ID)
	default:
		return sdkerr.New(sdkerr.BiometricUnavailable, op, "biometric confirmation unavailable for %s", info.ID)
	}
}

// Outcome is the result class of SignOutcome.
type Outcome int

const (
	Signed Outcome = iota
	Cancelled
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Signed:
		return "Signed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unavailable"
	}
}

// SignResult carries the signature when Outcome is Signed.
type SignResult struct {
	Outcome   Outcome
	Signature []byte
}

// SignOutcome signs with km and folds user cancellation and missing biometric
// support into the result, leaving the fallback choice to the caller. Every
// other failure is returned as an error.
func SignOutcome(ctx context.Context, km KeyManager, keyID string, digest []byte) (SignResult, error) {
	sig, err := km.Sign(ctx, keyID, digest)
	switch {
	case err == nil:
		return SignResult{Outcome: Signed, Signature: sig}, nil
	case errors.Is(err, sdkerr.UserCancelled):
		return SignResult{Outcome: Cancelled}, nil
	case errors.Is(err, sdkerr.BiometricUnavailable):
		return SignResult{Outcome: Unavailable}, nil
	default:
		return SignResult{}, err
	}
}
