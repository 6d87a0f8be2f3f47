package sdkerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatchesThroughWrapping(t *testing.T) {
	base := New(UserCancelled, "keymanager.Sign", "prompt dismissed")
	wrapped := fmt.Errorf("seal document: %w", base)

	assert.True(t, errors.Is(wrapped, UserCancelled))
	assert.False(t, errors.Is(wrapped, SignFailed))
	assert.Equal(t, UserCancelled, KindOf(wrapped))
}

func TestKindOfReturnsOutermost(t *testing.T) {
	inner := Wrap(SignFailed, "wallet.Sign", errors.New("bad scalar"))
	outer := Wrap(ProofGenerationFailed, "proof.Produce", inner)

	assert.Equal(t, ProofGenerationFailed, KindOf(outer))
	assert.True(t, errors.Is(outer, SignFailed))
	assert.True(t, errors.Is(outer, ProofGenerationFailed))
}

func TestEnsure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil stays nil", err: nil, want: ""},
		{name: "untagged gets kind", err: errors.New("boom"), want: PersistenceFailed},
		{name: "tagged kept", err: Wrap(DocumentNotFound, "load", errors.New("no rows")), want: DocumentNotFound},
		{name: "bare kind kept", err: fmt.Errorf("x: %w", KeyNotFound), want: KeyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ensure(PersistenceFailed, "save", tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.want, KindOf(got))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KeyNotFound, "keymanager.GetKeyInfos", "key %q not found", "k1")
	assert.Equal(t, `keymanager.GetKeyInfos: KeyNotFound: key "k1" not found`, err.Error())
	assert.Equal(t, "DocumentNotFound", (&Error{Kind: DocumentNotFound}).Error())
	assert.Nil(t, Wrap(SignFailed, "op", nil))
}
