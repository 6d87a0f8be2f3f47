// Package jsoncanonicalizer produces RFC 8785 (JCS) canonical JSON.
//
// Object members are sorted by key, insignificant whitespace is dropped,
// strings are escaped only where JSON requires it (no HTML escaping of <, > or
// &), and numbers use the ECMAScript shortest form. Any two parties that
// canonicalize the same logical value obtain the same bytes.
package jsoncanonicalizer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/weticket/go-did-sdk/common/sdkerr"
)

const op = "jsoncanonicalizer"

// Checker is implemented by values that can refuse canonicalization while they
// are in a state no verifier could reconstruct, e.g. an unfinished proof.
type Checker interface {
	CanonicalCheck() error
}

// Transform canonicalizes raw JSON text.
func Transform(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, sdkerr.New(sdkerr.CanonicalizationFailed, op, "empty JSON input")
	}

	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.CanonicalizationFailed, op, fmt.Errorf("failed to transform JSON: %w", err))
	}

	return out, nil
}

// Canonicalize marshals v and returns its canonical form. When v implements
// Checker the check runs first and its failure is returned as
// CanonicalizationFailed.
func Canonicalize(v any) ([]byte, error) {
	if v == nil {
		return nil, sdkerr.New(sdkerr.CanonicalizationFailed, op, "value is nil")
	}

	if c, ok := v.(Checker); ok {
		if err := c.CanonicalCheck(); err != nil {
			return nil, sdkerr.Wrap(sdkerr.CanonicalizationFailed, op, err)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, sdkerr.Wrap(sdkerr.CanonicalizationFailed, op, fmt.Errorf("failed to marshal value: %w", err))
	}

	return Transform(buf.Bytes())
}
