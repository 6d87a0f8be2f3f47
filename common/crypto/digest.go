package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/multiformats/go-multibase"
)

// DigestSize is the length in bytes of every digest signed by the SDK.
const DigestSize = sha256.Size

// Encoding is a multibase encoding scheme.
type Encoding = multibase.Encoding

// Multibase encodings used by the SDK.
const (
	Base58BTC Encoding = multibase.Base58BTC
	Base64URL Encoding = multibase.Base64url
	Base16    Encoding = multibase.Base16
)

// prefix character plus at least one payload character
const multibaseMin = 2

// Digest returns the SHA-256 hash of data.
func Digest(data []byte) []byte {
	sum := sha256.Sum256(data)

	return sum[:]
}

// EncodeMultibase encodes data with the given multibase scheme.
func EncodeMultibase(enc Encoding, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("multibase: nothing to encode")
	}

	out, err := multibase.Encode(enc, data)
	if err != nil {
		return "", fmt.Errorf("multibase: encode: %w", err)
	}

	return out, nil
}

// DecodeMultibase decodes a multibase string of any supported scheme.
func DecodeMultibase(s string) ([]byte, error) {
	_, data, err := DecodeMultibaseWithEncoding(s)

	return data, err
}

// DecodeMultibaseWithEncoding decodes s and reports the scheme it was encoded with.
func DecodeMultibaseWithEncoding(s string) (Encoding, []byte, error) {
	if len(s) < multibaseMin {
		return 0, nil, fmt.Errorf("multibase: input %q is too short", s)
	}

	enc, data, err := multibase.Decode(s)
	if err != nil {
		return 0, nil, fmt.Errorf("multibase: decode: %w", err)
	}

	return enc, data, nil
}
