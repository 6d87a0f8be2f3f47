package did

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// DefaultMethod is the DID method used by the ticketing app.
const DefaultMethod = "weticket"

// suffixSize is the number of random bytes behind the method-specific id.
const suffixSize = 20

var methodPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// DIDGenerator mints DIDs under one method namespace.
type DIDGenerator struct {
	didMethod string
	rand      io.Reader
}

// NewDIDGenerator returns a generator for did:<method>:... identifiers.
func NewDIDGenerator(method string) (*DIDGenerator, error) {
	method = strings.TrimSpace(method)
	if !methodPattern.MatchString(method) {
		return nil, fmt.Errorf("invalid DID method %q", method)
	}

	return &DIDGenerator{didMethod: method, rand: rand.Reader}, nil
}

// Method returns the DID method of the generator.
func (d *DIDGenerator) Method() string {
	return d.didMethod
}

// GenerateDID returns a fresh DID with a random base58 suffix.
func (d *DIDGenerator) GenerateDID() (string, error) {
	suffix := make([]byte, suffixSize)
	if _, err := io.ReadFull(d.rand, suffix); err != nil {
		return "", fmt.Errorf("failed to read random suffix: %w", err)
	}

	// Create DID identifier: did:${method}:${base58(random)}
	return fmt.Sprintf("did:%s:%s", d.didMethod, base58.Encode(suffix)), nil
}

// GenDID mints a DID under method.
func GenDID(method string) (string, error) {
	g, err := NewDIDGenerator(method)
	if err != nil {
		return "", err
	}

	return g.GenerateDID()
}

// SplitDID returns the method and method-specific id of a did:<method>:<id> string.
func SplitDID(did string) (method, id string, err error) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid DID %q", did)
	}

	return parts[1], parts[2], nil
}
