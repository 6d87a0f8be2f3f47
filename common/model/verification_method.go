package model

import (
	"fmt"
	"strings"
)

const versionQuery = "?versionId="

// VerificationMethodURL is a parsed proof.verificationMethod value of the form
// <did>?versionId=<version>#<keyId>.
type VerificationMethodURL struct {
	DID       string
	VersionID string
	KeyID     string
}

// String renders the URL.
func (u VerificationMethodURL) String() string {
	return BuildVerificationMethodURL(u.DID, u.VersionID, u.KeyID)
}

// BuildVerificationMethodURL binds keyID to a document id and version.
func BuildVerificationMethodURL(did, versionID, keyID string) string {
	return did + versionQuery + versionID + "#" + keyID
}

// ParseVerificationMethodURL splits a verification method URL into its parts.
func ParseVerificationMethodURL(s string) (VerificationMethodURL, error) {
	if s == "" {
		return VerificationMethodURL{}, fmt.Errorf("verification method is empty")
	}

	head, keyID, found := cutLast(s, "#")
	if !found || keyID == "" {
		return VerificationMethodURL{}, fmt.Errorf("invalid verification method URL, missing key fragment: %s", s)
	}

	did, version, found := strings.Cut(head, versionQuery)
	if !found || did == "" || version == "" {
		return VerificationMethodURL{}, fmt.Errorf("invalid verification method URL, missing versionId: %s", s)
	}

	return VerificationMethodURL{DID: did, VersionID: version, KeyID: keyID}, nil
}

// KeyIDFromFragment returns the key identifier referenced by a verification
// method id or URL: everything after the last '#', or s itself when it has no
// fragment.
func KeyIDFromFragment(s string) string {
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		return s[i+1:]
	}

	return s
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}

	return s, "", false
}
