package did

import (
	"github.com/weticket/go-did-sdk/common/crypto"
	"github.com/weticket/go-did-sdk/common/model"
)

// ContextV1 is the JSON-LD context every document carries.
const ContextV1 = "https://www.w3.org/ns/did/v1"

// AuthType tells a verifier how the private key behind a verification method
// is unlocked on the device.
type AuthType int

const (
	AuthTypeFree      AuthType = 1
	AuthTypePasscode  AuthType = 2
	AuthTypeBiometric AuthType = 4
)

// State is the lifecycle position of a Document.
type State int

const (
	StateDraft State = iota
	StateProofSkeleton
	StateSealed
	StatePersisted
)

func (s State) String() string {
	switch s {
	case StateDraft:
		return "Draft"
	case StateProofSkeleton:
		return "ProofSkeleton"
	case StateSealed:
		return "Sealed"
	case StatePersisted:
		return "Persisted"
	default:
		return "Unknown"
	}
}

// Document is a DID Document. Field order and names follow the wire shape
// consumed by the verifying server.
type Document struct {
	Context              []string             `json:"@context"`
	ID                   string               `json:"id"`
	Controller           string               `json:"controller"`
	Created              string               `json:"created"`
	Updated              string               `json:"updated"`
	VersionID            string               `json:"versionId"`
	Deactivated          bool                 `json:"deactivated"`
	VerificationMethod   []VerificationMethod `json:"verificationMethod"`
	AssertionMethod      []string             `json:"assertionMethod"`
	Authentication       []string             `json:"authentication"`
	KeyAgreement         []string             `json:"keyAgreement,omitempty"`
	CapabilityInvocation []string             `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []string             `json:"capabilityDelegation,omitempty"`
	Service              []Service            `json:"service,omitempty"`
	Proof                *model.Proof         `json:"proof,omitempty"`

	persisted bool
}

// VerificationMethod is a public key entry of a Document.
type VerificationMethod struct {
	ID                 string   `json:"id"`
	Type               string   `json:"type"`
	Controller         string   `json:"controller"`
	PublicKeyMultibase string   `json:"publicKeyMultibase"`
	AuthType           AuthType `json:"authType"`
}

// Service is a service endpoint entry of a Document.
type Service struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	ServiceEndpoint []string `json:"serviceEndpoint"`
}

// Role is a verification relationship of a Document.
type Role string

const (
	RoleAuthentication       Role = "authentication"
	RoleAssertionMethod      Role = "assertionMethod"
	RoleKeyAgreement         Role = "keyAgreement"
	RoleCapabilityInvocation Role = "capabilityInvocation"
	RoleCapabilityDelegation Role = "capabilityDelegation"
)

// KeyBinding describes one key to publish as a verification method and the
// roles it is bound to.
type KeyBinding struct {
	KeyID     string
	Algorithm crypto.Algorithm
	PublicKey []byte // compressed SEC1 point
	AuthType  AuthType
	Roles     []Role
}
