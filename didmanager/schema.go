package didmanager

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema is the wire shape of a persisted document.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["@context", "id", "controller", "versionId", "verificationMethod",
               "assertionMethod", "authentication", "proof"],
  "properties": {
    "@context": {"type": "array", "minItems": 1, "items": {"type": "string"}},
    "id": {"type": "string", "pattern": "^did:[a-z0-9]+:.+$"},
    "controller": {"type": "string", "minLength": 1},
    "created": {"type": "string"},
    "updated": {"type": "string"},
    "versionId": {"type": "string", "pattern": "^[1-9][0-9]*$"},
    "deactivated": {"type": "boolean"},
    "verificationMethod": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type", "controller", "publicKeyMultibase"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["Secp256r1VerificationKey2018", "Secp256k1VerificationKey2018"]},
          "controller": {"type": "string", "minLength": 1},
          "publicKeyMultibase": {"type": "string", "pattern": "^z[1-9A-HJ-NP-Za-km-z]+$"},
          "authType": {"enum": [1, 2, 4]}
        }
      }
    },
    "assertionMethod": {"$ref": "#/definitions/refs"},
    "authentication": {"$ref": "#/definitions/refs"},
    "keyAgreement": {"$ref": "#/definitions/refs"},
    "capabilityInvocation": {"$ref": "#/definitions/refs"},
    "capabilityDelegation": {"$ref": "#/definitions/refs"},
    "service": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "serviceEndpoint"],
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string"},
          "serviceEndpoint": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "proof": {
      "type": "object",
      "required": ["type", "created", "verificationMethod", "proofPurpose", "proofValue"],
      "properties": {
        "type": {"enum": ["Secp256r1Signature2018", "Secp256k1Signature2018"]},
        "created": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}Z$"},
        "verificationMethod": {"type": "string", "pattern": "^did:.+\\?versionId=[1-9][0-9]*#.+$"},
        "proofPurpose": {"enum": ["assertionMethod", "authentication"]},
        "proofValue": {"type": "string", "pattern": "^z[1-9A-HJ-NP-Za-km-z]+$"}
      }
    }
  },
  "definitions": {
    "refs": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// newValidator compiles the document schema.
func newValidator() (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, fmt.Errorf("failed to compile document schema: %w", err)
	}

	return schema, nil
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	if !json.Valid(raw) {
		return fmt.Errorf("document is not valid JSON")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("document is invalid: %s", strings.Join(msgs, "; "))
	}

	return nil
}
