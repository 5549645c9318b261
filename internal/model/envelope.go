package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// ErrEnvelopeInvalid marks a payload that violates the stage worker
// contract. Not retryable.
var ErrEnvelopeInvalid = errors.New("invalid artifact envelope")

// Envelope is the minimal structure every stage payload must carry.
// The coordinator never interprets payloads beyond these fields.
type Envelope struct {
	Producer  string `json:"producer"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// envelopeRequired is derived from the reflected JSON schema so the
// struct definition stays the single source of truth for the contract.
var envelopeRequired = reflectEnvelopeRequired()

func reflectEnvelopeRequired() []string {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Envelope{})
	return schema.Required
}

// ValidateEnvelope performs the structural check on a stage payload:
// every required envelope field present, non-empty, timestamp parseable,
// and status one of completed|failed.
func ValidateEnvelope(payload map[string]any) error {
	if payload == nil {
		return fmt.Errorf("%w: payload is nil", ErrEnvelopeInvalid)
	}
	for _, field := range envelopeRequired {
		v, ok := payload[field]
		if !ok {
			return fmt.Errorf("%w: missing field %q", ErrEnvelopeInvalid, field)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return fmt.Errorf("%w: field %q must be a non-empty string", ErrEnvelopeInvalid, field)
		}
	}
	if ts := payload["timestamp"].(string); ts != "" {
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			return fmt.Errorf("%w: timestamp %q is not RFC3339", ErrEnvelopeInvalid, ts)
		}
	}
	switch payload["status"].(string) {
	case string(ArtifactCompleted), string(ArtifactFailed):
	default:
		return fmt.Errorf("%w: status %q not in {completed, failed}", ErrEnvelopeInvalid, payload["status"])
	}
	return nil
}
