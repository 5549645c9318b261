package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() map[string]any {
	return map[string]any{
		"producer":  "implementation-worker",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    "completed",
		"summary":   "implemented the thing",
	}
}

func TestValidateEnvelope_OK(t *testing.T) {
	assert.NoError(t, ValidateEnvelope(validPayload()))
}

func TestValidateEnvelope_RequiredFieldsFromSchema(t *testing.T) {
	// The required set is reflected from the Envelope struct itself.
	require.ElementsMatch(t, []string{"producer", "timestamp", "status"}, envelopeRequired)
}

func TestValidateEnvelope_MissingField(t *testing.T) {
	for _, field := range []string{"producer", "timestamp", "status"} {
		p := validPayload()
		delete(p, field)
		err := ValidateEnvelope(p)
		require.Error(t, err, "missing %s should fail", field)
		assert.True(t, errors.Is(err, ErrEnvelopeInvalid))
	}
}

func TestValidateEnvelope_NilPayload(t *testing.T) {
	err := ValidateEnvelope(nil)
	assert.True(t, errors.Is(err, ErrEnvelopeInvalid))
}

func TestValidateEnvelope_BadTimestamp(t *testing.T) {
	p := validPayload()
	p["timestamp"] = "yesterday"
	assert.Error(t, ValidateEnvelope(p))
}

func TestValidateEnvelope_BadStatus(t *testing.T) {
	p := validPayload()
	p["status"] = "superseded"
	assert.Error(t, ValidateEnvelope(p))

	p["status"] = 3
	assert.Error(t, ValidateEnvelope(p))
}
