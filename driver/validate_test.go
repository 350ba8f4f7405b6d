package driver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const planSchema = `{
	"type": "object",
	"required": ["summary", "steps"],
	"properties": {
		"summary": {"type": "string"},
		"steps": {"type": "array", "items": {"type": "string"}}
	}
}`

func TestSchemaValidatorAcceptsConformingPayload(t *testing.T) {
	v, err := NewSchemaValidator("plan.json", []byte(planSchema))
	require.NoError(t, err)

	payload := []byte(`{"summary": "do the thing", "steps": ["one", "two"]}`)
	require.NoError(t, v.Validate(payload))
}

func TestSchemaValidatorRejectsMissingRequiredField(t *testing.T) {
	v, err := NewSchemaValidator("plan.json", []byte(planSchema))
	require.NoError(t, err)

	payload := []byte(`{"steps": ["one"]}`)
	require.Error(t, v.Validate(payload))
}

func TestSchemaValidatorRejectsMalformedJSON(t *testing.T) {
	v, err := NewSchemaValidator("plan.json", []byte(planSchema))
	require.NoError(t, err)

	require.Error(t, v.Validate([]byte(`{not valid json`)))
}

func TestNewSchemaValidatorRejectsInvalidSchema(t *testing.T) {
	_, err := NewSchemaValidator("bad.json", []byte(`{not valid schema`))
	require.Error(t, err)
}
