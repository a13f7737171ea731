package azure_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentpipeline.dev/core/features/model/azure"
)

func TestNewFromAPIKey_RequiresFields(t *testing.T) {
	_, err := azure.NewFromAPIKey(azure.Options{})
	assert.Error(t, err)

	_, err = azure.NewFromAPIKey(azure.Options{Endpoint: "https://res.openai.azure.com"})
	assert.Error(t, err)

	_, err = azure.NewFromAPIKey(azure.Options{
		Endpoint:   "https://res.openai.azure.com",
		Deployment: "gpt-4o-prod",
	})
	assert.Error(t, err)
}

func TestNewFromAPIKey_Succeeds(t *testing.T) {
	client, err := azure.NewFromAPIKey(azure.Options{
		Endpoint:   "https://res.openai.azure.com/",
		Deployment: "gpt-4o-prod",
		APIKey:     "secret",
	})
	require.NoError(t, err)
	require.NotNil(t, client)
}
