// Package azure provides an llm.Client implementation backed by Azure OpenAI
// Service, which exposes an OpenAI-compatible Chat Completions API under a
// deployment-scoped base URL. This adapter reuses the openai package's
// translation logic and only differs in how the underlying SDK client is
// constructed.
package azure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	openaimodel "agentpipeline.dev/core/features/model/openai"
)

// Options configures the Azure OpenAI adapter.
type Options struct {
	// Endpoint is the Azure OpenAI resource endpoint, e.g.
	// "https://my-resource.openai.azure.com".
	Endpoint string
	// Deployment is the deployment name configured in the Azure OpenAI
	// resource. It is used as the model identifier in chat requests, since
	// Azure routes by deployment rather than by model name.
	Deployment string
	// APIVersion is the Azure OpenAI REST API version, e.g. "2024-10-21".
	APIVersion string
	// APIKey authenticates against the resource.
	APIKey string
	// MaxTokens sets the default completion cap when a request does not
	// specify MaxTokens.
	MaxTokens int
	// Temperature is used when a request does not specify Temperature.
	Temperature float64
}

// NewFromAPIKey constructs an llm.Client that talks to an Azure OpenAI
// deployment using the openai-go SDK pointed at the resource's base URL.
func NewFromAPIKey(opts Options) (*openaimodel.Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if strings.TrimSpace(opts.Deployment) == "" {
		return nil, errors.New("azure: deployment is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("azure: api key is required")
	}
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-10-21"
	}

	baseURL := fmt.Sprintf("%s/openai/deployments/%s", endpoint, opts.Deployment)
	oc := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(opts.APIKey),
		option.WithHeader("api-key", opts.APIKey),
		option.WithQuery("api-version", apiVersion),
	)
	return openaimodel.New(&oc.Chat.Completions, openaimodel.Options{
		DefaultModel: opts.Deployment,
		MaxTokens:    opts.MaxTokens,
		Temperature:  opts.Temperature,
	})
}
