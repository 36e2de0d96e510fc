package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockBackend classifies text through a Bedrock-hosted model using the
// InvokeModel API with a constrained-JSON prompt, mirroring the OpenAI
// backend's contract. Authentication follows the default credential chain.
type BedrockBackend struct {
	client *bedrockruntime.Client
	labels map[string][]string
}

// NewBedrockBackend creates a Bedrock backend for the given region.
// endpoint overrides the API endpoint for tests; empty uses the default.
func NewBedrockBackend(ctx context.Context, region, endpoint string, labelSets map[string][]string) (*BedrockBackend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &BedrockBackend{
		client: bedrockruntime.NewFromConfig(awsCfg, clientOpts...),
		labels: labelSets,
	}, nil
}

// Classify invokes the model and parses the single-label JSON verdict.
func (b *BedrockBackend) Classify(ctx context.Context, model, text string) ([]LabelScore, error) {
	labelSet := b.labels[model]
	if len(labelSet) == 0 {
		return nil, NewBackendError("bedrock", "config", fmt.Sprintf("no label set for model %q", model), nil)
	}

	prompt := fmt.Sprintf(classifyPrompt, strings.Join(labelSet, ", "), text)

	var body []byte
	var err error
	if strings.HasPrefix(model, "anthropic.") {
		body, err = json.Marshal(map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        64,
			"temperature":       0,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		})
	} else {
		body, err = json.Marshal(map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": 64,
				"temperature":   0,
			},
		})
	}
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, NewBackendError("bedrock", "transport", "invoke model", err)
	}

	content, err := extractBedrockText(model, out.Body)
	if err != nil {
		return nil, NewBackendError("bedrock", "decode", "parse response", err)
	}

	var verdict struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &verdict); err != nil {
		return nil, NewBackendError("bedrock", "decode", "parse verdict", err)
	}
	if verdict.Label == "" {
		return nil, ErrEmptyResponse
	}
	return []LabelScore{{Label: verdict.Label, Score: verdict.Score}}, nil
}

// extractBedrockText pulls the completion text out of the model-family
// specific response envelope.
func extractBedrockText(model string, raw []byte) (string, error) {
	if strings.HasPrefix(model, "anthropic.") {
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", err
		}
		if len(resp.Content) == 0 {
			return "", ErrEmptyResponse
		}
		return resp.Content[0].Text, nil
	}

	var resp struct {
		Results []struct {
			OutputText string `json:"outputText"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Results[0].OutputText, nil
}
