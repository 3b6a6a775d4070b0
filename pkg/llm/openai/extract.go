package openai

import (
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"

	"github.com/user/soulsync/pkg/llm"
)

const insightsPrompt = `You review transcripts of supportive conversations between a user and SoulSync, an emotional support companion.
Return short, compassionate, non-clinical observations about the user's emotional patterns. Do not diagnose.`

var insightsSchema = generateSchema[llm.SessionInsights]()

// ExtractInsights asks the model for a structured digest of a transcript.
func (c *Client) ExtractInsights(ctx context.Context, transcript string) (*llm.SessionInsights, error) {
	p := c.params([]llm.Message{
		llm.SystemMessage(insightsPrompt),
		llm.UserMessage(transcript),
	})
	p.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        "SessionInsights",
				Description: openai.String("Session insights JSON"),
				Schema:      insightsSchema,
				Strict:      openai.Bool(true),
			},
		},
	}

	resp, err := c.api.Chat.Completions.New(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("extract insights: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("extract insights: %w", llm.ErrEmptyResponse)
	}

	var out llm.SessionInsights
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}
	return &out, nil
}

func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	b, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	requireAll(m)
	return m
}

// requireAll marks every property required and closes every object, which
// strict structured output demands.
func requireAll(schema map[string]any) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}
	schema["additionalProperties"] = false
	required := make([]string, 0, len(props))
	for name, prop := range props {
		required = append(required, name)
		if pm, ok := prop.(map[string]any); ok {
			requireAll(pm)
		}
	}
	sort.Strings(required)
	schema["required"] = required
}
