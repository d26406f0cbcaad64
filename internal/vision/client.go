package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/UTSC-CSCC09-Programming-on-the-Web/project-choresprint/internal/domain"
)

// Provider failure classes. ErrProvider covers network, timeout and quota
// conditions and is safe to retry; ErrMalformedResponse means the provider
// answered but the structured verdict could not be recovered, which retrying
// indefinitely will not fix.
var (
	ErrProvider          = errors.New("comparison provider unavailable")
	ErrMalformedResponse = errors.New("comparison provider returned malformed response")
)

const systemPrompt = "You are an AI assistant that verifies household chores by comparing a " +
	"clean reference image with a user-submitted proof image. Use visual reasoning to assess " +
	"whether the proof image matches the expected clean/finished state."

// verdictSchema constrains the model output to the exact Verdict shape.
var verdictSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"is_completed": {"type": "boolean"},
		"explanation": {"type": "string"}
	},
	"required": ["is_completed", "explanation"],
	"additionalProperties": false
}`)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Request identifies the two photos to compare plus the chore text that gives
// the model context for what "done" means.
type Request struct {
	ReferenceURL string
	ProofURL     string
	Title        string
	Description  string
}

// Client wraps the vision-capable chat completion call. Nothing of the
// provider's payload shape escapes this package; callers only ever see a
// domain.Verdict or a classified error.
type Client struct {
	api   *openai.Client
	model string
}

func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{
		api:   openai.NewClientWithConfig(clientCfg),
		model: model,
	}
}

func (c *Client) Compare(ctx context.Context, req Request) (domain.Verdict, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Here is the reference image showing how the chore should look when completed:",
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: req.ReferenceURL, Detail: openai.ImageURLDetailAuto},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Here is the proof photo submitted by the user. Determine whether the chore was " +
							"completed properly. Focus on visual cues like cleanliness, order, and completeness.",
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: req.ProofURL, Detail: openai.ImageURLDetailAuto},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: fmt.Sprintf(
							"Chore: %s\nDescription: %s\n\nIs this chore completed correctly? Answer with a "+
								"true/false completion verdict and a one-sentence justification.",
							req.Title, req.Description,
						),
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "chore_completion",
				Schema: verdictSchema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	if len(resp.Choices) == 0 {
		return domain.Verdict{}, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return domain.Verdict{}, fmt.Errorf("%w: empty message content", ErrMalformedResponse)
	}

	var verdict domain.Verdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return verdict, nil
}
