package process

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ewintr.nl/shortwatch/model"
	"github.com/sashabaranov/go-openai"
)

type OpenAISummarizer struct {
	client *openai.Client
}

func NewOpenAISummarizer(client *openai.Client) *OpenAISummarizer {
	return &OpenAISummarizer{
		client: client,
	}
}

func (sum *OpenAISummarizer) Name() string {
	return "openai summarizer"
}

func (sum *OpenAISummarizer) Enrich(ctx context.Context, event *model.NotificationEvent) error {
	const summarizePrompt = `You write one sentence that tells what a short video is about, based on the title and description a user gives you.
Do not add introductory phrases like "This video is about". Do not use hashtags. Answer in the language of the title.
`

	resp, err := sum.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:     openai.GPT3Dot5Turbo,
			MaxTokens: 80,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: summarizePrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: fmt.Sprintf("%s\n\n%s", event.Video.Title, event.Video.Description),
				},
			},
		})
	if err != nil {
		return fmt.Errorf("failed to fetch summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("empty completion")
	}

	event.Summary = strings.TrimSpace(resp.Choices[len(resp.Choices)-1].Message.Content)

	return nil
}
