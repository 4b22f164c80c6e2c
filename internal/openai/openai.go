// Package openai wraps the OpenAI API surface the bot uses: streamed and
// plain chat completion, image generation, transcription, speech synthesis,
// and image description.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/neuroscribe/scribebot/internal/config"
)

var (
	// ErrEmptyPrompt is returned when the user content is blank.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrNoChoices is returned when the API responds without any choice.
	ErrNoChoices = errors.New("api response contained no choices")
	// ErrEmptyResponse is returned when the API produced only whitespace.
	ErrEmptyResponse = errors.New("api response was empty")
)

// ChatMessage is one turn of conversation context. Role is "system", "user"
// or "assistant".
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResult is a completed generation plus its token usage. TotalTokens is
// estimated from text length when the API omits usage data.
type ChatResult struct {
	Content     string
	TotalTokens int64
}

// Client is the AI surface the handlers depend on.
type Client interface {
	// ChatStream generates a completion, invoking onPartial with the
	// cumulative content after every delta.
	ChatStream(ctx context.Context, model string, messages []ChatMessage, onPartial func(cumulative string)) (ChatResult, error)

	// Chat generates a completion without streaming.
	Chat(ctx context.Context, model string, messages []ChatMessage) (ChatResult, error)

	// GenerateImage renders the prompt and returns the image URL.
	GenerateImage(ctx context.Context, prompt string) (string, error)

	// Transcribe converts spoken audio to text. filename carries the format
	// extension the API needs (for example voice.ogg).
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)

	// Synthesize converts text to spoken audio and returns the encoded bytes.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// DescribeImage answers a prompt about an image.
	DescribeImage(ctx context.Context, prompt, imageURL string) (ChatResult, error)
}

type client struct {
	api *openai.Client
	cfg config.OpenAIConfig
}

// New creates an OpenAI client from the configuration, with a bounded HTTP
// client underneath.
func New(cfg config.OpenAIConfig) Client {
	apiCfg := openai.DefaultConfig(cfg.Token)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
	}

	return &client{
		api: openai.NewClientWithConfig(apiCfg),
		cfg: cfg,
	}
}

func toAPIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}

// estimateTokens approximates usage when the API doesn't report it. Four
// characters per token is the usual rule of thumb for English text.
func estimateTokens(messages []ChatMessage, completion string) int64 {
	chars := utf8.RuneCountInString(completion)
	for _, m := range messages {
		chars += utf8.RuneCountInString(m.Content)
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return int64(tokens)
}

func (c *client) ChatStream(ctx context.Context, model string, messages []ChatMessage, onPartial func(string)) (ChatResult, error) {
	if len(messages) == 0 {
		return ChatResult{}, ErrEmptyPrompt
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toAPIMessages(messages),
		Temperature: c.cfg.Temperature,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return ChatResult{}, fmt.Errorf("chat completion stream failed: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	var totalTokens int64

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ChatResult{}, fmt.Errorf("chat completion stream failed: %w", err)
		}

		if resp.Usage != nil {
			totalTokens = int64(resp.Usage.TotalTokens)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if onPartial != nil {
			onPartial(content.String())
		}
	}

	text := strings.TrimSpace(content.String())
	if text == "" {
		return ChatResult{}, ErrEmptyResponse
	}
	if totalTokens == 0 {
		totalTokens = estimateTokens(messages, text)
	}
	return ChatResult{Content: text, TotalTokens: totalTokens}, nil
}

func (c *client) Chat(ctx context.Context, model string, messages []ChatMessage) (ChatResult, error) {
	if len(messages) == 0 {
		return ChatResult{}, ErrEmptyPrompt
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toAPIMessages(messages),
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return ChatResult{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, ErrNoChoices
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return ChatResult{}, ErrEmptyResponse
	}

	totalTokens := int64(resp.Usage.TotalTokens)
	if totalTokens == 0 {
		totalTokens = estimateTokens(messages, text)
	}
	return ChatResult{Content: text, TotalTokens: totalTokens}, nil
}

func (c *client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Model:          c.cfg.ImageModel,
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrEmptyResponse
	}
	return resp.Data[0].URL, nil
}

func (c *client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.Whisper,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}

	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.SpeechModel(c.cfg.TTSModel),
		Input: text,
		Voice: openai.SpeechVoice(c.cfg.TTSVoice),
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyResponse
	}
	return audio, nil
}

func (c *client) DescribeImage(ctx context.Context, prompt, imageURL string) (ChatResult, error) {
	if imageURL == "" {
		return ChatResult{}, ErrEmptyPrompt
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = "What is in this image?"
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.VisionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	})
	if err != nil {
		return ChatResult{}, fmt.Errorf("image description failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, ErrNoChoices
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return ChatResult{}, ErrEmptyResponse
	}

	totalTokens := int64(resp.Usage.TotalTokens)
	if totalTokens == 0 {
		totalTokens = estimateTokens([]ChatMessage{{Content: prompt}}, text)
	}
	return ChatResult{Content: text, TotalTokens: totalTokens}, nil
}
