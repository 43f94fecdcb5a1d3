package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultRemoteBaseURL = "https://api.groq.com/openai/v1/"
	DefaultRemoteModel   = "llama-3.1-8b-instant"

	remoteTemperature = 0.7
	remoteMaxTokens   = 1024
)

// RemoteConfig controls construction of the hosted chat-completions backend.
type RemoteConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Persona string
}

// RemoteBackend answers through an OpenAI-compatible chat-completions API (Groq).
type RemoteBackend struct {
	client  *openai.Client
	model   string
	persona string
}

func NewRemoteBackend(cfg RemoteConfig) (*RemoteBackend, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, &ConfigurationError{Backend: ModeRemote, Reason: "GROQ_API_KEY is required"}
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultRemoteBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultRemoteModel
	}
	persona := cfg.Persona
	if persona == "" {
		persona = Persona
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	)
	return &RemoteBackend{client: &client, model: model, persona: persona}, nil
}

func (b *RemoteBackend) Mode() Mode { return ModeRemote }

func (b *RemoteBackend) Info() Info {
	return Info{Mode: ModeRemote, Model: b.model}
}

func (b *RemoteBackend) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, b.params(req))
	if err != nil {
		return "", generationError(ModeRemote, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", generationError(ModeRemote, ErrEmptyResult)
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *RemoteBackend) GenerateStream(ctx context.Context, req Request, onFragment FragmentHandler) (string, error) {
	stream := b.client.Chat.Completions.NewStreaming(ctx, b.params(req))
	defer stream.Close()

	var out strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onFragment != nil {
			if err := onFragment(delta); err != nil {
				return out.String(), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return out.String(), ctx.Err()
		}
		return out.String(), generationError(ModeRemote, err)
	}
	if out.Len() == 0 {
		return "", generationError(ModeRemote, ErrEmptyResult)
	}
	return out.String(), nil
}

func (b *RemoteBackend) params(req Request) openai.ChatCompletionNewParams {
	turns := BuildRemoteMessages(b.persona, req)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(b.model),
		Messages:    messages,
		Temperature: openai.Float(remoteTemperature),
		MaxTokens:   openai.Int(remoteMaxTokens),
	}
}
