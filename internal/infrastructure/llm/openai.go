package llm

import (
	"context"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

func chatStream(httpClient *http.Client) chatOpener {
	return func(ctx context.Context, apiKey string, d repository.Descriptor, q repository.Query) eventStream[openai.ChatCompletionChunk] {
		opts := []option.RequestOption{
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		}
		if d.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(d.BaseURL))
		}
		client := openai.NewClient(opts...)

		return client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(d.Model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(q.Text),
			},
		})
	}
}

// chatDelta returns the content delta of the first choice; role-only and
// finish events carry none.
func chatDelta(c openai.ChatCompletionChunk) string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}
