package llm

import (
	"context"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

func messageStream(httpClient *http.Client) messageOpener {
	return func(ctx context.Context, apiKey string, d repository.Descriptor, q repository.Query, maxTokens int64) eventStream[anthropic.MessageStreamEventUnion] {
		opts := []option.RequestOption{
			option.WithAPIKey(apiKey),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		}
		if d.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(d.BaseURL))
		}
		client := anthropic.NewClient(opts...)

		return client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(d.Model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(q.Text)),
			},
		})
	}
}

func messageDelta(e anthropic.MessageStreamEventUnion) string {
	if ev, ok := e.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
		if td, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
			return td.Text
		}
	}
	return ""
}
