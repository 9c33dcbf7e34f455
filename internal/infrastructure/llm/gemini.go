package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// geminiResponses adapts the genai iterator to eventStream and owns the client.
type geminiResponses struct {
	client *genai.Client
	it     *genai.GenerateContentResponseIterator
	cur    *genai.GenerateContentResponse
	err    error
}

func geminiStream(ctx context.Context, apiKey string, d repository.Descriptor, q repository.Query) (eventStream[*genai.GenerateContentResponse], error) {
	client, err := genai.NewClient(ctx, geminiOptions(apiKey, d)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(d.Model)
	if d.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(d.MaxTokens))
	}
	return &geminiResponses{
		client: client,
		it:     model.GenerateContentStream(ctx, genai.Text(q.Text)),
	}, nil
}

// geminiOptions points the client at BaseURL when the descriptor sets one.
func geminiOptions(apiKey string, d repository.Descriptor) []option.ClientOption {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if d.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(d.BaseURL))
	}
	return opts
}

func (s *geminiResponses) Next() bool {
	resp, err := s.it.Next()
	if errors.Is(err, iterator.Done) {
		return false
	}
	if err != nil {
		s.err = err
		return false
	}
	s.cur = resp
	return true
}

func (s *geminiResponses) Current() *genai.GenerateContentResponse { return s.cur }
func (s *geminiResponses) Err() error                              { return s.err }
func (s *geminiResponses) Close() error                            { return s.client.Close() }

// geminiText joins the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}
