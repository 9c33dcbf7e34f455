// Package llm streams completions from hosted providers and embeds text with Ollama.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/go-logr/logr"
	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go"

	"github.com/thalamus/thalamus-api/internal/chunk"
	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// eventStream is the iteration shape shared by the SDK streams.
type eventStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

type (
	chatOpener    func(ctx context.Context, apiKey string, d repository.Descriptor, q repository.Query) eventStream[openai.ChatCompletionChunk]
	messageOpener func(ctx context.Context, apiKey string, d repository.Descriptor, q repository.Query, maxTokens int64) eventStream[anthropic.MessageStreamEventUnion]
	geminiOpener  func(ctx context.Context, apiKey string, d repository.Descriptor, q repository.Query) (eventStream[*genai.GenerateContentResponse], error)
)

// Dispatcher implements repository.Dispatcher for hosted backends. Each call opens
// one fresh request; nothing is retried.
type Dispatcher struct {
	lookupEnv func(string) (string, bool)
	maxTokens int64
	timeout   time.Duration
	log       logr.Logger

	openChat     chatOpener
	openMessages messageOpener
	openGemini   geminiOpener
}

var _ repository.Dispatcher = (*Dispatcher)(nil)

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLookupEnv replaces os.LookupEnv for API key resolution.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(d *Dispatcher) { d.lookupEnv = fn }
}

// NewDispatcher creates a Dispatcher. maxTokens is used for message-stream
// backends that do not set their own budget; timeout bounds a whole stream.
func NewDispatcher(httpClient *http.Client, maxTokens int64, timeout time.Duration, log logr.Logger, opts ...Option) *Dispatcher {
	if httpClient == nil {
		httpClient = NewHTTPClient(log)
	}
	d := &Dispatcher{
		lookupEnv:    os.LookupEnv,
		maxTokens:    maxTokens,
		timeout:      timeout,
		log:          log.WithName("provider"),
		openChat:     chatStream(httpClient),
		openMessages: messageStream(httpClient),
		openGemini:   geminiStream,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stream opens the provider request and returns its text deltas.
func (d *Dispatcher) Stream(ctx context.Context, q repository.Query, desc repository.Descriptor) (repository.ChunkSequence, error) {
	if !desc.Kind.Hosted() {
		return nil, fmt.Errorf("%w: backend %q is not hosted", repository.ErrValidation, desc.ID)
	}
	key, err := d.apiKey(desc)
	if err != nil {
		return nil, err
	}

	var reqCtx context.Context
	var cancel context.CancelFunc
	if d.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, d.timeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}

	var producer chunk.Producer
	switch desc.Kind {
	case repository.KindHostedChat:
		producer = relay(d.openChat(reqCtx, key, desc, q), chatDelta)
	case repository.KindHostedStream:
		tokens := desc.MaxTokens
		if tokens <= 0 {
			tokens = d.maxTokens
		}
		producer = relay(d.openMessages(reqCtx, key, desc, q, tokens), messageDelta)
	case repository.KindHostedGemini:
		s, err := d.openGemini(reqCtx, key, desc, q)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %s: %w", repository.ErrProvider, desc.ID, err)
		}
		producer = relay(s, geminiText)
	}

	d.log.V(1).Info("☁️ Streaming from hosted provider", "backend", desc.ID, "kind", string(desc.Kind))
	return chunk.Start(ctx, func(ctx context.Context, emit chunk.Emit) error {
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		return producer(ctx, emit)
	}), nil
}

func (d *Dispatcher) apiKey(desc repository.Descriptor) (string, error) {
	if desc.APIKeyEnv == "" {
		return "", fmt.Errorf("%w: backend %q names no API key variable", repository.ErrCredentialNotFound, desc.ID)
	}
	key, ok := d.lookupEnv(desc.APIKeyEnv)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s is not set", repository.ErrCredentialNotFound, desc.APIKeyEnv)
	}
	return key, nil
}

// relay forwards extracted text in arrival order. Events without text are skipped.
func relay[T any](stream eventStream[T], text func(T) string) chunk.Producer {
	return func(ctx context.Context, emit chunk.Emit) error {
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			if err := emit(text(stream.Current())); err != nil {
				return err
			}
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", repository.ErrProvider, err)
		}
		return nil
	}
}
