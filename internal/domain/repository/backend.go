package repository

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Kind names the invocation mechanism a backend needs.
type Kind string

const (
	KindHostedChat   Kind = "hosted_chat"   // OpenAI-style chat completion stream
	KindHostedStream Kind = "hosted_stream" // Anthropic-style message stream
	KindHostedGemini Kind = "hosted_gemini" // Gemini content stream
	KindSelfHosted   Kind = "self_hosted"   // ollama behind the SSH double hop
)

// Hosted reports whether the kind is served by a provider API.
func (k Kind) Hosted() bool {
	switch k {
	case KindHostedChat, KindHostedStream, KindHostedGemini:
		return true
	}
	return false
}

func (k Kind) valid() bool {
	return k.Hosted() || k == KindSelfHosted
}

// Remote locates a self-hosted model on the private network.
type Remote struct {
	Host   string
	Port   int
	User   string
	Runner string
}

// Addr returns host:port, defaulting the port to 22.
func (r Remote) Addr() string {
	port := r.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", r.Host, port)
}

// Descriptor is one entry of the backend registry.
type Descriptor struct {
	ID            string
	Kind          Kind
	Model         string
	APIKeyEnv     string
	BaseURL       string
	ContextWindow int
	MaxTokens     int64
	Remote        Remote
	Exemplars     []string
}

var runnerPattern = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)

// ValidRunner reports whether s can be placed on a remote command line unquoted.
func ValidRunner(s string) bool {
	return runnerPattern.MatchString(s)
}

// Registry is the fixed, ordered set of backends known at startup.
// It is never mutated after construction.
type Registry struct {
	items []Descriptor
	byID  map[string]int
}

// NewRegistry validates the descriptors and freezes them into a Registry.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("%w: registry needs at least one backend", ErrValidation)
	}

	r := &Registry{
		items: make([]Descriptor, 0, len(descs)),
		byID:  make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if strings.TrimSpace(d.ID) == "" {
			return nil, fmt.Errorf("%w: backend without id", ErrValidation)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate backend id %q", ErrValidation, d.ID)
		}
		if !d.Kind.valid() {
			return nil, fmt.Errorf("%w: backend %q has unknown kind %q", ErrValidation, d.ID, d.Kind)
		}
		if d.MaxTokens < 0 || d.MaxTokens > math.MaxInt32 {
			return nil, fmt.Errorf("%w: backend %q max_tokens %d out of range", ErrValidation, d.ID, d.MaxTokens)
		}
		if d.ContextWindow < 0 {
			return nil, fmt.Errorf("%w: backend %q has a negative context window", ErrValidation, d.ID)
		}
		if d.Model == "" {
			d.Model = d.ID
		}
		if d.Kind == KindSelfHosted {
			if d.Remote.Host == "" {
				return nil, fmt.Errorf("%w: self-hosted backend %q has no host", ErrValidation, d.ID)
			}
			if !ValidRunner(d.Remote.Runner) {
				return nil, fmt.Errorf("%w: self-hosted backend %q has invalid runner %q", ErrValidation, d.ID, d.Remote.Runner)
			}
		}
		d.Exemplars = append([]string(nil), d.Exemplars...)
		r.byID[d.ID] = len(r.items)
		r.items = append(r.items, d)
	}
	return r, nil
}

// All returns a copy of the registered backends in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.items))
	for i, d := range r.items {
		d.Exemplars = append([]string(nil), d.Exemplars...)
		out[i] = d
	}
	return out
}

// Lookup finds a backend by id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.items[i], true
}

// Len returns the number of backends.
func (r *Registry) Len() int {
	return len(r.items)
}
