package repository

import (
	"errors"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	remote := Remote{Host: "10.0.0.1", User: "ubuntu", Runner: "ollama"}

	tests := []struct {
		name    string
		descs   []Descriptor
		wantErr bool
	}{
		{"empty", nil, true},
		{"valid", []Descriptor{{ID: "a", Kind: KindHostedChat}, {ID: "b", Kind: KindSelfHosted, Remote: remote}}, false},
		{"duplicate", []Descriptor{{ID: "a", Kind: KindHostedChat}, {ID: "a", Kind: KindHostedStream}}, true},
		{"unknown kind", []Descriptor{{ID: "a", Kind: "carrier_pigeon"}}, true},
		{"blank id", []Descriptor{{ID: " ", Kind: KindHostedChat}}, true},
		{"self hosted without host", []Descriptor{{ID: "a", Kind: KindSelfHosted, Remote: Remote{Runner: "ollama"}}}, true},
		{"max tokens beyond int32", []Descriptor{{ID: "a", Kind: KindHostedGemini, MaxTokens: 1 << 31}}, true},
		{"negative max tokens", []Descriptor{{ID: "a", Kind: KindHostedStream, MaxTokens: -1}}, true},
		{"max tokens at int32 limit", []Descriptor{{ID: "a", Kind: KindHostedGemini, MaxTokens: 1<<31 - 1}}, false},
		{"runner with shell syntax", []Descriptor{{ID: "a", Kind: KindSelfHosted, Remote: Remote{Host: "h", Runner: "ollama && id"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.descs...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRegistry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestRegistry_AllIsACopy(t *testing.T) {
	reg, err := NewRegistry(Descriptor{ID: "a", Kind: KindHostedChat, Exemplars: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}

	all := reg.All()
	all[0].ID = "mutated"

	if _, ok := reg.Lookup("a"); !ok {
		t.Error("mutating All() must not affect the registry")
	}
	if got := reg.All()[0].ID; got != "a" {
		t.Errorf("expected a, got %s", got)
	}
}

func TestErrorKind(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrRemote)
	if got := ErrorKind(wrapped); got != "remote" {
		t.Errorf("expected remote, got %s", got)
	}
	if got := ErrorKind(errors.New("plain")); got != "internal" {
		t.Errorf("expected internal, got %s", got)
	}
}
