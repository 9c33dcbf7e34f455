package tunnel

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    string
		wantErr bool
	}{
		{"plain", "hello world", `ollama run 'llama3.1' 'hello world'`, false},
		{"double quotes and dollars", `say "$(id)" and $HOME`, `ollama run 'llama3.1' 'say "$(id)" and $HOME'`, false},
		{"single quote", "it's", `ollama run 'llama3.1' 'it'\''s'`, false},
		{"backticks and semicolons", "`reboot`; rm -rf /", "ollama run 'llama3.1' '`reboot`; rm -rf /'", false},
		{"newlines kept", "line1\nline2", "ollama run 'llama3.1' 'line1\nline2'", false},
		{"nul rejected", "a\x00b", "", true},
		{"escape rejected", "a\x1b[2Jb", "", true},
		{"invalid utf8 rejected", "a\xffb", "", true},
		{"whitespace only rejected", "   ", "", true},
		{"too long rejected", strings.Repeat("a", MaxQueryBytes+1), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildCommand("ollama", "llama3.1", tt.query)
			if tt.wantErr {
				if !errors.Is(err, repository.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildCommand_RejectsRunnerInjection(t *testing.T) {
	if _, err := BuildCommand("ollama;id", "m", "q"); !errors.Is(err, repository.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestLocateKey_Order(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"id_ecdsa", "id_ed25519"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "id_rsa"), 0o700); err != nil {
		t.Fatal(err)
	}

	got, err := LocateKey(dir, []string{"id_rsa", "id_ed25519", "id_ecdsa", "id_dsa"})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != "id_ed25519" {
		t.Errorf("expected id_ed25519, got %s", got)
	}
}

func TestLoadSigner_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSigner(dir, []string{"id_rsa"}); !errors.Is(err, repository.ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound for missing key, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "id_rsa"), []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSigner(dir, []string{"id_rsa"}); !errors.Is(err, repository.ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound for garbage key, got %v", err)
	}

	writeTestKey(t, dir, "id_ed25519")
	if _, err := LoadSigner(dir, []string{"id_ed25519"}); err != nil {
		t.Errorf("expected a usable key, got %v", err)
	}
}
