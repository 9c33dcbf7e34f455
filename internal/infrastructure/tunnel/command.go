package tunnel

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// MaxQueryBytes bounds the prompt embedded in the remote command line.
const MaxQueryBytes = 16 << 10

// BuildCommand renders `<runner> run '<model>' '<query>'`. The model and query are
// each a single POSIX single-quoted word, so nothing inside them is interpreted by
// the remote shell. Text that cannot be carried safely is rejected.
func BuildCommand(runner, model, query string) (string, error) {
	if !repository.ValidRunner(runner) {
		return "", fmt.Errorf("%w: invalid runner %q", repository.ErrValidation, runner)
	}
	if err := checkArg("model", model, 256); err != nil {
		return "", err
	}
	if err := checkArg("query", query, MaxQueryBytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s run %s %s", runner, shellQuote(model), shellQuote(query)), nil
}

func checkArg(name, s string, limit int) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s is empty", repository.ErrValidation, name)
	}
	if len(s) > limit {
		return fmt.Errorf("%w: %s exceeds %d bytes", repository.ErrValidation, name, limit)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", repository.ErrValidation, name)
	}
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %s contains control character %U", repository.ErrValidation, name, r)
		}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
