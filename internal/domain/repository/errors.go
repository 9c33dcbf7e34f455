package repository

import "errors"

var (
	// ErrValidation marks malformed input: empty queries, unsafe characters, bad registry entries.
	ErrValidation = errors.New("validation error")
	// ErrCredentialNotFound marks a missing or unusable SSH key or API key.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrConnection marks a failure to reach the jump host, the target host or the network.
	ErrConnection = errors.New("connection error")
	// ErrRemote marks a self-hosted model that wrote to stderr or exited non-zero.
	ErrRemote = errors.New("remote error")
	// ErrProvider marks a hosted provider that failed to start or finish a stream.
	ErrProvider = errors.New("provider error")
	// ErrNotFound marks a lookup of a record that does not exist.
	ErrNotFound = errors.New("record not found")
)

// ErrorKind returns a short name for the sentinel wrapped in err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrRemote):
		return "remote"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "internal"
}
