package llm

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

var redactedHeaders = map[string]bool{
	"authorization":  true,
	"x-api-key":      true,
	"x-goog-api-key": true,
	"api-key":        true,
}

// LoggingTransport is an http.RoundTripper that logs outbound calls at V(1).
// Bodies are never read, so streaming responses pass through untouched.
type LoggingTransport struct {
	Base http.RoundTripper
	Log  logr.Logger
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if !t.Log.V(1).Enabled() {
		return base.RoundTrip(req)
	}

	t.Log.V(1).Info("Outbound request", "method", req.Method, "url", req.URL.String(), "headers", redact(req.Header))
	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		t.Log.V(1).Info("Outbound request failed", "url", req.URL.String(), "error", err.Error())
		return resp, err
	}
	t.Log.V(1).Info("Outbound response", "status", resp.StatusCode, "url", req.URL.String(), "elapsed", time.Since(start).String())
	return resp, nil
}

func redact(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if redactedHeaders[strings.ToLower(k)] {
			out[k] = "REDACTED"
			continue
		}
		out[k] = strings.Join(v, ",")
	}
	return out
}

// NewHTTPClient returns a client with keep-alives disabled, so every provider
// invocation opens and tears down its own connection.
func NewHTTPClient(log logr.Logger) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DisableKeepAlives = true
	return &http.Client{
		Transport: &LoggingTransport{Base: base, Log: log.WithName("http")},
	}
}
