package tts

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrMissingCredential is matched (via errors.Is) by every error returned from
// [Provider.CheckCredentials].
var ErrMissingCredential = errors.New("tts: missing credential")

// ErrEmptyAudio is returned when a vendor reports success but sends no audio.
var ErrEmptyAudio = errors.New("tts: vendor returned no audio data")

// maxErrorBody caps how much of a vendor error body is kept in an [APIError].
const maxErrorBody = 4096

// CredentialError reports a credential that is not configured. Its message is
// user-facing (e.g. "Fish Audio API key not configured").
type CredentialError struct {
	Provider string
	Message  string
}

// Error implements error.
func (e *CredentialError) Error() string { return e.Message }

// Is makes errors.Is(err, ErrMissingCredential) succeed.
func (e *CredentialError) Is(target error) bool { return target == ErrMissingCredential }

// MissingCredential builds a [CredentialError] for provider.
func MissingCredential(provider, message string) error {
	return &CredentialError{Provider: provider, Message: message}
}

// APIError is a non-successful vendor response. It keeps the HTTP status and the
// (truncated) response body so they can be surfaced to the user.
type APIError struct {
	// Provider is the vendor display name.
	Provider   string
	StatusCode int
	Status     string
	Body       string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d %s. Body: %s", e.Provider, e.StatusCode, e.Status, e.Body)
}

// NewAPIError reads up to 4 KiB of resp.Body and returns an [APIError]. It does
// not close the body.
func NewAPIError(provider string, resp *http.Response) *APIError {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	}
	status := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	if status == "" {
		status = http.StatusText(resp.StatusCode)
	}
	return &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Status:     status,
		Body:       strings.TrimSpace(string(body)),
	}
}
