package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/narrata/internal/synth"
)

// Job is one chunk handed to a [Dispatcher].
type Job struct {
	Request synth.Request
}

// Outcome is the settled result of one chunk. Err is empty on success.
type Outcome struct {
	ChunkIndex int
	Response   synth.Response
	Err        string
}

// Dispatcher performs one single-chunk synthesis call. Implementations must
// be safe for concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) (synth.Response, error)
}

// DispatcherFunc adapts a function to [Dispatcher].
type DispatcherFunc func(ctx context.Context, job Job) (synth.Response, error)

// Dispatch implements [Dispatcher].
func (f DispatcherFunc) Dispatch(ctx context.Context, job Job) (synth.Response, error) {
	return f(ctx, job)
}

// LocalDispatcher calls a [synth.Service] in-process.
type LocalDispatcher struct {
	Service *synth.Service
}

// Dispatch implements [Dispatcher]. Errors carry the same user-facing message
// the HTTP endpoint would return.
func (d LocalDispatcher) Dispatch(ctx context.Context, job Job) (synth.Response, error) {
	resp, err := d.Service.Synthesize(ctx, job.Request)
	if err != nil {
		_, msg := synth.ErrorStatus(err)
		return synth.Response{ChunkIndex: job.Request.ChunkIndex}, &DispatchError{Message: msg, Err: err}
	}
	return *resp, nil
}

// DispatchError keeps the user-facing message of a failed call together with
// the underlying cause.
type DispatchError struct {
	Message string
	Err     error
}

// Error implements error.
func (e *DispatchError) Error() string { return e.Message }

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error { return e.Err }

// HTTPDispatcher posts chunks to a remote synthesis endpoint.
type HTTPDispatcher struct {
	// Endpoint is the full URL of the endpoint, e.g.
	// "http://localhost:8080/api/generate-audio".
	Endpoint string

	// Username and Password, when set, are sent as HTTP Basic credentials.
	Username string
	Password string

	// Client defaults to a client with a 3 minute timeout.
	Client *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 3 * time.Minute}

// Dispatch implements [Dispatcher]. Transport errors, non-2xx statuses and
// responses with success=false are all errors.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, job Job) (synth.Response, error) {
	idx := job.Request.ChunkIndex
	body, err := json.Marshal(job.Request)
	if err != nil {
		return synth.Response{ChunkIndex: idx}, fmt.Errorf("batch: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(body))
	if err != nil {
		return synth.Response{ChunkIndex: idx}, fmt.Errorf("batch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.Username != "" {
		req.SetBasicAuth(d.Username, d.Password)
	}

	client := d.Client
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return synth.Response{ChunkIndex: idx}, fmt.Errorf("batch: chunk %d: %w", idx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return synth.Response{ChunkIndex: idx}, fmt.Errorf("batch: chunk %d: read response: %w", idx, err)
	}

	var out synth.Response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && out.Error != "" {
			return synth.Response{ChunkIndex: idx}, errors.New(out.Error)
		}
		text := strings.TrimSpace(string(raw))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return synth.Response{ChunkIndex: idx}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, text)
	}
	if decodeErr != nil {
		return synth.Response{ChunkIndex: idx}, fmt.Errorf("batch: chunk %d: decode response: %w", idx, decodeErr)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("Chunk %d failed: server reported no success", idx)
		}
		return synth.Response{ChunkIndex: idx}, errors.New(msg)
	}
	return out, nil
}
