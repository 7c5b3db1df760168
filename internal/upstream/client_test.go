// ABOUTME: Tests for the upstream HTTP client against httptest servers
// ABOUTME: Covers streaming runs, blocking runs, status errors and session creation

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIBase: srv.URL, APIKey: "sk-test"}, srv.Client(), nil)
}

func TestClient_StreamSendsRequest(t *testing.T) {
	var got Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"delta\":\"Hi\"}\n\ndata: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(), Request{Workflow: "wf_1", Input: "hello", Version: "2"})
	require.NoError(t, err)
	defer stream.Close()

	d, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "Hi", d.Text)

	d, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, DeltaDone, d.Kind)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, Request{Workflow: "wf_1", Input: "hello", Stream: true, Version: "2"}, got)
}

func TestClient_StreamStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	})

	_, err := client.Stream(context.Background(), Request{Workflow: "wf", Input: "x"})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "slow down", statusErr.Message())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_StreamCancelled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"delta\":\"a\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.Stream(ctx, Request{Workflow: "wf", Input: "x"})
	require.NoError(t, err)
	defer stream.Close()

	d, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", d.Text)

	cancel()
	_, err = stream.Next()
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient(Config{}, nil, nil)

	assert.False(t, client.Configured())
	_, err := client.Stream(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_Complete(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "output_text", body: `{"output_text":"direct"}`, want: "direct"},
		{
			name: "output array",
			body: `{"output":[{"content":[{"type":"output_text","text":"a"},{"type":"refusal","text":"no"},{"type":"text","text":"b"}]}]}`,
			want: "ab",
		},
		{name: "empty", body: `{"output":[]}`, want: ""},
		{name: "not json", body: `oops`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req Request
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.False(t, req.Stream)
				fmt.Fprint(w, tt.body)
			})

			text, err := client.Complete(context.Background(), Request{Workflow: "wf", Input: "x", Stream: true})
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestClient_CompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Config{APIBase: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond}, srv.Client(), nil)

	_, err := client.Complete(context.Background(), Request{Workflow: "wf"})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CreateSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chatkit/sessions", r.URL.Path)
		assert.Equal(t, "chatkit_beta=v1", r.Header.Get("OpenAI-Beta"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"id": "wf_9"}, body["workflow"])
		assert.Equal(t, "user-1", body["user"])

		fmt.Fprint(w, `{"client_secret":"cs_123","expires_after":{"anchor":"created_at","seconds":600}}`)
	})

	session, err := client.CreateSession(context.Background(), "wf_9", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.ClientSecret)
	assert.JSONEq(t, `{"anchor":"created_at","seconds":600}`, string(session.ExpiresAfter))
}

func TestClient_CreateSessionMissingSecret(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"expires_after":60}`)
	})

	_, err := client.CreateSession(context.Background(), "wf", "u")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestStatusError_Message(t *testing.T) {
	assert.Equal(t, "bad", (&StatusError{StatusCode: 400, Body: `{"error":"bad"}`}).Message())
	assert.Equal(t, "plain text", (&StatusError{StatusCode: 500, Body: "plain text"}).Message())
	assert.Equal(t, "Bad Gateway", (&StatusError{StatusCode: 502}).Message())
}
