package agents

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
)

func TestHTTPCaller_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "42", r.URL.Query().Get("page"))
		assert.Equal(t, "token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ada","score":7}`))
	}))
	defer srv.Close()

	agent := NewHTTPCaller(nil)
	result, err := agent.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"url":     srv.URL,
			"headers": map[string]interface{}{"Authorization": "token-1"},
			"params":  map[string]interface{}{"page": 42},
		},
	})
	require.NoError(t, err)

	output := result.Output.(map[string]interface{})
	assert.Equal(t, 200, output["status_code"])
	assert.Equal(t, true, output["success"])
	data := output["data"].(map[string]interface{})
	assert.Equal(t, "ada", data["name"])
}

func TestHTTPCaller_PostSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "ada", payload["name"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	agent := NewHTTPCaller(nil)
	result, err := agent.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"url":    srv.URL,
			"method": "POST",
			"data":   map[string]interface{}{"name": "ada"},
		},
	})
	require.NoError(t, err)
	output := result.Output.(map[string]interface{})
	assert.Equal(t, 201, output["status_code"])
}

func TestHTTPCaller_DeleteDropsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	agent := NewHTTPCaller(nil)
	result, err := agent.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"url":    srv.URL,
			"method": "DELETE",
			"data":   map[string]interface{}{"ignored": true},
		},
	})
	require.NoError(t, err)
	output := result.Output.(map[string]interface{})
	assert.Equal(t, 204, output["status_code"])
}

func TestHTTPCaller_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	agent := NewHTTPCaller(nil)
	result, err := agent.Execute(context.Background(), Invocation{
		Config: map[string]interface{}{"retries": 3},
		Input:  map[string]interface{}{"url": srv.URL},
	})
	// HTTP 5xx is a successful transport exchange: surfaced, not raised.
	require.NoError(t, err)
	output := result.Output.(map[string]interface{})
	assert.Equal(t, 500, output["status_code"])
	assert.Equal(t, false, output["success"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPCaller_TransportErrorExhaustsRetries(t *testing.T) {
	agent := NewHTTPCaller(nil)
	_, err := agent.Execute(context.Background(), Invocation{
		Config: map[string]interface{}{"retries": 2, "retry_delay_seconds": 0.01},
		Input:  map[string]interface{}{"url": "http://127.0.0.1:1/nope"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestHTTPCaller_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	agent := NewHTTPCaller(nil)
	result, err := agent.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{"url": srv.URL},
	})
	require.NoError(t, err)
	output := result.Output.(map[string]interface{})
	assert.Equal(t, "hello", output["data"])
}

func TestHTTPCaller_PostProcessing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ada","role":"eng","score":150}`))
	}))
	defer srv.Close()

	agent := NewHTTPCaller(nil)
	result, err := agent.Execute(context.Background(), Invocation{
		Input: map[string]interface{}{
			"url":            srv.URL,
			"extract_fields": []interface{}{"name", "missing"},
			"transform": map[string]interface{}{
				"field_mapping":    map[string]interface{}{"role": "title"},
				"value_transforms": map[string]interface{}{"name": "uppercase"},
			},
			"validation": map[string]interface{}{
				"required_fields": []interface{}{"name", "email"},
				"range_validation": map[string]interface{}{
					"score": map[string]interface{}{"min": 0, "max": 100},
				},
			},
		},
	})
	require.NoError(t, err)
	output := result.Output.(map[string]interface{})

	extracted := output["extracted"].(map[string]interface{})
	assert.Equal(t, "ada", extracted["name"])
	_, hasMissing := extracted["missing"]
	assert.False(t, hasMissing)

	transformed := output["transformed"].(map[string]interface{})
	assert.Equal(t, "ADA", transformed["name"])
	assert.Equal(t, "eng", transformed["title"])
	_, hasRole := transformed["role"]
	assert.False(t, hasRole)

	validation := output["validation"].(map[string]interface{})
	assert.Equal(t, false, validation["valid"])
	errs := validation["errors"].([]string)
	require.Len(t, errs, 2)
}

func TestHTTPCaller_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := NewHTTPCaller(nil)
	_, err := agent.Execute(ctx, Invocation{
		Config: map[string]interface{}{"retries": 3, "retry_delay_seconds": 1},
		Input:  map[string]interface{}{"url": "http://127.0.0.1:1/nope"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCancelled(err))
}

func TestHTTPCaller_DeadlineIsFailureNotCancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	agent := NewHTTPCaller(nil)
	_, err := agent.Execute(ctx, Invocation{
		Config: map[string]interface{}{"retries": 1},
		Input:  map[string]interface{}{"url": srv.URL},
	})
	require.Error(t, err)
	// An expired deadline is a timeout failure, never a cancellation.
	assert.False(t, apperrors.IsCancelled(err))
	assert.Contains(t, err.Error(), "timed out")
}
