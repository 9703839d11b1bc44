package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/common/logger"
)

const (
	defaultHTTPTimeoutSeconds = 30
	defaultHTTPRetries        = 3
	defaultHTTPRetryDelaySecs = 1
)

// HTTPCaller calls an HTTP endpoint with bounded retries. Transport
// errors are retried with exponential backoff; HTTP error statuses are
// surfaced to the caller as success:false and never retried.
type HTTPCaller struct {
	client *http.Client
}

// NewHTTPCaller creates the agent. A nil client gets a default one;
// per-invocation timeouts are applied through the request context.
func NewHTTPCaller(client *http.Client) *HTTPCaller {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPCaller{client: client}
}

func (a *HTTPCaller) Kind() string { return "http_caller" }

func (a *HTTPCaller) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	started := time.Now().UTC()
	log := inv.Logger
	if log == nil {
		log = logger.Default()
	}

	rawURL := stringParam(inv.Input, "url", "")
	method := strings.ToUpper(stringParam(inv.Input, "method", http.MethodGet))
	timeout := time.Duration(intParam(inv.Config, "timeout_seconds", defaultHTTPTimeoutSeconds)) * time.Second
	retries := intParam(inv.Config, "retries", defaultHTTPRetries)
	retryDelay := time.Duration(floatParam(inv.Config, "retry_delay_seconds", defaultHTTPRetryDelaySecs) * float64(time.Second))

	target, err := buildURL(rawURL, mapParam(inv.Input, "params"))
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("invalid url: %v", err))
	}

	var body []byte
	// GET and DELETE never carry a body.
	if method != http.MethodGet && method != http.MethodDelete {
		if data, ok := inv.Input["data"]; ok && data != nil {
			body, err = json.Marshal(data)
			if err != nil {
				return nil, apperrors.ValidationError(fmt.Sprintf("failed to serialize request data: %v", err))
			}
		}
	}

	var resp *http.Response
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			// Exponential backoff base 2: attempt k waits delay * 2^(k-2)
			// after the (k-1)th failure.
			wait := retryDelay * time.Duration(1<<(attempt-2))
			select {
			case <-ctx.Done():
				return nil, abortErr(ctx, "http call")
			case <-time.After(wait):
			}
		}

		resp, lastErr = a.doRequest(ctx, method, target, body, mapParam(inv.Input, "headers"), timeout)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, abortErr(ctx, "http call")
		}
		log.Warn("http request failed, retrying",
			zap.String("node_id", inv.NodeID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	if lastErr != nil {
		if errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timed out after %s: %w", timeout, lastErr)
		}
		return nil, fmt.Errorf("request failed after %d attempts: %w", retries, lastErr)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	decoded := decodeBody(resp.Header.Get("Content-Type"), raw)

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
		"success":     resp.StatusCode < 400,
		"headers":     flattenHeaders(resp.Header),
		"data":        decoded,
	}

	if fields := stringSliceParam(inv.Input, "extract_fields"); len(fields) > 0 {
		output["extracted"] = extractFields(decoded, fields)
	}
	if transform := mapParam(inv.Input, "transform"); transform != nil {
		output["transformed"] = applyTransform(decoded, transform)
	}
	if validation := mapParam(inv.Input, "validation"); validation != nil {
		output["validation"] = validateResponse(decoded, validation)
	}

	return &Result{
		Output: output,
		Metadata: Metadata{
			StartedAt:   started,
			CompletedAt: time.Now().UTC(),
			Extra:       map[string]interface{}{"url": target, "method": method},
		},
	}, nil
}

func (a *HTTPCaller) doRequest(ctx context.Context, method, target string, body []byte, headers map[string]interface{}, timeout time.Duration) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		cancel()
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// Tie the context's lifetime to the body.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func buildURL(rawURL string, params map[string]interface{}) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url must be absolute")
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// decodeBody decodes by content type: JSON for application/json, string
// for text/*, raw bytes otherwise.
func decodeBody(contentType string, raw []byte) interface{} {
	switch {
	case strings.Contains(contentType, "application/json"):
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return string(raw)
		}
		return v
	case strings.HasPrefix(contentType, "text/"):
		return string(raw)
	default:
		return raw
	}
}

func flattenHeaders(h http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func extractFields(decoded interface{}, fields []string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return out
	}
	for _, f := range fields {
		if v, exists := obj[f]; exists {
			out[f] = v
		}
	}
	return out
}

// applyTransform renames fields per field_mapping and applies per-field
// value transforms (uppercase, lowercase, format).
func applyTransform(decoded interface{}, spec map[string]interface{}) interface{} {
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return decoded
	}

	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[k] = v
	}

	if mapping := mapParam(spec, "field_mapping"); mapping != nil {
		for from, to := range mapping {
			toName, ok := to.(string)
			if !ok {
				continue
			}
			if v, exists := out[from]; exists {
				delete(out, from)
				out[toName] = v
			}
		}
	}

	if transforms := mapParam(spec, "value_transforms"); transforms != nil {
		for field, op := range transforms {
			v, exists := out[field]
			if !exists {
				continue
			}
			switch t := op.(type) {
			case string:
				out[field] = transformValue(v, t, "")
			case map[string]interface{}:
				out[field] = transformValue(v, stringParam(t, "type", ""), stringParam(t, "format", ""))
			}
		}
	}
	return out
}

func transformValue(v interface{}, op, format string) interface{} {
	switch op {
	case "uppercase":
		if s, ok := v.(string); ok {
			return strings.ToUpper(s)
		}
	case "lowercase":
		if s, ok := v.(string); ok {
			return strings.ToLower(s)
		}
	case "format":
		if format != "" {
			return fmt.Sprintf(format, v)
		}
	}
	return v
}

// validateResponse checks required fields, expected types, and numeric
// ranges against the decoded body.
func validateResponse(decoded interface{}, spec map[string]interface{}) map[string]interface{} {
	result := map[string]interface{}{
		"valid":    true,
		"errors":   []string{},
		"warnings": []string{},
	}
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		result["valid"] = false
		result["errors"] = []string{"response body is not an object"}
		return result
	}

	var errs, warns []string

	for _, field := range stringSliceParam(spec, "required_fields") {
		if _, exists := obj[field]; !exists {
			errs = append(errs, fmt.Sprintf("required field missing: %s", field))
		}
	}

	if types := mapParam(spec, "type_validation"); types != nil {
		for field, want := range types {
			v, exists := obj[field]
			if !exists {
				continue
			}
			wantType, _ := want.(string)
			if !matchesJSONType(v, wantType) {
				warns = append(warns, fmt.Sprintf("field %s is not of type %s", field, wantType))
			}
		}
	}

	if ranges := mapParam(spec, "range_validation"); ranges != nil {
		for field, bounds := range ranges {
			v, exists := obj[field]
			if !exists {
				continue
			}
			n, ok := numberValue(v)
			if !ok {
				warns = append(warns, fmt.Sprintf("field %s is not numeric", field))
				continue
			}
			b, _ := bounds.(map[string]interface{})
			if min, ok := numberValue(b["min"]); ok && n < min {
				errs = append(errs, fmt.Sprintf("field %s below minimum %v", field, min))
			}
			if max, ok := numberValue(b["max"]); ok && n > max {
				errs = append(errs, fmt.Sprintf("field %s above maximum %v", field, max))
			}
		}
	}

	if len(errs) > 0 {
		result["valid"] = false
		result["errors"] = errs
	}
	if len(warns) > 0 {
		result["warnings"] = warns
	}
	return result
}

func matchesJSONType(v interface{}, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := numberValue(v)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	case "null":
		return v == nil
	}
	return true
}
