package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"signflow/internal/domain/entity"
)

const (
	maxBodyLogLength = 500   // Maximum characters to log for body
	maxBodyStoreSize = 10000 // Maximum characters persisted per body
)

var base64Pattern = regexp.MustCompile(`"([A-Za-z0-9+/=]{100,})"`)

// RequestContext describes an outbound call for logging and auditing.
type RequestContext struct {
	Target    string            // Integration name, e.g. "webhook" or "records"
	BaseID    string            // Tenant the call is made for
	RequestID string            // Signature request the call belongs to
	Headers   map[string]string // Extra headers, e.g. signatures or bearer tokens
	Redact    []string          // JSON keys whose values never reach logs
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: status=%d, body=%s", e.StatusCode, truncateString(e.Body, maxBodyLogLength))
}

type HTTPClient interface {
	// Send performs a request with a pre-encoded body. Bodies signed by the
	// caller must go through Send so the signed bytes are what is sent.
	Send(ctx context.Context, reqCtx *RequestContext, method, url string, body []byte, result interface{}) error
	// Post encodes body as JSON and performs a POST request
	Post(ctx context.Context, reqCtx *RequestContext, url string, body interface{}, result interface{}) error
	// Patch encodes body as JSON and performs a PATCH request
	Patch(ctx context.Context, reqCtx *RequestContext, url string, body interface{}, result interface{}) error
}

// APILogSaver interface for saving API logs
type APILogSaver interface {
	Save(ctx context.Context, log *entity.APILog) error
}

type httpClient struct {
	client      *http.Client
	apiLogSaver APILogSaver
	logger      *zap.Logger
}

func NewHTTPClient(apiLogSaver APILogSaver, logger *zap.Logger) HTTPClient {
	logger.Info("HTTP client initialized")
	return &httpClient{
		// Per-call deadlines come from the caller's context.
		client:      &http.Client{},
		apiLogSaver: apiLogSaver,
		logger:      logger,
	}
}

// truncateString truncates a string if it exceeds maxLength
func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + fmt.Sprintf("... [truncated, total %d chars]", len(s))
}

// truncateBase64InJSON truncates base64-like values in JSON string
func truncateBase64InJSON(jsonStr string, maxLength int) string {
	return base64Pattern.ReplaceAllStringFunc(jsonStr, func(match string) string {
		content := match[1 : len(match)-1]
		if len(content) > maxLength {
			return fmt.Sprintf(`"%s... [base64 truncated, total %d chars]"`, content[:maxLength], len(content))
		}
		return match
	})
}

// redactJSONFields replaces the string values of keys in a JSON document.
func redactJSONFields(jsonStr string, keys []string) string {
	for _, key := range keys {
		pattern := regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:\s*"(?:[^"\\]|\\.)*"`)
		jsonStr = pattern.ReplaceAllString(jsonStr, `"`+key+`":"[redacted]"`)
	}
	return jsonStr
}

// formatHeadersForLog formats HTTP headers for logging in "Header Key=Value" format
func formatHeadersForLog(headers http.Header) string {
	var sb strings.Builder
	for key, values := range headers {
		for _, value := range values {
			if strings.EqualFold(key, "Authorization") {
				value = "[redacted]"
			}
			if len(value) > 100 {
				value = value[:100] + "..."
			}
			sb.WriteString(fmt.Sprintf("Header %s=%s\n", key, value))
		}
	}
	return sb.String()
}

// logRequest logs the HTTP request details
func (c *httpClient) logRequest(reqCtx *RequestContext, method, url string, headers http.Header, body []byte) {
	var logBuilder strings.Builder

	logBuilder.WriteString("\n>>> [WEBCLIENT-REQ]\n")
	logBuilder.WriteString(fmt.Sprintf("Target: %s\n", reqCtx.Target))
	logBuilder.WriteString(fmt.Sprintf("Method: %s\n", method))
	logBuilder.WriteString(fmt.Sprintf("URL: %s\n", url))
	logBuilder.WriteString(formatHeadersForLog(headers))

	if len(body) > 0 {
		bodyStr := truncateBase64InJSON(redactJSONFields(string(body), reqCtx.Redact), 100)
		bodyStr = truncateString(bodyStr, maxBodyLogLength)
		logBuilder.WriteString(fmt.Sprintf("REQUEST BODY: %s\n", bodyStr))
	}

	c.logger.Debug(logBuilder.String())
}

// logResponse logs the HTTP response details
func (c *httpClient) logResponse(statusCode int, statusText string, duration time.Duration, body []byte) {
	var logBuilder strings.Builder

	logBuilder.WriteString("\n>>> [WEBCLIENT-RESPONSE]\n")
	logBuilder.WriteString(fmt.Sprintf("Status: %d %s\n", statusCode, statusText))
	logBuilder.WriteString(fmt.Sprintf("Duration: %s\n", duration))
	logBuilder.WriteString(fmt.Sprintf("Body: %s\n", truncateString(string(body), maxBodyLogLength)))

	c.logger.Debug(logBuilder.String())
}

// saveAPILog persists the call asynchronously so auditing never blocks the caller.
func (c *httpClient) saveAPILog(reqCtx *RequestContext, method, endpoint string, requestBody, responseBody []byte, statusCode int, duration time.Duration) {
	if c.apiLogSaver == nil {
		return
	}

	reqBodyStr := ""
	if len(requestBody) > 0 {
		reqBodyStr = truncateBase64InJSON(redactJSONFields(string(requestBody), reqCtx.Redact), 100)
		if len(reqBodyStr) > maxBodyStoreSize {
			reqBodyStr = reqBodyStr[:maxBodyStoreSize] + "... [truncated]"
		}
	}

	respBodyStr := string(responseBody)
	if len(respBodyStr) > maxBodyStoreSize {
		respBodyStr = respBodyStr[:maxBodyStoreSize] + "... [truncated]"
	}

	apiLog := &entity.APILog{
		Target:       reqCtx.Target,
		Endpoint:     endpoint,
		Method:       method,
		RequestBody:  reqBodyStr,
		ResponseBody: respBodyStr,
		StatusCode:   statusCode,
		Duration:     duration.Milliseconds(),
		RequestID:    reqCtx.RequestID,
		BaseID:       reqCtx.BaseID,
		CreatedAt:    time.Now(),
	}

	go func() {
		if err := c.apiLogSaver.Save(context.Background(), apiLog); err != nil {
			c.logger.Warn("Failed to save API log to database",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
		}
	}()
}

func (c *httpClient) Send(ctx context.Context, reqCtx *RequestContext, method, url string, body []byte, result interface{}) error {
	if reqCtx == nil {
		reqCtx = &RequestContext{}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range reqCtx.Headers {
		req.Header.Set(k, v)
	}

	c.logRequest(reqCtx, method, url, req.Header, body)

	startTime := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.saveAPILog(reqCtx, method, url, body, []byte(err.Error()), 0, time.Since(startTime))
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(startTime)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logResponse(resp.StatusCode, resp.Status, duration, respBody)
	c.saveAPILog(reqCtx, method, url, body, respBody, resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

func (c *httpClient) doJSON(ctx context.Context, reqCtx *RequestContext, method, url string, body interface{}, result interface{}) error {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	return c.Send(ctx, reqCtx, method, url, jsonBody, result)
}

func (c *httpClient) Post(ctx context.Context, reqCtx *RequestContext, url string, body interface{}, result interface{}) error {
	return c.doJSON(ctx, reqCtx, http.MethodPost, url, body, result)
}

func (c *httpClient) Patch(ctx context.Context, reqCtx *RequestContext, url string, body interface{}, result interface{}) error {
	return c.doJSON(ctx, reqCtx, http.MethodPatch, url, body, result)
}
