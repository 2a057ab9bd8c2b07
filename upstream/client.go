package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/appctx"
	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBackoff = 5 * time.Second

var tracer = otel.Tracer("simplerp-gateway/upstream")

// Client talks to the SimplERP REST API on behalf of the signed-in user.
type Client struct {
	baseURL     string
	http        *http.Client
	maxRetries  int
	backoffBase time.Duration
}

type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Part is one field of a multipart request. Data is sent as a file part when FileName is set.
type Part struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

func NewClient(baseURL string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		backoffBase: 200 * time.Millisecond,
	}
}

var (
	defaultClient   *Client
	defaultClientMu sync.RWMutex
)

// Default returns the shared client, built from UPSTREAM_* settings on first use.
func Default() *Client {
	defaultClientMu.RLock()
	c := defaultClient
	defaultClientMu.RUnlock()
	if c != nil {
		return c
	}
	defaultClientMu.Lock()
	defer defaultClientMu.Unlock()
	if defaultClient == nil {
		defaultClient = NewClient(config.UpstreamBaseURL(), config.UpstreamTimeout(), config.UpstreamMaxRetries())
	}
	return defaultClient
}

func SetDefault(c *Client) {
	defaultClientMu.Lock()
	defaultClient = c
	defaultClientMu.Unlock()
}

// WithBearerToken stores the upstream token that every call made with ctx will carry.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyUpstreamToken, token)
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.GetRaw(ctx, path, query)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetRaw is Get that also reports the content type. GETs are retried on
// network errors and 5xx answers.
func (c *Client) GetRaw(ctx context.Context, path string, query url.Values) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, lastErr
			}
		}
		resp, err := c.do(ctx, http.MethodGet, path, query, nil, "")
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return nil, err
		}
		config.GetLogger().WithFields(logrus.Fields{
			"field":   "upstream",
			"path":    path,
			"attempt": attempt + 1,
		}).Warn("upstream GET failed; retrying: " + err.Error())
	}
	return nil, lastErr
}

func (c *Client) PostJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPost, path, payload)
}

func (c *Client) PutJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPut, path, payload)
}

func (c *Client) PatchJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPatch, path, payload)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, "")
	return err
}

func (c *Client) PostMultipart(ctx context.Context, path string, parts []Part) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		disposition := fmt.Sprintf(`form-data; name="%s"`, escapeQuotes(p.FieldName))
		if p.FileName != "" {
			disposition += fmt.Sprintf(`; filename="%s"`, escapeQuotes(p.FileName))
		}
		header.Set("Content-Disposition", disposition)
		if p.ContentType != "" {
			header.Set("Content-Type", p.ContentType)
		}
		pw, err := w.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write(p.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, path, nil, buf.Bytes(), w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, method, path, nil, body, "application/json")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) (*Response, error) {
	ctx, span := tracer.Start(ctx, "upstream "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/hal+json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token, ok := appctx.GetString(ctx, appctx.ContextKeyUpstreamToken); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cid, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && cid != "" {
		req.Header.Set("x-correlation-id", cid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upstream %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("read upstream %s %s: %w", method, path, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(method, path, resp.StatusCode, respBody)
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, apiErr
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := c.backoffBase * time.Duration(1<<min(attempt-1, 10))
	if d > maxBackoff {
		d = maxBackoff
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
