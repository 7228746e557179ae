// Package backend talks to the REST backend that owns authentication,
// authorization decisions and persistence of church records.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"churchadmin/internal/model"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// Client is bound to one browser session: its cookie jar carries the
// backend's session cookie on every request.
type Client struct {
	http    *resty.Client
	baseURL *url.URL
	logger  *slog.Logger
	tracer  trace.Tracer

	mu                sync.RWMutex
	onUnauthenticated func()
}

type envelope struct {
	Success    bool              `json:"success"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination,omitempty"`
	Message    string            `json:"message,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	baseURL, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL.String()).
		SetTimeout(cfg.Timeout).
		SetCookieJar(jar).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryIdempotent)

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		logger:  logger.With("component", "backend"),
		tracer:  otel.Tracer("churchadmin/backend"),
	}, nil
}

// retryIdempotent retries GETs on transport errors and 5xx. Mutations are
// never retried.
func retryIdempotent(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	return err != nil || resp.StatusCode() >= http.StatusInternalServerError
}

// OnUnauthenticated registers a hook that runs whenever the backend answers 401.
func (c *Client) OnUnauthenticated(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthenticated = fn
}

// Cookies returns the backend cookies currently held for this client.
func (c *Client) Cookies() []*http.Cookie {
	return c.http.GetClient().Jar.Cookies(c.baseURL)
}

// SetCookies restores previously exported backend cookies.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.http.GetClient().Jar.SetCookies(c.baseURL, cookies)
}

// ClearCookies expires every backend cookie in place. The jar itself is never
// swapped, so requests already in flight keep a valid jar.
func (c *Client) ClearCookies() {
	jar := c.http.GetClient().Jar
	paths := []string{"/"}
	if p := c.baseURL.Path; p != "" && p != "/" {
		paths = append(paths, p)
	}
	var expired []*http.Cookie
	for _, cookie := range jar.Cookies(c.baseURL) {
		for _, p := range paths {
			expired = append(expired, &http.Cookie{Name: cookie.Name, Path: p, MaxAge: -1})
		}
	}
	jar.SetCookies(c.baseURL, expired)
}

// Do calls an enveloped /api endpoint and decodes data into out.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) (*model.Pagination, error) {
	resp, err := c.execute(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return nil, &Error{Kind: ErrServer, Status: resp.StatusCode(), Method: method, Path: path, Message: "malformed response", Cause: err}
		}
	} else {
		env.Success = true
	}
	if !env.Success {
		return nil, &Error{Kind: ErrValidation, Status: resp.StatusCode(), Method: method, Path: path, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, &Error{Kind: ErrServer, Status: resp.StatusCode(), Method: method, Path: path, Message: "malformed response data", Cause: err}
		}
	}
	return env.Pagination, nil
}

// doJSON calls a non-enveloped endpoint (auth and organization routes).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.execute(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{Kind: ErrServer, Status: resp.StatusCode(), Method: method, Path: path, Message: "malformed response", Cause: err}
	}
	return nil
}

func (c *Client) execute(ctx context.Context, method, path string, query url.Values, body any) (*resty.Response, error) {
	ctx, span := c.tracer.Start(ctx, "backend "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	defer span.End()

	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		c.logger.WarnContext(ctx, "Backend request failed",
			"method", method, "path", path, "error", err, "duration", time.Since(start))
		return nil, &Error{Kind: ErrUnavailable, Method: method, Path: path, Cause: err}
	}

	status := resp.StatusCode()
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status < 400 {
		span.SetStatus(codes.Ok, "")
		c.logger.DebugContext(ctx, "Backend request",
			"method", method, "path", path, "status", status, "duration", time.Since(start))
		return resp, nil
	}

	backendErr := &Error{Kind: kindForStatus(status), Status: status, Method: method, Path: path, Message: errorMessage(resp.Body())}
	span.SetStatus(codes.Error, backendErr.Kind.Error())

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, "Backend returned an error",
		"method", method, "path", path, "status", status, "message", backendErr.Message)

	if status == http.StatusUnauthorized {
		c.mu.RLock()
		hook := c.onUnauthenticated
		c.mu.RUnlock()
		if hook != nil {
			hook()
		}
	}
	return nil, backendErr
}

func errorMessage(body []byte) string {
	var eb errorBody
	if len(body) == 0 || json.Unmarshal(body, &eb) != nil {
		return ""
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}

// Path joins an /api resource path with an escaped id.
func Path(resource string, segments ...string) string {
	var b strings.Builder
	b.WriteString("/api/")
	b.WriteString(resource)
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	return b.String()
}
