// Package apiclient is the secure transport used for every call to the
// booking backend: token checks, CSRF echo, idempotency keys, payload
// sanitizing and error classification.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stayhub/stayhub-core/internal/pkg/jwt"
	"github.com/stayhub/stayhub-core/internal/pkg/logger"
	"github.com/stayhub/stayhub-core/internal/pkg/session"
)

const (
	defaultTimeout = 15 * time.Second
	defaultBackoff = 300 * time.Millisecond

	HeaderCSRF        = "X-CSRF-Token"
	HeaderIdempotency = "X-Idempotency-Key"
	HeaderRequestID   = "X-Request-ID"

	// CodeNoToken is the 401 code the backend uses when no Authorization
	// header was supplied at all.
	CodeNoToken = "NO_TOKEN"
	// CodeCSRFInvalid is the 403 code for a missing or stale CSRF token.
	CodeCSRFInvalid = "CSRF_INVALID"

	maxResponseBody = 1 << 20
)

// Redirector performs the "go to login" side effect after a rejected token.
type Redirector interface {
	RedirectToLogin(reason string)
}

// RedirectFunc adapts a function to Redirector.
type RedirectFunc func(reason string)

func (f RedirectFunc) RedirectToLogin(reason string) { f(reason) }

// Config holds client settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	CSRFPath   string        // GET endpoint issuing a CSRF token; empty disables bootstrap
	MaxRetries int           // extra attempts for transient failures of safe requests
	Backoff    time.Duration // base delay between attempts; negative means none
}

// Envelope is the backend's standard response body.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody mirrors the backend error object.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	ua         string
	csrfPath   string
	maxRetries int
	backoff    time.Duration

	http     *http.Client
	store    session.Store
	state    *State
	redirect Redirector
	now      func() time.Time
	log      zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithState(s *State) Option             { return func(c *Client) { c.state = s } }
func WithRedirector(r Redirector) Option    { return func(c *Client) { c.redirect = r } }
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient creates a client bound to one credential store.
func NewClient(cfg Config, store session.Store, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := cfg.Backoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = defaultBackoff
	}
	if store == nil {
		store = session.NewMemoryStore("")
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		ua:         cfg.UserAgent,
		csrfPath:   cfg.CSRFPath,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		http:       &http.Client{Timeout: timeout, Transport: transport},
		store:      store,
		state:      NewState(),
		redirect:   RedirectFunc(func(string) {}),
		now:        time.Now,
		log:        logger.Component("apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State exposes the client's credential cache.
func (c *Client) State() *State { return c.state }

// NewIdempotencyKey mints a key for one logical write operation.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

type requestOptions struct {
	idempotencyKey string
	headers        http.Header
}

// RequestOption customizes a single call.
type RequestOption func(*requestOptions)

// WithIdempotencyKey pins the key of a logical operation so a repeated call
// for the same attempt reuses it.
func WithIdempotencyKey(key string) RequestOption {
	return func(o *requestOptions) { o.idempotencyKey = key }
}

func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = http.Header{}
		}
		o.headers.Set(key, value)
	}
}

func (c *Client) Get(ctx context.Context, path string, out interface{}, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body, out interface{}, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body, out interface{}, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodPut, path, body, out, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body, out interface{}, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodPatch, path, body, out, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, out interface{}, opts ...RequestOption) (*Envelope, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// Do sends one logical request. A 2xx response is decoded into an Envelope
// and its data, if any, into out; success:false on a 2xx is not an error.
// Every failure is returned as *Error.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}, opts ...RequestOption) (*Envelope, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	mutating := isStateChanging(method)

	var payload []byte
	if body != nil {
		var err error
		if mutating {
			payload, err = sanitizePayload(body)
		} else {
			payload, err = json.Marshal(body)
		}
		if err != nil {
			return nil, &Error{Kind: KindClient, Method: method, Path: path, Message: "Invalid request payload", Err: err}
		}
	}

	// One key per logical operation, shared by every attempt below.
	if mutating && ro.idempotencyKey == "" && needsIdempotencyKey(path) {
		ro.idempotencyKey = NewIdempotencyKey()
	}

	// Writes are only repeated when the backend can deduplicate them.
	retryable := !mutating || ro.idempotencyKey != ""

	var lastErr *Error
	for attempt := 0; ; attempt++ {
		env, apiErr := c.send(ctx, method, path, payload, out, ro)
		if apiErr == nil {
			return env, nil
		}
		lastErr = apiErr

		if !retryable || attempt >= c.maxRetries || !shouldRetry(apiErr) {
			break
		}
		wait := c.backoff * time.Duration(attempt+1)
		c.log.Warn().
			Str("method", method).
			Str("path", path).
			Str("kind", string(apiErr.Kind)).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Msg("Retrying request")
		if err := sleepCtx(ctx, wait); err != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out interface{}, ro requestOptions) (*Envelope, *Error) {
	mutating := isStateChanging(method)
	if mutating && c.state.CSRFToken() == "" && c.csrfPath != "" {
		if err := c.FetchCSRFToken(ctx); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("CSRF bootstrap failed, sending without token")
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindClient, Method: method, Path: path, Message: "Invalid request", Err: err}
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	for k, vs := range ro.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// Credentials are read right before dispatch so concurrent requests
	// never carry a token another request has already purged.
	token := c.validToken(ctx)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if mutating {
		if csrf := c.state.CSRFToken(); csrf != "" {
			req.Header.Set(HeaderCSRF, csrf)
		}
		if ro.idempotencyKey != "" {
			req.Header.Set(HeaderIdempotency, ro.idempotencyKey)
		}
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Str("idempotency_key", ro.idempotencyKey).
		Bool("authenticated", token != "").
		Msg("API request")

	resp, err := c.http.Do(req)
	if err != nil {
		apiErr := classifyTransportError(ctx, method, path, err)
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("API request failed")
		return nil, apiErr
	}
	defer resp.Body.Close()

	if fresh := resp.Header.Get(HeaderCSRF); fresh != "" {
		c.state.SetCSRFToken(fresh)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, classifyTransportError(ctx, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(ctx, method, path, resp, raw, token != "")
	}

	env := &Envelope{Success: true}
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, &Error{Kind: KindDecode, Method: method, Path: path, Status: resp.StatusCode, Err: err}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, &Error{Kind: KindDecode, Method: method, Path: path, Status: resp.StatusCode, Err: err}
		}
	}
	return env, nil
}

func (c *Client) statusError(ctx context.Context, method, path string, resp *http.Response, raw []byte, sentToken bool) *Error {
	apiErr := &Error{
		Kind:   kindForStatus(resp.StatusCode),
		Method: method,
		Path:   path,
		Status: resp.StatusCode,
	}

	var env Envelope
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	} else if env.Message != "" {
		apiErr.Message = env.Message
	}

	switch apiErr.Kind {
	case KindAuth:
		noToken := !sentToken || apiErr.Code == CodeNoToken
		c.purgeCredentials(ctx)
		if !noToken {
			c.redirect.RedirectToLogin("token rejected")
		}
	case KindSecurity:
		if apiErr.Code == CodeCSRFInvalid {
			c.state.SetCSRFToken("")
		}
	case KindRateLimited:
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	}

	event := c.log.Warn()
	if apiErr.Kind == KindServer {
		event = c.log.Error()
	}
	if len(raw) > 1000 {
		raw = raw[:1000]
	}
	event.
		Str("method", method).
		Str("path", path).
		Int("status_code", resp.StatusCode).
		Str("kind", string(apiErr.Kind)).
		Str("error_code", apiErr.Code).
		Str("response_body", string(raw)).
		Msg("API error response")

	return apiErr
}

// FetchCSRFToken asks the backend for a fresh CSRF token.
func (c *Client) FetchCSRFToken(ctx context.Context) error {
	if c.csrfPath == "" {
		return errors.New("csrf endpoint not configured")
	}
	var data struct {
		CSRFToken string `json:"csrfToken"`
	}
	// Response headers already update the cache inside send.
	if _, apiErr := c.send(ctx, http.MethodGet, c.csrfPath, nil, &data, requestOptions{}); apiErr != nil {
		return apiErr
	}
	if data.CSRFToken != "" {
		c.state.SetCSRFToken(data.CSRFToken)
	}
	return nil
}

// validToken returns the stored token when it looks usable. Malformed or
// expired tokens are purged and the request proceeds anonymously.
func (c *Client) validToken(ctx context.Context) string {
	token, err := c.store.Token(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to read auth token")
		return ""
	}
	if token == "" {
		return ""
	}

	now := c.now()
	if valid, ok := c.state.cachedValidity(token, now); ok {
		if valid {
			return token
		}
		c.purgeToken(ctx)
		return ""
	}

	info, err := jwt.Inspect(token, now)
	if err != nil {
		c.log.Warn().Err(err).Str("token", logger.Mask(token)).Msg("Discarding unusable auth token")
		c.state.rememberValidity(token, time.Time{}, false)
		c.purgeToken(ctx)
		return ""
	}
	c.state.rememberValidity(token, info.ExpiresAt, true)
	return token
}

func (c *Client) purgeToken(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.log.Error().Err(err).Msg("Failed to purge stored credentials")
	}
}

// purgeCredentials also drops the CSRF token, which the backend binds to
// the rejected session.
func (c *Client) purgeCredentials(ctx context.Context) {
	c.purgeToken(ctx)
	c.state.ForgetCredentials()
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func needsIdempotencyKey(path string) bool {
	p := strings.ToLower(path)
	return strings.Contains(p, "/bookings") || strings.Contains(p, "/payments")
}

func shouldRetry(err *Error) bool {
	switch err.Kind {
	case KindNetwork:
		return true
	case KindServer:
		return err.Status == http.StatusBadGateway ||
			err.Status == http.StatusServiceUnavailable ||
			err.Status == http.StatusGatewayTimeout
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
