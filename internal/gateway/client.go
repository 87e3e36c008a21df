// Package gateway is the single point through which API calls pass.
// It attaches the session's bearer token, unwraps response envelopes and
// performs one silent refresh-and-retry cycle when a request is rejected with 401.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	apperrors "github.com/FeruzLatifov/univer-front-sub000/internal/errors"
)

// HeaderRequestID correlates gateway log lines with provider logs.
const HeaderRequestID = "X-Request-ID"

const (
	defaultTimeout    = 30 * time.Second
	maxResponseBytes  = 8 << 20
	defaultTokenType  = "Bearer"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
)

// ErrNoRefreshCredential is wrapped by the error SessionHooks.RenewAccessToken returns
// when the session holds no refresh credential. The session has already been torn down.
var ErrNoRefreshCredential = errors.New("no refresh credential")

// SessionHooks is the narrow view of the session the gateway needs.
type SessionHooks interface {
	// AccessToken returns the current bearer token or "" when signed out.
	AccessToken() string
	// RenewAccessToken obtains and persists a new access token to replace rejected.
	// Concurrent callers share one renewal, and a caller whose rejected token was
	// already replaced receives the current one. On failure the session has already
	// been torn down.
	RenewAccessToken(ctx context.Context, rejected string) (string, error)
}

// Doer executes gateway requests. Provider adapters depend on this instead of *Client.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request describes one API call.
type Request struct {
	Method string
	// Path is resolved against the client's base URL.
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON encoded when non-nil.
	Body any
	// Bearer overrides the session token, e.g. with the refresh credential.
	Bearer string
	// Anonymous sends no Authorization header.
	Anonymous bool
	// NoRefresh disables the 401 refresh-and-retry cycle.
	NoRefresh bool
}

func (r *Request) refreshable() bool {
	return !r.NoRefresh && !r.Anonymous && r.Bearer == ""
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Hooks      SessionHooks
	Logger     *slog.Logger
	// MessageExpr and FieldsExpr are JMESPath expressions evaluated against error bodies.
	MessageExpr string
	FieldsExpr  string
}

// Client is the HTTP implementation of Doer.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	hooks   SessionHooks
	logger  *slog.Logger
	errs    errorExtractor
}

var _ Doer = (*Client)(nil)

// NewHTTPClient returns a client with a public-suffix aware cookie jar so
// provider session cookies are sent back on later requests. A non-positive
// timeout uses the gateway default.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &http.Client{Timeout: timeout, Jar: jar}, nil
}

// New constructs a Client. A nil HTTPClient gets NewHTTPClient with the default timeout.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.ValidationField("base_url", fmt.Sprintf("invalid base URL %q", opts.BaseURL))
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	extractor, err := newErrorExtractor(opts.MessageExpr, opts.FieldsExpr)
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		if httpClient, err = NewHTTPClient(defaultTimeout); err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		hooks:   opts.Hooks,
		logger:  logger.With("component", "gateway"),
		errs:    extractor,
	}, nil
}

// Do sends req. A 401 on a request that used the session token triggers one
// renewal through the hooks followed by a single retry with the new token.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, apperrors.Validation("request is required")
	}

	bearer := c.bearerFor(req)
	resp, err := c.send(ctx, req, bearer)
	if err == nil {
		return resp, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized ||
		!req.refreshable() || c.hooks == nil {
		return nil, err
	}

	// Retried exactly once; the renewed token is persisted before RenewAccessToken returns.
	token, renewErr := c.hooks.RenewAccessToken(ctx, bearer)
	if renewErr != nil {
		if errors.Is(renewErr, ErrNoRefreshCredential) {
			return nil, err
		}
		return nil, renewErr
	}
	return c.send(ctx, req, token)
}

// Get is shorthand for a GET request using the session token.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post is shorthand for a JSON POST request using the session token.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

func (c *Client) bearerFor(req *Request) string {
	switch {
	case req.Anonymous:
		return ""
	case req.Bearer != "":
		return req.Bearer
	case c.hooks != nil:
		return c.hooks.AccessToken()
	default:
		return ""
	}
}

func (c *Client) send(ctx context.Context, req *Request, bearer string) (*Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if bearer != "" {
		(&oauth2.Token{AccessToken: bearer, TokenType: defaultTokenType}).SetAuthHeader(httpReq)
	}

	requestID := httpReq.Header.Get(HeaderRequestID)
	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, wrapContextErr(ctxErr)
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeNetwork, "%s %s failed", req.Method, req.Path)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeNetwork, "read %s response", req.Path)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := c.errs.extract(httpResp.StatusCode, body)
		if httpResp.StatusCode != http.StatusUnauthorized {
			c.logger.WarnContext(ctx, "api request failed",
				"method", req.Method,
				"path", req.Path,
				"status", httpResp.StatusCode,
				"request_id", requestID,
				"message", apiErr.Message,
			)
		}
		return nil, apiErr.appError()
	}

	c.logger.DebugContext(ctx, "api request",
		"method", req.Method,
		"path", req.Path,
		"status", httpResp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)
	resp := unwrapEnvelope(body)
	resp.StatusCode = httpResp.StatusCode
	resp.Header = httpResp.Header
	return resp, nil
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ref, err := url.Parse(strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, apperrors.ValidationField("path", fmt.Sprintf("invalid path %q", req.Path))
	}
	target := c.baseURL.ResolveReference(ref)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, marshalErr := json.Marshal(req.Body)
		if marshalErr != nil {
			return nil, apperrors.Wrap(marshalErr, apperrors.ErrCodeInternal, "encode request body")
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}
	if httpReq.Header.Get(headerAccept) == "" {
		httpReq.Header.Set(headerAccept, contentTypeJSON)
	}
	if httpReq.Header.Get(HeaderRequestID) == "" {
		httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	}
	return httpReq, nil
}

func wrapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "request timed out")
	}
	return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "request canceled")
}
