// Package rest connects to repositories that expose the instance query API
// over HTTP.
package rest

import (
	"bytes"
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
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
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes = 32 << 20
	maxErrorSnippet  = 512
)

// Handle is a federation.Handle for one remote repository.
type Handle struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	budget  *Budget
	logger  *zap.Logger
}

type options struct {
	token       string
	verbose     bool
	logger      *zap.Logger
	timeout     time.Duration
	rps         float64
	burst       int
	maxCooldown time.Duration
	transport   http.RoundTripper
}

type Option func(*options)

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVerbose logs every HTTP exchange at debug level.
func WithVerbose(enabled bool) Option {
	return func(o *options) { o.verbose = enabled }
}

// WithTimeout bounds each HTTP exchange. Zero leaves the caller's context in charge.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRateLimit caps requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rps = rps
		o.burst = burst
	}
}

// WithMaxCooldown sets the longest server-requested back-off the handle waits
// out before reporting the repository unavailable.
func WithMaxCooldown(d time.Duration) Option {
	return func(o *options) { o.maxCooldown = d }
}

// WithTransport replaces the base HTTP transport (test seam).
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

func New(baseURL string, opts ...Option) (*Handle, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("rest handle: base url is empty")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest handle: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("rest handle: unsupported scheme %q", u.Scheme)
	}

	o := &options{maxCooldown: time.Second}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.With(zap.String("component", "rest"), zap.String("endpoint", u.String()))

	h := &Handle{
		base:   u,
		client: &http.Client{Transport: buildTransport(o.transport, o.token, o.verbose, logger), Timeout: o.timeout},
		budget: NewBudget(o.maxCooldown),
		logger: logger,
	}
	if o.rps > 0 {
		burst := o.burst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(o.rps), burst)
	}
	return h, nil
}

// HandleKey identifies the handle by endpoint for identity caching.
func (h *Handle) HandleKey() string {
	return h.base.String()
}

type identityResponse struct {
	MetadataCollectionID string `json:"metadataCollectionId"`
}

func (h *Handle) Identify(ctx context.Context, callerID string) (federation.RepositoryID, error) {
	var out identityResponse
	found, err := h.do(ctx, http.MethodGet, callerID, nil, &out, "metadata-collection-id")
	if err != nil {
		return "", err
	}
	if !found {
		return "", federation.Malformed("", errors.New("repository does not expose a metadata collection id"))
	}
	return federation.RepositoryID(out.MetadataCollectionID), nil
}

type entityResponse struct {
	Entity *metadata.EntityDetail `json:"entity"`
}

type entitiesResponse struct {
	Entities []*metadata.EntityDetail `json:"entities"`
}

type relationshipsResponse struct {
	Relationships []*metadata.Relationship `json:"relationships"`
}

// relationshipsQuery is the body of a relationships request. Paging is applied
// after consolidation, so repositories are asked for everything.
type relationshipsQuery struct {
	UserID   string `json:"userId,omitempty"`
	TypeName string `json:"typeName,omitempty"`
}

type entitiesQuery struct {
	UserID     string            `json:"userId,omitempty"`
	TypeName   string            `json:"typeName,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	MatchAll   bool              `json:"matchAll"`
}

func (h *Handle) Invoke(ctx context.Context, req federation.Request) (federation.Response, error) {
	switch q := req.(type) {
	case metadata.GetEntityRequest:
		var out entityResponse
		found, err := h.do(ctx, http.MethodPost, q.UserID, struct{}{}, &out, "instances", "entity", q.GUID)
		if err != nil || !found || out.Entity == nil {
			return nil, err
		}
		return out.Entity, nil

	case metadata.FindEntitiesRequest:
		body := entitiesQuery{UserID: q.UserID, TypeName: q.TypeName, Properties: q.Properties, MatchAll: q.MatchAll}
		var out entitiesResponse
		found, err := h.do(ctx, http.MethodPost, q.UserID, body, &out, "instances", "entities", "by-property")
		if err != nil || !found {
			return nil, err
		}
		return out.Entities, nil

	case metadata.GetRelationshipsRequest:
		body := relationshipsQuery{UserID: q.UserID, TypeName: q.TypeName}
		var out relationshipsResponse
		found, err := h.do(ctx, http.MethodPost, q.UserID, body, &out, "instances", "entity", q.EntityGUID, "relationships")
		if err != nil || !found {
			return nil, err
		}
		return out.Relationships, nil

	default:
		return nil, federation.Malformed("", fmt.Errorf("operation %q is not supported over REST", req.Operation()))
	}
}

// do performs one exchange. It reports found=false for 404 and classifies
// every failure as a federation error.
func (h *Handle) do(ctx context.Context, method, userID string, body, out any, segments ...string) (bool, error) {
	if err := h.budget.Admit(ctx); err != nil {
		if errors.Is(err, ErrCoolingDown) {
			return false, federation.Unavailable("", err)
		}
		return false, err
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, federation.Unavailable("", fmt.Errorf("rate limit: %w", err))
		}
	}

	endpoint := h.base.JoinPath(segments...)
	if userID != "" {
		q := endpoint.Query()
		q.Set("userId", userID)
		endpoint.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), rdr)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, federation.Unavailable("", err)
	}
	defer func() { _ = resp.Body.Close() }()
	h.budget.Observe(resp)

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorSnippet))
		return false, nil
	case code == http.StatusTooManyRequests || code >= 500:
		return false, federation.Unavailable("", statusError(req, resp))
	case code < 200 || code >= 300:
		return false, federation.Malformed("", statusError(req, resp))
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	if err := dec.Decode(out); err != nil {
		return false, federation.Malformed("", fmt.Errorf("decode %s response: %w", req.URL.Path, err))
	}
	return true, nil
}

func statusError(req *http.Request, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, msg)
}
