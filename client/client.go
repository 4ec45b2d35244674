// Package client talks to the PipeFlow server: previews, flow publication,
// triggers, deletions and artifact result fetches.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/internal/metrics"
	"github.com/BaSui01/pipeflow/internal/telemetry"
	"github.com/BaSui01/pipeflow/internal/tlsutil"
	"github.com/BaSui01/pipeflow/types"
	"github.com/BaSui01/pipeflow/workflow"
)

// Request headers sent on every call.
const (
	APIKeyHeader     = "api-key"
	SDKVersionHeader = "sdk-client-version"
)

// SDKVersion is reported to the server in SDKVersionHeader.
const SDKVersion = "0.4.0"

// Route templates, used as metric and span labels.
const (
	routePreview          = "/api/preview"
	routeRegister         = "/api/workflow/register"
	routeRefresh          = "/api/workflow/{id}/refresh"
	routeDelete           = "/api/workflow/{id}/delete"
	routeWorkflow         = "/api/workflow/{id}"
	routeIntegrations     = "/api/integrations"
	routeArtifactResult   = "/api/artifact_result/{dag_result_id}/{artifact_id}"
	defaultFetchParallelism = 4
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	breaker    *breaker
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the hardened default transport, e.g. with
// httptest.Server.Client().
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithMetrics records every request on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// New builds a client for the server at cfg.Address.
func New(cfg config.APIConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.Address, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", cfg.Address)
	}

	c := &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		logger:     logger.With(zap.String("component", "api_client"), zap.String("server", base.Host)),
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	if cfg.BreakerThreshold > 0 {
		c.breaker = newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, c.logger)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		hc, err := tlsutil.NewHTTPClient(tlsutil.Options{
			Timeout:            cfg.Timeout,
			CAFile:             cfg.CAFile,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		c.http = hc
	}
	return c, nil
}

// request describes one API call. body is rebuilt for every attempt.
type request struct {
	method string
	path   string
	route  string
	body   func() (io.Reader, string, error)
	// mutating requests retry transport errors and 429 only.
	mutating bool
}

// do sends req with rate limiting and retries, decoding a JSON response into
// out when out is non-nil. Transport errors and 429 are retried, and so are
// 5xx responses unless req is mutating; other 4xx responses are not. Calls
// fail fast while the circuit breaker is open.
func (c *Client) do(ctx context.Context, req request, out any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "client", "api "+req.method+" "+req.route,
		attribute.String("http.method", req.method),
		attribute.String("http.route", req.route),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if err := c.breaker.allow(req.route); err != nil {
		return err
	}
	defer func() { c.breaker.record(err) }()

	var bo backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	)
	bo = backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(c.maxRetries, 0))), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		return c.attempt(ctx, req, out)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying request",
			zap.String("route", req.route),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(operation, bo, notify)
}

func (c *Client) attempt(ctx context.Context, req request, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if req.body != nil {
		var err error
		body, contentType, err = req.body()
		if err != nil {
			return backoff.Permanent(err)
		}
	}

	u := c.baseURL.JoinPath(req.path)
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set(APIKeyHeader, c.apiKey)
	httpReq.Header.Set(SDKVersionHeader, SDKVersion)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.RecordAPIRequest(req.method, req.route, 0, time.Since(start))
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return types.NewError(types.ErrAPI, "request failed").WithCause(err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPIRequest(req.method, req.route, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(resp)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return apiErr
		case resp.StatusCode >= 500 && !req.mutating:
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(types.NewError(types.ErrAPI, "failed to decode server response").WithCause(err))
	}
	return nil
}

// decodeError maps a non-2xx response onto the error taxonomy, keeping the
// tip and context the server sent.
func decodeError(resp *http.Response) *types.Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body errorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	code := types.ErrAPI
	switch resp.StatusCode {
	case http.StatusNotFound:
		code = types.ErrNotFound
	case http.StatusUnprocessableEntity:
		code = types.ErrUnprocessable
	case http.StatusBadRequest:
		code = types.ErrInvalidUserArgument
	}
	return types.NewError(code, msg).
		WithTip(body.Tip).
		WithContext(body.Context).
		WithHTTPStatus(resp.StatusCode)
}

// dagForm encodes a DAG and the function bundles of its operators as a
// multipart form: field "dag" holds the JSON and each bundle is a file part
// named by its operator id. Extra fields are written as-is.
func dagForm(dag *workflow.DAG, fields map[string]string) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		dagJSON, err := dag.ToJSON()
		if err != nil {
			return nil, "", err
		}
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("dag", string(dagJSON)); err != nil {
			return nil, "", err
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
		for id, op := range dag.Operators {
			if len(op.File) == 0 {
				continue
			}
			fw, err := mw.CreateFormFile(id.String(), id.String()+".zip")
			if err != nil {
				return nil, "", err
			}
			if _, err := fw.Write(op.File); err != nil {
				return nil, "", err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return bytes.NewReader(buf.Bytes()), mw.FormDataContentType(), nil
	}
}

func jsonBody(v any) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// Preview runs dag on the server and returns per-operator states and
// per-artifact results.
func (c *Client) Preview(ctx context.Context, dag *workflow.DAG) (*PreviewResponse, error) {
	var resp PreviewResponse
	err := c.do(ctx, request{method: http.MethodPost, path: routePreview, route: routePreview, body: dagForm(dag, nil)}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterWorkflow publishes dag and returns the flow id. A non-nil flowID
// publishes a new version of that flow; uuid.Nil creates a new flow.
func (c *Client) RegisterWorkflow(ctx context.Context, dag *workflow.DAG, flowID uuid.UUID) (*RegisterWorkflowResponse, error) {
	var fields map[string]string
	if flowID != uuid.Nil {
		fields = map[string]string{"workflow_id": flowID.String()}
	}
	var resp RegisterWorkflowResponse
	err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     routeRegister,
		route:    routeRegister,
		body:     dagForm(dag, fields),
		mutating: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshWorkflow triggers a run of a published flow with optional
// parameter overrides, keyed by parameter name.
func (c *Client) RefreshWorkflow(ctx context.Context, id uuid.UUID, params map[string]*workflow.ParamSpec) error {
	body := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if len(params) > 0 {
			data, err := json.Marshal(params)
			if err != nil {
				return nil, "", err
			}
			if err := mw.WriteField("parameters", string(data)); err != nil {
				return nil, "", err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return bytes.NewReader(buf.Bytes()), mw.FormDataContentType(), nil
	}
	path := "/api/workflow/" + id.String() + "/refresh"
	return c.do(ctx, request{method: http.MethodPost, path: path, route: routeRefresh, body: body, mutating: true}, nil)
}

// DeleteWorkflow deletes a published flow together with the listed saved
// objects. Without force the server refuses when any object cannot be safely
// deleted.
func (c *Client) DeleteWorkflow(ctx context.Context, id uuid.UUID, externalDelete map[string][]string, force bool) (*DeleteWorkflowResponse, error) {
	if externalDelete == nil {
		externalDelete = map[string][]string{}
	}
	var resp DeleteWorkflowResponse
	path := "/api/workflow/" + id.String() + "/delete"
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   path,
		route:  routeDelete,
		body:   jsonBody(DeleteWorkflowRequest{ExternalDelete: externalDelete, Force: force}),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetWorkflow returns the DAG versions and runs of a published flow.
func (c *Client) GetWorkflow(ctx context.Context, id uuid.UUID) (*WorkflowResponse, error) {
	var resp WorkflowResponse
	path := "/api/workflow/" + id.String()
	if err := c.do(ctx, request{method: http.MethodGet, path: path, route: routeWorkflow}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListIntegrations returns the connected data resources.
func (c *Client) ListIntegrations(ctx context.Context) ([]Integration, error) {
	var resp []Integration
	if err := c.do(ctx, request{method: http.MethodGet, path: routeIntegrations, route: routeIntegrations}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetArtifactResult fetches one artifact of a published run.
func (c *Client) GetArtifactResult(ctx context.Context, dagResultID, artifactID uuid.UUID) (*ArtifactResultResponse, error) {
	var resp ArtifactResultResponse
	path := "/api/artifact_result/" + dagResultID.String() + "/" + artifactID.String()
	if err := c.do(ctx, request{method: http.MethodGet, path: path, route: routeArtifactResult}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetArtifactResults fetches several artifacts of one run in parallel. The
// first failure cancels the remaining fetches.
func (c *Client) GetArtifactResults(ctx context.Context, dagResultID uuid.UUID, artifactIDs []uuid.UUID, parallelism int) (map[uuid.UUID]*ArtifactResultResponse, error) {
	if parallelism <= 0 {
		parallelism = defaultFetchParallelism
	}
	results := make([]*ArtifactResultResponse, len(artifactIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, id := range artifactIDs {
		g.Go(func() error {
			r, err := c.GetArtifactResult(gctx, dagResultID, id)
			if err != nil {
				return fmt.Errorf("artifact %s: %w", id, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]*ArtifactResultResponse, len(artifactIDs))
	for i, id := range artifactIDs {
		out[id] = results[i]
	}
	return out, nil
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var te *types.Error
	return errors.As(err, &te) && te.Code == types.ErrNotFound
}
