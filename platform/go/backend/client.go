package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arcims/arcims-web/platform/go/requesttrace"
)

const maxBodyBytes = 1 << 20

// RequestObserver is notified once per backend call; statusCode is zero when no response arrived.
type RequestObserver func(op string, statusCode int, elapsed time.Duration)

// Config captures the knobs for talking to the backend API.
type Config struct {
	BaseURL string // e.g. http://localhost:8000
	Token   string // optional bearer token forwarded on every call
	Timeout time.Duration
	// RequestsPerSecond caps outgoing calls across all callers; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *zap.Logger
	Observer          RequestObserver
}

// Client is a thin typed client for the tenant and connector endpoints of the backend API.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	token    string
	limiter  *rate.Limiter
	logger   *zap.Logger
	observer RequestObserver
}

// New validates the configuration and builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("backend base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend base url must be http(s), got %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:  base,
		http:     httpClient,
		token:    cfg.Token,
		limiter:  limiter,
		logger:   logger,
		observer: cfg.Observer,
	}, nil
}

// GetTenantByUser implements GET /api/tenants/{clerkUserId}.
func (c *Client) GetTenantByUser(ctx context.Context, userID string) (Tenant, error) {
	var out Tenant
	err := c.do(ctx, "get_tenant", http.MethodGet, "/api/tenants/"+url.PathEscape(userID), nil, &out)
	return out, err
}

// UpdateCompanyName implements PATCH /api/tenants/{tenantId}/company.
func (c *Client) UpdateCompanyName(ctx context.Context, tenantID, companyName string) (Tenant, error) {
	var out Tenant
	q := url.Values{"company_name": []string{companyName}}
	err := c.do(ctx, "update_company", http.MethodPatch, "/api/tenants/"+url.PathEscape(tenantID)+"/company", q, &out)
	return out, err
}

// UpdateOnboardingState implements PATCH /api/tenants/{tenantId}/state.
func (c *Client) UpdateOnboardingState(ctx context.Context, tenantID, state string) (Tenant, error) {
	var out Tenant
	q := url.Values{"state": []string{state}}
	err := c.do(ctx, "update_state", http.MethodPatch, "/api/tenants/"+url.PathEscape(tenantID)+"/state", q, &out)
	return out, err
}

// SetupConnector implements POST /api/fivetran/setup/{tenantId}.
func (c *Client) SetupConnector(ctx context.Context, tenantID string) (ConnectorSetup, error) {
	var out ConnectorSetup
	err := c.do(ctx, "setup_connector", http.MethodPost, "/api/fivetran/setup/"+url.PathEscape(tenantID), nil, &out)
	return out, err
}

// ConnectorStatus implements GET /api/fivetran/status/{tenantId}.
func (c *Client) ConnectorStatus(ctx context.Context, tenantID string) (ConnectorStatus, error) {
	var out ConnectorStatus
	err := c.do(ctx, "connector_status", http.MethodGet, "/api/fivetran/status/"+url.PathEscape(tenantID), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Op: op, Kind: KindTransient, Err: err}
		}
	}

	// path carries PathEscape'd segments; keep them escaped in the final URL.
	u := *c.baseURL
	rawPath := c.baseURL.EscapedPath() + path
	unescaped, err := url.PathUnescape(rawPath)
	if err != nil {
		return &Error{Op: op, Kind: KindPermanent, Err: fmt.Errorf("build path: %w", err)}
	}
	u.Path = unescaped
	u.RawPath = rawPath
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return &Error{Op: op, Kind: KindPermanent, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if trace, ok := requesttrace.FromContext(ctx); ok {
		trace.Apply(req.Header)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		c.logger.Debug("backend request failed", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.observe(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Kind:       kindForStatus(resp.StatusCode),
			Detail:     problemDetail(body),
		}
	}
	if readErr != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Kind: KindTransient, Err: fmt.Errorf("read body: %w", readErr)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Kind: KindPermanent, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func (c *Client) observe(op string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer(op, status, elapsed)
	}
}

// problemDetail extracts the FastAPI style {"detail": ...} message when present.
func problemDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var pb problemBody
	if err := json.Unmarshal(body, &pb); err == nil && pb.Detail != nil {
		if s, ok := pb.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(pb.Detail); err == nil {
			return string(b)
		}
	}
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
