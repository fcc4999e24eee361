// Package apiclient talks to the onboarding API of the web front-end on behalf of the CLI.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const maxBodyBytes = 1 << 20

// Options are shared by every command that calls the API.
type Options struct {
	BaseURL string // e.g. http://localhost:8080/api/v1
	Token   string
	Timeout time.Duration
}

// Problem is an RFC 7807 response returned by the API.
type Problem struct {
	Type       string            `json:"type"`
	Title      string            `json:"title"`
	Status     int               `json:"status"`
	Detail     string            `json:"detail"`
	Errors     map[string]string `json:"errors,omitempty"`
	StatusCode int               `json:"-"`
}

func (p *Problem) Error() string {
	msg := fmt.Sprintf("api: %d %s", p.StatusCode, p.Title)
	if p.Detail != "" {
		msg += ": " + p.Detail
	}
	return msg
}

// IsStatus reports whether err is a Problem with the given HTTP status.
func IsStatus(err error, status int) bool {
	var p *Problem
	return errors.As(err, &p) && p.StatusCode == status
}

type OnboardingStatus struct {
	Step        string `json:"step"`
	TenantID    string `json:"tenant_id"`
	State       string `json:"state"`
	CompanyName string `json:"company_name,omitempty"`
}

type ProvisioningResult struct {
	RedirectURI string `json:"redirect_uri"`
}

type Snapshot struct {
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
	Redirect string    `json:"redirect,omitempty"`
	At       time.Time `json:"at"`
}

// Terminal reports whether no further snapshots will follow.
func (s Snapshot) Terminal() bool {
	return s.Redirect != "" || s.State == "failed"
}

type Outcome struct {
	OutcomeID   string    `json:"outcome_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	ConnectorID string    `json:"connector_id,omitempty"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	Attempts    int       `json:"attempts"`
	Navigated   bool      `json:"navigated"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Client is a minimal typed client for /api/v1.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	stream *http.Client
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("api url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http(s), got %q", opts.BaseURL)
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("token is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  base,
		token: opts.Token,
		http:  &http.Client{Timeout: timeout},
		// Streams stay open until the activation ends; the caller's context bounds them.
		stream: &http.Client{},
	}, nil
}

func (c *Client) Onboarding(ctx context.Context) (OnboardingStatus, error) {
	var out OnboardingStatus
	err := c.do(ctx, http.MethodGet, "/onboarding", nil, &out)
	return out, err
}

func (c *Client) SubmitCompany(ctx context.Context, companyName string) (ProvisioningResult, error) {
	var out ProvisioningResult
	err := c.do(ctx, http.MethodPost, "/onboarding/company", map[string]string{"company_name": companyName}, &out)
	return out, err
}

func (c *Client) Restart(ctx context.Context) (OnboardingStatus, error) {
	var out OnboardingStatus
	err := c.do(ctx, http.MethodPost, "/onboarding/restart", nil, &out)
	return out, err
}

func (c *Client) Outcome(ctx context.Context) (Outcome, error) {
	var out Outcome
	err := c.do(ctx, http.MethodGet, "/activation/outcome", nil, &out)
	return out, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeProblem(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeProblem(status int, data []byte) error {
	p := &Problem{}
	if err := json.Unmarshal(data, p); err != nil || p.Title == "" {
		p = &Problem{Title: http.StatusText(status), Detail: strings.TrimSpace(string(data))}
	}
	p.StatusCode = status
	return p
}
