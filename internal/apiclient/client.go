package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ieltsgenai/prep/internal/region"
)

const (
	// speechPathSegment marks the Nova Sonic speech-assessment API family,
	// which is pinned to one region and runs with a larger timeout.
	speechPathSegment = "/nova-sonic"

	// DefaultTimeout is the per-attempt deadline for regular REST calls.
	DefaultTimeout = 10 * time.Second
	// SpeechTimeout applies to speech-assessment endpoints.
	SpeechTimeout = 20 * time.Second
)

// Config assembles a Client.
type Config struct {
	// Regions maps region IDs to endpoints; required.
	Regions *region.Map
	// Timezone is the device timezone used to resolve the home region.
	Timezone string
	// HTTPClient overrides the transport; optional.
	HTTPClient *http.Client
	// MaxAttempts and BackoffBase tune the retry executor; zero means default.
	MaxAttempts int
	BackoffBase time.Duration
	// Credentials persists the session token between runs; optional.
	Credentials *CredentialStore
}

// Client issues REST calls against the regional backend. It is constructed
// once at startup and passed to callers explicitly; there is no package
// global.
type Client struct {
	regions *region.Map
	home    region.Region
	exec    *Executor
	creds   *CredentialStore

	mu    sync.RWMutex
	token string
}

func New(cfg Config) (*Client, error) {
	if cfg.Regions == nil {
		return nil, fmt.Errorf("apiclient: regions map is required")
	}
	c := &Client{
		regions: cfg.Regions,
		home:    cfg.Regions.Get(region.Resolve(cfg.Timezone)),
		exec:    NewExecutor(cfg.HTTPClient, cfg.MaxAttempts, cfg.BackoffBase),
		creds:   cfg.Credentials,
	}
	if c.creds != nil {
		if tok, err := c.creds.Load(); err == nil {
			c.token = tok
		}
	}
	return c, nil
}

// Executor exposes the retry executor so collaborators (purchase
// verification) can ride the same policy.
func (c *Client) Executor() *Executor { return c.exec }

// HomeRegion returns the region resolved from the device timezone.
func (c *Client) HomeRegion() region.Region { return c.home }

// SpeechWSBaseURL returns the pinned-region streaming endpoint base.
func (c *Client) SpeechWSBaseURL() string { return c.regions.Pinned().WSBaseURL }

// SetToken stores the session token and persists it when a credential store
// is configured.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
	if c.creds != nil {
		_ = c.creds.Save(token)
	}
}

// ClearToken drops the session token (logout).
func (c *Client) ClearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	if c.creds != nil {
		_ = c.creds.Clear()
	}
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type callOptions struct {
	timeout time.Duration
	region  region.ID
}

type CallOption func(*callOptions)

// WithTimeout overrides the per-attempt deadline for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithRegion overrides the resolved home region for one call. Speech
// endpoints ignore this and stay pinned.
func WithRegion(id region.ID) CallOption {
	return func(o *callOptions) { o.region = id }
}

// Call issues one logical request and returns the parsed JSON body.
// POST payloads gain the session token as session_id when one is held;
// GET requests carry it as a query parameter instead.
func (c *Client) Call(ctx context.Context, method, endpoint string, payload map[string]any, opts ...CallOption) (json.RawMessage, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	base := c.home
	if o.region != "" {
		base = c.regions.Get(o.region)
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if strings.Contains(endpoint, speechPathSegment) {
		// Speech assessment runs in one region only; the longer deadline
		// covers examiner model latency.
		base = c.regions.Pinned()
		if o.timeout <= 0 {
			timeout = SpeechTimeout
		}
	}

	callURL, err := joinURL(base.APIBaseURL, endpoint)
	if err != nil {
		return nil, err
	}

	token := c.Token()
	var body []byte
	switch method {
	case http.MethodGet:
		if token != "" {
			callURL = appendQuery(callURL, "session_id", token)
		}
	case http.MethodPost:
		merged := payload
		if token != "" {
			merged = make(map[string]any, len(payload)+1)
			for k, v := range payload {
				merged[k] = v
			}
			merged["session_id"] = token
		}
		if merged != nil {
			body, err = json.Marshal(merged)
			if err != nil {
				return nil, fmt.Errorf("marshal payload: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	build := func(ctx context.Context) (*http.Request, error) {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, callURL, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	data, err := c.exec.Do(ctx, build, timeout)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON response from %s", endpoint)
	}
	return json.RawMessage(data), nil
}

func joinURL(base, endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse call url: %w", err)
	}
	return u.String(), nil
}

func appendQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
