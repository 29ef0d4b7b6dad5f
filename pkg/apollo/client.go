package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.apollo.io/v1"

// ErrMissingID is returned when a success response carries no entity identifier.
var ErrMissingID = errors.New("response has no id")

// Config configures a Client.
type Config struct {
	// BaseURL should look like "https://api.apollo.io/v1". Empty means DefaultBaseURL.
	BaseURL string
	APIKey  string

	// Timeout bounds every HTTP exchange. Zero means 60s.
	Timeout time.Duration

	// RateLimitRPS caps requests per second across all calls. Set to <=0 to disable.
	RateLimitRPS float64

	// UserAgent is sent when non-empty.
	UserAgent string

	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is a minimal HTTP client for the label and contact endpoints used by this module.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient constructs a client for the directory service API.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := parseBaseURL(raw)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			Timeout:   timeout,
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &Client{
		baseURL:   base,
		apiKey:    apiKey,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		http:      hc,
		limiter:   limiter,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func (c *Client) resolve(p string) *url.URL {
	return c.baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(p, "/")})
}

// CreateLabel creates a contacts label named name.
func (c *Client) CreateLabel(ctx context.Context, name string) (Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Label{}, fmt.Errorf("label name is required")
	}
	var out labelEnvelope
	err := c.do(ctx, "createLabel", http.MethodPost, c.resolve("labels"), map[string]string{
		"name":     name,
		"modality": ModalityContacts,
	}, &out)
	if err != nil {
		return Label{}, err
	}
	if strings.TrimSpace(out.Label.ID) == "" {
		return Label{}, fmt.Errorf("createLabel: %w", ErrMissingID)
	}
	return out.Label, nil
}

// ListLabels returns contacts labels. When name is non-empty it is passed as a filter;
// callers must still match names exactly since the service may filter loosely.
func (c *Client) ListLabels(ctx context.Context, name string) ([]Label, error) {
	u := c.resolve("labels")
	q := url.Values{}
	q.Set("modality", ModalityContacts)
	if strings.TrimSpace(name) != "" {
		q.Set("name", strings.TrimSpace(name))
	}
	u.RawQuery = q.Encode()

	var raw json.RawMessage
	if err := c.do(ctx, "listLabels", http.MethodGet, u, nil, &raw); err != nil {
		return nil, err
	}

	// The endpoint has returned both a bare array and a wrapped object.
	var labels []Label
	if err := json.Unmarshal(raw, &labels); err == nil {
		return labels, nil
	}
	var env labelsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse listLabels response: %w", err)
	}
	return env.Labels, nil
}

// CreateContact creates or, with run_dedupe set in payload, updates a contact.
func (c *Client) CreateContact(ctx context.Context, payload map[string]any) (Contact, error) {
	var out contactEnvelope
	if err := c.do(ctx, "createContact", http.MethodPost, c.resolve("contacts"), payload, &out); err != nil {
		return nil, err
	}
	if out.Contact == nil || out.Contact.ID() == "" {
		return nil, fmt.Errorf("createContact: %w", ErrMissingID)
	}
	return out.Contact, nil
}

// SearchContacts returns one page of contacts matching req.
func (c *Client) SearchContacts(ctx context.Context, req SearchRequest) (SearchPage, error) {
	var out SearchPage
	if err := c.do(ctx, "searchContacts", http.MethodPost, c.resolve("contacts/search"), req, &out); err != nil {
		return SearchPage{}, err
	}
	return out, nil
}

// DeleteContact deletes the contact with the given id.
func (c *Client) DeleteContact(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("contact id is required")
	}
	return c.do(ctx, "deleteContact", http.MethodDelete, c.resolve("contacts/"+url.PathEscape(id)), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method string, u *url.URL, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return newHTTPError(op, resp, b)
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	return nil
}
