// Package fub is a minimal Follow Up Boss API client covering what the CRM
// puller needs: credential verification, the user directory, and paging the
// people collection.
package fub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PageSize is the fixed page size used when paging the people collection.
const PageSize = 100

// Config holds connection settings for one CRM account.
type Config struct {
	BaseURL string // e.g. "https://api.followupboss.com/v1"
	APIKey  string // Basic auth username; password is empty
	Timeout time.Duration
}

// Client calls the Follow Up Boss REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a CRM client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("fub"),
	}, nil
}

// APIError is a non-2xx response from the CRM. 429 and 5xx are retryable.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm api returned %d: %s", e.StatusCode, e.Body)
}

// IsRetryable implements retry.RetryableError.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Metadata is the paging envelope on collection responses.
type Metadata struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// Email is one email entry on a person.
type Email struct {
	Value     string `json:"value"`
	IsPrimary int    `json:"isPrimary"`
}

// Phone is one phone entry on a person.
type Phone struct {
	Value     string `json:"value"`
	IsPrimary int    `json:"isPrimary"`
}

// Address is one address entry on a person.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Code   string `json:"code"`
}

// Person is one CRM person record.
type Person struct {
	ID             json.Number `json:"id"`
	FirstName      string      `json:"firstName"`
	LastName       string      `json:"lastName"`
	Emails         []Email     `json:"emails"`
	Phones         []Phone     `json:"phones"`
	Addresses      []Address   `json:"addresses"`
	Stage          string      `json:"stage"`
	Source         string      `json:"source"`
	Tags           []string    `json:"tags"`
	AssignedUserID json.Number `json:"assignedUserId"`
	Updated        time.Time   `json:"updated"`
}

// User is one CRM user (agent account).
type User struct {
	ID    json.Number `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
}

type peopleResponse struct {
	Metadata Metadata `json:"_metadata"`
	People   []Person `json:"people"`
}

type usersResponse struct {
	Metadata Metadata `json:"_metadata"`
	Users    []User   `json:"users"`
}

// VerifyCredentials makes a low-cost call to confirm the API key works.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	return c.get(ctx, "/identity", nil, &json.RawMessage{})
}

// ListUsers fetches the account's users.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp usersResponse
	if err := c.get(ctx, "/users", url.Values{"limit": {"100"}}, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// ListPeople fetches one page of people. When updatedAfter is non-nil only
// records updated since that time are returned. The second return value is
// the paging metadata; the caller terminates when offset plus the returned
// count reaches the total.
func (c *Client) ListPeople(ctx context.Context, offset int, updatedAfter *time.Time) ([]Person, Metadata, error) {
	params := url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(PageSize)},
	}
	if updatedAfter != nil {
		params.Set("updatedAfter", updatedAfter.UTC().Format(time.RFC3339))
	}

	var resp peopleResponse
	if err := c.get(ctx, "/people", params, &resp); err != nil {
		return nil, Metadata{}, err
	}
	return resp.People, resp.Metadata, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	// Basic auth: api key as username, empty password.
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read crm response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode crm response %s: %w", path, err)
	}
	return nil
}
