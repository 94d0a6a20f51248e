// Package client holds the browser-side half of the auth flow: an API client
// that carries the default bearer credential, durable token storage, and a
// Session that ties them together.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/isdelr/ender-auth/internal/models"
)

// WebDeviceName labels tokens requested by this client.
const WebDeviceName = "web"

// APIError is a non-2xx response from the auth API, returned unchanged to callers.
type APIError struct {
	Status  int                 `json:"-"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("api error %d: %s (%s)", e.Status, e.Message, strings.Join(fields, ", "))
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// AuthAPI is the subset of the auth API used by Session.
type AuthAPI interface {
	SetToken(token string)
	ClearToken()
	Login(ctx context.Context, email, password, deviceName string) (models.AuthResponse, error)
	Register(ctx context.Context, name, email, password, passwordConfirmation string) (models.AuthResponse, error)
	Me(ctx context.Context) (models.UserResource, error)
	Logout(ctx context.Context, token string) error
}

// APIClient talks JSON to the auth API and attaches the default bearer
// credential, when one is set, to every request.
type APIClient struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPIClient creates a client for baseURL. A nil httpClient gets a
// client with a 10 second timeout.
func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// SetToken sets the default authorization credential.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the default authorization credential.
func (c *APIClient) ClearToken() {
	c.SetToken("")
}

// Token returns the current default credential.
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *APIClient) Login(ctx context.Context, email, password, deviceName string) (models.AuthResponse, error) {
	var out models.AuthResponse
	body := map[string]string{"email": email, "password": password, "device_name": deviceName}
	err := c.do(ctx, http.MethodPost, "/auth/login", c.Token(), body, &out)
	return out, err
}

func (c *APIClient) Register(ctx context.Context, name, email, password, passwordConfirmation string) (models.AuthResponse, error) {
	var out models.AuthResponse
	body := map[string]string{
		"name":                  name,
		"email":                 email,
		"password":              password,
		"password_confirmation": passwordConfirmation,
	}
	err := c.do(ctx, http.MethodPost, "/auth/register", c.Token(), body, &out)
	return out, err
}

func (c *APIClient) Me(ctx context.Context) (models.UserResource, error) {
	var out models.UserResource
	err := c.do(ctx, http.MethodGet, "/me", c.Token(), nil, &out)
	return out, err
}

// Logout revokes token on the server. It does not touch the default credential.
func (c *APIClient) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
