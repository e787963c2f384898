package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"payments-core/internal/domain"
)

const defaultTimeout = 5 * time.Second

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Login string `json:"login"`
}

// Cache remembers users resolved from a credential.
type Cache interface {
	Get(ctx context.Context, credential string) (*User, bool)
	Put(ctx context.Context, credential string, user *User)
	Invalidate(ctx context.Context, credential string) error
}

// Client resolves bearer credentials against the auth service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      Cache
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithCache puts a cache in front of the auth service.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:     logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func unauthorized(message string) *domain.Error {
	return domain.NewError(domain.CodeUnauthorized, domain.FieldError{Path: "authorization", Message: message})
}

// CurrentUser returns the user the credential belongs to. credential is the
// full header value, "Bearer ..." included.
func (c *Client) CurrentUser(ctx context.Context, credential string) (*User, error) {
	if !strings.HasPrefix(credential, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(credential, "Bearer ")) == "" {
		return nil, unauthorized("a bearer token is required")
	}
	if c.cache != nil {
		if user, ok := c.cache.Get(ctx, credential); ok {
			return user, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/current", nil)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Сервис аутентификации недоступен", zap.Error(err))
		return nil, unauthorized("authentication service is unavailable").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, unauthorized("invalid or expired token")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unauthorized(fmt.Sprintf("authentication failed: %s", http.StatusText(resp.StatusCode)))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, unauthorized("authentication service returned an unreadable user").Wrap(err)
	}
	if user.ID == "" {
		return nil, unauthorized("authentication service returned no user id")
	}

	if c.cache != nil {
		c.cache.Put(ctx, credential, &user)
	}
	return &user, nil
}

func (c *Client) Invalidate(ctx context.Context, credential string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Invalidate(ctx, credential)
}
