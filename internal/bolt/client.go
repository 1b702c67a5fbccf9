package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/boltlink/api/internal/domain"
)

// Client call failures.
var (
	ErrInvalidInput  = errors.New("bolt: invalid input")
	ErrUnauthorized  = errors.New("bolt: api key rejected")
	ErrNotFound      = errors.New("bolt: resource not found")
	ErrUnavailable   = errors.New("bolt: service unavailable")
	ErrInvalidReply  = errors.New("bolt: malformed response")
	ErrNotConfigured = errors.New("bolt: client not configured")
)

const (
	headerAPIKey       = "X-API-Key"
	defaultHTTPTimeout = 20 * time.Second
	maxResponseBody    = 4 << 20
)

// APIError carries a structured error returned by the platform.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bolt: api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Doer abstracts *http.Client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientDeps enumerates the dependencies for the platform client.
type ClientDeps struct {
	BaseURL    string
	APIKey     string
	HTTPClient Doer
}

// Client talks to the payment platform's merchant API.
type Client struct {
	baseURL string
	apiKey  string
	http    Doer
}

// NewClient validates dependencies and builds the platform client.
func NewClient(deps ClientDeps) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("bolt client requires base url")
	}
	if strings.TrimSpace(deps.APIKey) == "" {
		return nil, errors.New("bolt client requires api key")
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(deps.APIKey),
		http:    httpClient,
	}, nil
}

type orderTokenRequest struct {
	CartPayload domain.CartPayload `json:"cart"`
}

type orderTokenResponse struct {
	Token string `json:"token"`
}

// CreateOrderToken registers the cart with the platform and returns the
// checkout token the storefront opens the payment modal with.
func (c *Client) CreateOrderToken(ctx context.Context, cart domain.CartPayload) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}
	var resp orderTokenResponse
	if err := c.call(ctx, http.MethodPost, "/merchant/orders", orderTokenRequest{CartPayload: cart}, &resp); err != nil {
		return "", err
	}
	token := strings.TrimSpace(resp.Token)
	if token == "" {
		return "", fmt.Errorf("%w: empty order token", ErrInvalidReply)
	}
	return token, nil
}

// FetchTransaction retrieves the authoritative transaction state for a
// platform reference.
func (c *Client) FetchTransaction(ctx context.Context, reference string) (domain.Transaction, error) {
	if c == nil {
		return domain.Transaction{}, ErrNotConfigured
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Transaction{}, fmt.Errorf("%w: transaction reference is required", ErrInvalidInput)
	}
	var tx domain.Transaction
	if err := c.call(ctx, http.MethodGet, "/merchant/transactions/"+reference, nil, &tx); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

func (c *Client) call(ctx context.Context, method string, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("bolt: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("bolt: build request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrInvalidReply, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode body: %v", ErrInvalidReply, err)
	}
	return nil
}

type apiErrorEnvelope struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) decodeError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Errors) > 0 {
		apiErr.Code = envelope.Errors[0].Code
		apiErr.Message = envelope.Errors[0].Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrUnauthorized, apiErr)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, apiErr)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", ErrUnavailable, apiErr)
	default:
		return apiErr
	}
}
