package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"restopos/terminal/internal/domain"
)

const (
	DefaultBaseURL = "http://localhost:8080/api/auth"
	maxBodyBytes   = 4 << 20
)

var ErrRequestFailed = errors.New("backend request failed")

// RequestFailedError reports a transport failure (Status 0) or a non-2xx reply.
type RequestFailedError struct {
	Method string
	Path   string
	Status int
	Err    error
}

func (e *RequestFailedError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: backend returned status %d", e.Method, e.Path, e.Status)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

func (e *RequestFailedError) Is(target error) bool {
	return target == ErrRequestFailed
}

// Observer is notified once per backend call.
type Observer func(endpoint string, status int, elapsed time.Duration)

type Client struct {
	baseURL  string
	http     *http.Client
	logger   *logrus.Logger
	observer Observer
	loc      *time.Location
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithObserver(observer Observer) Option {
	return func(c *Client) { c.observer = observer }
}

// WithLocation sets the zone that order dates sent without one are read in.
// The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

func New(baseURL string, timeout time.Duration, logger *logrus.Logger, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	return c
}

func (c *Client) ListMenu(ctx context.Context) ([]domain.MenuItem, error) {
	return fetchList[domain.MenuItem](ctx, c, "/items")
}

func (c *Client) ListReservations(ctx context.Context) ([]domain.Reservation, error) {
	return fetchList[domain.Reservation](ctx, c, "/reservations")
}

func (c *Client) ListOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := fetchList[domain.Order](ctx, c, "/manageorders")
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i] = orders[i].In(c.loc)
	}
	return orders, nil
}

func (c *Client) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return fetchList[domain.InventoryItem](ctx, c, "/inventory")
}

func (c *Client) CustomerHistory(ctx context.Context) ([]domain.CustomerOrder, error) {
	orders, err := fetchList[domain.CustomerOrder](ctx, c, "/customer-history")
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i] = orders[i].In(c.loc)
	}
	return orders, nil
}

func (c *Client) NextOrderNumber(ctx context.Context) (int64, error) {
	body, err := c.do(ctx, http.MethodGet, "/next-order-number", nil)
	if err != nil {
		return 0, err
	}
	text := unquote(body)
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode next order number %q: %w", text, err)
	}
	return n, nil
}

func (c *Client) PlaceOrder(ctx context.Context, submission domain.OrderSubmission) (domain.PlaceOrderResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/place-order", submission)
	if err != nil {
		return domain.PlaceOrderResult{}, err
	}

	var ack struct {
		OrderID json.RawMessage `json:"orderId"`
	}
	if err := json.Unmarshal(body, &ack); err == nil && len(ack.OrderID) > 0 {
		return domain.PlaceOrderResult{OrderID: unquote(ack.OrderID)}, nil
	}
	return domain.PlaceOrderResult{OrderID: unquote(body)}, nil
}

// UpdateStatus returns the backend's confirmation message.
func (c *Client) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (string, error) {
	path := "/update-status/" + strconv.FormatInt(orderID, 10)
	body, err := c.do(ctx, http.MethodPut, path, domain.StatusUpdateRequest{Status: status})
	if err != nil {
		return "", err
	}
	return unquote(body), nil
}

// fetchList decodes an array endpoint. A body that is not an array yields an
// empty list and a warning instead of an error.
func fetchList[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		c.logger.WithFields(logrus.Fields{
			"component": "backend",
			"path":      path,
		}).Warn("expected a JSON array, treating response as empty")
		return []T{}, nil
	}

	items := make([]T, 0)
	if err := json.Unmarshal(trimmed, &items); err != nil {
		c.logger.WithFields(logrus.Fields{
			"component": "backend",
			"path":      path,
		}).WithError(err).Warn("malformed array response, treating as empty")
		return []T{}, nil
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", path, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &RequestFailedError{Method: method, Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(path, 0, started)
		return nil, &RequestFailedError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()
	c.observe(path, resp.StatusCode, started)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &RequestFailedError{Method: method, Path: path, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(logrus.Fields{
			"component": "backend",
			"path":      path,
			"status":    resp.StatusCode,
		}).Warn("backend rejected request")
		return nil, &RequestFailedError{Method: method, Path: path, Status: resp.StatusCode}
	}
	return body, nil
}

func (c *Client) observe(path string, status int, started time.Time) {
	if c.observer != nil {
		c.observer(endpointLabel(path), status, time.Since(started))
	}
}

// endpointLabel drops path parameters so metric labels stay bounded.
func endpointLabel(path string) string {
	if strings.HasPrefix(path, "/update-status/") {
		return "/update-status"
	}
	return path
}

func unquote(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	var s string
	if err := json.Unmarshal([]byte(text), &s); err == nil {
		return s
	}
	return text
}
