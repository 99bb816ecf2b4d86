package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/yardcam/internal/region"
)

// DefaultTimeout bounds one dispatch call end to end.
const DefaultTimeout = 5 * time.Second

// The receiver accepts an order by answering 200 with
// {"status": "success", ...}.
const (
	DefaultSuccessField = "status"
	DefaultSuccessValue = "success"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Sender issues one work order for a Start/End pairing.
// Implemented by HTTPClient (production) and testutil.RecordingSender (tests).
type Sender interface {
	Send(ctx context.Context, start, end region.ID) (Result, error)
}

// Result describes a dispatch. On failure Send still fills what it learned
// before failing: the order id always, the status and code once a reply
// arrived.
type Result struct {
	OrderID    string        `json:"order_id"`
	StatusCode int           `json:"status_code"`
	Code       string        `json:"code"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Config holds the static dispatch settings.
type Config struct {
	URL              string
	Timeout          time.Duration
	ModelProcessCode string
	FromSystem       string
	OrderPrefix      string
	SuccessField     string
	SuccessValue     string
}

// HTTPClient posts work orders over HTTP.
//
// Thread-safety: HTTPClient is safe for concurrent use.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	orders OrderIDGenerator
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client. The client's own
// Timeout is left untouched; the per-call context deadline still applies.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithOrderIDs replaces the order id generator.
func WithOrderIDs(g OrderIDGenerator) ClientOption {
	return func(h *HTTPClient) { h.orders = g }
}

// NewHTTPClient creates a client. A missing timeout or success field/value
// falls back to the defaults.
func NewHTTPClient(cfg Config, opts ...ClientOption) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("dispatch: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SuccessField == "" {
		cfg.SuccessField = DefaultSuccessField
	}
	if cfg.SuccessValue == "" {
		cfg.SuccessValue = DefaultSuccessValue
	}

	h := &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		orders: UUIDv7Generator{Prefix: cfg.OrderPrefix},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// BuildOrder creates the work order for a pairing with a fresh order id.
func (h *HTTPClient) BuildOrder(start, end region.ID) WorkOrder {
	return WorkOrder{
		ModelProcessCode: h.cfg.ModelProcessCode,
		FromSystem:       h.cfg.FromSystem,
		OrderID:          h.orders.Generate(),
		TaskOrderDetail:  []TaskDetail{{TaskPath: TaskPath(start, end)}},
	}
}

// Send posts one work order. It never retries.
func (h *HTTPClient) Send(ctx context.Context, start, end region.ID) (Result, error) {
	began := time.Now()
	order := h.BuildOrder(start, end)
	res := Result{OrderID: order.OrderID}
	fail := func(e *Error) (Result, error) {
		e.OrderID = order.OrderID
		res.StatusCode, res.Code = e.StatusCode, e.Code
		if res.Message == "" {
			res.Message = e.Message
		}
		res.Duration = time.Since(began)
		return res, e
	}

	body, err := json.Marshal(order)
	if err != nil {
		return fail(&Error{Kind: KindEncode, Err: err})
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fail(&Error{Kind: KindEncode, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return fail(&Error{Kind: KindTransport, Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(&Error{Kind: KindTransport, StatusCode: resp.StatusCode, Err: err})
	}

	if resp.StatusCode != http.StatusOK {
		return fail(&Error{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(raw)), 200),
		})
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fail(&Error{Kind: KindDecode, StatusCode: resp.StatusCode, Err: err})
	}

	code := normalizeCode(fields[h.cfg.SuccessField])
	res.Message = firstText(fields, "message", "desc", "msg")
	if code != h.cfg.SuccessValue {
		return fail(&Error{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Code:       code,
			Message:    res.Message,
		})
	}

	res.StatusCode = resp.StatusCode
	res.Code = code
	res.Duration = time.Since(began)
	return res, nil
}

// normalizeCode reads a reply value as text, so "1000" and 1000 compare
// equal. Objects and arrays come back as their raw JSON.
func normalizeCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

// firstText returns the first of keys holding a non-empty string.
func firstText(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		var s string
		if json.Unmarshal(fields[k], &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
