package gateway

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

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-qris/internal/resilience"
)

const maxErrorBody = 64 << 10

// Config configures a gateway Client. HTTPClient defaults to an
// otelhttp-instrumented client. QueryAttempts bounds attempts for the
// read-only lookups; creation is a POST and always gets a single attempt.
type Config struct {
	BaseURL       string
	HTTPClient    *http.Client
	Breaker       *resilience.Breaker
	Timeout       time.Duration
	RetryBase     time.Duration
	Jitter        float64
	QueryAttempts int
	Logger        zerolog.Logger
}

// Client talks to the QRIS payment gateway.
type Client struct {
	baseURL string
	http    resilience.HTTPClient
}

// NewClient builds a Client. The breaker, when set, is shared by all calls.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http: resilience.HTTPClient{
			Client:      httpClient,
			Breaker:     cfg.Breaker,
			MaxAttempts: cfg.QueryAttempts,
			BaseBackoff: cfg.RetryBase,
			Jitter:      cfg.Jitter,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		},
	}
}

// CreateQRIS submits a new order and returns its QR challenge. It is never retried.
func (c *Client) CreateQRIS(ctx context.Context, in CreateRequest) (Invoice, error) {
	ctx, span := otel.Tracer("gateway.Client").Start(ctx, "Gateway.CreateQRIS")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.merchant_order_id", in.MerchantOrderID),
		attribute.Int64("order.amount", in.Amount),
	)

	body, err := json.Marshal(in)
	if err != nil {
		return Invoice{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments/qris", bytes.NewReader(body))
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return Invoice{}, fmt.Errorf("create qris: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := decodeError(resp)
		span.RecordError(gwErr)
		span.SetStatus(codes.Error, "rejected")
		return Invoice{}, gwErr
	}
	var inv Invoice
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		span.RecordError(err)
		return Invoice{}, fmt.Errorf("decode qris response: %w", err)
	}
	if strings.TrimSpace(inv.QRString) == "" {
		span.RecordError(ErrMissingQR)
		return Invoice{}, ErrMissingQR
	}
	return inv, nil
}

// LookupOrder fetches the gateway's record. found is false when the gateway
// does not know the identifier; err is reserved for transport or server failures.
func (c *Client) LookupOrder(ctx context.Context, merchantOrderID string) (Order, bool, error) {
	ctx, span := otel.Tracer("gateway.Client").Start(ctx, "Gateway.LookupOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.merchant_order_id", merchantOrderID))

	resp, err := c.get(ctx, "/payments/order/"+url.PathEscape(merchantOrderID))
	if err != nil {
		span.RecordError(err)
		return Order{}, false, fmt.Errorf("lookup order: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Order{}, false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		gwErr := decodeError(resp)
		span.RecordError(gwErr)
		return Order{}, false, gwErr
	}

	var payload struct {
		Found bool   `json:"found"`
		Order *Order `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		span.RecordError(err)
		return Order{}, false, fmt.Errorf("decode order response: %w", err)
	}
	if !payload.Found || payload.Order == nil {
		return Order{}, false, nil
	}
	span.SetAttributes(attribute.String("order.status", string(payload.Order.Status)))
	return *payload.Order, true, nil
}

// NativeStatus fetches the gateway-native status code for an order.
func (c *Client) NativeStatus(ctx context.Context, merchantOrderID string) (NativeStatus, error) {
	ctx, span := otel.Tracer("gateway.Client").Start(ctx, "Gateway.NativeStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.merchant_order_id", merchantOrderID))

	resp, err := c.get(ctx, "/payments/status/"+url.PathEscape(merchantOrderID))
	if err != nil {
		span.RecordError(err)
		return NativeStatus{}, fmt.Errorf("native status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := decodeError(resp)
		span.RecordError(gwErr)
		return NativeStatus{}, gwErr
	}
	var out NativeStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		span.RecordError(err)
		return NativeStatus{}, fmt.Errorf("decode status response: %w", err)
	}
	span.SetAttributes(attribute.String("gateway.status_code", out.StatusCode))
	return out, nil
}

// Ping reports whether the gateway answers HTTP at all. Any response below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	once := c.http
	once.MaxAttempts = 1
	resp, err := once.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &Error{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	gwErr := &Error{StatusCode: resp.StatusCode}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		gwErr.Message = strings.TrimSpace(payload.Message)
	}
	return gwErr
}

// IsRejection reports whether err is a gateway response, as opposed to a transport failure.
func IsRejection(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) || errors.Is(err, ErrMissingQR)
}
