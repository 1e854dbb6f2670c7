package gateway

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

	"github.com/sethvargo/go-retry"

	"github.com/installconnect/escrow-backend/pkg/config"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

const apiVersion = "2023-08-01"

var (
	errCredentialsRequired = errors.New("gateway app id and secret key are required")
	errBaseURLRequired     = errors.New("gateway base url is required")
	errLoggerRequired      = errors.New("gateway logger is required")
)

// Client exposes payment gateway primitives with centralized auth, logging,
// bounded retries, and error mapping.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	appID         string
	secretKey     string
	webhookSecret string
	maxRetries    int
	logger        *logger.Logger
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errCredentialsRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		appID:         cfg.AppID,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		maxRetries:    cfg.MaxRetries,
		logger:        logg,
	}

	logg.Info(ctx, "gateway client initialized")
	return c, nil
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// CreateOrder registers a capture order for escrow funding and returns the
// hosted payment session.
func (c *Client) CreateOrder(ctx context.Context, params OrderCreateParams) (*Order, error) {
	currency := params.Currency
	if currency == "" {
		currency = "INR"
	}
	req := map[string]any{
		"order_id":       params.OrderID,
		"order_amount":   params.Amount,
		"order_currency": currency,
		"order_note":     params.Note,
		"customer_details": map[string]any{
			"customer_id": params.CustomerID,
		},
	}
	if params.ReturnURL != "" {
		req["order_meta"] = map[string]any{"return_url": params.ReturnURL}
	}

	c.log(ctx, "request", "create_order", map[string]any{
		"order_id": params.OrderID,
		"amount":   params.Amount,
	})

	var out Order
	if err := c.do(ctx, http.MethodPost, "/pg/orders", req, &out); err != nil {
		c.log(ctx, "error", "create_order", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_order", map[string]any{
		"order_id": out.OrderID,
		"status":   out.Status,
	})
	return &out, nil
}

// GetOrder fetches the current gateway state for an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, "/pg/orders/"+orderID, nil, &out); err != nil {
		c.log(ctx, "error", "get_order", map[string]any{"error": err.Error(), "order_id": orderID})
		return nil, err
	}
	return &out, nil
}

// InitiateTransfer pays out a beneficiary. TransferID doubles as the
// idempotency key so retried calls never double-pay.
func (c *Client) InitiateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	req := map[string]any{
		"transfer_id": params.TransferID,
		"amount":      params.Amount,
		"remarks":     params.Remarks,
		"beneficiary_details": map[string]any{
			"beneficiary_id": params.BeneficiaryID,
		},
	}

	c.log(ctx, "request", "initiate_transfer", map[string]any{
		"transfer_id": params.TransferID,
		"amount":      params.Amount,
	})

	var out Transfer
	if err := c.do(ctx, http.MethodPost, "/payout/transfers", req, &out); err != nil {
		c.log(ctx, "error", "initiate_transfer", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "initiate_transfer", map[string]any{
		"transfer_id": out.TransferID,
		"status":      out.Status,
	})
	return &out, nil
}

// CreateRefund refunds a captured order back to the payer.
func (c *Client) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	req := map[string]any{
		"refund_id":     params.RefundID,
		"refund_amount": params.Amount,
		"refund_note":   params.Note,
	}

	c.log(ctx, "request", "create_refund", map[string]any{
		"order_id":  params.OrderID,
		"refund_id": params.RefundID,
		"amount":    params.Amount,
	})

	var out Refund
	path := fmt.Sprintf("/pg/orders/%s/refunds", params.OrderID)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		c.log(ctx, "error", "create_refund", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_refund", map[string]any{
		"refund_id": out.RefundID,
		"status":    out.Status,
	})
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding gateway request")
		}
		payload = encoded
	}

	backoff := retry.WithMaxRetries(uint64(c.retries()), retry.NewExponential(200*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building gateway request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-version", apiVersion)
		req.Header.Set("x-client-id", c.appID)
		req.Header.Set("x-client-secret", c.secretKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway request failed"))
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading gateway response"))
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			err := pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("gateway returned %d", resp.StatusCode))
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= 400 {
			return mapStatusError(resp.StatusCode, raw)
		}

		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding gateway response")
			}
		}
		return nil
	})
}

func (c *Client) retries() int {
	if c.maxRetries <= 0 {
		return 3
	}
	return c.maxRetries
}

func mapStatusError(status int, body []byte) error {
	msg := "gateway request rejected"
	var wire struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Message != "" {
		msg = wire.Message
	}

	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, msg)
	case http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeForbidden, msg)
	case http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	case http.StatusConflict:
		return pkgerrors.New(pkgerrors.CodeIdempotency, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "token", "account", "ifsc", "vpa", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
