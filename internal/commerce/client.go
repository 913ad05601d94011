package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/distrohq/salesdesk/pkg/auth"
	"github.com/distrohq/salesdesk/pkg/config"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
	"github.com/distrohq/salesdesk/pkg/logger"
	"github.com/distrohq/salesdesk/pkg/metrics"
)

const errorBodyReadLimit int64 = 2048

// Operation names used for logging and metrics labels.
const (
	OpCreateCart       = "create_cart"
	OpUpdateCart       = "update_cart"
	OpRemoveFromCart   = "remove_from_cart"
	OpValidateDropOffs = "validate_drop_offs"
	OpGetReview        = "get_review_details"
	OpFinalizeOrder    = "finalize_order"
	OpSubmitPayments   = "submit_payments"
)

var errTokenSourceRequired = errors.New("commerce token source is required")

// Client wraps the remote commerce API with centralized auth, division
// scoping, logging, metrics, and error mapping. Request building is a pure
// function of (endpoint, payload, scope); no ambient state is consulted.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     auth.TokenSource
	logger     *logger.Logger
	metrics    *metrics.CommerceCallMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMetrics attaches call metrics.
func WithMetrics(m *metrics.CommerceCallMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger attaches the structured logger.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		c.logger = logg
	}
}

// NewClient builds the commerce client from configuration.
func NewClient(cfg config.CommerceConfig, tokens auth.TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errTokenSourceRequired
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("commerce base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		tokens:     tokens,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client, nil
}

// CreateCart performs the first cart mutation, minting a cart id remotely.
func (c *Client) CreateCart(ctx context.Context, scope division.Scope, req UpsertCartRequest) (*Cart, error) {
	req.CartID = ""
	body, err := c.postJSON(ctx, OpCreateCart, "carts", scope, req)
	if err != nil {
		return nil, err
	}
	return NormalizeCartSnapshot(body)
}

// UpdateCart replaces line quantities on an existing cart.
func (c *Client) UpdateCart(ctx context.Context, scope division.Scope, req UpsertCartRequest) (*Cart, error) {
	if strings.TrimSpace(req.CartID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id required for update")
	}
	body, err := c.postJSON(ctx, OpUpdateCart, "carts/update", scope, req)
	if err != nil {
		return nil, err
	}
	return NormalizeCartSnapshot(body)
}

// RemoveFromCart issues the dedicated remove call. It may legitimately fail
// for some account tiers; callers fall back to UpdateCart with quantity 0.
func (c *Client) RemoveFromCart(ctx context.Context, scope division.Scope, req RemoveItemRequest) (*Cart, error) {
	if strings.TrimSpace(req.CartID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id required for removal")
	}
	body, err := c.postJSON(ctx, OpRemoveFromCart, "carts/remove-item", scope, req)
	if err != nil {
		return nil, err
	}
	return NormalizeCartSnapshot(body)
}

// ValidateDropOffs submits every destination's coordinates in one call.
func (c *Client) ValidateDropOffs(ctx context.Context, scope division.Scope, req ValidateDropOffsRequest) (*DropOffValidation, error) {
	if len(req.Coordinates) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one coordinate required")
	}
	body, err := c.postJSON(ctx, OpValidateDropOffs, "drop-offs/validate", scope, req)
	if err != nil {
		return nil, err
	}
	return NormalizeDropOffValidation(body)
}

// GetReviewDetails fetches the server-computed review projection.
func (c *Client) GetReviewDetails(ctx context.Context, scope division.Scope, cartID, warehouseType string) (*ReviewSnapshot, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id required for review")
	}
	path := fmt.Sprintf("carts/%s/review", url.PathEscape(cartID))
	query := url.Values{}
	if wt := strings.TrimSpace(warehouseType); wt != "" {
		query.Set("warehouseType", wt)
	}
	body, err := c.do(ctx, OpGetReview, http.MethodGet, path, scope, query, nil, "", http.StatusOK)
	if err != nil {
		return nil, err
	}
	var snapshot ReviewSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode review snapshot")
	}
	return &snapshot, nil
}

// FinalizeOrder converts the cart and drop-off plan into a persisted order.
// The remote service answers 201 on success.
func (c *Client) FinalizeOrder(ctx context.Context, scope division.Scope, req FinalizeOrderRequest) (*OrderIdentifiers, error) {
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order items required")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal finalize request")
	}
	body, err := c.do(ctx, OpFinalizeOrder, http.MethodPost, "orders", scope, nil,
		bytes.NewReader(payload), "application/json", http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return ExtractOrderIdentifiers(body)
}

// SubmitPayments posts all payment records plus proof attachments as one
// multipart transaction. The path is keyed by the human-readable order
// number, not the internal order id.
func (c *Client) SubmitPayments(ctx context.Context, scope division.Scope, orderNumber string, payments []PaymentPayload) error {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order number required for payment submission")
	}
	if len(payments) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one payment record required")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	records, err := json.Marshal(payments)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal payment records")
	}
	if err := writer.WriteField("payments", string(records)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write payments field")
	}

	for i, payment := range payments {
		if payment.Proof == nil || len(payment.Proof.Content) == 0 {
			continue
		}
		name := payment.Proof.Filename
		if name == "" {
			name = fmt.Sprintf("proof-%d", i)
		}
		part, err := writer.CreateFormFile(fmt.Sprintf("proof_%d", i), name)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create proof part")
		}
		if _, err := part.Write(payment.Proof.Content); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write proof part")
		}
	}
	if err := writer.Close(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close multipart body")
	}

	path := fmt.Sprintf("orders/%s/payments", url.PathEscape(number))
	_, err = c.do(ctx, OpSubmitPayments, http.MethodPost, path, scope, nil,
		&buf, writer.FormDataContentType(), http.StatusOK, http.StatusCreated)
	return err
}

func (c *Client) postJSON(ctx context.Context, op, path string, scope division.Scope, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("marshal %s request", op))
	}
	return c.do(ctx, op, http.MethodPost, path, scope, nil, bytes.NewReader(body), "application/json", http.StatusOK, http.StatusCreated)
}

func (c *Client) do(
	ctx context.Context,
	op, method, path string,
	scope division.Scope,
	query url.Values,
	body io.Reader,
	contentType string,
	acceptStatuses ...int,
) ([]byte, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "commerce client not configured")
	}

	endpoint := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("build %s request", op))
	}

	if query == nil {
		query = url.Values{}
	}
	scope.Apply(query)
	req.URL.RawQuery = query.Encode()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "obtain bearer token")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logCall(ctx, "request", op, map[string]any{"path": path, "method": method})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveDuration(op, time.Since(start))
	if err != nil {
		c.metrics.IncFailure(op, string(pkgerrors.CodeDependency))
		c.logCall(ctx, "error", op, map[string]any{"error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("execute %s request", op))
	}
	defer func() { _ = resp.Body.Close() }()

	if !statusAccepted(resp.StatusCode, acceptStatuses) {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		mapped := c.mapHTTPError(op, resp.StatusCode, raw)
		c.metrics.IncFailure(op, string(pkgerrors.CodeOf(mapped)))
		c.logCall(ctx, "error", op, map[string]any{"status": resp.StatusCode, "error": mapped.Error()})
		return nil, mapped
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.IncFailure(op, string(pkgerrors.CodeDependency))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read %s response", op))
	}

	c.metrics.IncSuccess(op)
	c.logCall(ctx, "response", op, map[string]any{"status": resp.StatusCode})
	return payload, nil
}

func statusAccepted(status int, accepted []int) bool {
	if len(accepted) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range accepted {
		if status == s {
			return true
		}
	}
	return false
}

func (c *Client) mapHTTPError(op string, status int, body []byte) error {
	message := upstreamMessage(body)
	if message == "" {
		message = fmt.Sprintf("%s failed with status %d", op, status)
	}
	return pkgerrors.New(codeForStatus(status), message).
		WithDetails(map[string]any{"operation": op, "status": status})
}

func upstreamMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return strings.TrimSpace(string(body))
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return envelope.Error
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func (c *Client) logCall(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{"operation": op, "phase": phase}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	if phase == "error" {
		c.logger.Warn(ctx, fmt.Sprintf("commerce %s failed", op))
		return
	}
	c.logger.Info(ctx, fmt.Sprintf("commerce %s", phase))
}
