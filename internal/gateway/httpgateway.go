package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPGateway is a JSON-over-HTTP client for processors exposing the uniform operation endpoints.
type HTTPGateway struct {
	provider string
	baseURL  string
	apiKey   string
	client   *http.Client
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(g *HTTPGateway) {
		if client != nil {
			g.client = client
		}
	}
}

// NewHTTPGateway constructs a client for one provider.
func NewHTTPGateway(provider, baseURL, apiKey string, opts ...HTTPOption) (*HTTPGateway, error) {
	if strings.TrimSpace(provider) == "" {
		return nil, errors.New("gateway: empty provider name")
	}
	if baseURL == "" {
		return nil, errors.New("gateway: empty base url")
	}
	g := &HTTPGateway{
		provider: normalizeProvider(provider),
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authorize implements Gateway.
func (g *HTTPGateway) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	var resp AuthorizeResult
	err := g.doJSON(ctx, OperationAuthorize, "/v1/authorizations", req.TransactionID, req, &resp)
	return resp, err
}

// Capture implements Gateway.
func (g *HTTPGateway) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	var resp CaptureResult
	path := "/v1/authorizations/" + url.PathEscape(req.AuthorizationID) + "/capture"
	err := g.doJSON(ctx, OperationCapture, path, req.AuthorizationID, req, &resp)
	return resp, err
}

// Refund implements Gateway.
func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var resp RefundResult
	err := g.doJSON(ctx, OperationRefund, "/v1/refunds", req.CaptureID, req, &resp)
	return resp, err
}

// Void implements Gateway.
func (g *HTTPGateway) Void(ctx context.Context, req VoidRequest) (VoidResult, error) {
	var resp VoidResult
	path := "/v1/authorizations/" + url.PathEscape(req.AuthorizationID) + "/void"
	err := g.doJSON(ctx, OperationVoid, path, req.AuthorizationID, req, &resp)
	return resp, err
}

// SubmitEvidence implements Gateway.
func (g *HTTPGateway) SubmitEvidence(ctx context.Context, req EvidenceRequest) (EvidenceResult, error) {
	var resp EvidenceResult
	path := "/v1/disputes/" + url.PathEscape(req.DisputeID) + "/evidence"
	err := g.doJSON(ctx, OperationSubmitEvidence, path, req.DisputeID, req, &resp)
	return resp, err
}

// doJSON posts body and decodes out, tagging failures by transport outcome and status code.
func (g *HTTPGateway) doJSON(ctx context.Context, op Operation, path, reference string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return g.tag(KindInvalidRequest, op, reference, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return g.tag(KindConfiguration, op, reference, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return g.tag(KindTimeout, op, reference, err)
		}
		return g.tag(KindNetwork, op, reference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		return g.tag(kindForStatus(resp.StatusCode), op, reference, statusErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return g.tag(KindUnknown, op, reference, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (g *HTTPGateway) tag(kind Kind, op Operation, reference string, err error) error {
	return &Error{Kind: kind, Provider: g.provider, Operation: string(op), Reference: reference, Err: err}
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindConfiguration
	case status == http.StatusPaymentRequired:
		return KindDeclined
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}
