package chapa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	domainerrors "agora/contexts/finance-core/payment-service/domain/errors"
	"agora/contexts/finance-core/payment-service/ports"
)

const defaultTimeout = 15 * time.Second

// Client talks to a Chapa-compatible payment gateway over HTTP. Network and
// 5xx failures surface as transient so the reconciler retries them; an
// explicit failed verification is definitive.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewClient(baseURL string, secretKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secretKey:  strings.TrimSpace(secretKey),
		httpClient: httpClient,
	}
}

type initializeRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Email     string `json:"email,omitempty"`
	TxRef     string `json:"tx_ref"`
	ReturnURL string `json:"return_url,omitempty"`
}

type initializeResponse struct {
	Status string `json:"status"`
	Data   struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

type verifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	} `json:"data"`
}

func (c *Client) InitializeTransaction(
	ctx context.Context,
	req ports.InitializeRequest,
) (ports.InitializeResult, error) {
	body, err := json.Marshal(initializeRequest{
		Amount:    fmt.Sprintf("%.2f", req.Amount),
		Currency:  req.Currency,
		Email:     req.Email,
		TxRef:     req.Reference,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		return ports.InitializeResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return ports.InitializeResult{}, err
	}
	c.authorize(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.InitializeResult{}, fmt.Errorf("gateway initialize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return ports.InitializeResult{}, fmt.Errorf("gateway initialize: status %d", resp.StatusCode)
	}

	var decoded initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ports.InitializeResult{}, fmt.Errorf("gateway initialize decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !strings.EqualFold(decoded.Status, "success") {
		return ports.InitializeResult{}, domainerrors.ErrGatewayRejected
	}
	return ports.InitializeResult{CheckoutURL: decoded.Data.CheckoutURL}, nil
}

func (c *Client) VerifyTransaction(ctx context.Context, reference string) (ports.VerifyResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/transaction/verify/"+strings.TrimSpace(reference), nil)
	if err != nil {
		return ports.VerifyResult{}, err
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.VerifyResult{}, fmt.Errorf("gateway verify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return ports.VerifyResult{}, fmt.Errorf("gateway verify: status %d", resp.StatusCode)
	}

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ports.VerifyResult{}, fmt.Errorf("gateway verify decode: %w", err)
	}

	switch strings.ToLower(decoded.Data.Status) {
	case "success":
		amount, _ := strconv.ParseFloat(strings.TrimSpace(decoded.Data.Amount), 64)
		return ports.VerifyResult{Status: ports.VerifySuccess, Amount: amount}, nil
	case "failed", "cancelled":
		return ports.VerifyResult{Status: ports.VerifyFailed}, nil
	default:
		return ports.VerifyResult{Status: ports.VerifyPending}, nil
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
	}
}

var _ ports.Gateway = (*Client)(nil)
