// Package mint submits ERC-721 mints to a transaction relayer and waits for
// them to land on chain.
package mint

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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMintFailed means the relayer accepted the mint but the transaction errored or was cancelled.
	ErrMintFailed = errors.New("mint transaction failed")
	// ErrRejected means the relayer refused the request outright.
	ErrRejected = errors.New("mint request rejected")
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const (
	defaultPollInterval = 2 * time.Second
	maxErrorBodyBytes   = 4 << 10
)

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	ExternalURL string      `json:"external_url,omitempty"`
	Attributes  []Attribute `json:"attributes"`
}

type Request struct {
	// IdempotencyKey makes resubmissions return the original queued transaction.
	IdempotencyKey string
	Recipient      string
	Metadata       Metadata
}

type Result struct {
	QueueID         string `json:"queueId"`
	TransactionHash string `json:"transactionHash"`
	TokenID         string `json:"tokenId"`
	ContractAddress string `json:"contractAddress"`
	Chain           string `json:"chain"`
}

type Config struct {
	BaseURL         string
	APIKey          string
	BackendWallet   string
	ContractAddress string
	Chain           string
	HTTPClient      *http.Client
	PollInterval    time.Duration
}

// EngineClient talks to a thirdweb Engine compatible relayer.
type EngineClient struct {
	baseURL         string
	apiKey          string
	backendWallet   string
	contractAddress string
	chain           string
	httpClient      *http.Client
	pollInterval    time.Duration
}

func NewEngineClient(cfg Config) (*EngineClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("mint API URL and key are required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid NFT contract address %q", cfg.ContractAddress)
	}
	if !common.IsHexAddress(cfg.BackendWallet) {
		return nil, fmt.Errorf("invalid backend wallet address %q", cfg.BackendWallet)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &EngineClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		backendWallet:   common.HexToAddress(cfg.BackendWallet).Hex(),
		contractAddress: common.HexToAddress(cfg.ContractAddress).Hex(),
		chain:           cfg.Chain,
		httpClient:      httpClient,
		pollInterval:    pollInterval,
	}, nil
}

func (c *EngineClient) ContractAddress() string { return c.contractAddress }

func (c *EngineClient) Chain() string { return c.chain }

type envelope[T any] struct {
	Result T `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type mintToBody struct {
	Receiver string   `json:"receiver"`
	Metadata Metadata `json:"metadata"`
}

type queuedResult struct {
	QueueID string `json:"queueId"`
}

type statusResult struct {
	Status          string `json:"status"`
	TransactionHash string `json:"transactionHash"`
	ErrorMessage    string `json:"errorMessage"`
}

type receiptResult struct {
	Logs []ReceiptLog `json:"logs"`
}

// ReceiptLog is one log entry of a transaction receipt.
type ReceiptLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
}

// MintTo queues the mint and blocks until it is mined, fails, or ctx ends.
func (c *EngineClient) MintTo(ctx context.Context, req Request) (*Result, error) {
	if !common.IsHexAddress(req.Recipient) {
		return nil, fmt.Errorf("%w: invalid recipient %q", ErrRejected, req.Recipient)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrRejected)
	}

	endpoint := fmt.Sprintf("%s/contract/%s/%s/erc721/mint-to", c.baseURL, url.PathEscape(c.chain), c.contractAddress)
	var queued envelope[queuedResult]
	if err := c.do(ctx, http.MethodPost, endpoint, req.IdempotencyKey, mintToBody{
		Receiver: common.HexToAddress(req.Recipient).Hex(),
		Metadata: req.Metadata,
	}, &queued); err != nil {
		return nil, err
	}
	if queued.Result.QueueID == "" {
		return nil, fmt.Errorf("%w: relayer returned no queue id", ErrRejected)
	}

	result := &Result{
		QueueID:         queued.Result.QueueID,
		ContractAddress: c.contractAddress,
		Chain:           c.chain,
	}

	txHash, err := c.waitMined(ctx, result.QueueID)
	if err != nil {
		return result, err
	}
	result.TransactionHash = txHash

	tokenID, err := c.tokenIDFromReceipt(ctx, txHash)
	if err != nil {
		return result, err
	}
	result.TokenID = tokenID
	return result, nil
}

func (c *EngineClient) waitMined(ctx context.Context, queueID string) (string, error) {
	endpoint := fmt.Sprintf("%s/transaction/status/%s", c.baseURL, url.PathEscape(queueID))
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var status envelope[statusResult]
		if err := c.do(ctx, http.MethodGet, endpoint, "", nil, &status); err != nil {
			return "", err
		}
		switch status.Result.Status {
		case "mined":
			if status.Result.TransactionHash == "" {
				return "", fmt.Errorf("%w: mined without transaction hash", ErrMintFailed)
			}
			return status.Result.TransactionHash, nil
		case "errored", "cancelled":
			return "", fmt.Errorf("%w: %s: %s", ErrMintFailed, status.Result.Status, status.Result.ErrorMessage)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for mint %s: %w", queueID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *EngineClient) tokenIDFromReceipt(ctx context.Context, txHash string) (string, error) {
	endpoint := fmt.Sprintf("%s/transaction/%s/tx-hash/%s", c.baseURL, url.PathEscape(c.chain), url.PathEscape(txHash))
	var receipt envelope[receiptResult]
	if err := c.do(ctx, http.MethodGet, endpoint, "", nil, &receipt); err != nil {
		return "", err
	}
	tokenID, ok := TokenIDFromLogs(c.contractAddress, receipt.Result.Logs)
	if !ok {
		return "", fmt.Errorf("%w: no Transfer event from %s in %s", ErrMintFailed, c.contractAddress, txHash)
	}
	return tokenID, nil
}

// TokenIDFromLogs finds the ERC-721 Transfer emitted by contract and returns its
// token id in decimal.
func TokenIDFromLogs(contract string, logs []ReceiptLog) (string, bool) {
	want := common.HexToAddress(contract)
	for _, entry := range logs {
		if common.HexToAddress(entry.Address) != want || len(entry.Topics) != 4 {
			continue
		}
		if common.HexToHash(entry.Topics[0]) != transferTopic {
			continue
		}
		return common.HexToHash(entry.Topics[3]).Big().String(), true
	}
	return "", false
}

func (c *EngineClient) do(ctx context.Context, method, endpoint, idempotencyKey string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal mint request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-backend-wallet-address", c.backendWallet)
	}
	if idempotencyKey != "" {
		req.Header.Set("x-idempotency-key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mint relayer request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrRejected, method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode mint relayer response: %w", err)
	}
	return nil
}
