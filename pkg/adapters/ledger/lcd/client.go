package lcd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
)

// Client implements ports.Ledger against a node's LCD REST interface.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger

	mu      sync.Mutex
	chainID string
}

// NewClient creates an LCD client. timeout bounds every request that does
// not carry its own deadline; block broadcasts should be bounded by ctx.
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type nodeInfoResponse struct {
	NodeInfo struct {
		Network string `json:"network"`
	} `json:"node_info"`
}

type heightResult struct {
	Height string          `json:"height"`
	Result json.RawMessage `json:"result"`
}

type accountResult struct {
	Type  string             `json:"type"`
	Value domain.AccountInfo `json:"value"`
}

type broadcastRequest struct {
	Tx   domain.StdTx `json:"tx"`
	Mode string       `json:"mode"`
}

type broadcastResponse struct {
	Height    string `json:"height"`
	TxHash    string `json:"txhash"`
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
	RawLog    string `json:"raw_log"`
	Logs      []struct {
		MsgIndex int            `json:"msg_index"`
		Events   []domain.Event `json:"events"`
	} `json:"logs"`
	Events []domain.Event `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ChainID returns the network of the node. The value is cached.
func (c *Client) ChainID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var info nodeInfoResponse
	if err := c.get(ctx, "node_info", "/node_info", &info); err != nil {
		return "", err
	}
	if info.NodeInfo.Network == "" {
		return "", fmt.Errorf("node info does not report a network")
	}

	c.mu.Lock()
	c.chainID = info.NodeInfo.Network
	c.mu.Unlock()
	return info.NodeInfo.Network, nil
}

// Account returns the account number and sequence of address.
func (c *Client) Account(ctx context.Context, address string) (*domain.AccountInfo, error) {
	var acc accountResult
	if err := c.getResult(ctx, "account", "/auth/accounts/"+url.PathEscape(address), &acc); err != nil {
		return nil, err
	}
	// Unknown accounts come back empty rather than 404.
	if acc.Value.Address == "" {
		acc.Value.Address = address
	}
	return &acc.Value, nil
}

// Broadcast posts tx and converts a non-zero result code to RejectedTxError.
func (c *Client) Broadcast(ctx context.Context, tx domain.StdTx, mode domain.Commitment) (*domain.TxResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown commitment level %q", mode)
	}

	body, err := json.Marshal(broadcastRequest{Tx: tx, Mode: string(mode)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/txs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: "broadcast", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.NetworkError{Op: "broadcast", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.RejectedTxError{Code: uint32(resp.StatusCode), Log: errorMessage(raw)}
	}

	var out broadcastResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode broadcast response: %w", err)
	}
	if out.Code != 0 {
		// A block-mode rejection with a height was included and spent
		// the sequence; a check failure comes back with height 0.
		height, _ := strconv.ParseInt(out.Height, 10, 64)
		return nil, &domain.RejectedTxError{
			Code:      out.Code,
			Codespace: out.Codespace,
			Log:       out.RawLog,
			TxHash:    out.TxHash,
			Height:    height,
		}
	}

	result := &domain.TxResult{
		Height: out.Height,
		TxHash: out.TxHash,
		RawLog: out.RawLog,
		Events: out.Events,
	}
	for _, l := range out.Logs {
		result.Events = append(result.Events, l.Events...)
	}

	c.logger.Debug("transaction accepted by node",
		zap.String("tx_hash", out.TxHash),
		zap.String("mode", string(mode)),
		zap.String("height", out.Height))

	return result, nil
}

// GetService returns the service stored under hash.
func (c *Client) GetService(ctx context.Context, hash string) (*domain.Service, error) {
	var s domain.Service
	if err := c.getResult(ctx, "get service", "/service/get/"+url.PathEscape(hash), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetProcess returns the process stored under hash.
func (c *Client) GetProcess(ctx context.Context, hash string) (*domain.Process, error) {
	var p domain.Process
	if err := c.getResult(ctx, "get process", "/process/get/"+url.PathEscape(hash), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetRunner returns the runner stored under hash.
func (c *Client) GetRunner(ctx context.Context, hash string) (*domain.Runner, error) {
	var r domain.Runner
	if err := c.getResult(ctx, "get runner", "/runner/get/"+url.PathEscape(hash), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// getResult unwraps the {height, result} envelope.
func (c *Client) getResult(ctx context.Context, op, path string, out any) error {
	var envelope heightResult
	if err := c.get(ctx, op, path, &envelope); err != nil {
		return err
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return fmt.Errorf("%s %s: %w", op, path, domain.ErrNotFound)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", op, path, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		msg := errorMessage(raw)
		if strings.Contains(strings.ToLower(msg), "not found") {
			return fmt.Errorf("%s %s: %s: %w", op, path, msg, domain.ErrNotFound)
		}
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func errorMessage(raw []byte) string {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
