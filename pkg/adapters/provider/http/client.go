package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
)

// StartRequest is the body of POST /runners.
type StartRequest struct {
	Service      *domain.Service `json:"service"`
	Env          []string        `json:"env"`
	RunnerHash   string          `json:"runnerHash"`
	InstanceHash string          `json:"instanceHash"`
	Token        string          `json:"token"`
}

// StartResponse is returned by POST /runners.
type StartResponse struct {
	Started bool   `json:"started"`
	Error   string `json:"error,omitempty"`
}

// Provider implements ports.Provider against an execution backend's REST API.
type Provider struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewProvider creates a provider client.
func NewProvider(endpoint string, timeout time.Duration, logger *zap.Logger) *Provider {
	return &Provider{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Start asks the backend to run the service.
func (p *Provider) Start(ctx context.Context, service *domain.Service, env []string, runnerHash, instanceHash, token string) (bool, error) {
	body, err := json.Marshal(StartRequest{
		Service:      service,
		Env:          env,
		RunnerHash:   runnerHash,
		InstanceHash: instanceHash,
		Token:        token,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/runners", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, &domain.NetworkError{Op: "provider start", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &domain.NetworkError{Op: "provider start", Err: err}
	}

	if resp.StatusCode >= 300 {
		return false, statusError(resp.StatusCode, raw)
	}

	var out StartResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return false, fmt.Errorf("failed to decode start response: %w", err)
		}
	}

	p.logger.Debug("provider accepted runner",
		zap.String("runner_hash", runnerHash),
		zap.Bool("started", out.Started))

	return out.Started, nil
}

// Stop asks the backend to tear the runner down. A runner the backend does
// not know is treated as stopped.
func (p *Provider) Stop(ctx context.Context, runnerHash string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.endpoint+"/runners/"+url.PathEscape(runnerHash), nil)
	if err != nil {
		return fmt.Errorf("failed to build stop request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: "provider stop", Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		p.logger.Warn("runner unknown to backend", zap.String("runner_hash", runnerHash))
		return nil
	case resp.StatusCode >= 300:
		return statusError(resp.StatusCode, raw)
	}
	return nil
}

// maxErrorBody bounds how much of a non-JSON error body ends up in an error.
const maxErrorBody = 256

// statusError describes a failed backend answer. Proxies in front of the
// backend often answer with HTML, so the body is only decoded when it is
// the backend's JSON error shape.
func statusError(status int, raw []byte) error {
	var out StartResponse
	if err := json.Unmarshal(raw, &out); err == nil && out.Error != "" {
		return fmt.Errorf("backend returned status %d: %s", status, out.Error)
	}
	body := strings.TrimSpace(string(raw))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Errorf("backend returned status %d: %s", status, body)
}
