package ipfs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
)

// Store implements ports.ArtifactStore on top of an IPFS node's HTTP API.
type Store struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// NewStore creates an IPFS store for the API at endpoint, e.g.
// http://localhost:5001.
func NewStore(endpoint string, timeout time.Duration, logger *zap.Logger) *Store {
	return &Store{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Put adds content and returns its CID. The content is pinned.
func (s *Store) Put(ctx context.Context, name string, content io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/v0/add?pin=true", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build add request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &domain.NetworkError{Op: "ipfs add", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ipfs add returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	// The API streams one JSON object per added entry; the last one is the root.
	var last addResponse
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &last); err != nil {
			return "", fmt.Errorf("failed to decode ipfs add response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &domain.NetworkError{Op: "ipfs add", Err: err}
	}
	if last.Hash == "" {
		return "", fmt.Errorf("ipfs add returned no hash")
	}

	s.logger.Debug("artifact stored",
		zap.String("name", name),
		zap.String("cid", last.Hash),
		zap.String("size", last.Size))

	return last.Hash, nil
}
