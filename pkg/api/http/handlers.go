package http

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/orchestrator"
	"github.com/aescanero/runnerd/internal/application/runner"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/pkg/adapters/keyring"
)

// DeploymentSubmitRequest represents a deployment submission request
type DeploymentSubmitRequest struct {
	Definition *domain.ProcessDefinition `json:"definition" binding:"required"`
	Env        []string                  `json:"env"`
	BuildDir   string                    `json:"buildDir"`
}

// DeploymentSubmitResponse represents a deployment submission response
type DeploymentSubmitResponse struct {
	DeploymentID string `json:"deployment_id"`
	Status       string `json:"status"`
	SubmittedAt  string `json:"submitted_at"`
}

// RunnerHashRequest asks for the identity a runner would get
type RunnerHashRequest struct {
	Address     string   `json:"address" binding:"required"`
	ServiceHash string   `json:"serviceHash" binding:"required"`
	Env         []string `json:"env"`
}

// TokenVerifyRequest carries an encoded runner token and the key to check it with.
// PubKey is either the bech32 "<prefix>pub1..." form or base64 of the
// compressed key.
type TokenVerifyRequest struct {
	Token  string `json:"token" binding:"required"`
	PubKey string `json:"pubKey" binding:"required"`
}

// TokenVerifyResponse reports the outcome of a verification
type TokenVerifyResponse struct {
	Valid  bool              `json:"valid"`
	Value  domain.TokenValue `json:"value"`
	Reason string            `json:"reason,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"api": "ok"}
	status := http.StatusOK
	state := "healthy"

	if s.health != nil {
		pool := s.health.GetStatus()
		checks["workers"] = pool
		if !pool.Healthy {
			status = http.StatusServiceUnavailable
			state = "unhealthy"
		}
	}

	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleSubmitDeployment handles deployment submission
func (s *Server) handleSubmitDeployment(c *gin.Context) {
	var req DeploymentSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	id, err := s.deployments.SubmitDeployment(c.Request.Context(), &orchestrator.SubmitRequest{
		Definition: req.Definition,
		Env:        req.Env,
		BuildDir:   req.BuildDir,
	})
	if err != nil {
		s.logger.Warn("failed to submit deployment", zap.Error(err))
		if domain.IsValidationError(err) {
			writeError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, "SUBMISSION_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusCreated, DeploymentSubmitResponse{
		DeploymentID: id,
		Status:       string(domain.DeploymentStatusSubmitted),
		SubmittedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListDeployments handles listing deployments
func (s *Server) handleListDeployments(c *gin.Context) {
	list, err := s.deployments.ListDeployments(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list deployments", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := list[:0]
		for _, d := range list {
			if string(d.Status) == status {
				filtered = append(filtered, d)
			}
		}
		list = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"deployments": list,
		"total":       len(list),
	})
}

// handleGetDeployment handles getting deployment details
func (s *Server) handleGetDeployment(c *gin.Context) {
	d, err := s.deployments.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Deployment not found")
			return
		}
		writeError(c, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, d)
}

// handleTeardown compensates a deployment
func (s *Server) handleTeardown(c *gin.Context) {
	id := c.Param("id")

	if err := s.deployments.Teardown(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Deployment not found")
			return
		}
		s.logger.Error("teardown failed", zap.String("deployment_id", id), zap.Error(err))
		writeError(c, http.StatusBadGateway, "TEARDOWN_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deployment_id": id,
		"status":        domain.DeploymentStatusTornDown,
	})
}

// handleRunnerHash computes a runner identity without side effects
func (s *Server) handleRunnerHash(c *gin.Context) {
	var req RunnerHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	id, err := runner.Hash(req.Address, req.ServiceHash, req.Env)
	if err != nil {
		var ve *domain.ValidationError
		switch {
		case errors.As(err, &ve) && ve.Path == "env":
			writeError(c, http.StatusBadRequest, "INVALID_ENV", err.Error())
		case errors.As(err, &ve):
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			s.logger.Error("runner hash failed", zap.Error(err))
			writeError(c, http.StatusInternalServerError, "HASH_FAILED", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, id)
}

// handleVerifyToken checks a runner token against a public key
func (s *Server) handleVerifyToken(c *gin.Context) {
	var req TokenVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	token, err := runner.DecodeToken(req.Token)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_TOKEN", err.Error())
		return
	}

	pub, err := parsePubKey(req.PubKey)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_PUBKEY", err.Error())
		return
	}

	resp := TokenVerifyResponse{Valid: true, Value: token.Value}
	if err := runner.VerifyToken(token, pub); err != nil {
		resp.Valid = false
		resp.Reason = err.Error()
	}

	c.JSON(http.StatusOK, resp)
}

func parsePubKey(s string) ([]byte, error) {
	_, pub, err := keyring.ParsePubKeyString(s)
	if err == nil {
		return pub, nil
	}
	raw, decErr := base64.StdEncoding.DecodeString(s)
	if decErr != nil {
		return nil, err
	}
	return raw, nil
}
