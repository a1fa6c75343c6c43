package orchestrator

import (
	"fmt"

	"github.com/aescanero/runnerd/internal/application/resolver"
	"github.com/aescanero/runnerd/internal/application/runner"
	"github.com/aescanero/runnerd/internal/domain"
)

// Validator checks deployment requests before they are accepted
type Validator struct {
	definitions *resolver.Validator
}

// NewValidator creates a request validator backed by the definition validator
func NewValidator(definitions *resolver.Validator) *Validator {
	return &Validator{definitions: definitions}
}

// Validate checks a submit request
func (v *Validator) Validate(req *SubmitRequest) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}
	if req.Definition == nil {
		return fmt.Errorf("process definition is required")
	}

	if _, err := runner.ParseEnv(req.Env); err != nil {
		return fmt.Errorf("invalid env: %w", err)
	}

	// Validates every node tree, so nothing is deployed for a broken file.
	if err := v.definitions.ValidateProcess(req.Definition); err != nil {
		return err
	}

	return nil
}

// ValidateTeardown checks that a deployment can be compensated
func (v *Validator) ValidateTeardown(d *domain.Deployment) error {
	if d.Status == domain.DeploymentStatusRunning {
		return fmt.Errorf("deployment %s is still running", d.ID)
	}
	return nil
}
