package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/resolver"
	"github.com/aescanero/runnerd/internal/application/txpipeline"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// SessionOpener opens an exclusive signing session.
type SessionOpener interface {
	Open(ctx context.Context, mnemonic string) (*txpipeline.AccountSession, error)
}

// ProcessResolver deploys the node trees of a process definition.
type ProcessResolver interface {
	ResolveProcess(ctx context.Context, s *txpipeline.AccountSession, def *domain.ProcessDefinition, req resolver.Request) (*resolver.ProcessResolution, error)
}

// ProcessDeployer registers and removes processes on the ledger.
type ProcessDeployer interface {
	Create(ctx context.Context, s *txpipeline.AccountSession, req domain.ProcessRequest) (*domain.Process, error)
	Remove(ctx context.Context, s *txpipeline.AccountSession, hash string) error
}

// RunnerStopper stops runners.
type RunnerStopper interface {
	Stop(ctx context.Context, s *txpipeline.AccountSession, runnerHash string) error
}

// ServiceRemover removes services from the ledger.
type ServiceRemover interface {
	Remove(ctx context.Context, s *txpipeline.AccountSession, hash string) error
}

// SubmitRequest is a process to deploy.
type SubmitRequest struct {
	Definition *domain.ProcessDefinition `json:"definition"`
	// Env overrides the definition's env.
	Env []string `json:"env,omitempty"`
	// BuildDir resolves relative service sources. Empty uses the default.
	BuildDir string `json:"buildDir,omitempty"`
}

// Config holds orchestrator settings
type Config struct {
	Mnemonic          string
	BuildDir          string
	DeploymentTimeout time.Duration
	TeardownTimeout   time.Duration
	// RemoveServices also deletes created services on teardown.
	RemoveServices bool
}

// Manager coordinates deployments and their compensation
type Manager struct {
	sessions  SessionOpener
	resolver  ProcessResolver
	processes ProcessDeployer
	runners   RunnerStopper
	services  ServiceRemover
	store     ports.DeploymentStore
	eventBus  ports.EventBus
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger
	cfg       Config

	// Track active executions
	executions sync.Map // map[string]*execution
	active     atomic.Int64
}

// execution holds the handle of a running deployment
type execution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new orchestrator manager
func NewManager(
	sessions SessionOpener,
	processResolver ProcessResolver,
	processes ProcessDeployer,
	runners RunnerStopper,
	services ServiceRemover,
	store ports.DeploymentStore,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	validator *Validator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.DeploymentTimeout <= 0 {
		cfg.DeploymentTimeout = 30 * time.Minute
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 5 * time.Minute
	}

	return &Manager{
		sessions:  sessions,
		resolver:  processResolver,
		processes: processes,
		runners:   runners,
		services:  services,
		store:     store,
		eventBus:  eventBus,
		metrics:   metrics,
		validator: validator,
		logger:    logger,
		cfg:       cfg,
	}
}

// SubmitDeployment validates and queues a process for deployment
func (m *Manager) SubmitDeployment(ctx context.Context, req *SubmitRequest) (string, error) {
	if err := m.validator.Validate(req); err != nil {
		m.logger.Warn("deployment validation failed", zap.Error(err))
		m.metrics.RecordDeployment("invalid", 0)
		return "", fmt.Errorf("validation failed: %w", err)
	}

	buildDir := req.BuildDir
	if buildDir == "" {
		buildDir = m.cfg.BuildDir
	}

	d := &domain.Deployment{
		ID:          uuid.New().String(),
		Status:      domain.DeploymentStatusSubmitted,
		Definition:  req.Definition,
		Env:         req.Env,
		BuildDir:    buildDir,
		SubmittedAt: time.Now(),
	}

	if err := m.store.SaveDeployment(ctx, d); err != nil {
		m.logger.Error("failed to save initial deployment",
			zap.String("deployment_id", d.ID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save deployment: %w", err)
	}

	event := m.newEvent(d.ID, domain.EventTypeDeploymentSubmitted, map[string]interface{}{
		"name": req.Definition.Name,
	})
	if err := m.eventBus.Publish(ctx, domain.TopicDeploymentQueue, event); err != nil {
		m.logger.Error("failed to queue deployment",
			zap.String("deployment_id", d.ID),
			zap.Error(err))
		return "", fmt.Errorf("failed to publish event: %w", err)
	}
	m.publish(ctx, event)

	m.logger.Info("deployment submitted",
		zap.String("deployment_id", d.ID),
		zap.String("name", req.Definition.Name))

	return d.ID, nil
}

// Execute deploys a submitted deployment. Deployments that are no longer
// in the submitted state are skipped, so redelivered events are harmless.
func (m *Manager) Execute(ctx context.Context, id string) error {
	d, err := m.store.GetDeployment(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get deployment: %w", err)
	}
	if d.Status != domain.DeploymentStatusSubmitted {
		m.logger.Debug("skipping deployment",
			zap.String("deployment_id", id),
			zap.String("status", string(d.Status)))
		return nil
	}

	execCtx, cancel := context.WithTimeout(ctx, m.cfg.DeploymentTimeout)
	exec := &execution{cancel: cancel, done: make(chan struct{})}
	if _, loaded := m.executions.LoadOrStore(id, exec); loaded {
		cancel()
		return nil
	}
	defer func() {
		cancel()
		m.executions.Delete(id)
		close(exec.done)
		m.metrics.SetActiveDeployments(int(m.active.Add(-1)))
	}()
	m.metrics.SetActiveDeployments(int(m.active.Add(1)))

	started := time.Now()
	d.Status = domain.DeploymentStatusRunning
	d.StartedAt = &started
	m.save(execCtx, d)
	m.publish(execCtx, m.newEvent(id, domain.EventTypeDeploymentStarted, nil))

	session, err := m.sessions.Open(execCtx, m.cfg.Mnemonic)
	if err != nil {
		return m.fail(ctx, d, fmt.Errorf("failed to open account session: %w", err))
	}
	defer session.Close()
	d.Owner = session.Address()

	res, err := m.resolver.ResolveProcess(execCtx, session, d.Definition, resolver.Request{
		Env:   d.Env,
		Build: domain.BuildContext{Dir: d.BuildDir},
		OnResolved: func(node domain.ResolvedNode) {
			m.record(execCtx, d, node)
		},
	})
	if res != nil {
		// The resolution is authoritative, including services created by a
		// node that failed before its runner started.
		d.Nodes = res.Nodes
		d.Services = res.Services
		d.Runners = res.Runners
	}
	if err != nil {
		return m.fail(ctx, d, err)
	}

	process, err := m.processes.Create(execCtx, session, res.Request)
	if err != nil {
		return m.fail(ctx, d, err)
	}
	d.ProcessHash = process.Hash
	m.publish(execCtx, m.newEvent(id, domain.EventTypeProcessCreated, map[string]interface{}{
		"process_hash": process.Hash,
	}))

	now := time.Now()
	d.Status = domain.DeploymentStatusCompleted
	d.CompletedAt = &now
	m.save(execCtx, d)
	m.publish(execCtx, m.newEvent(id, domain.EventTypeDeploymentCompleted, map[string]interface{}{
		"process_hash": d.ProcessHash,
		"runners":      len(d.Runners),
	}))

	duration := time.Since(started)
	m.metrics.RecordDeployment(string(domain.DeploymentStatusCompleted), duration)
	m.logger.Info("deployment completed",
		zap.String("deployment_id", id),
		zap.String("process_hash", d.ProcessHash),
		zap.Int("runners", len(d.Runners)),
		zap.Duration("duration", duration))

	return nil
}

// record stores a resolved node on the deployment as soon as it exists
func (m *Manager) record(ctx context.Context, d *domain.Deployment, node domain.ResolvedNode) {
	d.Nodes = append(d.Nodes, node)
	if node.Deployed {
		d.Services = append(d.Services, node.ServiceHash)
		d.Runners = append(d.Runners, domain.RunnerInfo{Hash: node.RunnerHash, InstanceHash: node.InstanceHash})
		m.publish(ctx, m.newEvent(d.ID, domain.EventTypeRunnerStarted, map[string]interface{}{
			"path":          node.Path,
			"service_hash":  node.ServiceHash,
			"runner_hash":   node.RunnerHash,
			"instance_hash": node.InstanceHash,
		}))
	}
	m.save(ctx, d)
}

// fail marks the deployment failed and returns err. It keeps what was
// created so that Teardown can compensate.
func (m *Manager) fail(ctx context.Context, d *domain.Deployment, err error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "deployment timeout: " + msg
	}

	now := time.Now()
	d.Status = domain.DeploymentStatusFailed
	d.Error = msg
	d.CompletedAt = &now
	m.save(ctx, d)
	m.publish(ctx, m.newEvent(d.ID, domain.EventTypeDeploymentFailed, map[string]interface{}{
		"error": msg,
	}))

	var duration time.Duration
	if d.StartedAt != nil {
		duration = now.Sub(*d.StartedAt)
	}
	m.metrics.RecordDeployment(string(domain.DeploymentStatusFailed), duration)
	m.logger.Error("deployment failed",
		zap.String("deployment_id", d.ID),
		zap.Int("services", len(d.Services)),
		zap.Int("runners", len(d.Runners)),
		zap.Error(err))

	return fmt.Errorf("deployment %s failed: %w", d.ID, err)
}

// GetStatus retrieves the current state of a deployment
func (m *Manager) GetStatus(ctx context.Context, id string) (*domain.Deployment, error) {
	d, err := m.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return d, nil
}

// ListDeployments returns every known deployment
func (m *Manager) ListDeployments(ctx context.Context) ([]*domain.Deployment, error) {
	list, err := m.store.ListDeployments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return list, nil
}

// Teardown compensates a deployment: the process is deleted, then runners
// are stopped newest first, then created services are removed when
// configured. A running deployment is cancelled first. Every step is
// attempted; failures are joined and the entities they concern stay on the
// record so that Teardown can be retried.
func (m *Manager) Teardown(ctx context.Context, id string) error {
	if v, ok := m.executions.Load(id); ok {
		exec := v.(*execution)
		exec.cancel()
		select {
		case <-exec.done:
		case <-ctx.Done():
			return fmt.Errorf("failed to wait for deployment %s to stop: %w", id, ctx.Err())
		}
	}

	d, err := m.store.GetDeployment(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get deployment: %w", err)
	}
	if d.Status == domain.DeploymentStatusTornDown {
		return nil
	}
	if err := m.validator.ValidateTeardown(d); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.TeardownTimeout)
	defer cancel()

	var errs []error
	if d.ProcessHash != "" || len(d.Runners) > 0 || (m.cfg.RemoveServices && len(d.Services) > 0) {
		session, err := m.sessions.Open(ctx, m.cfg.Mnemonic)
		if err != nil {
			return fmt.Errorf("failed to open account session: %w", err)
		}
		defer session.Close()

		errs = m.compensate(ctx, session, d)
	}

	teardownErr := errors.Join(errs...)
	now := time.Now()
	d.CompletedAt = &now
	if teardownErr != nil {
		d.Status = domain.DeploymentStatusFailed
		d.Error = teardownErr.Error()
	} else {
		d.Status = domain.DeploymentStatusTornDown
	}
	m.save(ctx, d)

	if teardownErr != nil {
		m.logger.Error("teardown incomplete",
			zap.String("deployment_id", id),
			zap.Int("runners_left", len(d.Runners)),
			zap.Error(teardownErr))
		return teardownErr
	}

	m.publish(ctx, m.newEvent(id, domain.EventTypeDeploymentTornDown, nil))
	m.logger.Info("deployment torn down", zap.String("deployment_id", id))
	return nil
}

func (m *Manager) compensate(ctx context.Context, s *txpipeline.AccountSession, d *domain.Deployment) []error {
	var errs []error

	if d.ProcessHash != "" {
		if err := m.processes.Remove(ctx, s, d.ProcessHash); err != nil {
			errs = append(errs, err)
		} else {
			m.publish(ctx, m.newEvent(d.ID, domain.EventTypeProcessRemoved, map[string]interface{}{
				"process_hash": d.ProcessHash,
			}))
			d.ProcessHash = ""
		}
	}

	var left []domain.RunnerInfo
	for i := len(d.Runners) - 1; i >= 0; i-- {
		r := d.Runners[i]
		err := m.runners.Stop(ctx, s, r.Hash)

		var perr *domain.ProviderError
		switch {
		case err == nil:
			m.publish(ctx, m.newEvent(d.ID, domain.EventTypeRunnerStopped, map[string]interface{}{
				"runner_hash": r.Hash,
			}))
		case errors.As(err, &perr) && perr.Inconsistent:
			// The ledger record is gone; retrying cannot help.
			errs = append(errs, err)
		default:
			errs = append(errs, err)
			left = append([]domain.RunnerInfo{r}, left...)
		}
	}
	d.Runners = left

	if m.cfg.RemoveServices {
		var kept []string
		seen := make(map[string]bool)
		for i := len(d.Services) - 1; i >= 0; i-- {
			hash := d.Services[i]
			if seen[hash] {
				continue
			}
			seen[hash] = true

			if err := m.services.Remove(ctx, s, hash); err != nil {
				errs = append(errs, err)
				kept = append([]string{hash}, kept...)
				continue
			}
			m.publish(ctx, m.newEvent(d.ID, domain.EventTypeServiceRemoved, map[string]interface{}{
				"service_hash": hash,
			}))
		}
		d.Services = kept
	}

	return errs
}

// Shutdown cancels active deployments and waits for them to stop
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	var pending []*execution
	m.executions.Range(func(key, value interface{}) bool {
		exec := value.(*execution)
		exec.cancel()
		pending = append(pending, exec)
		return true
	})

	for _, exec := range pending {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout: %w", ctx.Err())
		}
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

func (m *Manager) newEvent(id string, eventType domain.EventType, data map[string]interface{}) domain.DeploymentEvent {
	return domain.DeploymentEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		DeploymentID: id,
		Timestamp:    time.Now(),
		Data:         data,
	}
}

// publish sends a lifecycle event to observers. Failures are logged only.
func (m *Manager) publish(ctx context.Context, event domain.DeploymentEvent) {
	if err := m.eventBus.Publish(ctx, domain.TopicDeploymentEvents, event); err != nil {
		m.logger.Error("failed to publish deployment event",
			zap.String("deployment_id", event.DeploymentID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// save persists progress. Failures are logged only; the in-memory record
// stays authoritative for the running deployment.
func (m *Manager) save(ctx context.Context, d *domain.Deployment) {
	if err := m.store.SaveDeployment(ctx, d); err != nil {
		m.logger.Error("failed to save deployment",
			zap.String("deployment_id", d.ID),
			zap.String("status", string(d.Status)),
			zap.Error(err))
	}
}
