package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/runner"
	"github.com/aescanero/runnerd/internal/application/txpipeline"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// ServiceDeployer compiles and registers services.
type ServiceDeployer interface {
	Compile(ctx context.Context, source string, build domain.BuildContext) (*domain.ServiceDefinition, error)
	Create(ctx context.Context, s *txpipeline.AccountSession, def *domain.ServiceDefinition) (*domain.Service, error)
}

// RunnerStarter starts runners.
type RunnerStarter interface {
	Start(ctx context.Context, s *txpipeline.AccountSession, serviceHash string, env []string) (*domain.RunnerInfo, error)
}

// Request carries the inputs shared by every node of one resolution.
type Request struct {
	// Env is the environment the root nodes inherit.
	Env   []string
	Build domain.BuildContext
	// OnResolved, if set, is called after each node in traversal order.
	OnResolved func(domain.ResolvedNode)
}

// Resolution lists what a resolution did, in traversal order. It is
// returned alongside an error too, describing what was done before it.
type Resolution struct {
	Nodes    []domain.ResolvedNode
	Services []string
	Runners  []domain.RunnerInfo
}

// Root returns the node resolution started from. Dependencies come first,
// so it is the last one resolved.
func (r *Resolution) Root() (domain.ResolvedNode, bool) {
	if r == nil || len(r.Nodes) == 0 {
		return domain.ResolvedNode{}, false
	}
	return r.Nodes[len(r.Nodes)-1], true
}

// ProcessResolution is a resolved process ready to be created.
type ProcessResolution struct {
	Resolution
	Request domain.ProcessRequest
}

// Resolver deploys definition trees.
type Resolver struct {
	services  ServiceDeployer
	runners   RunnerStarter
	validator *Validator
	metrics   ports.MetricsCollector
	logger    *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(
	services ServiceDeployer,
	runners RunnerStarter,
	validator *Validator,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		services:  services,
		runners:   runners,
		validator: validator,
		metrics:   metrics,
		logger:    logger,
	}
}

type frame struct {
	node *domain.DefinitionNode
	path string
	env  []string
	// expanded is set once the dependencies of node are on the stack.
	expanded bool
}

// Resolve validates the tree under node, then deploys it. path names node in
// results and errors.
func (r *Resolver) Resolve(ctx context.Context, s *txpipeline.AccountSession, node *domain.DefinitionNode, path string, req Request) (*Resolution, error) {
	if err := r.validator.Validate(node, path); err != nil {
		return &Resolution{}, err
	}
	env, err := runner.MergeEnv(nil, req.Env)
	if err != nil {
		return &Resolution{}, err
	}

	res := &Resolution{}
	err = r.walk(ctx, s, frame{node: node, path: path, env: env}, req, res)
	return res, err
}

// ResolveProcess validates every node of def, then resolves them in order
// and builds the process request. req.Env overrides def.Env.
func (r *Resolver) ResolveProcess(ctx context.Context, s *txpipeline.AccountSession, def *domain.ProcessDefinition, req Request) (*ProcessResolution, error) {
	out := &ProcessResolution{}
	if err := r.validator.ValidateProcess(def); err != nil {
		return out, err
	}
	env, err := runner.MergeEnv(def.Env, req.Env)
	if err != nil {
		return out, &domain.ValidationError{Path: "env", Reason: reason(err)}
	}

	out.Request = domain.ProcessRequest{Name: def.Name, Edges: def.Edges}
	if out.Request.Edges == nil {
		out.Request.Edges = []domain.Edge{}
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]

		err := r.walk(ctx, s, frame{node: &node.DefinitionNode, path: nodePath(i), env: env}, req, &out.Resolution)
		if err != nil {
			return out, err
		}

		root, _ := out.Root()
		out.Request.Nodes = append(out.Request.Nodes, domain.ProcessStep{
			Key:          node.Key,
			Type:         node.Type,
			InstanceHash: root.InstanceHash,
			TaskKey:      node.TaskKey,
			EventKey:     node.EventKey,
		})
	}

	r.logger.Info("process resolved",
		zap.String("name", def.Name),
		zap.Int("nodes", len(out.Nodes)),
		zap.Int("runners", len(out.Runners)))

	return out, nil
}

// walk resolves the tree under start depth-first with an explicit stack.
// A node is deployed only after all of its dependencies, in declaration
// order. The tree must already be validated.
func (r *Resolver) walk(ctx context.Context, s *txpipeline.AccountSession, start frame, req Request, res *Resolution) error {
	stack := []frame{start}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := ctx.Err(); err != nil {
			return &domain.NodeError{Path: f.path, Err: err}
		}

		if !f.expanded {
			if f.node.InstanceHash == "" {
				merged, err := runner.MergeEnv(f.env, f.node.Instance.Env)
				if err != nil {
					return &domain.NodeError{Path: f.path, Err: err}
				}
				f.env = merged
			}
			f.expanded = true
			stack = append(stack, f)
			for i := len(f.node.Dependencies) - 1; i >= 0; i-- {
				stack = append(stack, frame{
					node: f.node.Dependencies[i],
					path: childPath(f.path, i),
					env:  f.env,
				})
			}
			continue
		}

		resolved, err := r.resolveNode(ctx, s, f, f.env, req.Build, res)
		if err != nil {
			return &domain.NodeError{Path: f.path, Err: err}
		}
		res.Nodes = append(res.Nodes, resolved)
		if req.OnResolved != nil {
			req.OnResolved(resolved)
		}
	}
	return nil
}

func (r *Resolver) resolveNode(ctx context.Context, s *txpipeline.AccountSession, f frame, env []string, build domain.BuildContext, res *Resolution) (domain.ResolvedNode, error) {
	node := domain.ResolvedNode{Path: f.path, Key: f.node.Key}

	if f.node.InstanceHash != "" {
		node.InstanceHash = f.node.InstanceHash
		r.metrics.RecordNodeResolved("reference")
		r.logger.Debug("node references existing instance",
			zap.String("path", f.path),
			zap.String("instance_hash", node.InstanceHash))
		return node, nil
	}

	def, err := r.services.Compile(ctx, f.node.Instance.Src, build)
	if err != nil {
		return node, fmt.Errorf("failed to compile %s: %w", f.node.Instance.Src, err)
	}

	service, err := r.services.Create(ctx, s, def)
	if err != nil {
		return node, err
	}
	res.Services = append(res.Services, service.Hash)

	info, err := r.runners.Start(ctx, s, service.Hash, env)
	if err != nil {
		return node, err
	}
	res.Runners = append(res.Runners, *info)

	node.ServiceHash = service.Hash
	node.RunnerHash = info.Hash
	node.InstanceHash = info.InstanceHash
	node.Deployed = true

	r.metrics.RecordNodeResolved("deployed")
	r.logger.Info("node deployed",
		zap.String("path", f.path),
		zap.String("service_hash", service.Hash),
		zap.String("runner_hash", info.Hash),
		zap.String("instance_hash", info.InstanceHash))

	return node, nil
}
