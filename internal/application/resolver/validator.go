package resolver

import (
	"fmt"
	"strings"

	"github.com/aescanero/runnerd/internal/application/runner"
	"github.com/aescanero/runnerd/internal/domain"
)

// DefaultMaxDepth bounds dependency nesting when no limit is configured.
const DefaultMaxDepth = 16

// Process node types.
const (
	NodeTypeEvent  = "event"
	NodeTypeTask   = "task"
	NodeTypeResult = "result"
)

// Validator checks definition trees before anything is deployed.
type Validator struct {
	maxDepth int
}

// NewValidator creates a validator. maxDepth <= 0 selects DefaultMaxDepth.
func NewValidator(maxDepth int) *Validator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Validator{maxDepth: maxDepth}
}

type validationFrame struct {
	node      *domain.DefinitionNode
	path      string
	depth     int
	ancestors []*domain.DefinitionNode
}

// Validate checks node and all its dependencies.
func (v *Validator) Validate(node *domain.DefinitionNode, path string) error {
	stack := []validationFrame{{node: node, path: path}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := v.validateNode(f); err != nil {
			return err
		}

		ancestors := append(append([]*domain.DefinitionNode(nil), f.ancestors...), f.node)
		for i := len(f.node.Dependencies) - 1; i >= 0; i-- {
			stack = append(stack, validationFrame{
				node:      f.node.Dependencies[i],
				path:      childPath(f.path, i),
				depth:     f.depth + 1,
				ancestors: ancestors,
			})
		}
	}
	return nil
}

func (v *Validator) validateNode(f validationFrame) error {
	fail := func(format string, args ...any) error {
		return &domain.ValidationError{Path: f.path, Reason: fmt.Sprintf(format, args...)}
	}

	if f.node == nil {
		return fail("node is empty")
	}
	if f.depth > v.maxDepth {
		return fail("dependencies nested deeper than %d levels", v.maxDepth)
	}
	for _, a := range f.ancestors {
		if a == f.node {
			return fail("node depends on itself")
		}
	}

	if f.node.InstanceHash == "" && f.node.Instance == nil {
		return fail(`"instanceHash" or "instance" is required`)
	}
	// instanceHash takes precedence, the inline instance is ignored.
	if f.node.InstanceHash != "" {
		return nil
	}
	if strings.TrimSpace(f.node.Instance.Src) == "" {
		return fail("instance src is required")
	}
	if _, err := runner.ParseEnv(f.node.Instance.Env); err != nil {
		return fail("%s", reason(err))
	}
	return nil
}

// ValidateProcess checks a process definition and every node tree in it.
func (v *Validator) ValidateProcess(def *domain.ProcessDefinition) error {
	if def == nil {
		return &domain.ValidationError{Reason: "process definition is empty"}
	}
	if strings.TrimSpace(def.Name) == "" {
		return &domain.ValidationError{Path: "name", Reason: "process name is required"}
	}
	if len(def.Nodes) == 0 {
		return &domain.ValidationError{Path: "nodes", Reason: "process must have at least one node"}
	}
	if _, err := runner.ParseEnv(def.Env); err != nil {
		return &domain.ValidationError{Path: "env", Reason: reason(err)}
	}

	keys := make(map[string]bool, len(def.Nodes))
	for i := range def.Nodes {
		node := &def.Nodes[i]
		path := nodePath(i)

		if node.Key == "" {
			return &domain.ValidationError{Path: path, Reason: "node key is required"}
		}
		if keys[node.Key] {
			return &domain.ValidationError{Path: path, Reason: fmt.Sprintf("duplicate node key %q", node.Key)}
		}
		keys[node.Key] = true

		switch node.Type {
		case NodeTypeTask, NodeTypeResult:
			if node.TaskKey == "" {
				return &domain.ValidationError{Path: path, Reason: fmt.Sprintf("%s node requires taskKey", node.Type)}
			}
		case NodeTypeEvent:
			if node.EventKey == "" {
				return &domain.ValidationError{Path: path, Reason: "event node requires eventKey"}
			}
		default:
			return &domain.ValidationError{Path: path, Reason: fmt.Sprintf("unknown node type %q", node.Type)}
		}

		if err := v.Validate(&node.DefinitionNode, path); err != nil {
			return err
		}
	}

	for i, edge := range def.Edges {
		if !keys[edge.Src] {
			return &domain.ValidationError{Path: fmt.Sprintf("edges[%d]", i), Reason: fmt.Sprintf("unknown source node %q", edge.Src)}
		}
		if !keys[edge.Dst] {
			return &domain.ValidationError{Path: fmt.Sprintf("edges[%d]", i), Reason: fmt.Sprintf("unknown target node %q", edge.Dst)}
		}
	}
	return nil
}

func reason(err error) string {
	if ve, ok := err.(*domain.ValidationError); ok {
		return ve.Reason
	}
	return err.Error()
}

func nodePath(i int) string {
	return fmt.Sprintf("nodes[%d]", i)
}

func childPath(parent string, i int) string {
	if parent == "" {
		return fmt.Sprintf("dependencies[%d]", i)
	}
	return fmt.Sprintf("%s.dependencies[%d]", parent, i)
}
