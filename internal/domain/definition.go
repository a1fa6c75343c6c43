package domain

// ServiceDefinition is the compiled descriptor of a service. Source is the
// content hash of the bundled service code in the artifact store.
type ServiceDefinition struct {
	Sid           string         `json:"sid"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Configuration Configuration  `json:"configuration"`
	Tasks         []Task         `json:"tasks,omitempty"`
	Events        []ServiceEvent `json:"events,omitempty"`
	Dependencies  []Dependency   `json:"dependencies,omitempty"`
	Repository    string         `json:"repository,omitempty"`
	Source        string         `json:"source"`
}

// Configuration describes how the service container runs.
type Configuration struct {
	Volumes     []string `json:"volumes,omitempty"`
	VolumesFrom []string `json:"volumesFrom,omitempty"`
	Ports       []string `json:"ports,omitempty"`
	Args        []string `json:"args,omitempty"`
	Command     string   `json:"command,omitempty"`
	Env         []string `json:"env,omitempty"`
}

// Dependency is a sidecar container the service needs.
type Dependency struct {
	Key   string `json:"key"`
	Image string `json:"image"`
	Configuration
}

// Parameter describes one input or output field of a task or event.
type Parameter struct {
	Key      string `json:"key"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
	Repeated bool   `json:"repeated,omitempty"`
}

// Task is a callable unit exposed by a service.
type Task struct {
	Key     string      `json:"key"`
	Name    string      `json:"name,omitempty"`
	Inputs  []Parameter `json:"inputs,omitempty"`
	Outputs []Parameter `json:"outputs,omitempty"`
}

// ServiceEvent is an event a service can emit.
type ServiceEvent struct {
	Key  string      `json:"key"`
	Name string      `json:"name,omitempty"`
	Data []Parameter `json:"data,omitempty"`
}

// BuildContext tells the compiler where relative sources live.
type BuildContext struct {
	Dir string
}

// InlineInstance is a service that must be deployed before it can be used.
type InlineInstance struct {
	Src string   `json:"src" yaml:"src"`
	Env []string `json:"env,omitempty" yaml:"env"`
}

// DefinitionNode references an instance either by hash or inline.
// Dependencies are resolved with the node's merged environment.
type DefinitionNode struct {
	Key          string            `json:"key,omitempty" yaml:"key"`
	InstanceHash string            `json:"instanceHash,omitempty" yaml:"instanceHash"`
	Instance     *InlineInstance   `json:"instance,omitempty" yaml:"instance"`
	Dependencies []*DefinitionNode `json:"dependencies,omitempty" yaml:"dependencies"`
}

// Resolved reports whether the node already points at a live instance.
func (n *DefinitionNode) Resolved() bool {
	return n.InstanceHash != ""
}

// ProcessNode is a step of a process definition.
type ProcessNode struct {
	DefinitionNode `yaml:",inline"`
	Type           string `json:"type" yaml:"type"`
	TaskKey        string `json:"taskKey,omitempty" yaml:"taskKey"`
	EventKey       string `json:"eventKey,omitempty" yaml:"eventKey"`
}

// Edge connects two process steps by key.
type Edge struct {
	Src string `json:"src" yaml:"src"`
	Dst string `json:"dst" yaml:"dst"`
}

// ProcessDefinition is the user-facing process file.
type ProcessDefinition struct {
	Name  string        `json:"name" yaml:"name"`
	Env   []string      `json:"env,omitempty" yaml:"env"`
	Nodes []ProcessNode `json:"nodes" yaml:"nodes"`
	Edges []Edge        `json:"edges,omitempty" yaml:"edges"`
}

// ProcessStep is the ledger form of a process node once its instance is known.
type ProcessStep struct {
	Key          string `json:"key"`
	Type         string `json:"type"`
	InstanceHash string `json:"instanceHash"`
	TaskKey      string `json:"taskKey,omitempty"`
	EventKey     string `json:"eventKey,omitempty"`
}
