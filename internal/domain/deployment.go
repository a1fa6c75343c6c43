package domain

import "time"

// DeploymentStatus represents the lifecycle of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusSubmitted DeploymentStatus = "submitted"
	DeploymentStatusRunning   DeploymentStatus = "running"
	DeploymentStatusCompleted DeploymentStatus = "completed"
	DeploymentStatusFailed    DeploymentStatus = "failed"
	DeploymentStatusTornDown  DeploymentStatus = "torn_down"
)

// Terminal reports whether no more work will be done for the deployment.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentStatusCompleted || s == DeploymentStatusFailed || s == DeploymentStatusTornDown
}

// ResolvedNode is the outcome of resolving one definition node.
type ResolvedNode struct {
	Path         string `json:"path"`
	Key          string `json:"key,omitempty"`
	InstanceHash string `json:"instanceHash"`
	ServiceHash  string `json:"serviceHash,omitempty"`
	RunnerHash   string `json:"runnerHash,omitempty"`
	// Deployed is false when the node referenced an existing instance.
	Deployed bool `json:"deployed"`
}

// Deployment tracks one top-level deployment and every entity it created,
// so that a caller can compensate after a failure or interrupt.
type Deployment struct {
	ID          string             `json:"id"`
	Status      DeploymentStatus   `json:"status"`
	Owner       string             `json:"owner,omitempty"`
	Definition  *ProcessDefinition `json:"definition"`
	Env         []string           `json:"env,omitempty"`
	BuildDir    string             `json:"buildDir,omitempty"`
	Nodes       []ResolvedNode     `json:"nodes,omitempty"`
	Services    []string           `json:"services,omitempty"`
	Runners     []RunnerInfo       `json:"runners,omitempty"`
	ProcessHash string             `json:"processHash,omitempty"`
	Error       string             `json:"error,omitempty"`
	SubmittedAt time.Time          `json:"submittedAt"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}

// EventType identifies a deployment lifecycle event.
type EventType string

const (
	EventTypeDeploymentSubmitted EventType = "deployment.submitted"
	EventTypeDeploymentStarted   EventType = "deployment.started"
	EventTypeDeploymentCompleted EventType = "deployment.completed"
	EventTypeDeploymentFailed    EventType = "deployment.failed"
	EventTypeDeploymentTornDown  EventType = "deployment.torn_down"
	EventTypeServiceCreated      EventType = "service.created"
	EventTypeServiceRemoved      EventType = "service.removed"
	EventTypeRunnerStarted       EventType = "runner.started"
	EventTypeRunnerStopped       EventType = "runner.stopped"
	EventTypeProcessCreated      EventType = "process.created"
	EventTypeProcessRemoved      EventType = "process.removed"
)

// Event bus topics.
const (
	// TopicDeploymentQueue carries submitted deployments to the workers.
	TopicDeploymentQueue = "deployments.queue"
	// TopicDeploymentEvents carries lifecycle events for observers.
	TopicDeploymentEvents = "deployments.events"
)

// DeploymentEvent is published on the event bus.
type DeploymentEvent struct {
	ID           string                 `json:"id"`
	Type         EventType              `json:"type"`
	DeploymentID string                 `json:"deployment_id"`
	Timestamp    time.Time              `json:"timestamp"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// Clone returns a copy that shares no slices with d. The definition is
// treated as immutable and shared.
func (d *Deployment) Clone() *Deployment {
	c := *d
	c.Env = append([]string(nil), d.Env...)
	c.Nodes = append([]ResolvedNode(nil), d.Nodes...)
	c.Services = append([]string(nil), d.Services...)
	c.Runners = append([]RunnerInfo(nil), d.Runners...)
	if d.StartedAt != nil {
		t := *d.StartedAt
		c.StartedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
