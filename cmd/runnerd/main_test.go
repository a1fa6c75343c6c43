package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/orchestrator"
	"github.com/aescanero/runnerd/internal/application/runner"
	"github.com/aescanero/runnerd/internal/domain"
)

const processYAML = `name: forward
env:
  - MODE=file
nodes:
  - key: trigger
    type: event
    eventKey: request
    instance:
      src: ./webhook
  - key: send
    type: task
    taskKey: send
    instanceHash: 4mkJ2
    dependencies:
      - instance:
          src: ./smtp
          env: [PORT=25]
edges:
  - src: trigger
    dst: send
`

func TestLoadProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.yml")
	require.NoError(t, os.WriteFile(path, []byte(processYAML), 0o600))

	def, err := loadProcess(path)
	require.NoError(t, err)

	assert.Equal(t, "forward", def.Name)
	require.Len(t, def.Nodes, 2)
	assert.Equal(t, "trigger", def.Nodes[0].Key)
	assert.Equal(t, "./webhook", def.Nodes[0].Instance.Src)
	assert.Equal(t, "4mkJ2", def.Nodes[1].InstanceHash)
	require.Len(t, def.Nodes[1].Dependencies, 1)
	assert.Equal(t, []string{"PORT=25"}, def.Nodes[1].Dependencies[0].Instance.Env)
	assert.Equal(t, []domain.Edge{{Src: "trigger", Dst: "send"}}, def.Edges)
}

func TestLoadProcessRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nsteps: []\n"), 0o600))

	_, err := loadProcess(path)
	assert.Error(t, err)
}

func TestHashCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"hash", "svc", "--address", "mesgtest1xyz", "--env", "B=2", "--env", "A=1"})
	require.NoError(t, cmd.Execute())

	var got domain.RunnerIdentity
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	want, err := runner.Hash("mesgtest1xyz", "svc", []string{"A=1", "B=2"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

type fakeDeployer struct {
	execErr   error
	executed  bool
	tornDown  bool
	teardownE error
}

func (f *fakeDeployer) SubmitDeployment(ctx context.Context, req *orchestrator.SubmitRequest) (string, error) {
	return "dep", nil
}

func (f *fakeDeployer) Execute(ctx context.Context, id string) error {
	f.executed = true
	return f.execErr
}

func (f *fakeDeployer) GetStatus(ctx context.Context, id string) (*domain.Deployment, error) {
	status := domain.DeploymentStatusCompleted
	if f.execErr != nil {
		status = domain.DeploymentStatusFailed
	}
	return &domain.Deployment{ID: id, Status: status}, nil
}

func (f *fakeDeployer) Teardown(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.tornDown = true
	return f.teardownE
}

func TestDeployTearsDownOnInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeDeployer{}
	var out bytes.Buffer
	require.NoError(t, deploy(ctx, f, &orchestrator.SubmitRequest{}, false, &out, zap.NewNop()))

	assert.True(t, f.executed)
	assert.True(t, f.tornDown)
	assert.Contains(t, out.String(), `"status": "completed"`)
}

func TestDeployDetachSkipsTeardown(t *testing.T) {
	f := &fakeDeployer{}
	require.NoError(t, deploy(context.Background(), f, &orchestrator.SubmitRequest{}, true, &bytes.Buffer{}, zap.NewNop()))
	assert.False(t, f.tornDown)
}

func TestDeployCompensatesFailure(t *testing.T) {
	f := &fakeDeployer{execErr: errors.New("runner refused"), teardownE: errors.New("stop failed")}
	err := deploy(context.Background(), f, &orchestrator.SubmitRequest{}, true, &bytes.Buffer{}, zap.NewNop())

	require.Error(t, err)
	assert.True(t, f.tornDown)
	assert.ErrorContains(t, err, "runner refused")
	assert.ErrorContains(t, err, "stop failed")
}
