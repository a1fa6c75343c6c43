package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/application/txpipeline"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
	"github.com/aescanero/runnerd/pkg/adapters/keyring"
	ledgermem "github.com/aescanero/runnerd/pkg/adapters/ledger/memory"
	providermem "github.com/aescanero/runnerd/pkg/adapters/provider/memory"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestHashIsDeterministicAndOrderIndependent(t *testing.T) {
	a, err := Hash("mesgtest1abc", "svc", []string{"A=1", "B=2"})
	require.NoError(t, err)
	b, err := Hash("mesgtest1abc", "svc", []string{"B=2", "A=1"})
	require.NoError(t, err)
	c, err := Hash("mesgtest1abc", "svc", []string{"B=2", "A=1"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, b, c)
	assert.NotEmpty(t, a.EnvHash)
	assert.NotEqual(t, a.RunnerHash, a.InstanceHash)
}

func TestHashReportsWhichInputIsInvalid(t *testing.T) {
	cases := map[string]struct {
		address, service string
		env              []string
	}{
		"address":     {"", "svc", nil},
		"serviceHash": {"addr", " ", nil},
		"env":         {"addr", "svc", []string{"NOVALUE"}},
	}
	for path, tc := range cases {
		t.Run(path, func(t *testing.T) {
			_, err := Hash(tc.address, tc.service, tc.env)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, path, ve.Path)
		})
	}
}

func TestHashIsSensitiveToEveryInput(t *testing.T) {
	base, err := Hash("addr1", "svc", []string{"A=1"})
	require.NoError(t, err)

	otherAddr, err := Hash("addr2", "svc", []string{"A=1"})
	require.NoError(t, err)
	assert.NotEqual(t, base.RunnerHash, otherAddr.RunnerHash)
	assert.Equal(t, base.InstanceHash, otherAddr.InstanceHash)

	otherSvc, err := Hash("addr1", "svc2", []string{"A=1"})
	require.NoError(t, err)
	assert.NotEqual(t, base.InstanceHash, otherSvc.InstanceHash)
	assert.Equal(t, base.EnvHash, otherSvc.EnvHash)

	otherEnv, err := Hash("addr1", "svc", []string{"A=2"})
	require.NoError(t, err)
	assert.NotEqual(t, base.EnvHash, otherEnv.EnvHash)
	assert.NotEqual(t, base.RunnerHash, otherEnv.RunnerHash)
}

func TestEnvHashIsByteExactAndKeepsLastDuplicate(t *testing.T) {
	composed, err := EnvHash([]string{"NAME=\u00e9"})
	require.NoError(t, err)
	decomposed, err := EnvHash([]string{"NAME=e\u0301"})
	require.NoError(t, err)
	assert.NotEqual(t, composed, decomposed)

	env, err := ParseEnv([]string{"NAME=e\u0301"})
	require.NoError(t, err)
	assert.Equal(t, "e\u0301", env["NAME"])

	dup, err := EnvHash([]string{"A=1", "A=2"})
	require.NoError(t, err)
	last, err := EnvHash([]string{"A=2"})
	require.NoError(t, err)
	assert.Equal(t, last, dup)

	empty, err := EnvHash(nil)
	require.NoError(t, err)
	emptySlice, err := EnvHash([]string{})
	require.NoError(t, err)
	assert.Equal(t, empty, emptySlice)
}

func TestParseEnv(t *testing.T) {
	env, err := ParseEnv([]string{"URL=postgres://u:p@h/db?sslmode=disable", "EMPTY="})
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h/db?sslmode=disable", env["URL"])
	assert.Equal(t, "", env["EMPTY"])

	_, err = ParseEnv([]string{"NOEQUALS"})
	assert.True(t, domain.IsValidationError(err))

	_, err = ParseEnv([]string{"=value"})
	assert.True(t, domain.IsValidationError(err))
}

func TestMergeEnvChildWins(t *testing.T) {
	merged, err := MergeEnv([]string{"A=parent", "B=parent"}, []string{"B=child", "C=child"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A=parent", "B=child", "C=child"}, merged)
}

func TestTokenIntegrity(t *testing.T) {
	acc := testAccount(t)

	token, err := IssueToken(acc, "svc", "env")
	require.NoError(t, err)
	require.NoError(t, VerifyToken(token, acc.PublicKey))

	encoded, err := EncodeToken(token)
	require.NoError(t, err)
	assert.Regexp(t, `^\{"signature":"[^"]+","value":\{"serviceHash":"svc","envHash":"env"\}\}$`, encoded)

	decoded, err := DecodeToken(encoded)
	require.NoError(t, err)
	require.NoError(t, VerifyToken(decoded, acc.PublicKey))

	tampered := decoded
	tampered.Value.ServiceHash = "svc2"
	var sigErr *domain.SignatureError
	assert.ErrorAs(t, VerifyToken(tampered, acc.PublicKey), &sigErr)

	tampered = decoded
	tampered.Signature = "not base64!"
	assert.ErrorAs(t, VerifyToken(tampered, acc.PublicKey), &sigErr)

	_, err = DecodeToken("{")
	assert.ErrorAs(t, err, &sigErr)
}

func testAccount(t *testing.T) *domain.Account {
	t.Helper()
	kr, err := keyring.New("mesgtest", keyring.DefaultPath)
	require.NoError(t, err)
	acc, err := kr.Derive(testMnemonic)
	require.NoError(t, err)
	return acc
}

type fixture struct {
	ledger   *ledgermem.InMemoryLedger
	provider *providermem.InMemoryProvider
	pipeline *txpipeline.Pipeline
	manager  *Manager
	session  *txpipeline.AccountSession
	service  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kr, err := keyring.New("mesgtest", keyring.DefaultPath)
	require.NoError(t, err)

	ledger := ledgermem.NewInMemoryLedger("mesg-test", "mesgtest")
	provider := providermem.NewInMemoryProvider(ledger)
	pipeline := txpipeline.NewPipeline(ledger, kr, txpipeline.Config{BlockTimeout: time.Second}, ports.NopMetrics{}, zap.NewNop())
	manager := NewManager(ledger, provider, pipeline, ports.NopMetrics{}, zap.NewNop())

	ctx := context.Background()
	session, err := pipeline.Open(ctx, testMnemonic)
	require.NoError(t, err)
	t.Cleanup(session.Close)

	result, err := pipeline.Submit(ctx, session, []domain.Msg{{
		Type: domain.MsgTypeCreateService,
		Value: domain.CreateServiceMsg{
			Owner:   session.Address(),
			Request: domain.ServiceDefinition{Sid: "echo", Name: "echo", Source: "QmEcho"},
		},
	}}, domain.CommitmentBlock)
	require.NoError(t, err)
	service, err := txpipeline.SingleHash(result, domain.ModuleService, domain.ActionCreateService)
	require.NoError(t, err)

	return &fixture{
		ledger:   ledger,
		provider: provider,
		pipeline: pipeline,
		manager:  manager,
		session:  session,
		service:  service,
	}
}

func TestStartPassesIdentityAndToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.manager.Start(ctx, f.session, f.service, []string{"B=2", "A=1"})
	require.NoError(t, err)

	id, err := Hash(f.session.Address(), f.service, []string{"A=1", "B=2"})
	require.NoError(t, err)
	assert.Equal(t, id.RunnerHash, info.Hash)
	assert.Equal(t, id.InstanceHash, info.InstanceHash)

	req, ok := f.provider.Running(info.Hash)
	require.True(t, ok)
	assert.Equal(t, []string{"A=1", "B=2"}, req.Env)
	assert.Equal(t, f.service, req.Service.Hash)

	token, err := DecodeToken(req.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenValue{ServiceHash: f.service, EnvHash: id.EnvHash}, token.Value)
	assert.NoError(t, VerifyToken(token, f.session.Account.PublicKey))
}

func TestStartPassesEnvValuesUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := []string{"NAME=e\u0301"}
	info, err := f.manager.Start(ctx, f.session, f.service, env)
	require.NoError(t, err)

	req, ok := f.provider.Running(info.Hash)
	require.True(t, ok)
	assert.Equal(t, env, req.Env)

	// The composed spelling is a different environment, hence another runner.
	other, err := f.manager.Start(ctx, f.session, f.service, []string{"NAME=\u00e9"})
	require.NoError(t, err)
	assert.NotEqual(t, info.Hash, other.Hash)
	assert.Equal(t, 2, f.provider.Starts())
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Start(ctx, f.session, f.service, []string{"A=1"})
	require.NoError(t, err)
	second, err := f.manager.Start(ctx, f.session, f.service, []string{"A=1"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.provider.Starts())
}

func TestStartUnknownService(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Start(context.Background(), f.session, "missing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, f.provider.Starts())
}

func TestStartProviderFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.Refuse(true)
	_, err := f.manager.Start(ctx, f.session, f.service, nil)
	var provErr *domain.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "start", provErr.Op)
	assert.False(t, provErr.Inconsistent)

	f.provider.Refuse(false)
	f.provider.FailStart(errors.New("docker unavailable"))
	_, err = f.manager.Start(ctx, f.session, f.service, nil)
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, err.Error(), "docker unavailable")
}

func TestStopDeletesThenTearsDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.manager.Start(ctx, f.session, f.service, []string{"A=1"})
	require.NoError(t, err)
	seq := f.session.Sequence()

	require.NoError(t, f.manager.Stop(ctx, f.session, info.Hash))
	assert.Equal(t, seq+1, f.session.Sequence())

	_, err = f.ledger.GetRunner(ctx, info.Hash)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, running := f.provider.Running(info.Hash)
	assert.False(t, running)

	// Stopping again fails on the ledger before reaching the provider.
	err = f.manager.Stop(ctx, f.session, info.Hash)
	assert.True(t, domain.IsRejected(err))
	assert.Equal(t, 1, f.provider.Stops())
}

func TestStopReportsInconsistencyWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.manager.Start(ctx, f.session, f.service, nil)
	require.NoError(t, err)

	f.provider.FailStop(errors.New("container stuck"))
	err = f.manager.Stop(ctx, f.session, info.Hash)

	var provErr *domain.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.True(t, provErr.Inconsistent)
	assert.Equal(t, info.Hash, provErr.RunnerHash)

	_, err = f.ledger.GetRunner(ctx, info.Hash)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
