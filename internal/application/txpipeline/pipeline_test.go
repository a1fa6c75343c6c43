package txpipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
	"github.com/aescanero/runnerd/pkg/adapters/keyring"
	"github.com/aescanero/runnerd/pkg/adapters/ledger/memory"
)

const (
	testMnemonic  = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	otherMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"
)

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *memory.InMemoryLedger) {
	t.Helper()
	kr, err := keyring.New("mesgtest", keyring.DefaultPath)
	require.NoError(t, err)
	ledger := memory.NewInMemoryLedger("mesg-test", "mesgtest")
	return NewPipeline(ledger, kr, cfg, ports.NopMetrics{}, zap.NewNop()), ledger
}

func createServiceMsg(owner string) []domain.Msg {
	return []domain.Msg{{
		Type: domain.MsgTypeCreateService,
		Value: domain.CreateServiceMsg{
			Owner:   owner,
			Request: domain.ServiceDefinition{Sid: "echo", Name: "echo", Source: "QmSource"},
		},
	}}
}

func TestCreateTransactionDoesNotAdvanceSequence(t *testing.T) {
	p, _ := newTestPipeline(t, Config{GasPerMsg: 100000, GasAdjustment: 1.5, GasPrice: 0.25, FeeDenom: "atto"})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	tx, err := p.CreateTransaction(createServiceMsg(s.Address()), s)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), tx.Sequence)
	assert.Equal(t, uint64(0), s.Sequence())
	assert.Equal(t, "mesg-test", tx.ChainID)
	assert.Equal(t, "150000", tx.Fee.Gas)
	require.Len(t, tx.Fee.Amount, 1)
	assert.Equal(t, domain.Coin{Denom: "atto", Amount: "37500"}, tx.Fee.Amount[0])

	_, err = p.CreateTransaction(nil, s)
	assert.Error(t, err)
}

func TestSubmitAdvancesSequenceAndFindsHash(t *testing.T) {
	p, ledger := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	result, err := p.Submit(ctx, s, createServiceMsg(s.Address()), domain.CommitmentBlock)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Sequence())

	hash, err := SingleHash(result, domain.ModuleService, domain.ActionCreateService)
	require.NoError(t, err)

	srv, err := ledger.GetService(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), srv.Owner)

	// Second transaction must carry the next sequence to verify.
	_, err = p.Submit(ctx, s, []domain.Msg{{
		Type:  domain.MsgTypeDeleteService,
		Value: domain.DeleteMsg{Owner: s.Address(), Hash: hash},
	}}, domain.CommitmentBlock)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Sequence())

	_, err = ledger.GetService(ctx, hash)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignedTxBroadcastOnce(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	tx, err := p.CreateTransaction(createServiceMsg(s.Address()), s)
	require.NoError(t, err)
	signed, err := p.Sign(tx, testMnemonic)
	require.NoError(t, err)

	_, err = p.Broadcast(ctx, s, signed, domain.CommitmentSync)
	require.NoError(t, err)

	_, err = p.Broadcast(ctx, s, signed, domain.CommitmentSync)
	var seqErr *SequenceError
	assert.ErrorAs(t, err, &seqErr)
	assert.Equal(t, uint64(1), s.Sequence())
}

func TestStaleTransactionIsRefused(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	first, err := p.CreateTransaction(createServiceMsg(s.Address()), s)
	require.NoError(t, err)
	second, err := p.CreateTransaction(createServiceMsg(s.Address()), s)
	require.NoError(t, err)
	assert.Equal(t, first.Sequence, second.Sequence)

	signedFirst, err := p.Sign(first, testMnemonic)
	require.NoError(t, err)
	signedSecond, err := p.Sign(second, testMnemonic)
	require.NoError(t, err)

	_, err = p.Broadcast(ctx, s, signedFirst, domain.CommitmentSync)
	require.NoError(t, err)

	_, err = p.Broadcast(ctx, s, signedSecond, domain.CommitmentSync)
	var seqErr *SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, uint64(1), seqErr.Expected)
	assert.Equal(t, uint64(0), seqErr.Got)
}

func TestSignRejectsForeignMnemonic(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	tx, err := p.CreateTransaction(createServiceMsg(s.Address()), s)
	require.NoError(t, err)

	_, err = p.Sign(tx, otherMnemonic)
	var sigErr *domain.SignatureError
	assert.ErrorAs(t, err, &sigErr)
}

func TestSignIsDeterministic(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	tx, err := p.CreateTransaction(createServiceMsg(s.Address()), s)
	require.NoError(t, err)

	a, err := p.Sign(tx, testMnemonic)
	require.NoError(t, err)
	b, err := p.Sign(tx, testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, a.Tx.Signatures[0].Signature, b.Tx.Signatures[0].Signature)
}

func TestBroadcastFailureKeepsSequence(t *testing.T) {
	p, ledger := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	tx, err := p.CreateTransaction(createServiceMsg(s.Address()), s)
	require.NoError(t, err)
	signed, err := p.Sign(tx, testMnemonic)
	require.NoError(t, err)

	ledger.FailNextBroadcast(&domain.NetworkError{Op: "broadcast", Err: errors.New("connection reset")})

	_, err = p.Broadcast(ctx, s, signed, domain.CommitmentSync)
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, uint64(0), s.Sequence())

	_, err = p.Broadcast(ctx, s, signed, domain.CommitmentSync)
	assert.ErrorIs(t, err, ErrAlreadyBroadcast)

	// The same sequence is still usable with a freshly signed tx.
	_, err = p.Submit(ctx, s, createServiceMsg(s.Address()), domain.CommitmentSync)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Sequence())
}

func TestRejectedTxCarriesLedgerCode(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	_, err = p.Submit(ctx, s, []domain.Msg{{
		Type:  domain.MsgTypeDeleteRunner,
		Value: domain.DeleteMsg{Owner: s.Address(), Hash: "missing"},
	}}, domain.CommitmentBlock)

	var rejected *domain.RejectedTxError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, memory.CodeNotFound, rejected.Code)
	assert.True(t, domain.IsRejected(err))
	assert.True(t, rejected.Included())
}

func TestIncludedRejectionSpendsSequence(t *testing.T) {
	p, ledger := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	_, err = p.Submit(ctx, s, []domain.Msg{{
		Type:  domain.MsgTypeDeleteService,
		Value: domain.DeleteMsg{Owner: s.Address(), Hash: "missing"},
	}}, domain.CommitmentBlock)
	var rejected *domain.RejectedTxError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, int64(1), rejected.Height)
	assert.Equal(t, uint64(1), s.Sequence())

	acc, err := ledger.Account(ctx, s.Address())
	require.NoError(t, err)
	assert.Equal(t, acc.Sequence, s.Sequence())

	// No resync needed: the next tx verifies against the ledger's sequence.
	_, err = p.Submit(ctx, s, createServiceMsg(s.Address()), domain.CommitmentBlock)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Sequence())
}

// heightlessRejection refuses every tx before inclusion.
type heightlessRejection struct {
	*memory.InMemoryLedger
}

func (l heightlessRejection) Broadcast(ctx context.Context, tx domain.StdTx, mode domain.Commitment) (*domain.TxResult, error) {
	return nil, &domain.RejectedTxError{Code: memory.CodeUnauthorized, Codespace: "sdk", Log: "insufficient fee"}
}

func TestCheckRejectionKeepsSequence(t *testing.T) {
	ledger := heightlessRejection{memory.NewInMemoryLedger("mesg-test", "mesgtest")}
	p := NewPipeline(ledger, mustKeyring(t), Config{}, ports.NopMetrics{}, zap.NewNop())
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	_, err = p.Submit(ctx, s, createServiceMsg(s.Address()), domain.CommitmentBlock)
	require.True(t, domain.IsRejected(err))
	assert.Equal(t, uint64(0), s.Sequence())
}

func TestSyncBroadcastHasNoEvents(t *testing.T) {
	p, ledger := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	result, err := p.Submit(ctx, s, createServiceMsg(s.Address()), domain.CommitmentSync)
	require.NoError(t, err)
	assert.Equal(t, "0", result.Height)
	assert.Empty(t, result.Events)
	assert.Equal(t, uint64(1), s.Sequence())
	assert.Equal(t, 1, ledger.Broadcasts())

	_, err = SingleHash(result, domain.ModuleService, domain.ActionCreateService)
	var amb *domain.AmbiguousResultError
	require.ErrorAs(t, err, &amb)
}

func TestResyncReloadsSequence(t *testing.T) {
	p, ledger := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	defer s.Close()

	// Another client advances the account behind the session's back.
	other := NewPipeline(ledger, mustKeyring(t), Config{}, ports.NopMetrics{}, zap.NewNop())
	s2, err := other.Open(ctx, testMnemonic)
	require.NoError(t, err)
	_, err = other.Submit(ctx, s2, createServiceMsg(s2.Address()), domain.CommitmentSync)
	require.NoError(t, err)
	s2.Close()

	_, err = p.Submit(ctx, s, createServiceMsg(s.Address()), domain.CommitmentSync)
	require.True(t, domain.IsRejected(err))
	assert.Equal(t, uint64(0), s.Sequence())

	require.NoError(t, p.Resync(ctx, s))
	assert.Equal(t, uint64(1), s.Sequence())

	_, err = p.Submit(ctx, s, createServiceMsg(s.Address()), domain.CommitmentSync)
	require.NoError(t, err)
}

func mustKeyring(t *testing.T) *keyring.Keyring {
	t.Helper()
	kr, err := keyring.New("mesgtest", keyring.DefaultPath)
	require.NoError(t, err)
	return kr
}

func TestOpenSerializesSameAddress(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Open(waitCtx, testMnemonic)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A different account is not blocked.
	other, err := p.Open(ctx, otherMnemonic)
	require.NoError(t, err)
	other.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	opened := make(chan *AccountSession, 1)
	go func() {
		defer wg.Done()
		next, err := p.Open(ctx, testMnemonic)
		if err == nil {
			opened <- next
		}
	}()

	s.Close()
	wg.Wait()
	next := <-opened
	next.Close()
}

func TestClosedSessionRefusesWork(t *testing.T) {
	p, _ := newTestPipeline(t, Config{})
	ctx := context.Background()

	s, err := p.Open(ctx, testMnemonic)
	require.NoError(t, err)
	s.Close()
	s.Close()

	_, err = p.CreateTransaction(createServiceMsg(s.Address()), s)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestFindHashOrderAndAmbiguity(t *testing.T) {
	ev := func(module, action, hash string) domain.Event {
		return domain.Event{Type: "message", Attributes: []domain.Attribute{
			{Key: "module", Value: module},
			{Key: "action", Value: action},
			{Key: "hash", Value: hash},
		}}
	}
	result := &domain.TxResult{TxHash: "ABC", Events: []domain.Event{
		ev("service", "CreateService", "h1"),
		ev("process", "CreateProcess", "p1"),
		ev("service", "CreateService", "h2"),
	}}

	assert.Equal(t, []string{"h1", "h2"}, FindHash(result, "service", "CreateService"))
	assert.Equal(t, []string{"p1"}, FindHash(result, "process", "CreateProcess"))
	assert.Empty(t, FindHash(result, "runner", "DeleteRunner"))
	assert.Nil(t, FindHash(nil, "service", "CreateService"))

	_, err := SingleHash(result, "service", "CreateService")
	var amb *domain.AmbiguousResultError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, 2, amb.Count)

	_, err = SingleHash(result, "runner", "DeleteRunner")
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, 0, amb.Count)
}
