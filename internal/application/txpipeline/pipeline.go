package txpipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
	"github.com/aescanero/runnerd/internal/signing"
)

// PubKeyType is the amino type of secp256k1 public keys.
const PubKeyType = "tendermint/PubKeySecp256k1"

// ErrAlreadyBroadcast is returned when a signed transaction is broadcast twice.
var ErrAlreadyBroadcast = errors.New("transaction was already broadcast")

// Config holds fee and chain settings for built transactions.
type Config struct {
	// ChainID overrides the chain id reported by the node when set.
	ChainID string
	// GasPerMsg is the gas budgeted for each message before adjustment.
	GasPerMsg     uint64
	GasAdjustment float64
	GasPrice      float64
	FeeDenom      string
	Memo          string
	// BlockTimeout bounds broadcasts that wait for block inclusion.
	BlockTimeout time.Duration
}

// UnsignedTx is a transaction with its sequence and fee attached.
type UnsignedTx struct {
	Msgs          []domain.Msg
	Fee           domain.Fee
	Memo          string
	ChainID       string
	AccountNumber uint64
	Sequence      uint64
	Signer        string
}

// SignBytes returns the canonical bytes covered by the signature.
func (tx *UnsignedTx) SignBytes() ([]byte, error) {
	return signing.SignBytes(tx.ChainID, tx.AccountNumber, tx.Sequence, tx.Fee, tx.Msgs, tx.Memo)
}

// SignedTx is ready for broadcast.
type SignedTx struct {
	UnsignedTx
	Tx domain.StdTx

	broadcast atomic.Bool
}

// Pipeline turns messages into broadcast transactions.
type Pipeline struct {
	ledger  ports.Ledger
	keyring ports.Keyring
	metrics ports.MetricsCollector
	logger  *zap.Logger
	cfg     Config
	locks   *accountLocks
}

// NewPipeline creates a transaction pipeline.
func NewPipeline(ledger ports.Ledger, keyring ports.Keyring, cfg Config, metrics ports.MetricsCollector, logger *zap.Logger) *Pipeline {
	if cfg.GasAdjustment <= 0 {
		cfg.GasAdjustment = 1
	}
	if cfg.GasPerMsg == 0 {
		cfg.GasPerMsg = 200000
	}
	return &Pipeline{
		ledger:  ledger,
		keyring: keyring,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		locks:   newAccountLocks(),
	}
}

// Open derives the account for mnemonic, waits for exclusive use of its
// address and loads its ledger state. The caller must Close the session.
func (p *Pipeline) Open(ctx context.Context, mnemonic string) (*AccountSession, error) {
	account, err := p.keyring.Derive(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to import account: %w", err)
	}

	release, err := p.locks.acquire(ctx, account.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %s: %w", account.Address, err)
	}

	session := &AccountSession{
		Account:  account,
		mnemonic: mnemonic,
		release:  release,
	}
	if err := p.load(ctx, session); err != nil {
		session.Close()
		return nil, err
	}

	p.logger.Debug("account session opened",
		zap.String("address", account.Address),
		zap.Uint64("account_number", session.AccountNumber),
		zap.Uint64("sequence", session.sequence))

	return session, nil
}

// Resync reloads the sequence number from the ledger, e.g. after a
// transport failure left the outcome of a broadcast unknown.
func (p *Pipeline) Resync(ctx context.Context, s *AccountSession) error {
	info, err := p.ledger.Account(ctx, s.Address())
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", s.Address(), err)
	}
	s.resync(info.Sequence)
	return nil
}

func (p *Pipeline) load(ctx context.Context, s *AccountSession) error {
	info, err := p.ledger.Account(ctx, s.Address())
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", s.Address(), err)
	}
	s.AccountNumber = info.AccountNumber
	s.sequence = info.Sequence

	s.ChainID = p.cfg.ChainID
	if s.ChainID == "" {
		chainID, err := p.ledger.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to get chain id: %w", err)
		}
		s.ChainID = chainID
	}
	return nil
}

// CreateTransaction attaches the session's next sequence and an estimated
// fee to msgs. The session is not modified.
func (p *Pipeline) CreateTransaction(msgs []domain.Msg, s *AccountSession) (*UnsignedTx, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("transaction needs at least one message")
	}
	if err := s.check(s.Sequence()); err != nil {
		return nil, err
	}

	tx := &UnsignedTx{
		Msgs:          msgs,
		Fee:           p.estimateFee(len(msgs)),
		Memo:          p.cfg.Memo,
		ChainID:       s.ChainID,
		AccountNumber: s.AccountNumber,
		Sequence:      s.Sequence(),
		Signer:        s.Address(),
	}

	p.logger.Debug("transaction created",
		zap.String("signer", tx.Signer),
		zap.Uint64("sequence", tx.Sequence),
		zap.Int("msgs", len(msgs)),
		zap.String("gas", tx.Fee.Gas))

	return tx, nil
}

func (p *Pipeline) estimateFee(msgCount int) domain.Fee {
	gas := uint64(math.Ceil(float64(p.cfg.GasPerMsg*uint64(msgCount)) * p.cfg.GasAdjustment))
	fee := domain.Fee{
		Amount: []domain.Coin{},
		Gas:    strconv.FormatUint(gas, 10),
	}
	if p.cfg.GasPrice > 0 && p.cfg.FeeDenom != "" {
		amount := uint64(math.Ceil(float64(gas) * p.cfg.GasPrice))
		fee.Amount = append(fee.Amount, domain.Coin{
			Denom:  p.cfg.FeeDenom,
			Amount: strconv.FormatUint(amount, 10),
		})
	}
	return fee
}

// Sign signs tx with the key derived from mnemonic, which must belong to
// the transaction's signer.
func (p *Pipeline) Sign(tx *UnsignedTx, mnemonic string) (*SignedTx, error) {
	account, err := p.keyring.Derive(mnemonic)
	if err != nil {
		return nil, &domain.SignatureError{Reason: "cannot derive signing key", Err: err}
	}
	if account.Address != tx.Signer {
		return nil, &domain.SignatureError{Reason: fmt.Sprintf("mnemonic belongs to %s, transaction signer is %s", account.Address, tx.Signer)}
	}

	signBytes, err := tx.SignBytes()
	if err != nil {
		return nil, &domain.SignatureError{Reason: "cannot build sign bytes", Err: err}
	}
	sig, err := signing.Sign(account.PrivateKey, signing.Digest(signBytes))
	if err != nil {
		return nil, err
	}

	return &SignedTx{
		UnsignedTx: *tx,
		Tx: domain.StdTx{
			Msgs: tx.Msgs,
			Fee:  tx.Fee,
			Signatures: []domain.StdSignature{{
				PubKey:    domain.PubKey{Type: PubKeyType, Value: account.PublicKey},
				Signature: sig,
			}},
			Memo: tx.Memo,
		},
	}, nil
}

// Broadcast submits tx. With CommitmentBlock the call blocks until the tx is
// committed or BlockTimeout expires. The session sequence advances when the
// ledger accepted the tx, and also when it rejected a tx that was already
// included in a block, since inclusion spends the sequence.
func (p *Pipeline) Broadcast(ctx context.Context, s *AccountSession, tx *SignedTx, mode domain.Commitment) (*domain.TxResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown commitment level %q", mode)
	}
	if tx.Signer != s.Address() {
		return nil, fmt.Errorf("transaction signer %s does not own session %s", tx.Signer, s.Address())
	}
	if err := s.check(tx.Sequence); err != nil {
		return nil, err
	}
	if !tx.broadcast.CompareAndSwap(false, true) {
		return nil, ErrAlreadyBroadcast
	}

	if mode == domain.CommitmentBlock && p.cfg.BlockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.BlockTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := p.ledger.Broadcast(ctx, tx.Tx, mode)
	duration := time.Since(start)
	if err != nil {
		p.metrics.RecordBroadcast(string(mode), "failed", duration)
		p.logger.Error("transaction broadcast failed",
			zap.String("signer", tx.Signer),
			zap.Uint64("sequence", tx.Sequence),
			zap.String("mode", string(mode)),
			zap.Error(err))

		var rejected *domain.RejectedTxError
		if errors.As(err, &rejected) && rejected.Included() {
			if advErr := s.advance(tx.Sequence); advErr != nil {
				return nil, advErr
			}
		}
		return nil, err
	}

	if err := s.advance(tx.Sequence); err != nil {
		return nil, err
	}
	p.metrics.RecordBroadcast(string(mode), "accepted", duration)
	p.logger.Info("transaction broadcast",
		zap.String("signer", tx.Signer),
		zap.Uint64("sequence", tx.Sequence),
		zap.String("mode", string(mode)),
		zap.String("tx_hash", result.TxHash),
		zap.Duration("duration", duration))

	return result, nil
}

// Submit creates, signs and broadcasts msgs in one step.
func (p *Pipeline) Submit(ctx context.Context, s *AccountSession, msgs []domain.Msg, mode domain.Commitment) (*domain.TxResult, error) {
	tx, err := p.CreateTransaction(msgs, s)
	if err != nil {
		return nil, err
	}
	signed, err := p.Sign(tx, s.mnemonic)
	if err != nil {
		return nil, err
	}
	return p.Broadcast(ctx, s, signed, mode)
}

// FindHash returns, in emission order, the hash attribute of every event
// tagged with module and action.
func FindHash(result *domain.TxResult, module, action string) []string {
	if result == nil {
		return nil
	}
	var hashes []string
	for _, event := range result.Events {
		if event.Module() != module || event.Action() != action {
			continue
		}
		if hash, ok := event.Attr("hash"); ok {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// SingleHash returns the only hash FindHash reports, or an
// AmbiguousResultError when there is not exactly one.
func SingleHash(result *domain.TxResult, module, action string) (string, error) {
	hashes := FindHash(result, module, action)
	if len(hashes) != 1 {
		txHash := ""
		if result != nil {
			txHash = result.TxHash
		}
		return "", &domain.AmbiguousResultError{Module: module, Action: action, Count: len(hashes), TxHash: txHash}
	}
	return hashes[0], nil
}
