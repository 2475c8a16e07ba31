package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"
	"ledger-mirror/pkg/apperror"
	"ledger-mirror/pkg/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const journalWriteTimeout = 5 * time.Second

// Refresher re-reads the ledger once a write has landed.
type Refresher interface {
	Refresh(ctx context.Context) (SnapshotReport, error)
}

// TxControllerOptions configures a TxController.
type TxControllerOptions struct {
	Configured         bool // ledger metadata is present
	BroadcastViaWallet bool // wallet signs and broadcasts in one call
	ReceiptTimeout     time.Duration
}

// TxController drives user writes through signing, broadcast and
// confirmation. Validation runs synchronously before anything touches the
// network; the rest runs in the background and is observable through the
// store.
type TxController struct {
	gateway   ports.LedgerGateway
	wallet    ports.Wallet
	store     *Store
	refresher Refresher
	journal   ports.TxJournal // optional
	opts      TxControllerOptions
	log       zerolog.Logger

	mu      sync.Mutex
	account *common.Address

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewTxController creates a controller. journal may be nil.
func NewTxController(
	gateway ports.LedgerGateway,
	wallet ports.Wallet,
	store *Store,
	refresher Refresher,
	journal ports.TxJournal,
	opts TxControllerOptions,
	log zerolog.Logger,
) *TxController {
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TxController{
		gateway:   gateway,
		wallet:    wallet,
		store:     store,
		refresher: refresher,
		journal:   journal,
		opts:      opts,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Close cancels every in-flight transaction and waits for them to settle.
// Transactions waiting for confirmation end INCONCLUSIVE.
func (c *TxController) Close() {
	c.cancel()
	c.wg.Wait()
}

// ==================== Wallet ====================

// Connect requests account access from the wallet and remembers the account.
func (c *TxController) Connect(ctx context.Context) (common.Address, error) {
	if !c.opts.Configured {
		return common.Address{}, apperror.ErrNotConfigured(ports.ErrNotConfigured)
	}

	addr, err := c.wallet.RequestAccount(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Wallet connection failed")
		return common.Address{}, walletError(err)
	}

	c.mu.Lock()
	c.account = &addr
	c.mu.Unlock()

	c.log.Info().Str("account", addr.Hex()).Msg("Wallet connected")
	return addr, nil
}

// Account returns the connected account, or nil.
func (c *TxController) Account() *common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account == nil {
		return nil
	}
	addr := *c.account
	return &addr
}

// walletError classifies a wallet failure.
func walletError(err error) *apperror.AppError {
	var rejected *ports.RejectedError
	switch {
	case errors.As(err, &rejected):
		return apperror.ErrSignatureRejected(rejected)
	case errors.Is(err, ports.ErrNotConfigured):
		return apperror.ErrNotConfigured(err)
	default:
		return apperror.ErrWalletUnavailable(err)
	}
}

// ==================== Submission ====================

// SubmitAppend validates an append and starts its lifecycle. Validation
// failures are returned before any network call.
func (c *TxController) SubmitAppend(text string, amount *uint256.Int) (domain.PendingTransaction, error) {
	account, err := c.precheck()
	if err != nil {
		return domain.PendingTransaction{}, err
	}
	if text == "" {
		return domain.PendingTransaction{}, apperror.ErrEmptyText()
	}
	if domain.TextLength(text) > domain.MaxTextLength {
		return domain.PendingTransaction{}, apperror.ErrTextTooLong(domain.MaxTextLength)
	}
	if amount == nil || amount.IsZero() {
		return domain.PendingTransaction{}, apperror.ErrInvalidAmount()
	}

	return c.start(domain.PendingTransaction{
		ClientID: uuid.NewString(),
		Kind:     domain.TxKindAppend,
		From:     account,
		Payload:  domain.TxPayload{Text: text, Amount: amount.Clone()},
		State:    domain.TxStateSigning,
	})
}

// SubmitWithdraw validates a withdrawal and starts its lifecycle. Only the
// ledger owner may withdraw.
func (c *TxController) SubmitWithdraw() (domain.PendingTransaction, error) {
	account, err := c.precheck()
	if err != nil {
		return domain.PendingTransaction{}, err
	}
	if c.store.Summary().Owner != account {
		return domain.PendingTransaction{}, apperror.ErrNotOwner()
	}

	return c.start(domain.PendingTransaction{
		ClientID: uuid.NewString(),
		Kind:     domain.TxKindWithdraw,
		From:     account,
		State:    domain.TxStateSigning,
	})
}

func (c *TxController) precheck() (common.Address, error) {
	if !c.opts.Configured {
		return common.Address{}, apperror.ErrNotConfigured(ports.ErrNotConfigured)
	}
	account := c.Account()
	if account == nil {
		return common.Address{}, apperror.ErrWalletNotConnected()
	}
	return *account, nil
}

func (c *TxController) start(tx domain.PendingTransaction) (domain.PendingTransaction, error) {
	if err := c.store.UpsertPending(tx); err != nil {
		return domain.PendingTransaction{}, err
	}
	stored, _ := c.store.PendingByID(tx.ClientID)

	c.log.Info().
		Str("client_id", tx.ClientID).
		Str("kind", string(tx.Kind)).
		Str("from", tx.From.Hex()).
		Msg("Transaction submitted")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(stored)
	}()
	return stored, nil
}

// ==================== Lifecycle ====================

func (c *TxController) run(tx domain.PendingTransaction) {
	call := ports.CallDescriptor{Kind: tx.Kind, From: tx.From}
	if tx.Kind == domain.TxKindAppend {
		call.Text = tx.Payload.Text
		call.Value = tx.Payload.Amount
	}

	hash, ok := c.sign(&tx, call)
	if !ok {
		return
	}

	tx.State = domain.TxStatePendingConfirmation
	tx.TxHash = &hash
	if !c.advance(tx) {
		return
	}

	broadcastAt := c.now()
	wctx, cancel := context.WithTimeout(c.ctx, c.opts.ReceiptTimeout)
	receipt, err := c.gateway.WaitForReceipt(wctx, hash)
	cancel()

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		c.inconclusive(tx, err)
	case err != nil:
		c.fail(tx, apperror.ErrConfirmationFailed(err), 0)
	case receipt.Status != ports.ReceiptStatusSuccess:
		metrics.ConfirmLatency.WithLabelValues(string(tx.Kind)).Observe(c.now().Sub(broadcastAt).Seconds())
		c.fail(tx, apperror.ErrReverted(hash.Hex()), receipt.BlockHeight)
	default:
		metrics.ConfirmLatency.WithLabelValues(string(tx.Kind)).Observe(c.now().Sub(broadcastAt).Seconds())
		c.confirm(tx, receipt.BlockHeight)
	}
}

// sign obtains a broadcast transaction hash, either from the wallet directly
// or by signing and broadcasting through the gateway. When the wallet
// broadcasts, the signing and broadcast steps happen inside one wallet call,
// so BROADCASTING is recorded together with the hash it returns.
func (c *TxController) sign(tx *domain.PendingTransaction, call ports.CallDescriptor) (common.Hash, bool) {
	if c.opts.BroadcastViaWallet {
		hash, err := c.wallet.SignAndSend(c.ctx, call)
		if err != nil {
			if c.ctx.Err() != nil {
				// The wallet may have sent it before we stopped listening.
				c.inconclusive(*tx, err)
				return common.Hash{}, false
			}
			c.fail(*tx, walletError(err), 0)
			return common.Hash{}, false
		}
		tx.State = domain.TxStateBroadcasting
		tx.TxHash = &hash
		if !c.advance(*tx) {
			return common.Hash{}, false
		}
		return hash, true
	}

	signed, err := c.wallet.Sign(c.ctx, call)
	if err != nil {
		c.fail(*tx, walletError(err), 0)
		return common.Hash{}, false
	}

	tx.State = domain.TxStateBroadcasting
	if !c.advance(*tx) {
		return common.Hash{}, false
	}

	hash, err := c.gateway.Broadcast(c.ctx, signed)
	if err != nil {
		if errors.Is(err, ports.ErrNotConfigured) {
			c.fail(*tx, apperror.ErrNotConfigured(err), 0)
		} else {
			c.fail(*tx, apperror.ErrBroadcastRejected(err), 0)
		}
		return common.Hash{}, false
	}
	return hash, true
}

// advance records a non-terminal transition.
func (c *TxController) advance(tx domain.PendingTransaction) bool {
	if err := c.store.UpsertPending(tx); err != nil {
		c.log.Error().Err(err).Str("client_id", tx.ClientID).Str("state", string(tx.State)).Msg("Failed to record transaction state")
		return false
	}
	c.log.Debug().Str("client_id", tx.ClientID).Str("state", string(tx.State)).Msg("Transaction advanced")
	return true
}

func (c *TxController) resolve(tx domain.PendingTransaction, outcome Outcome) {
	if err := c.store.ResolvePending(tx.ClientID, outcome); err != nil {
		c.log.Error().Err(err).Str("client_id", tx.ClientID).Msg("Failed to resolve transaction")
		return
	}
	metrics.TxOutcomes.WithLabelValues(string(tx.Kind), string(outcome.State)).Inc()
}

func (c *TxController) confirm(tx domain.PendingTransaction, height uint64) {
	c.resolve(tx, Outcome{State: domain.TxStateConfirmed, BlockHeight: height})
	c.log.Info().
		Str("client_id", tx.ClientID).
		Str("tx_hash", tx.TxHash.Hex()).
		Uint64("block", height).
		Msg("Transaction confirmed")

	if _, err := c.refresher.Refresh(c.ctx); err != nil {
		c.log.Warn().Err(err).Str("client_id", tx.ClientID).Msg("Refresh after confirmation failed")
	}
}

func (c *TxController) fail(tx domain.PendingTransaction, appErr *apperror.AppError, height uint64) {
	c.resolve(tx, Outcome{State: domain.TxStateFailed, Err: appErr.Message, BlockHeight: height})
	c.log.Warn().Err(appErr).Str("client_id", tx.ClientID).Str("kind", string(tx.Kind)).Msg("Transaction failed")
}

// inconclusive ends a transaction whose outcome was not observed and
// journals it for a later re-check.
func (c *TxController) inconclusive(tx domain.PendingTransaction, cause error) {
	hash := ""
	if tx.TxHash != nil {
		hash = tx.TxHash.Hex()
	}
	appErr := apperror.ErrConfirmationInconclusive(hash, cause)
	c.resolve(tx, Outcome{State: domain.TxStateInconclusive, Err: appErr.Message})
	c.log.Warn().Err(cause).Str("client_id", tx.ClientID).Str("tx_hash", hash).Msg("Transaction outcome inconclusive")

	if c.journal == nil || tx.TxHash == nil {
		return
	}
	tx.State = domain.TxStateInconclusive
	tx.Error = appErr.Message
	tx.UpdatedAt = c.now()
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := c.journal.Record(ctx, tx); err != nil {
		c.log.Error().Err(err).Str("client_id", tx.ClientID).Msg("Failed to journal inconclusive transaction")
	}
}

// ResumeInconclusive re-checks journaled transactions and settles the ones
// whose receipt is now available. Returns how many were settled.
func (c *TxController) ResumeInconclusive(ctx context.Context) (int, error) {
	if c.journal == nil {
		return 0, nil
	}
	txs, err := c.journal.List(ctx)
	if err != nil {
		return 0, err
	}

	settled, confirmed := 0, false
	for _, tx := range txs {
		if tx.TxHash == nil {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
		receipt, err := c.gateway.WaitForReceipt(wctx, *tx.TxHash)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return settled, ctx.Err()
			}
			c.log.Info().Err(err).Str("client_id", tx.ClientID).Msg("Journaled transaction still inconclusive")
			continue
		}

		outcome := Outcome{State: domain.TxStateConfirmed, BlockHeight: receipt.BlockHeight}
		if receipt.Status != ports.ReceiptStatusSuccess {
			outcome.State = domain.TxStateFailed
			outcome.Err = apperror.ErrReverted(tx.TxHash.Hex()).Message
		}
		c.settle(tx, outcome)
		if err := c.journal.Remove(ctx, tx.ClientID); err != nil {
			c.log.Warn().Err(err).Str("client_id", tx.ClientID).Msg("Failed to remove settled transaction from journal")
		}
		settled++
		confirmed = confirmed || outcome.State == domain.TxStateConfirmed
	}

	if confirmed {
		if _, err := c.refresher.Refresh(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Refresh after settling journaled transactions failed")
		}
	}
	return settled, nil
}

// settle records the late outcome of a journaled transaction, whether or
// not this process still tracks it.
func (c *TxController) settle(tx domain.PendingTransaction, outcome Outcome) {
	if _, tracked := c.store.PendingByID(tx.ClientID); tracked {
		c.resolve(tx, outcome)
	} else {
		tx.State = outcome.State
		tx.Error = outcome.Err
		tx.BlockHeight = outcome.BlockHeight
		if err := c.store.UpsertPending(tx); err != nil {
			c.log.Warn().Err(err).Str("client_id", tx.ClientID).Msg("Failed to record settled transaction")
			return
		}
		metrics.TxOutcomes.WithLabelValues(string(tx.Kind), string(outcome.State)).Inc()
	}
	c.log.Info().
		Str("client_id", tx.ClientID).
		Str("state", string(outcome.State)).
		Msg("Journaled transaction settled")
}
