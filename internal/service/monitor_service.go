package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodial-wallet-pool/internal/core/domain"
	"custodial-wallet-pool/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// MonitorOptions tunes the watcher cadence and matching.
type MonitorOptions struct {
	PollInterval     time.Duration
	MaxAttempts      int
	Tolerance        decimal.Decimal
	ErrorThreshold   int
	DegradedInterval time.Duration
}

func (o *MonitorOptions) normalize() {
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.ErrorThreshold < 1 {
		o.ErrorThreshold = 1
	}
	if o.DegradedInterval <= 0 {
		o.DegradedInterval = 4 * o.PollInterval
	}
}

// ChainMonitor supervises one polling goroutine per active payment session.
// Watchers own no state the store does not: every terminal write is a
// conditional transition, so duplicate watchers and restarts commute and the
// completion callback fires exactly once per session.
type ChainMonitor struct {
	walletRepo  ports.WalletPoolRepository
	sessionRepo ports.PaymentSessionRepository
	chain       ports.ChainClient
	onComplete  ports.CompletionFunc
	opts        MonitorOptions
	breaker     *gobreaker.CircuitBreaker
	log         zerolog.Logger

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	wg       sync.WaitGroup
	root     context.Context
	cancel   context.CancelFunc
}

// NewChainMonitor creates the session watcher supervisor. onComplete may be
// nil when no callback is registered.
func NewChainMonitor(
	walletRepo ports.WalletPoolRepository,
	sessionRepo ports.PaymentSessionRepository,
	chain ports.ChainClient,
	onComplete ports.CompletionFunc,
	opts MonitorOptions,
	log zerolog.Logger,
) *ChainMonitor {
	opts.normalize()
	root, cancel := context.WithCancel(context.Background())

	m := &ChainMonitor{
		walletRepo:  walletRepo,
		sessionRepo: sessionRepo,
		chain:       chain,
		onComplete:  onComplete,
		opts:        opts,
		log:         log,
		watchers:    make(map[string]context.CancelFunc),
		root:        root,
		cancel:      cancel,
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "chain-gateway",
		Timeout: opts.DegradedInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(opts.ErrorThreshold)*3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("chain gateway breaker state change")
		},
	})
	return m
}

// Watch starts a watcher for the session unless one is already running.
func (m *ChainMonitor) Watch(session *domain.PaymentSession, wallet *domain.WalletPoolEntry) {
	m.mu.Lock()
	if _, exists := m.watchers[session.SessionID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.root)
	m.watchers[session.SessionID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, *session, *wallet)
}

// Resume restarts watchers for every session still pending in the store, so
// a redeploy does not drop in-flight monitoring.
func (m *ChainMonitor) Resume(ctx context.Context) error {
	sessions, err := m.sessionRepo.ListByStatus(ctx, domain.SessionStatusPending)
	if err != nil {
		return fmt.Errorf("list pending sessions: %w", err)
	}

	resumed := 0
	for i := range sessions {
		session := sessions[i]
		wallet, err := m.walletRepo.GetByID(ctx, session.WalletID)
		if err != nil || wallet == nil {
			m.log.Warn().
				Err(err).
				Str("session_id", session.SessionID).
				Str("wallet_id", session.WalletID.String()).
				Msg("cannot resume watcher, wallet lookup failed")
			continue
		}
		m.Watch(&session, wallet)
		resumed++
	}

	m.log.Info().Int("resumed", resumed).Msg("pending session watchers resumed")
	return nil
}

// Stop cancels all watchers and blocks until they exit.
func (m *ChainMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// ActiveWatchers reports the number of running watchers.
func (m *ChainMonitor) ActiveWatchers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *ChainMonitor) remove(sessionID string) {
	m.mu.Lock()
	if cancel, ok := m.watchers[sessionID]; ok {
		cancel()
		delete(m.watchers, sessionID)
	}
	m.mu.Unlock()
}

// run is the per-session polling loop. The wallet's balance at claim time is
// the baseline; funding is the balance delta against it. The baseline comes
// from the immutable assignment-time snapshot, never from the refreshed
// last-known balance, so resumed watchers judge partial payments correctly.
func (m *ChainMonitor) run(ctx context.Context, session domain.PaymentSession, wallet domain.WalletPoolEntry) {
	defer m.wg.Done()
	defer m.remove(session.SessionID)

	log := m.log.With().
		Str("session_id", session.SessionID).
		Str("address", wallet.Address).
		Logger()

	baseline := wallet.BaselineBalance
	interval := m.opts.PollInterval
	consecutiveErrs := 0

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			log.Debug().Msg("watcher cancelled")
			return
		case <-timer.C:
		}

		// Another actor (recovery, a duplicate watcher before a restart) may
		// have finished this session; the store is the arbiter.
		if current, err := m.sessionRepo.GetBySessionID(ctx, session.SessionID); err == nil && current != nil && current.IsTerminal() {
			log.Debug().Str("status", string(current.Status)).Msg("session already terminal, watcher exiting")
			return
		}

		lastAttempt := attempt >= m.opts.MaxAttempts || time.Now().After(session.ExpiresAt)

		balance, err := m.pollBalance(ctx, wallet.Address)
		if err != nil {
			consecutiveErrs++
			if consecutiveErrs >= m.opts.ErrorThreshold && interval != m.opts.DegradedInterval {
				interval = m.opts.DegradedInterval
				log.Warn().
					Int("consecutive_errors", consecutiveErrs).
					Dur("interval", interval).
					Msg("chain polling degraded")
			}
			log.Debug().Err(err).Int("attempt", attempt).Msg("balance poll failed")
		} else {
			if consecutiveErrs > 0 {
				log.Info().Msg("chain polling recovered")
			}
			consecutiveErrs = 0
			interval = m.opts.PollInterval

			if err := m.walletRepo.UpdateBalance(ctx, wallet.ID, balance); err != nil {
				log.Debug().Err(err).Msg("balance cache update failed")
			}

			delta := balance.Sub(baseline)
			if session.Matches(delta, m.opts.Tolerance) {
				m.confirm(ctx, session, wallet, log)
				return
			}
		}

		if lastAttempt {
			m.expire(ctx, session, wallet, log)
			return
		}
		timer.Reset(interval)
	}
}

func (m *ChainMonitor) pollBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	v, err := m.breaker.Execute(func() (interface{}, error) {
		return m.chain.AddressBalance(ctx, address)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// terminalWriteAttempts bounds retries of the conditional session write when
// the store errors transiently; giving up leaves the session pending with no
// watcher until the next Resume.
const terminalWriteAttempts = 3

func (m *ChainMonitor) writeTerminal(fn func() (bool, error)) (bool, error) {
	var won bool
	var err error
	for attempt := 0; attempt < terminalWriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(m.opts.PollInterval)
		}
		won, err = fn()
		if err == nil {
			return won, nil
		}
	}
	return false, err
}

// confirm publishes the confirmed outcome. The conditional MarkConfirmed is
// the exactly-once gate: only the writer that wins it fires the callback.
func (m *ChainMonitor) confirm(ctx context.Context, session domain.PaymentSession, wallet domain.WalletPoolEntry, log zerolog.Logger) {
	// Terminal writes survive a concurrent Stop.
	ctx = context.WithoutCancel(ctx)

	txHash := m.findTxHash(ctx, session, wallet.Address)

	won, err := m.writeTerminal(func() (bool, error) {
		return m.sessionRepo.MarkConfirmed(ctx, session.SessionID, txHash, time.Now().UTC())
	})
	if err != nil {
		log.Error().Err(err).Msg("confirm write failed after retries, watcher exiting without callback")
		return
	}

	if moved, err := m.walletRepo.TransitionStatus(ctx, wallet.ID, domain.WalletStatusAssigned, domain.WalletStatusFunded); err != nil {
		log.Error().Err(err).Msg("wallet funded transition failed")
	} else if !moved {
		log.Debug().Msg("wallet already left assigned")
	}

	if !won {
		log.Debug().Msg("session already confirmed elsewhere")
		return
	}

	log.Info().Str("tx_hash", txHash).Msg("payment confirmed")
	m.notify(ports.PaymentOutcome{
		SessionID: session.SessionID,
		Status:    domain.SessionStatusConfirmed,
		Address:   wallet.Address,
		Amount:    session.ExpectedAmount,
		Token:     session.Token,
		TxHash:    optionalHash(txHash),
	})
}

// expire publishes the expired outcome when the deadline passes unfunded.
func (m *ChainMonitor) expire(ctx context.Context, session domain.PaymentSession, wallet domain.WalletPoolEntry, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)

	won, err := m.writeTerminal(func() (bool, error) {
		return m.sessionRepo.TransitionStatus(ctx, session.SessionID, domain.SessionStatusPending, domain.SessionStatusExpired)
	})
	if err != nil {
		log.Error().Err(err).Msg("expire write failed after retries, watcher exiting without callback")
		return
	}

	if _, err := m.walletRepo.TransitionStatus(ctx, wallet.ID, domain.WalletStatusAssigned, domain.WalletStatusExpired); err != nil {
		log.Error().Err(err).Msg("wallet expired transition failed")
	}

	if !won {
		log.Debug().Msg("session already terminal, no expiry published")
		return
	}

	log.Info().Time("expires_at", session.ExpiresAt).Msg("payment window expired")
	m.notify(ports.PaymentOutcome{
		SessionID: session.SessionID,
		Status:    domain.SessionStatusExpired,
		Address:   wallet.Address,
		Amount:    session.ExpectedAmount,
		Token:     session.Token,
	})
}

// findTxHash picks the hash of the newest transaction at or above the
// tolerance-adjusted expected amount, falling back to the newest one. Best
// effort: an empty hash never blocks confirmation.
func (m *ChainMonitor) findTxHash(ctx context.Context, session domain.PaymentSession, address string) string {
	txs, err := m.chain.AddressTransactions(ctx, address)
	if err != nil || len(txs) == 0 {
		return ""
	}

	// Transactions come newest first; the first qualifying one wins.
	floor := session.ExpectedAmount.Sub(m.opts.Tolerance)
	for _, tx := range txs {
		if tx.Amount.GreaterThanOrEqual(floor) {
			return tx.Hash
		}
	}
	return txs[0].Hash
}

func (m *ChainMonitor) notify(outcome ports.PaymentOutcome) {
	if m.onComplete != nil {
		m.onComplete(outcome)
	}
}

func optionalHash(txHash string) *string {
	if txHash == "" {
		return nil
	}
	return &txHash
}
