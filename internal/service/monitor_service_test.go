package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"custodial-wallet-pool/internal/core/domain"
	"custodial-wallet-pool/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory stores with the same conditional-transition contract as the
// postgres repositories, so watcher races resolve the way they do in
// production.

type fakeWalletRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*domain.WalletPoolEntry
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{wallets: make(map[uuid.UUID]*domain.WalletPoolEntry)}
}

func (r *fakeWalletRepo) Create(_ context.Context, entry *domain.WalletPoolEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.wallets[entry.ID] = &cp
	return nil
}

func (r *fakeWalletRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WalletPoolEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[id]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeWalletRepo) GetBySessionID(_ context.Context, sessionID string) (*domain.WalletPoolEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.AssignedSessionID != nil && *w.AssignedSessionID == sessionID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeWalletRepo) ClaimAvailable(_ context.Context, _ pgx.Tx, sessionID string, at time.Time) (*domain.WalletPoolEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.Status == domain.WalletStatusAvailable {
			w.Status = domain.WalletStatusAssigned
			w.AssignedSessionID = &sessionID
			w.AssignedAt = &at
			w.BaselineBalance = w.LastKnownBalance
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeWalletRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to domain.WalletStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok || w.Status != from {
		return false, nil
	}
	w.Status = to
	return true, nil
}

func (r *fakeWalletRepo) UpdateBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[id]; ok {
		w.LastKnownBalance = balance
	}
	return nil
}

func (r *fakeWalletRepo) SetSweepTxHash(_ context.Context, id uuid.UUID, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[id]; ok {
		w.SweepTxHash = &txHash
	}
	return nil
}

func (r *fakeWalletRepo) StatusCounts(_ context.Context) (map[domain.WalletStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.WalletStatus]int64)
	for _, w := range r.wallets {
		counts[w.Status]++
	}
	return counts, nil
}

func (r *fakeWalletRepo) TotalBalance(_ context.Context) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, w := range r.wallets {
		if w.Status != domain.WalletStatusRetired {
			total = total.Add(w.LastKnownBalance)
		}
	}
	return total, nil
}

func (r *fakeWalletRepo) status(id uuid.UUID) domain.WalletStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wallets[id].Status
}

type fakeSessionRepo struct {
	mu                sync.Mutex
	sessions          map[string]*domain.PaymentSession
	markConfirmedErrs int // injected transient failures, consumed one per call
}

func (r *fakeSessionRepo) failMarkConfirmed(n int) {
	r.mu.Lock()
	r.markConfirmedErrs = n
	r.mu.Unlock()
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.PaymentSession)}
}

func (r *fakeSessionRepo) Create(_ context.Context, _ pgx.Tx, session *domain.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.SessionID]; exists {
		return errors.New("duplicate session")
	}
	cp := *session
	r.sessions[session.SessionID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetBySessionID(_ context.Context, sessionID string) (*domain.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeSessionRepo) TransitionStatus(_ context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (r *fakeSessionRepo) MarkConfirmed(_ context.Context, sessionID, txHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markConfirmedErrs > 0 {
		r.markConfirmedErrs--
		return false, errors.New("store temporarily unavailable")
	}
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != domain.SessionStatusPending {
		return false, nil
	}
	s.Status = domain.SessionStatusConfirmed
	if txHash != "" {
		s.TxHash = &txHash
	}
	s.ConfirmedAt = &at
	return true, nil
}

func (r *fakeSessionRepo) ListByStatus(_ context.Context, status domain.SessionStatus) ([]domain.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PaymentSession
	for _, s := range r.sessions {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) status(sessionID string) domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID].Status
}

// scriptedChain answers balance polls from a per-call script.
type scriptedChain struct {
	mu        sync.Mutex
	calls     int
	balanceFn func(call int) (decimal.Decimal, error)
	txs       []ports.ChainTransaction
}

func (c *scriptedChain) AddressBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()
	return c.balanceFn(call)
}

func (c *scriptedChain) AddressTransactions(_ context.Context, _ string) ([]ports.ChainTransaction, error) {
	return c.txs, nil
}

func (c *scriptedChain) BroadcastSweep(_ context.Context, _ ports.SweepRequest) (string, error) {
	return "", errors.New("not supported")
}

func (c *scriptedChain) TransactionConfirmed(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (c *scriptedChain) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []ports.PaymentOutcome
}

func (r *outcomeRecorder) record(o ports.PaymentOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder) all() []ports.PaymentOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.PaymentOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

func fastOptions() MonitorOptions {
	return MonitorOptions{
		PollInterval:     5 * time.Millisecond,
		MaxAttempts:      20,
		Tolerance:        decimal.RequireFromString("0.01"),
		ErrorThreshold:   2,
		DegradedInterval: 10 * time.Millisecond,
	}
}

func seedSession(t *testing.T, wallets *fakeWalletRepo, sessions *fakeSessionRepo, expected string, window time.Duration) (*domain.PaymentSession, *domain.WalletPoolEntry) {
	t.Helper()
	now := time.Now().UTC()
	sessionID := uuid.NewString()
	wallet := &domain.WalletPoolEntry{
		ID:                uuid.New(),
		Address:           "0x" + uuid.NewString()[:20],
		Status:            domain.WalletStatusAssigned,
		AssignedSessionID: &sessionID,
		AssignedAt:        &now,
		LastKnownBalance:  decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, wallets.Create(context.Background(), wallet))

	session := &domain.PaymentSession{
		SessionID:      sessionID,
		WalletID:       wallet.ID,
		ExpectedAmount: decimal.RequireFromString(expected),
		Token:          "USDT",
		Status:         domain.SessionStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(window),
	}
	require.NoError(t, sessions.Create(context.Background(), nil, session))
	return session, wallet
}

func TestChainMonitor_ConfirmsOnFunding(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) {
			return decimal.RequireFromString("100"), nil
		},
		txs: []ports.ChainTransaction{
			{Hash: "0xfund", Amount: decimal.RequireFromString("100"), Timestamp: time.Now()},
		},
	}
	rec := &outcomeRecorder{}

	m := NewChainMonitor(wallets, sessions, chain, rec.record, fastOptions(), zerolog.Nop())
	defer m.Stop()

	session, wallet := seedSession(t, wallets, sessions, "100", time.Minute)
	m.Watch(session, wallet)

	require.Eventually(t, func() bool {
		return sessions.status(session.SessionID) == domain.SessionStatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return m.ActiveWatchers() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.WalletStatusFunded, wallets.status(wallet.ID))
	outcomes := rec.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.SessionStatusConfirmed, outcomes[0].Status)
	require.NotNil(t, outcomes[0].TxHash)
	assert.Equal(t, "0xfund", *outcomes[0].TxHash)
}

func TestChainMonitor_ExpiresAfterDeadline(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) { return decimal.Zero, nil },
	}
	rec := &outcomeRecorder{}

	opts := fastOptions()
	opts.MaxAttempts = 3
	m := NewChainMonitor(wallets, sessions, chain, rec.record, opts, zerolog.Nop())
	defer m.Stop()

	session, wallet := seedSession(t, wallets, sessions, "100", time.Minute)
	m.Watch(session, wallet)

	require.Eventually(t, func() bool {
		return sessions.status(session.SessionID) == domain.SessionStatusExpired
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.WalletStatusExpired, wallets.status(wallet.ID))
	outcomes := rec.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.SessionStatusExpired, outcomes[0].Status)
	assert.Nil(t, outcomes[0].TxHash)
}

func TestChainMonitor_ToleranceBoundary(t *testing.T) {
	cases := []struct {
		name    string
		balance string
		want    domain.SessionStatus
	}{
		{"within tolerance", "99.99", domain.SessionStatusConfirmed},
		{"below tolerance", "99.98", domain.SessionStatusExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wallets := newFakeWalletRepo()
			sessions := newFakeSessionRepo()
			chain := &scriptedChain{
				balanceFn: func(int) (decimal.Decimal, error) {
					return decimal.RequireFromString(tc.balance), nil
				},
			}
			rec := &outcomeRecorder{}

			opts := fastOptions()
			opts.MaxAttempts = 3
			m := NewChainMonitor(wallets, sessions, chain, rec.record, opts, zerolog.Nop())
			defer m.Stop()

			session, wallet := seedSession(t, wallets, sessions, "100", time.Minute)
			m.Watch(session, wallet)

			require.Eventually(t, func() bool {
				return sessions.status(session.SessionID) == tc.want
			}, 2*time.Second, 5*time.Millisecond)

			require.Len(t, rec.all(), 1)
		})
	}
}

func TestChainMonitor_ExactlyOnceAcrossDuplicateWatchers(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) {
			return decimal.RequireFromString("50"), nil
		},
	}
	rec := &outcomeRecorder{}

	// Two monitors over the same store simulate the overlap window of a
	// rolling restart. The conditional write in the store is the arbiter.
	m1 := NewChainMonitor(wallets, sessions, chain, rec.record, fastOptions(), zerolog.Nop())
	m2 := NewChainMonitor(wallets, sessions, chain, rec.record, fastOptions(), zerolog.Nop())
	defer m1.Stop()
	defer m2.Stop()

	session, wallet := seedSession(t, wallets, sessions, "50", time.Minute)
	m1.Watch(session, wallet)
	m2.Watch(session, wallet)

	require.Eventually(t, func() bool {
		return sessions.status(session.SessionID) == domain.SessionStatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return m1.ActiveWatchers() == 0 && m2.ActiveWatchers() == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, rec.all(), 1)
}

func TestChainMonitor_WatchIsIdempotentPerSession(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) { return decimal.Zero, nil },
	}

	m := NewChainMonitor(wallets, sessions, chain, nil, fastOptions(), zerolog.Nop())
	defer m.Stop()

	session, wallet := seedSession(t, wallets, sessions, "100", time.Minute)
	m.Watch(session, wallet)
	m.Watch(session, wallet)
	m.Watch(session, wallet)

	assert.Equal(t, 1, m.ActiveWatchers())
}

func TestChainMonitor_RecoversFromTransientErrors(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	chain := &scriptedChain{
		balanceFn: func(call int) (decimal.Decimal, error) {
			if call <= 3 {
				return decimal.Zero, errors.New("gateway timeout")
			}
			return decimal.RequireFromString("25"), nil
		},
	}
	rec := &outcomeRecorder{}

	m := NewChainMonitor(wallets, sessions, chain, rec.record, fastOptions(), zerolog.Nop())
	defer m.Stop()

	session, wallet := seedSession(t, wallets, sessions, "25", time.Minute)
	m.Watch(session, wallet)

	require.Eventually(t, func() bool {
		return sessions.status(session.SessionID) == domain.SessionStatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.WalletStatusFunded, wallets.status(wallet.ID))
	assert.GreaterOrEqual(t, chain.callCount(), 4)
	assert.Len(t, rec.all(), 1)
}

func TestChainMonitor_SkipsAlreadyTerminalSession(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) {
			return decimal.RequireFromString("999"), nil
		},
	}
	rec := &outcomeRecorder{}

	m := NewChainMonitor(wallets, sessions, chain, rec.record, fastOptions(), zerolog.Nop())
	defer m.Stop()

	session, wallet := seedSession(t, wallets, sessions, "10", time.Minute)
	_, err := sessions.TransitionStatus(context.Background(), session.SessionID, domain.SessionStatusPending, domain.SessionStatusFailed)
	require.NoError(t, err)

	m.Watch(session, wallet)

	require.Eventually(t, func() bool { return m.ActiveWatchers() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.all())
	assert.Equal(t, domain.SessionStatusFailed, sessions.status(session.SessionID))
}

func TestChainMonitor_ResumeRestartsPendingWatchers(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) {
			return decimal.RequireFromString("75"), nil
		},
	}
	rec := &outcomeRecorder{}

	sessionA, _ := seedSession(t, wallets, sessions, "75", time.Minute)
	sessionB, _ := seedSession(t, wallets, sessions, "75", time.Minute)

	m := NewChainMonitor(wallets, sessions, chain, rec.record, fastOptions(), zerolog.Nop())
	defer m.Stop()

	require.NoError(t, m.Resume(context.Background()))
	assert.Equal(t, 2, m.ActiveWatchers())

	require.Eventually(t, func() bool {
		return sessions.status(sessionA.SessionID) == domain.SessionStatusConfirmed &&
			sessions.status(sessionB.SessionID) == domain.SessionStatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Len(t, rec.all(), 2)
}

func TestChainMonitor_ResumeAfterPartialPayment(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()

	var fullyPaid atomic.Bool
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) {
			if fullyPaid.Load() {
				return decimal.RequireFromString("100"), nil
			}
			return decimal.RequireFromString("50"), nil
		},
	}
	rec := &outcomeRecorder{}

	opts := fastOptions()
	opts.MaxAttempts = 10000

	session, wallet := seedSession(t, wallets, sessions, "100", time.Minute)

	// First process sees only the first installment; the poller persists it
	// as the last known balance before the process goes away.
	m1 := NewChainMonitor(wallets, sessions, chain, rec.record, opts, zerolog.Nop())
	m1.Watch(session, wallet)
	require.Eventually(t, func() bool {
		w, err := wallets.GetByID(context.Background(), wallet.ID)
		return err == nil && w.LastKnownBalance.Equal(decimal.RequireFromString("50"))
	}, 2*time.Second, 5*time.Millisecond)
	m1.Stop()
	require.Equal(t, domain.SessionStatusPending, sessions.status(session.SessionID))

	// Second installment lands while no watcher is running.
	fullyPaid.Store(true)

	// The resumed watcher must measure funding against the assignment-time
	// baseline, not against the 50 recorded by the first process.
	m2 := NewChainMonitor(wallets, sessions, chain, rec.record, opts, zerolog.Nop())
	defer m2.Stop()
	require.NoError(t, m2.Resume(context.Background()))

	require.Eventually(t, func() bool {
		return sessions.status(session.SessionID) == domain.SessionStatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.WalletStatusFunded, wallets.status(wallet.ID))
	assert.Len(t, rec.all(), 1)
}

func TestChainMonitor_RetriesTerminalWriteOnStoreError(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	sessions.failMarkConfirmed(2)
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) {
			return decimal.RequireFromString("100"), nil
		},
	}
	rec := &outcomeRecorder{}

	m := NewChainMonitor(wallets, sessions, chain, rec.record, fastOptions(), zerolog.Nop())
	defer m.Stop()

	session, wallet := seedSession(t, wallets, sessions, "100", time.Minute)
	m.Watch(session, wallet)

	require.Eventually(t, func() bool {
		return sessions.status(session.SessionID) == domain.SessionStatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.WalletStatusFunded, wallets.status(wallet.ID))
	assert.Len(t, rec.all(), 1)
}

func TestChainMonitor_StopCancelsWatchers(t *testing.T) {
	wallets := newFakeWalletRepo()
	sessions := newFakeSessionRepo()
	chain := &scriptedChain{
		balanceFn: func(int) (decimal.Decimal, error) { return decimal.Zero, nil },
	}

	m := NewChainMonitor(wallets, sessions, chain, nil, MonitorOptions{
		PollInterval:   time.Hour, // never ticks; Stop must still return promptly
		MaxAttempts:    100,
		Tolerance:      decimal.RequireFromString("0.01"),
		ErrorThreshold: 5,
	}, zerolog.Nop())

	session, wallet := seedSession(t, wallets, sessions, "100", time.Hour)
	m.Watch(session, wallet)
	require.Equal(t, 1, m.ActiveWatchers())

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel watchers")
	}
	assert.Equal(t, 0, m.ActiveWatchers())

	// Session untouched: cancellation is not an outcome.
	assert.Equal(t, domain.SessionStatusPending, sessions.status(session.SessionID))
}
