// Package integration exercises the full engine end to end: real services
// and HTTP surface over in-memory stores and a fake chain gateway.
package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodial-wallet-pool/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// memTx is a pgx.Tx stand-in that collects undo functions so a rollback
// releases in-memory claims the way a database rollback would.
type memTx struct {
	pgx.Tx
	mu       sync.Mutex
	done     bool
	rollback []func()
}

func (t *memTx) onRollback(fn func()) {
	t.mu.Lock()
	t.rollback = append(t.rollback, fn)
	t.mu.Unlock()
}

func (t *memTx) Commit(_ context.Context) error {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	for i := len(t.rollback) - 1; i >= 0; i-- {
		t.rollback[i]()
	}
	return nil
}

// memTransactor implements ports.DBTransactor.
type memTransactor struct{}

func (memTransactor) Begin(_ context.Context) (pgx.Tx, error) {
	return &memTx{}, nil
}

// memWalletRepo implements ports.WalletPoolRepository in memory.
type memWalletRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*domain.WalletPoolEntry
}

func newMemWalletRepo() *memWalletRepo {
	return &memWalletRepo{wallets: make(map[uuid.UUID]*domain.WalletPoolEntry)}
}

func (r *memWalletRepo) Create(_ context.Context, entry *domain.WalletPoolEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.wallets[entry.ID] = &cp
	return nil
}

func (r *memWalletRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WalletPoolEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[id]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (r *memWalletRepo) GetBySessionID(_ context.Context, sessionID string) (*domain.WalletPoolEntry, error) {
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

func (r *memWalletRepo) ClaimAvailable(_ context.Context, tx pgx.Tx, sessionID string, at time.Time) (*domain.WalletPoolEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Oldest available first, matching the claim query's ORDER BY.
	var candidates []*domain.WalletPoolEntry
	for _, w := range r.wallets {
		if w.Status == domain.WalletStatusAvailable {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	w := candidates[0]
	w.Status = domain.WalletStatusAssigned
	sid := sessionID
	ts := at
	w.AssignedSessionID = &sid
	w.AssignedAt = &ts
	w.BaselineBalance = w.LastKnownBalance
	w.UpdatedAt = at

	if mt, ok := tx.(*memTx); ok {
		id := w.ID
		mt.onRollback(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if released, ok := r.wallets[id]; ok && released.Status == domain.WalletStatusAssigned {
				released.Status = domain.WalletStatusAvailable
				released.AssignedSessionID = nil
				released.AssignedAt = nil
			}
		})
	}

	cp := *w
	return &cp, nil
}

func (r *memWalletRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to domain.WalletStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok || w.Status != from {
		return false, nil
	}
	w.Status = to
	w.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memWalletRepo) UpdateBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[id]; ok {
		w.LastKnownBalance = balance
	}
	return nil
}

func (r *memWalletRepo) SetSweepTxHash(_ context.Context, id uuid.UUID, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[id]; ok {
		h := txHash
		w.SweepTxHash = &h
	}
	return nil
}

func (r *memWalletRepo) StatusCounts(_ context.Context) (map[domain.WalletStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.WalletStatus]int64)
	for _, w := range r.wallets {
		counts[w.Status]++
	}
	return counts, nil
}

func (r *memWalletRepo) TotalBalance(_ context.Context) (decimal.Decimal, error) {
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

// memSessionRepo implements ports.PaymentSessionRepository in memory. The
// duplicate-insert error mirrors the postgres unique violation so the claim
// race path behaves the same way.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.PaymentSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*domain.PaymentSession)}
}

func (r *memSessionRepo) Create(_ context.Context, _ pgx.Tx, session *domain.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.SessionID]; exists {
		return &pgconn.PgError{Code: "23505", ConstraintName: "payment_sessions_pkey"}
	}
	cp := *session
	r.sessions[session.SessionID] = &cp
	return nil
}

func (r *memSessionRepo) GetBySessionID(_ context.Context, sessionID string) (*domain.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *memSessionRepo) TransitionStatus(_ context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (r *memSessionRepo) MarkConfirmed(_ context.Context, sessionID, txHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != domain.SessionStatusPending {
		return false, nil
	}
	s.Status = domain.SessionStatusConfirmed
	if txHash != "" {
		h := txHash
		s.TxHash = &h
	}
	ts := at
	s.ConfirmedAt = &ts
	return true, nil
}

func (r *memSessionRepo) ListByStatus(_ context.Context, status domain.SessionStatus) ([]domain.PaymentSession, error) {
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
