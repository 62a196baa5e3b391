package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// fakeGateway is an httptest chain gateway with mutable balances, so tests
// can "fund" an address and watch the monitor react.
type fakeGateway struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	confirmed map[string]bool
	sweeps    []sweepBroadcast
	server    *httptest.Server
}

type sweepBroadcast struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Signature string          `json:"signature"`
	PublicKey string          `json:"public_key"`
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{
		balances:  make(map[string]decimal.Decimal),
		confirmed: make(map[string]bool),
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.handle))
	return g
}

func (g *fakeGateway) Close()      { g.server.Close() }
func (g *fakeGateway) URL() string { return g.server.URL }

func (g *fakeGateway) fund(address string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[address] = g.balances[address].Add(amount)
}

func (g *fakeGateway) sweepLog() []sweepBroadcast {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sweepBroadcast, len(g.sweeps))
	copy(out, g.sweeps)
	return out
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/tx":
		var sweep sweepBroadcast
		if err := json.NewDecoder(r.Body).Decode(&sweep); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.sweeps = append(g.sweeps, sweep)
		txHash := "0xsweep-" + sweep.From
		g.confirmed[txHash] = true
		g.balances[sweep.From] = decimal.Zero
		g.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"tx_hash": txHash})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/tx/"):
		txHash := strings.TrimPrefix(r.URL.Path, "/tx/")
		g.mu.Lock()
		confirmed := g.confirmed[txHash]
		g.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"hash": txHash, "confirmed": confirmed})

	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/txs"):
		address := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/address/"), "/txs")
		g.mu.Lock()
		balance := g.balances[address]
		g.mu.Unlock()
		txs := []map[string]interface{}{}
		if balance.GreaterThan(decimal.Zero) {
			txs = append(txs, map[string]interface{}{
				"hash":      "0xdeposit-" + address,
				"amount":    balance,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
		json.NewEncoder(w).Encode(txs)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/address/"):
		address := strings.TrimPrefix(r.URL.Path, "/address/")
		g.mu.Lock()
		balance := g.balances[address]
		g.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address": address, "balance": balance, "tx_count": 1,
		})

	default:
		http.NotFound(w, r)
	}
}
