package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fleetingbytes/cryptoworth/internal/model"
	"github.com/fleetingbytes/cryptoworth/internal/pair"
	"github.com/fleetingbytes/cryptoworth/internal/registry"
	"github.com/fleetingbytes/cryptoworth/internal/store"
)

// maxMessages caps GET /api/v1/messages.
const maxMessages = 1000

// Routes registers the /api/v1 handlers on r.
func (s *Session) Routes(r chi.Router) {
	r.Get("/books", s.ListBooks)
	r.Get("/books/{pair}/level2", s.GetLevel2)
	r.Get("/wallets", s.ListWallets)
	r.Post("/wallets/{name}/valuation", s.PostValuation)
	r.Get("/wallets/{name}/valuation", s.GetValuation)
	r.Get("/messages", s.ListMessages)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// Health handles GET /health.
func (s *Session) Health(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	resp := map[string]any{
		"status":    "ok",
		"service":   "cryptoworth",
		"books":     s.reg.Len(),
		"processed": s.processed,
		"seqnum":    s.lastSeq,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListBooks handles GET /api/v1/books
func (s *Session) ListBooks(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Books())
}

// Level2Response is the body of GET /api/v1/books/{pair}/level2. A side not
// asked for is omitted.
type Level2Response struct {
	Symbol string        `json:"symbol"`
	Bids   []model.Level `json:"bids,omitempty"`
	Asks   []model.Level `json:"asks,omitempty"`
}

// GetLevel2 handles GET /api/v1/books/{pair}/level2?side=bids|asks&depth=N
// Without side, both sides are returned.
func (s *Session) GetLevel2(w http.ResponseWriter, r *http.Request) {
	p, err := pair.Parse(chi.URLParam(r, "pair"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		depth, err = strconv.Atoi(v)
		if err != nil || depth < 0 {
			writeError(w, "depth must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	sides := []model.Side{model.Bids, model.Asks}
	if v := r.URL.Query().Get("side"); v != "" {
		side, err := model.ParseSide(v)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sides = []model.Side{side}
	}

	resp := Level2Response{Symbol: p.String()}
	for _, side := range sides {
		levels, err := s.Level2(p, side, depth)
		if errors.Is(err, registry.ErrPairNotFound) {
			writeError(w, "book not found: "+p.String(), http.StatusNotFound)
			return
		}
		if levels == nil {
			levels = []model.Level{}
		}
		if side == model.Bids {
			resp.Bids = levels
		} else {
			resp.Asks = levels
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WalletSummary is one entry of GET /api/v1/wallets.
type WalletSummary struct {
	Name     string                     `json:"name"`
	Quote    string                     `json:"quote"`
	Balances map[string]decimal.Decimal `json:"balances"`
}

// ListWallets handles GET /api/v1/wallets
func (s *Session) ListWallets(w http.ResponseWriter, _ *http.Request) {
	wallets := s.Wallets()
	out := make([]WalletSummary, 0, len(wallets))
	for _, wl := range wallets {
		out = append(out, WalletSummary{
			Name:     wl.Name(),
			Quote:    wl.Quote(),
			Balances: wl.Balances(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// PostValuation handles POST /api/v1/wallets/{name}/valuation
// Values the wallet against the books as they are now.
func (s *Session) PostValuation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	v, err := s.Valuate(r.Context(), name)
	if errors.Is(err, ErrWalletNotFound) {
		writeError(w, "wallet not found: "+name, http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to save valuation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(v)
}

// GetValuation handles GET /api/v1/wallets/{name}/valuation
func (s *Session) GetValuation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	v, err := s.LatestValuation(r.Context(), name)
	switch {
	case errors.Is(err, ErrWalletNotFound):
		writeError(w, "wallet not found: "+name, http.StatusNotFound)
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "no valuation yet for wallet: "+name, http.StatusNotFound)
		return
	case err != nil:
		writeError(w, "failed to load valuation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ListMessages handles GET /api/v1/messages?channel=l3&limit=N
func (s *Session) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxMessages)
	}

	msgs, err := s.store.ListMessages(r.Context(), r.URL.Query().Get("channel"), limit)
	if err != nil {
		writeError(w, "failed to list messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []model.RawMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
