package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"stock-trader-go/internal/ledger"
	"stock-trader-go/internal/models"
	"stock-trader-go/internal/trader"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// APIHandler holds dependencies for the API endpoints. It is a thin shell:
// it parses parameters, calls the core, and maps outcome kinds to HTTP
// statuses. All business decisions live below it.
type APIHandler struct {
	log         *zap.Logger
	store       *ledger.Store
	executor    *trader.Executor
	valuator    *trader.Valuator
	initialCash decimal.Decimal
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, store *ledger.Store, executor *trader.Executor, valuator *trader.Valuator, initialCash decimal.Decimal) *APIHandler {
	return &APIHandler{
		log:         log,
		store:       store,
		executor:    executor,
		valuator:    valuator,
		initialCash: initialCash,
	}
}

// statusFor maps a semantic outcome kind to an HTTP status code. This is the
// only place that decision is made.
func statusFor(kind trader.Kind) int {
	switch kind {
	case trader.KindValidation, trader.KindInsufficientFunds, trader.KindInsufficientShares:
		return http.StatusBadRequest
	case trader.KindHolderNotFound, trader.KindPriceNotFound:
		return http.StatusNotFound
	case trader.KindRateLimited:
		return http.StatusTooManyRequests
	case trader.KindConflict:
		return http.StatusConflict
	case trader.KindPriceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error  trader.Kind `json:"error"`
	Reason string      `json:"reason"`
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	var rej *trader.Rejection
	if errors.As(err, &rej) {
		if rej.Fault() {
			h.log.Error("Request failed", zap.String("kind", string(rej.Kind)), zap.Error(err))
		}
		h.writeJSON(w, statusFor(rej.Kind), errorResponse{Error: rej.Kind, Reason: rej.Reason})
		return
	}
	h.log.Error("Request failed", zap.Error(err))
	h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: trader.KindStorage, Reason: "internal error"})
}

// holderID pulls the resolved holder identity from the request. Session
// resolution belongs to the web layer in front of this API; here the
// identity arrives as a parameter.
func holderID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.URL.Query().Get("holder"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (h *APIHandler) badRequest(w http.ResponseWriter, reason string) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: trader.KindValidation, Reason: reason})
}

// RegisterHandler creates a new holder. The credential hash arrives
// pre-hashed; this service never sees plaintext passwords.
func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Hash     string `json:"hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed request body")
		return
	}
	if req.Username == "" || req.Hash == "" {
		h.badRequest(w, "must provide username and credential hash")
		return
	}

	holder, err := h.store.CreateHolder(req.Username, req.Hash, h.initialCash)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			h.writeJSON(w, http.StatusConflict, errorResponse{Error: trader.KindValidation, Reason: "username already registered"})
			return
		}
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"holder_id": holder.ID,
		"username":  holder.Username,
		"cash":      holder.Cash,
	})
}

// TradeHandler executes a buy or sell for the holder.
func (h *APIHandler) TradeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		HolderID uint   `json:"holder_id"`
		Side     string `json:"side"`
		Symbol   string `json:"symbol"`
		Shares   int64  `json:"shares"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed request body")
		return
	}
	if req.HolderID == 0 {
		h.badRequest(w, "must provide holder_id")
		return
	}

	var receipt *trader.Receipt
	var err error
	switch req.Side {
	case models.SideBuy:
		receipt, err = h.executor.Buy(r.Context(), req.HolderID, req.Symbol, req.Shares)
	case models.SideSell:
		receipt, err = h.executor.Sell(r.Context(), req.HolderID, req.Symbol, req.Shares)
	default:
		h.badRequest(w, "side must be \"buy\" or \"sell\"")
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trade":    receipt.Trade,
		"total":    receipt.Total,
		"new_cash": receipt.NewCash,
	})
}

// PortfolioHandler returns the holder's live-valued portfolio snapshot.
func (h *APIHandler) PortfolioHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := holderID(r)
	if !ok {
		h.badRequest(w, "must provide a holder id")
		return
	}

	valuation, err := h.valuator.Valuate(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, valuation)
}

// TradesHandler returns the holder's trade history, most recent first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := holderID(r)
	if !ok {
		h.badRequest(w, "must provide a holder id")
		return
	}

	trades, err := h.store.Trades(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ID > trades[j].ID })
	h.writeJSON(w, http.StatusOK, trades)
}

// SymbolsHandler returns the symbols the holder currently holds, for the
// sell-side form.
func (h *APIHandler) SymbolsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := holderID(r)
	if !ok {
		h.badRequest(w, "must provide a holder id")
		return
	}

	symbols, err := h.store.Symbols(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, symbols)
}

// AddCashHandler deposits additional cash into the holder's account.
func (h *APIHandler) AddCashHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		HolderID uint   `json:"holder_id"`
		Amount   string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed request body")
		return
	}
	if req.HolderID == 0 {
		h.badRequest(w, "must provide holder_id")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.badRequest(w, "amount must be a decimal number")
		return
	}
	if !amount.IsPositive() {
		h.badRequest(w, "amount must be positive")
		return
	}

	newCash, err := h.store.AddCash(req.HolderID, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, errorResponse{Error: trader.KindHolderNotFound, Reason: "unknown holder"})
			return
		}
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"cash": newCash})
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}
