package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/service"
)

// ExchangeHandler serves the market API: rate, balances, allowances,
// approvals, trades, and per-account history.
type ExchangeHandler struct {
	market *service.MarketService
	logger *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler backed by the market service.
func NewExchangeHandler(market *service.MarketService, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		market: market,
		logger: logHandler(logger, "exchange"),
	}
}

// GetRate returns the fixed conversion rate.
// GET /api/rate
func (h *ExchangeHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rate":   strconv.FormatUint(h.market.Rate(), 10),
		"market": h.market.Market().Hex(),
	})
}

// GetBalances returns an account's fiat and stock balances.
// GET /api/accounts/{address}/balances
func (h *ExchangeHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	fiat, stock := h.market.Balances(r.Context(), account)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"fiat":    domain.FormatAmount(fiat),
		"stock":   domain.FormatAmount(stock),
	})
}

// GetAllowances returns the caps an account has granted the market.
// GET /api/accounts/{address}/allowances
func (h *ExchangeHandler) GetAllowances(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	fiat, stock := h.market.Allowances(account)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"fiat":    domain.FormatAmount(fiat),
		"stock":   domain.FormatAmount(stock),
	})
}

// approveRequest is the body of an approval call. Amount is an 18-decimal
// base-unit string; approving zero revokes the cap.
type approveRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Approve grants the market a spending cap over the account's balance,
// overwriting any previous cap.
// POST /api/accounts/{address}/approve
func (h *ExchangeHandler) Approve(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	asset, err := domain.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset class")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	h.market.Approve(r.Context(), account, asset, amount)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"asset":   string(asset),
		"amount":  domain.FormatAmount(amount),
	})
}

// tradeRequest is the body of a buy or sell call. Amount is the input-side
// amount as an 18-decimal base-unit string: fiat for buys, stock for sells.
type tradeRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Buy swaps fiat for stock at the fixed rate.
// POST /api/trades/buy
func (h *ExchangeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	account, amount, ok := h.decodeTrade(w, r)
	if !ok {
		return
	}

	rec, err := h.market.Buy(r.Context(), account, amount)
	if err != nil {
		h.writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Sell swaps stock for fiat at the fixed rate.
// POST /api/trades/sell
func (h *ExchangeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	account, amount, ok := h.decodeTrade(w, r)
	if !ok {
		return
	}

	rec, err := h.market.Sell(r.Context(), account, amount)
	if err != nil {
		h.writeTradeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetHistory returns the account's trades, most recent first, paginated.
// GET /api/accounts/{address}/history
func (h *ExchangeHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	opts := parseListOpts(r)
	records := h.market.History(account)
	total := len(records)

	if opts.Offset >= total {
		records = []domain.TradeRecord{}
	} else {
		end := opts.Offset + opts.Limit
		if end > total {
			end = total
		}
		records = records[opts.Offset:end]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.Hex(),
		"total":   total,
		"trades":  records,
	})
}

func (h *ExchangeHandler) decodeTrade(w http.ResponseWriter, r *http.Request) (domain.Account, *uint256.Int, bool) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return domain.Account{}, nil, false
	}

	account, err := domain.ParseAccount(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return domain.Account{}, nil, false
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return domain.Account{}, nil, false
	}
	return account, amount, true
}

// writeTradeError maps engine rejections to HTTP statuses: malformed input
// is 400, a well-formed trade the market cannot settle is 422.
func (h *ExchangeHandler) writeTradeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrZeroAmount), errors.Is(err, domain.ErrAmountOverflow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrAllowanceExceeded):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("trade failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
