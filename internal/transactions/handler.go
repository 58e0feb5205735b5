package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/platform/httpx"
	"github.com/hasledger/hasledger/internal/shared"
	"github.com/hasledger/hasledger/internal/stock"
)

const (
	writeLimit  = 120
	writeWindow = time.Minute
)

// Recorder is the write side the handler drives.
type Recorder interface {
	Purchase(ctx context.Context, in PurchaseInput) (Result, error)
	Sale(ctx context.Context, in SaleInput) (Result, error)
	Payment(ctx context.Context, in SettlementInput) (Result, error)
	Receipt(ctx context.Context, in SettlementInput) (Result, error)
	Exchange(ctx context.Context, in ExchangeInput) (Result, error)
	Scrap(ctx context.Context, in ScrapInput) (Result, error)
	Cancel(ctx context.Context, in CancelInput) (Result, error)
	Edit(ctx context.Context, in EditInput) (Result, error)
	AdjustProductCost(ctx context.Context, in CostAdjustmentInput) (CostAdjustment, error)
	Get(ctx context.Context, code string) (Transaction, error)
}

// LedgerReader serves statements and reconciliation.
type LedgerReader interface {
	ledger.PartyReader
	ledger.TotalsReader
}

// Handler exposes transactions over JSON.
type Handler struct {
	logger   *slog.Logger
	service  Recorder
	ledger   LedgerReader
	balances ledger.BalanceReader
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service Recorder, reader LedgerReader, balances ledger.BalanceReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, ledger: reader, balances: balances}
}

// MountRoutes registers the endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(writeLimit, writeWindow, httprate.WithKeyFuncs(rateLimitKey))

	r.Get("/transactions/{code}", h.handleGet)
	r.Get("/parties/{id}/statement", h.handleStatement)
	r.Get("/ledger/reconciliation", h.handleReconcile)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/transactions/purchase", h.handlePurchase)
		gr.Post("/transactions/sale", h.handleSale)
		gr.Post("/transactions/payment", h.handlePayment)
		gr.Post("/transactions/receipt", h.handleReceipt)
		gr.Post("/transactions/exchange", h.handleExchange)
		gr.Post("/transactions/scrap", h.handleScrap)
		gr.Post("/transactions/{code}/cancel", h.handleCancel)
		gr.Patch("/transactions/{code}", h.handleEdit)
		gr.Post("/products/{id}/cost-adjustments", h.handleAdjustCost)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor != "" {
		return "actor:" + actor, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var in PurchaseInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	in.IdempotencyKey = idempotencyKey(r, in.IdempotencyKey)
	res, err := h.service.Purchase(r.Context(), in)
	h.respondResult(w, res, err)
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var in SaleInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	in.IdempotencyKey = idempotencyKey(r, in.IdempotencyKey)
	res, err := h.service.Sale(r.Context(), in)
	h.respondResult(w, res, err)
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	var in SettlementInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	in.IdempotencyKey = idempotencyKey(r, in.IdempotencyKey)
	res, err := h.service.Payment(r.Context(), in)
	h.respondResult(w, res, err)
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var in SettlementInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	in.IdempotencyKey = idempotencyKey(r, in.IdempotencyKey)
	res, err := h.service.Receipt(r.Context(), in)
	h.respondResult(w, res, err)
}

func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	var in ExchangeInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	in.IdempotencyKey = idempotencyKey(r, in.IdempotencyKey)
	res, err := h.service.Exchange(r.Context(), in)
	h.respondResult(w, res, err)
}

func (h *Handler) handleScrap(w http.ResponseWriter, r *http.Request) {
	var in ScrapInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ActorID = shared.ActorFromContext(r.Context())
	in.IdempotencyKey = idempotencyKey(r, in.IdempotencyKey)
	res, err := h.service.Scrap(r.Context(), in)
	h.respondResult(w, res, err)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var in CancelInput
	if !h.decode(w, r, &in) {
		return
	}
	in.Code = chi.URLParam(r, "code")
	in.ActorID = shared.ActorFromContext(r.Context())
	res, err := h.service.Cancel(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	var in EditInput
	if !h.decode(w, r, &in) {
		return
	}
	in.Code = chi.URLParam(r, "code")
	in.ActorID = shared.ActorFromContext(r.Context())
	res, err := h.service.Edit(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleAdjustCost(w http.ResponseWriter, r *http.Request) {
	var in CostAdjustmentInput
	if !h.decode(w, r, &in) {
		return
	}
	in.ProductID = chi.URLParam(r, "id")
	in.ActorID = shared.ActorFromContext(r.Context())
	res, err := h.service.AdjustProductCost(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	from, err := parseDate(r, "from")
	if err != nil {
		h.respondError(w, err)
		return
	}
	to, err := parseDate(r, "to")
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !to.IsZero() {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	st, err := ledger.BuildStatement(r.Context(), h.ledger, chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil || h.balances == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	mismatches, checked, err := ledger.Reconcile(r.Context(), h.ledger, h.balances)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"consistent": len(mismatches) == 0,
		"checked":    checked,
		"mismatches": mismatches,
	})
}

func parseDate(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, invalid(key, "expected YYYY-MM-DD")
	}
	return t, nil
}

func idempotencyKey(r *http.Request, body string) string {
	if header := strings.TrimSpace(r.Header.Get("Idempotency-Key")); header != "" {
		return header
	}
	return body
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondResult(w http.ResponseWriter, res Result, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

// respondError translates domain errors into the httpx vocabulary.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, has.ErrUnknownCurrency), errors.Is(err, stock.ErrInvalidQuantity),
		errors.Is(err, stock.ErrInvalidCost), errors.Is(err, stock.ErrPartialUnique):
		err = fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, parties.ErrPartyNotFound), errors.Is(err, stock.ErrProductNotFound):
		err = fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrTransactionCancelled),
		errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrStockAlreadyConsumed),
		errors.Is(err, stock.ErrNotSold), errors.Is(err, stock.ErrUniqueInStock):
		err = fmt.Errorf("%w: %w", httpx.ErrConflict, err)
	case errors.Is(err, ErrEditNotSupported), errors.Is(err, stock.ErrCostAdjustUnsupported):
		err = fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err)
	case errors.Is(err, has.ErrInvalidRate):
		err = fmt.Errorf("%w: %w", httpx.ErrUnavailable, err)
	default:
		h.logger.Error("transaction request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
