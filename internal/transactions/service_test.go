package transactions_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hasledger/hasledger/internal/cashregister"
	"github.com/hasledger/hasledger/internal/has"
	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/parties"
	"github.com/hasledger/hasledger/internal/pricing"
	"github.com/hasledger/hasledger/internal/stock"
	"github.com/hasledger/hasledger/internal/store/memory"
	"github.com/hasledger/hasledger/internal/transactions"
)

var fixedNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(dec(want)), "want %s, got %s", want, got)
}

type fixture struct {
	store *memory.Store
	cash  *cashregister.Service
	svc   *transactions.Service
}

func newFixture(t *testing.T, cash transactions.CashRegister) *fixture {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New().WithNow(clock)

	feed := pricing.StaticFeed{Quotes: has.Quotes{
		Gold: has.Quote{Buy: dec("2400"), Sell: dec("2500")},
		Currencies: map[string]has.Quote{
			"USD": {Buy: dec("32"), Sell: dec("33")},
		},
	}}
	prices := pricing.NewProvider(store, feed, nil, pricing.Config{Bucket: time.Minute}, logger).WithNow(clock)
	register := cashregister.NewService(store, logger).WithNow(clock)
	if cash == nil {
		cash = register
	}

	svc := transactions.NewService(transactions.Dependencies{
		Store:  store,
		Prices: prices,
		Cash:   cash,
		Outbox: store,
		Logger: logger,
	}).WithNow(clock)

	ctx := context.Background()
	require.NoError(t, store.CreateParty(ctx, parties.Party{ID: "sup-1", Name: "Kuyumcu Toptan", Type: parties.TypeSupplier}))
	require.NoError(t, store.CreateParty(ctx, parties.Party{ID: "cus-1", Name: "Ayse Hanim", Type: parties.TypeCustomer}))
	return &fixture{store: store, cash: register, svc: svc}
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	p, err := f.store.GetParty(context.Background(), id)
	require.NoError(t, err)
	return p.Balance.HAS()
}

func (f *fixture) requireReconciled(t *testing.T) {
	t.Helper()
	mismatches, _, err := ledger.Reconcile(context.Background(), f.store, f.store)
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

// buyRing purchases one unique ring costing 20 HAS from the supplier.
func (f *fixture) buyRing(t *testing.T) (transactions.Result, string) {
	t.Helper()
	res, err := f.svc.Purchase(context.Background(), transactions.PurchaseInput{
		PartyID: "sup-1",
		Lines: []transactions.PurchaseLineInput{{
			NewProduct: &transactions.NewProductInput{Code: "RING-1", Name: "Tektas yuzuk", ProductTypeID: "ring", TrackType: stock.TrackUnique},
			KaratID:    "22",
			WeightGram: dec("20"),
			Fineness:   dec("1"),
		}},
	})
	require.NoError(t, err)
	require.Len(t, res.Transaction.Lines, 1)
	return res, res.Transaction.Lines[0].ProductID
}

func (f *fixture) sellRing(t *testing.T, productID string) transactions.Result {
	t.Helper()
	res, err := f.svc.Sale(context.Background(), transactions.SaleInput{
		PartyID:  "cus-1",
		Lines:    []transactions.SaleLineInput{{ProductID: productID, Price: &transactions.AmountInput{Amount: dec("25"), Currency: "HAS"}}},
		Discount: &transactions.AmountInput{Amount: dec("2"), Currency: "HAS"},
		Collection: &transactions.CollectionInput{
			Amount:         dec("20"),
			Currency:       "HAS",
			CommissionRate: dec("0.05"),
			CashRegisterID: "kasa-1",
		},
	})
	require.NoError(t, err)
	return res
}

func TestPurchaseCreatesStockAndOwesSupplier(t *testing.T) {
	f := newFixture(t, nil)
	res, productID := f.buyRing(t)

	require.Regexp(t, `^TRX-20260314-[A-Z0-9]{4}$`, res.Transaction.Code)
	require.Equal(t, transactions.StatusCompleted, res.Transaction.Status)
	requireDec(t, "20", res.Transaction.TotalHASAmount)
	requireDec(t, "20", f.balance(t, "sup-1"))

	require.NotNil(t, res.Entry)
	require.Equal(t, ledger.EntryPurchase, res.Entry.Type)
	requireDec(t, "20", res.Entry.HASIn)
	requireDec(t, "20", res.Entry.HASNet)
	requireDec(t, "48000", res.Entry.CostTL.Decimal)
	require.Equal(t, "sup-1", res.Entry.PartyID)

	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	require.Equal(t, stock.StatusInStock, p.Status)
	requireDec(t, "20", p.TotalCostHAS)

	var events int
	for _, e := range f.store.Outbox() {
		if e.Kind == outbox.KindLedgerEntry {
			events++
		}
	}
	require.Equal(t, 1, events)
	f.requireReconciled(t)
}

func TestSaleProfitDiscountAndCommission(t *testing.T) {
	f := newFixture(t, nil)
	_, productID := f.buyRing(t)
	res := f.sellRing(t, productID)

	d, ok := res.Transaction.Details.(transactions.SaleDetails)
	require.True(t, ok)
	requireDec(t, "25", d.SaleHAS)
	requireDec(t, "20", d.CostHAS)
	requireDec(t, "2", d.DiscountHAS)
	requireDec(t, "1", d.CommissionHAS)
	requireDec(t, "2", d.NetProfitHAS)
	requireDec(t, "-23", res.Transaction.TotalHASAmount)

	requireDec(t, "20", res.Entry.HASIn)
	requireDec(t, "23", res.Entry.HASOut)
	requireDec(t, "2", res.Entry.ProfitHAS.Decimal)
	requireDec(t, "-3", f.balance(t, "cus-1"))

	kinds := make([]transactions.LineKind, 0, len(res.Transaction.Lines))
	for _, l := range res.Transaction.Lines {
		kinds = append(kinds, l.Kind)
	}
	require.Equal(t, []transactions.LineKind{
		transactions.LineInventory, transactions.LineDiscount, transactions.LinePayment, transactions.LineFee,
	}, kinds)
	requireDec(t, "-1", res.Transaction.Lines[3].LineTotalHAS)

	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	require.Equal(t, stock.StatusSold, p.Status)

	totals, err := f.cash.Totals(context.Background(), "kasa-1")
	require.NoError(t, err)
	requireDec(t, "20", totals["HAS"])
	require.Empty(t, res.Warnings)
	f.requireReconciled(t)
}

func TestSaleConsumesFIFOLayers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Purchase(ctx, transactions.PurchaseInput{
		PartyID: "sup-1",
		Lines: []transactions.PurchaseLineInput{{
			NewProduct: &transactions.NewProductInput{Code: "BAR", Name: "Kulce", ProductTypeID: "bar", TrackType: stock.TrackFIFO},
			KaratID:    "24", WeightGram: dec("3"), Fineness: dec("1"),
			LaborType: transactions.LaborPerGram, LaborRate: dec("9"),
		}},
	})
	require.NoError(t, err)
	requireDec(t, "30", first.Transaction.TotalHASAmount)
	productID := first.Transaction.Lines[0].ProductID

	second, err := f.svc.Purchase(ctx, transactions.PurchaseInput{
		PartyID: "sup-1",
		Lines: []transactions.PurchaseLineInput{{
			ProductID: productID, KaratID: "24", WeightGram: dec("5"), Fineness: dec("1"),
			LaborType: transactions.LaborPerGram, LaborRate: dec("11"),
		}},
	})
	require.NoError(t, err)
	requireDec(t, "60", second.Transaction.TotalHASAmount)

	sale, err := f.svc.Sale(ctx, transactions.SaleInput{
		PartyID: "cus-1",
		Lines: []transactions.SaleLineInput{{
			ProductID: productID, Quantity: dec("4"),
			Price: &transactions.AmountInput{Amount: dec("50"), Currency: "HAS"},
		}},
	})
	require.NoError(t, err)
	line := sale.Transaction.Lines[0]
	requireDec(t, "42", line.Details.CostHAS)
	requireDec(t, "8", line.Details.ProfitHAS)
	require.Len(t, line.Details.Consumption.Layers, 2)

	p, err := f.store.GetProduct(ctx, productID)
	require.NoError(t, err)
	requireDec(t, "4", p.RemainingQuantity)

	_, err = f.svc.Sale(ctx, transactions.SaleInput{
		PartyID: "cus-1",
		Lines:   []transactions.SaleLineInput{{ProductID: productID, Quantity: dec("5"), Price: &transactions.AmountInput{Amount: dec("60"), Currency: "HAS"}}},
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	requireDec(t, "-50", f.balance(t, "cus-1"))
	f.requireReconciled(t)
}

func TestScrapIntoPoolAveragesAndVoidReverts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	purchase, err := f.svc.Purchase(ctx, transactions.PurchaseInput{
		PartyID: "sup-1",
		Lines: []transactions.PurchaseLineInput{{
			NewProduct: &transactions.NewProductInput{Code: "HURDA-22", Name: "22 ayar hurda", ProductTypeID: "scrap", TrackType: stock.TrackPool},
			KaratID:    "22", WeightGram: dec("10"), Fineness: dec("0.916"),
		}},
	})
	require.NoError(t, err)
	poolID := purchase.Transaction.Lines[0].ProductID
	key := stock.Key{ProductTypeID: "scrap", KaratID: "22"}

	pool, err := f.store.GetPool(ctx, key)
	require.NoError(t, err)
	requireDec(t, "0.916", pool.AvgCostPerGram)

	scrap, err := f.svc.Scrap(ctx, transactions.ScrapInput{
		PartyID:       "cus-1",
		Lines:         []transactions.ScrapLineInput{{KaratID: "22", WeightGram: dec("10"), Fineness: dec("0.972")}},
		OnAccount:     true,
		PoolProductID: poolID,
	})
	require.NoError(t, err)
	requireDec(t, "-9.72", scrap.Transaction.TotalHASAmount)
	requireDec(t, "9.72", scrap.Entry.HASIn)
	requireDec(t, "0", scrap.Entry.HASOut)
	requireDec(t, "9.72", f.balance(t, "cus-1"))

	pool, err = f.store.GetPool(ctx, key)
	require.NoError(t, err)
	requireDec(t, "20", pool.TotalWeight)
	requireDec(t, "18.88", pool.TotalCostHAS)
	requireDec(t, "0.944", pool.AvgCostPerGram)

	voided, err := f.svc.Cancel(ctx, transactions.CancelInput{Code: scrap.Transaction.Code, Reason: "yanlis ayar", ActorID: "u-7"})
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCancelled, voided.Transaction.Status)
	require.Empty(t, voided.Warnings)
	require.Equal(t, ledger.EntryVoid, voided.Entry.Type)
	requireDec(t, "-9.72", voided.Entry.HASNet)

	pool, err = f.store.GetPool(ctx, key)
	require.NoError(t, err)
	requireDec(t, "10", pool.TotalWeight)
	requireDec(t, "0.916", pool.AvgCostPerGram)
	requireDec(t, "0", f.balance(t, "cus-1"))
	f.requireReconciled(t)
}

func TestSettledScrapLeavesBalance(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Scrap(context.Background(), transactions.ScrapInput{
		PartyID: "cus-1",
		Lines:   []transactions.ScrapLineInput{{KaratID: "14", WeightGram: dec("4"), Fineness: dec("0.585")}},
	})
	require.NoError(t, err)
	requireDec(t, "2.34", res.Entry.HASIn)
	requireDec(t, "2.34", res.Entry.HASOut)
	requireDec(t, "0", res.Entry.HASNet)
	requireDec(t, "0", f.balance(t, "cus-1"))
}

func TestIdempotentPurchaseReplays(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	in := transactions.PurchaseInput{
		PartyID:        "sup-1",
		IdempotencyKey: "req-42",
		Lines: []transactions.PurchaseLineInput{{
			NewProduct: &transactions.NewProductInput{Code: "BILEZIK", Name: "Bilezik", ProductTypeID: "bracelet", TrackType: stock.TrackUnique},
			KaratID:    "22", WeightGram: dec("15"), Fineness: dec("0.916"),
		}},
	}

	first, err := f.svc.Purchase(ctx, in)
	require.NoError(t, err)
	require.False(t, first.Replayed)
	entries := len(f.store.Entries())

	again, err := f.svc.Purchase(ctx, in)
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, first.Transaction.Code, again.Transaction.Code)
	require.Len(t, f.store.Entries(), entries)
	requireDec(t, "13.74", f.balance(t, "sup-1"))

	in.Lines[0].WeightGram = dec("16")
	_, err = f.svc.Purchase(ctx, in)
	var verr *transactions.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "idempotency_key", verr.Field)
}

func TestConcurrentDuplicateRequestsRecordOnce(t *testing.T) {
	f := newFixture(t, nil)
	in := transactions.SettlementInput{PartyID: "sup-1", IdempotencyKey: "pay-1", Amount: dec("1"), Currency: "HAS"}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		replayed int
		failures []error
		codes    = map[string]struct{}{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Payment(context.Background(), in)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			codes[res.Transaction.Code] = struct{}{}
			if res.Replayed {
				replayed++
			}
		}()
	}
	wg.Wait()
	require.Empty(t, failures)
	require.Len(t, codes, 1)
	require.Equal(t, 7, replayed)
	require.Len(t, f.store.Entries(), 1)
	requireDec(t, "-1", f.balance(t, "sup-1"))
}

func TestCancelSaleRestoresStockAndCash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, productID := f.buyRing(t)
	sale := f.sellRing(t, productID)

	res, err := f.svc.Cancel(ctx, transactions.CancelInput{Code: sale.Transaction.Code, Reason: "musteri iade", ActorID: "u-1"})
	require.NoError(t, err)
	require.NotNil(t, res.Transaction.CancelledAt)
	require.Equal(t, "musteri iade", res.Transaction.CancelReason)
	require.Equal(t, 2, res.Transaction.Version)
	requireDec(t, "23", res.Entry.HASIn)
	requireDec(t, "20", res.Entry.HASOut)
	requireDec(t, "-2", res.Entry.ProfitHAS.Decimal)

	p, err := f.store.GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, stock.StatusInStock, p.Status)
	requireDec(t, "1", p.RemainingQuantity)
	requireDec(t, "0", f.balance(t, "cus-1"))

	totals, err := f.cash.Totals(ctx, "kasa-1")
	require.NoError(t, err)
	require.True(t, totals["HAS"].IsZero())

	_, err = f.svc.Cancel(ctx, transactions.CancelInput{Code: sale.Transaction.Code, Reason: "again"})
	require.ErrorIs(t, err, transactions.ErrAlreadyCancelled)

	_, err = f.svc.Edit(ctx, transactions.EditInput{Code: sale.Transaction.Code, Discount: &transactions.AmountInput{Amount: dec("1"), Currency: "HAS"}})
	require.ErrorIs(t, err, transactions.ErrTransactionCancelled)
	f.requireReconciled(t)
}

func TestCancelPurchaseWarnsWhenStockWasSold(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	purchase, productID := f.buyRing(t)
	f.sellRing(t, productID)

	res, err := f.svc.Cancel(ctx, transactions.CancelInput{Code: purchase.Transaction.Code, Reason: "fatura hatali"})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	requireDec(t, "0", f.balance(t, "sup-1"))
	f.requireReconciled(t)
}

func TestPaymentDiscountIsProfit(t *testing.T) {
	f := newFixture(t, nil)
	f.buyRing(t)

	res, err := f.svc.Payment(context.Background(), transactions.SettlementInput{
		PartyID:        "sup-1",
		Amount:         dec("45600"),
		Currency:       "TL",
		ExpectedHAS:    decimal.NewNullDecimal(dec("20")),
		CashRegisterID: "kasa-1",
	})
	require.NoError(t, err)
	d := res.Transaction.Details.(transactions.SettlementDetails)
	requireDec(t, "19", d.AmountHAS)
	requireDec(t, "20", d.ClosedHAS)
	requireDec(t, "1", d.DiscountHAS)
	requireDec(t, "1", d.ProfitHAS)
	requireDec(t, "-19", res.Transaction.TotalHASAmount)

	requireDec(t, "20", res.Entry.HASOut)
	requireDec(t, "45600", res.Entry.AmountOut)
	requireDec(t, "1", res.Entry.ProfitHAS.Decimal)
	require.Equal(t, "TL", res.Entry.Currency)
	requireDec(t, "0", f.balance(t, "sup-1"))

	totals, err := f.cash.Totals(context.Background(), "kasa-1")
	require.NoError(t, err)
	requireDec(t, "-45600", totals["TL"])
	f.requireReconciled(t)
}

func TestReceiptDiscountIsLoss(t *testing.T) {
	f := newFixture(t, nil)
	_, productID := f.buyRing(t)
	f.sellRing(t, productID)

	res, err := f.svc.Receipt(context.Background(), transactions.SettlementInput{
		PartyID:     "cus-1",
		Amount:      dec("7000"),
		Currency:    "TRY",
		ExpectedHAS: decimal.NewNullDecimal(dec("3")),
	})
	require.NoError(t, err)
	d := res.Transaction.Details.(transactions.SettlementDetails)
	require.Equal(t, "TL", d.Currency)
	requireDec(t, "2.8", d.AmountHAS)
	requireDec(t, "0.2", d.DiscountHAS)
	requireDec(t, "-0.2", d.ProfitHAS)
	requireDec(t, "3", res.Entry.HASIn)
	requireDec(t, "0", f.balance(t, "cus-1"))
	f.requireReconciled(t)
}

func TestEditSalePriceAdjustsBalance(t *testing.T) {
	f := newFixture(t, nil)
	_, productID := f.buyRing(t)
	sale := f.sellRing(t, productID)

	res, err := f.svc.Edit(context.Background(), transactions.EditInput{
		Code:   sale.Transaction.Code,
		Reason: "fiyat duzeltme",
		Lines:  []transactions.LineEdit{{No: 1, Price: &transactions.AmountInput{Amount: dec("26"), Currency: "HAS"}}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Transaction.Version)
	require.Equal(t, ledger.EntryAdjustment, res.Entry.Type)
	requireDec(t, "1", res.Entry.HASOut)
	requireDec(t, "-1", res.Entry.HASNet)
	requireDec(t, "1", res.Entry.ProfitHAS.Decimal)
	requireDec(t, "-4", f.balance(t, "cus-1"))
	requireDec(t, "3", res.Transaction.Details.(transactions.SaleDetails).NetProfitHAS)
	f.requireReconciled(t)

	voided, err := f.svc.Cancel(context.Background(), transactions.CancelInput{Code: sale.Transaction.Code, Reason: "iptal"})
	require.NoError(t, err)
	requireDec(t, "4", voided.Entry.HASNet)
	requireDec(t, "0", f.balance(t, "cus-1"))
	f.requireReconciled(t)
}

func TestEditPurchaseFinenessReprices(t *testing.T) {
	f := newFixture(t, nil)
	purchase, productID := f.buyRing(t)

	res, err := f.svc.Edit(context.Background(), transactions.EditInput{
		Code:  purchase.Transaction.Code,
		Lines: []transactions.LineEdit{{No: 1, Fineness: decimal.NewNullDecimal(dec("0.916"))}},
	})
	require.NoError(t, err)
	requireDec(t, "18.32", res.Transaction.TotalHASAmount)
	requireDec(t, "1.68", res.Entry.HASOut)
	requireDec(t, "-1.68", res.Entry.CostHAS.Decimal)
	requireDec(t, "18.32", f.balance(t, "sup-1"))

	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	requireDec(t, "18.32", p.TotalCostHAS)
	f.requireReconciled(t)
}

func TestEditRejectsExchange(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Exchange(context.Background(), transactions.ExchangeInput{
		FromCurrency: "USD", FromAmount: dec("100"), ToCurrency: "TL",
	})
	require.NoError(t, err)
	_, err = f.svc.Edit(context.Background(), transactions.EditInput{Code: res.Transaction.Code, Amount: decimal.NewNullDecimal(dec("1"))})
	require.ErrorIs(t, err, transactions.ErrEditNotSupported)
}

func TestExchangeProfitAtQuotedRate(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Exchange(context.Background(), transactions.ExchangeInput{
		FromCurrency:   "usd",
		FromAmount:     dec("100"),
		ToCurrency:     "TL",
		Rate:           decimal.NewNullDecimal(dec("32")),
		CashRegisterID: "kasa-2",
	})
	require.NoError(t, err)
	d := res.Transaction.Details.(transactions.ExchangeDetails)
	requireDec(t, "3200", d.ToAmount)
	requireDec(t, "1.326531", d.ReceivedHAS)
	requireDec(t, "1.306122", d.GivenHAS)
	requireDec(t, "0.020409", d.ProfitHAS)
	requireDec(t, "0", res.Transaction.TotalHASAmount)
	require.Empty(t, res.Entry.PartyID)

	totals, err := f.cash.Totals(context.Background(), "kasa-2")
	require.NoError(t, err)
	requireDec(t, "100", totals["USD"])
	requireDec(t, "-3200", totals["TL"])
}

func TestExchangeRejectsSameCurrency(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Exchange(context.Background(), transactions.ExchangeInput{FromCurrency: "USD", FromAmount: dec("1"), ToCurrency: "usd"})
	var verr *transactions.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "to_currency", verr.Field)
}

type offlineRegister struct{}

func (offlineRegister) Move(context.Context, cashregister.Movement) (cashregister.Movement, error) {
	return cashregister.Movement{}, errors.New("register offline")
}

func (offlineRegister) ReverseFor(context.Context, string, string) ([]cashregister.Movement, error) {
	return nil, errors.New("register offline")
}

func TestCashFailureIsDeferredToOutbox(t *testing.T) {
	f := newFixture(t, offlineRegister{})
	res, err := f.svc.Receipt(context.Background(), transactions.SettlementInput{
		PartyID: "cus-1", Amount: dec("2500"), Currency: "TL", CashRegisterID: "kasa-1",
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	requireDec(t, "1", f.balance(t, "cus-1"))

	cancelled, err := f.svc.Cancel(context.Background(), transactions.CancelInput{Code: res.Transaction.Code, Reason: "test"})
	require.NoError(t, err)
	require.Len(t, cancelled.Warnings, 1)

	kinds := map[outbox.Kind]int{}
	for _, e := range f.store.Outbox() {
		kinds[e.Kind]++
	}
	require.Equal(t, 1, kinds[outbox.KindCashMove])
	require.Equal(t, 1, kinds[outbox.KindCashReverse])
	require.Equal(t, 2, kinds[outbox.KindLedgerEntry])
}

func TestAdjustProductCostWritesProductEntry(t *testing.T) {
	f := newFixture(t, nil)
	_, productID := f.buyRing(t)

	res, err := f.svc.AdjustProductCost(context.Background(), transactions.CostAdjustmentInput{
		ProductID: productID, TotalCostHAS: dec("22"), Reason: "iscilik eklendi",
	})
	require.NoError(t, err)
	requireDec(t, "2", res.DeltaHAS)
	requireDec(t, "22", res.Product.TotalCostHAS)
	require.Equal(t, ledger.ReferenceProduct, res.Entry.ReferenceType)
	require.Equal(t, productID, res.Entry.ReferenceID)
	require.Empty(t, res.Entry.PartyID)
	requireDec(t, "2", res.Entry.CostHAS.Decimal)
	f.requireReconciled(t)
}

func TestValidationRejectsBeforeWriting(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Purchase(ctx, transactions.PurchaseInput{PartyID: "sup-1"})
	var verr *transactions.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.Purchase(ctx, transactions.PurchaseInput{
		PartyID: "sup-1",
		Lines: []transactions.PurchaseLineInput{{
			NewProduct: &transactions.NewProductInput{Code: "X", Name: "X", ProductTypeID: "x", TrackType: stock.TrackUnique},
			KaratID:    "22", WeightGram: dec("1"), Fineness: dec("1.2"),
		}},
	})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "lines[0].fineness", verr.Field)

	_, err = f.svc.Payment(ctx, transactions.SettlementInput{PartyID: "nobody", Amount: dec("1"), Currency: "HAS"})
	require.ErrorIs(t, err, parties.ErrPartyNotFound)

	_, err = f.svc.Payment(ctx, transactions.SettlementInput{PartyID: "sup-1", Amount: dec("1"), Currency: "QQQ"})
	require.ErrorAs(t, err, &verr)

	require.Empty(t, f.store.Entries())
}

func TestFlowsRejectWrongCounterpartyRole(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, productID := f.buyRing(t)
	entries := len(f.store.Entries())

	_, err := f.svc.Purchase(ctx, transactions.PurchaseInput{
		PartyID: "cus-1",
		Lines: []transactions.PurchaseLineInput{{
			NewProduct: &transactions.NewProductInput{Code: "RING-2", Name: "Alyans", ProductTypeID: "ring", TrackType: stock.TrackUnique},
			KaratID:    "22",
			WeightGram: dec("10"),
			Fineness:   dec("1"),
		}},
	})
	var verr *transactions.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "party_id", verr.Field)

	_, err = f.svc.Sale(ctx, transactions.SaleInput{
		PartyID: "sup-1",
		Lines:   []transactions.SaleLineInput{{ProductID: productID, Price: &transactions.AmountInput{Amount: dec("25"), Currency: "HAS"}}},
	})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "party_id", verr.Field)

	_, err = f.svc.Receipt(ctx, transactions.SettlementInput{PartyID: "sup-1", Amount: dec("1"), Currency: "HAS"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "party_id", verr.Field)

	_, err = f.svc.Payment(ctx, transactions.SettlementInput{PartyID: "cus-1", Amount: dec("1"), Currency: "HAS"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "party_id", verr.Field)

	requireDec(t, "0", f.balance(t, "cus-1"))
	requireDec(t, "20", f.balance(t, "sup-1"))
	require.Len(t, f.store.Entries(), entries)

	product, err := f.store.GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, stock.StatusInStock, product.Status)
}
