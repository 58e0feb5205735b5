package transactions_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hasledger/hasledger/internal/ledger"
	"github.com/hasledger/hasledger/internal/platform/httpx"
	"github.com/hasledger/hasledger/internal/shared"
	"github.com/hasledger/hasledger/internal/transactions"
)

func newTestServer(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t, nil)
	h := transactions.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, f.store, f.store)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor := r.Header.Get("X-Actor-ID"); actor != "" {
				r = r.WithContext(shared.ContextWithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

const purchaseBody = `{
	"party_id": "sup-1",
	"lines": [{
		"new_product": {"code": "KOLYE-1", "name": "Kolye", "product_type_id": "necklace", "track_type": "UNIQUE"},
		"karat_id": "22",
		"weight_gram": "12.5",
		"fineness": "0.916"
	}]
}`

func TestHandlerPurchaseAndReplay(t *testing.T) {
	f, srv := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "hdr-1", "X-Actor-ID": "kasiyer-3"}

	resp := doJSON(t, http.MethodPost, srv.URL+"/transactions/purchase", purchaseBody, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created transactions.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	requireDec(t, "11.45", created.Transaction.TotalHASAmount)
	require.Equal(t, "hdr-1", created.Transaction.IdempotencyKey)
	require.Equal(t, "kasiyer-3", created.Transaction.CreatedBy)
	_, ok := created.Transaction.Details.(transactions.PurchaseDetails)
	require.True(t, ok)

	resp = doJSON(t, http.MethodPost, srv.URL+"/transactions/purchase", purchaseBody, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var replayed transactions.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&replayed))
	require.True(t, replayed.Replayed)
	require.Equal(t, created.Transaction.Code, replayed.Transaction.Code)
	require.Len(t, f.store.Entries(), 1)

	resp = doJSON(t, http.MethodGet, srv.URL+"/transactions/"+created.Transaction.Code, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerErrorMapping(t *testing.T) {
	_, srv := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed body", http.MethodPost, "/transactions/sale", `{"party_id":`, http.StatusBadRequest},
		{"validation", http.MethodPost, "/transactions/payment", `{"party_id":"sup-1","amount":"0","currency":"TL"}`, http.StatusBadRequest},
		{"unknown party", http.MethodPost, "/transactions/receipt", `{"party_id":"ghost","amount":"10","currency":"TL"}`, http.StatusNotFound},
		{"unknown transaction", http.MethodGet, "/transactions/TRX-20260314-ZZZZ", "", http.StatusNotFound},
		{"unknown product", http.MethodPost, "/products/nope/cost-adjustments", `{"total_cost_has":"1"}`, http.StatusNotFound},
		{"bad date", http.MethodGet, "/parties/cus-1/statement?from=14-03-2026", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, tc.method, srv.URL+tc.path, tc.body, nil)
			require.Equal(t, tc.status, resp.StatusCode)
			var problem httpx.ProblemDetail
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
			require.Equal(t, tc.status, problem.Status)
		})
	}
}

func TestHandlerRebuyingUniqueInStockConflicts(t *testing.T) {
	_, srv := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/transactions/purchase", purchaseBody, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created transactions.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	body := `{"party_id":"sup-1","lines":[{"product_id":"` + created.Transaction.Lines[0].ProductID +
		`","karat_id":"22","weight_gram":"12.5","fineness":"0.916"}]}`
	resp = doJSON(t, http.MethodPost, srv.URL+"/transactions/purchase", body, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	require.Equal(t, http.StatusConflict, problem.Status)
}

func TestHandlerCancelConflict(t *testing.T) {
	_, srv := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/transactions/purchase", purchaseBody, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created transactions.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	cancelURL := srv.URL + "/transactions/" + created.Transaction.Code + "/cancel"
	resp = doJSON(t, http.MethodPost, cancelURL, `{"reason":"hatali giris"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, cancelURL, `{"reason":"hatali giris"}`, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodPatch, srv.URL+"/transactions/"+created.Transaction.Code,
		`{"lines":[{"no":1,"fineness":"0.585"}]}`, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandlerStatementAndReconciliation(t *testing.T) {
	_, srv := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/transactions/purchase", purchaseBody, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/transactions/payment", `{"party_id":"sup-1","amount":"5","currency":"HAS"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/parties/sup-1/statement?from=2026-03-01&to=2026-03-14", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st ledger.Statement
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Len(t, st.Lines, 2)
	requireDec(t, "0", st.OpeningHAS)
	requireDec(t, "6.45", st.ClosingHAS)

	resp = doJSON(t, http.MethodGet, srv.URL+"/ledger/reconciliation", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec struct {
		Consistent bool `json:"consistent"`
		Checked    int  `json:"checked"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.True(t, rec.Consistent)
	require.Equal(t, 2, rec.Checked)
}
