package engine_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oddspool/settle-engine/internal/auth"
	"github.com/oddspool/settle-engine/internal/book"
	"github.com/oddspool/settle-engine/internal/engine"
	"github.com/oddspool/settle-engine/internal/store"
)

// newTestAPI creates a service with an in-memory store mounted on a chi
// router under /api/v1, with a frozen clock.
func newTestAPI(t *testing.T) (chi.Router, *fakeClock) {
	t.Helper()
	ms := store.NewMemoryStore()
	gate := auth.NewStaticGate([]string{admin})
	svc := engine.NewService(ms, gate, book.OnePositionPerMarket, []uint8{2, 5, 10}, nil, nil)

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	svc.SetNow(clock.Now)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return r, clock
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestAPI_FullSettlementFlow(t *testing.T) {
	router, clock := newTestAPI(t)

	// Create a market as admin.
	w := doJSON(t, router, "POST", "/api/v1/markets", engine.CreateMarketRequest{
		Caller:   admin,
		Question: "will the merge ship this quarter",
		Deadline: clock.DeadlineIn(time.Hour),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: %d: %s", w.Code, w.Body.String())
	}
	market := decode[engine.MarketView](t, w)
	if market.ID != 0 || !market.Active || market.Locked {
		t.Fatalf("unexpected market state: %+v", market)
	}

	// Fund two traders.
	for _, addr := range []string{"0xa", "0xb"} {
		w = doJSON(t, router, "POST", "/api/v1/users/"+addr+"/deposit", engine.AmountRequest{Amount: "1000"})
		if w.Code != http.StatusOK {
			t.Fatalf("deposit %s: %d: %s", addr, w.Code, w.Body.String())
		}
	}

	// A bets YES at 5x, B bets NO at 2x.
	w = doJSON(t, router, "POST", "/api/v1/positions", engine.OpenPositionRequest{
		Trader: "0xa", MarketID: 0, SideYes: true, Leverage: 5, Margin: "100",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("open A: %d: %s", w.Code, w.Body.String())
	}
	posA := decode[engine.PositionView](t, w)

	w = doJSON(t, router, "POST", "/api/v1/positions", engine.OpenPositionRequest{
		Trader: "0xb", MarketID: 0, SideYes: false, Leverage: 2, Margin: "100",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("open B: %d: %s", w.Code, w.Body.String())
	}

	// Pools reflect both stakes.
	w = doJSON(t, router, "GET", "/api/v1/markets/0", nil)
	market = decode[engine.MarketView](t, w)
	if market.TotalYesMargin != "100" || market.TotalNoMargin != "100" {
		t.Errorf("margins = %s/%s", market.TotalYesMargin, market.TotalNoMargin)
	}
	if market.TotalYesEffective != "500" || market.TotalNoEffective != "200" {
		t.Errorf("effective = %s/%s", market.TotalYesEffective, market.TotalNoEffective)
	}

	// Resolve YES and claim.
	w = doJSON(t, router, "POST", "/api/v1/markets/0/resolve", engine.ResolveRequest{Caller: admin, OutcomeYes: true})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/positions/0/claim", engine.ClaimRequest{Caller: "0xa"})
	if w.Code != http.StatusOK {
		t.Fatalf("claim: %d: %s", w.Code, w.Body.String())
	}
	claim := decode[map[string]string](t, w)
	if claim["payout"] != "200" {
		t.Errorf("payout = %s, want 200", claim["payout"])
	}

	// Balance reflects the payout, position is marked claimed.
	w = doJSON(t, router, "GET", "/api/v1/users/0xa/balance", nil)
	if b := decode[map[string]string](t, w); b["balance"] != "1100" {
		t.Errorf("balance = %s, want 1100", b["balance"])
	}
	w = doJSON(t, router, "GET", "/api/v1/positions/0", nil)
	if p := decode[engine.PositionView](t, w); !p.Claimed || p.ID != posA.ID {
		t.Errorf("position after claim: %+v", p)
	}
}

func TestAPI_ErrorStatusMapping(t *testing.T) {
	router, clock := newTestAPI(t)

	// Non-admin market creation → 403.
	w := doJSON(t, router, "POST", "/api/v1/markets", engine.CreateMarketRequest{
		Caller: "0xnobody", Question: "q", Deadline: clock.DeadlineIn(time.Hour),
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("unauthorized create = %d, want 403", w.Code)
	}

	// Past deadline → 400.
	w = doJSON(t, router, "POST", "/api/v1/markets", engine.CreateMarketRequest{
		Caller: admin, Question: "q", Deadline: clock.Now().Unix() - 10,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("past deadline = %d, want 400", w.Code)
	}

	// Unknown market → 404.
	w = doJSON(t, router, "GET", "/api/v1/markets/99", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown market = %d, want 404", w.Code)
	}

	// Non-numeric id → 400.
	w = doJSON(t, router, "GET", "/api/v1/markets/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", w.Code)
	}

	// Malformed amount → 400.
	w = doJSON(t, router, "POST", "/api/v1/users/0xa/deposit", engine.AmountRequest{Amount: "1.5e18"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad amount = %d, want 400", w.Code)
	}

	// Overdraw → 409.
	w = doJSON(t, router, "POST", "/api/v1/users/0xa/withdraw", engine.AmountRequest{Amount: "10"})
	if w.Code != http.StatusConflict {
		t.Errorf("overdraw = %d, want 409", w.Code)
	}

	// Lock before the deadline → 409.
	doJSON(t, router, "POST", "/api/v1/markets", engine.CreateMarketRequest{
		Caller: admin, Question: "q", Deadline: clock.DeadlineIn(time.Hour),
	})
	w = doJSON(t, router, "POST", "/api/v1/markets/0/lock", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("early lock = %d, want 409", w.Code)
	}

	// Claim on an unresolved market → 409, wrong owner → 403.
	doJSON(t, router, "POST", "/api/v1/users/0xa/deposit", engine.AmountRequest{Amount: "1000"})
	doJSON(t, router, "POST", "/api/v1/positions", engine.OpenPositionRequest{
		Trader: "0xa", MarketID: 0, SideYes: true, Leverage: 2, Margin: "100",
	})
	w = doJSON(t, router, "POST", "/api/v1/positions/0/claim", engine.ClaimRequest{Caller: "0xa"})
	if w.Code != http.StatusConflict {
		t.Errorf("early claim = %d, want 409", w.Code)
	}
	doJSON(t, router, "POST", "/api/v1/markets/0/resolve", engine.ResolveRequest{Caller: admin, OutcomeYes: true})
	w = doJSON(t, router, "POST", "/api/v1/positions/0/claim", engine.ClaimRequest{Caller: "0xb"})
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign claim = %d, want 403", w.Code)
	}
}

func TestAPI_OddsAndListing(t *testing.T) {
	router, clock := newTestAPI(t)

	doJSON(t, router, "POST", "/api/v1/markets", engine.CreateMarketRequest{
		Caller: admin, Question: "q", Deadline: clock.DeadlineIn(time.Hour),
	})

	w := doJSON(t, router, "GET", "/api/v1/markets/0/odds", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("odds: %d: %s", w.Code, w.Body.String())
	}
	odds := decode[map[string]string](t, w)
	if odds["yes"] != "50" || odds["no"] != "50" {
		t.Errorf("empty market odds = %v, want 50/50", odds)
	}

	w = doJSON(t, router, "GET", "/api/v1/markets", nil)
	markets := decode[[]engine.MarketView](t, w)
	if len(markets) != 1 || markets[0].ID != 0 {
		t.Errorf("listing = %+v", markets)
	}
}

func TestAPI_JournalEndpoint(t *testing.T) {
	router, _ := newTestAPI(t)

	doJSON(t, router, "POST", "/api/v1/users/0xa/deposit", engine.AmountRequest{Amount: "500"})
	doJSON(t, router, "POST", "/api/v1/users/0xa/withdraw", engine.AmountRequest{Amount: "200"})

	w := doJSON(t, router, "GET", "/api/v1/users/0xa/journal", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("journal: %d: %s", w.Code, w.Body.String())
	}
	entries := decode[[]engine.JournalView](t, w)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != "deposit" || entries[0].Amount != "500" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Kind != "withdraw" || entries[1].Amount != "200" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}
