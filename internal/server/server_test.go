package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/ledger"
	"github.com/alanyoungcy/stakefund/internal/payout"
	"github.com/alanyoungcy/stakefund/internal/registry"
	"github.com/alanyoungcy/stakefund/internal/server/handler"
	"github.com/alanyoungcy/stakefund/internal/server/middleware"
	"github.com/alanyoungcy/stakefund/internal/service"
	"github.com/alanyoungcy/stakefund/internal/store/memory"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	engineID  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	registry *registry.Static
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := ledger.Open(ctx, memory.NewLedgerStore(), domain.EngineAccount{
		MinBet: decimal.RequireFromString("1"),
	}, logger)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	audit := memory.NewAuditStore()
	reg := registry.NewStatic()
	regRef := service.NewRegistryRef(reg)

	dispatcher := service.NewDispatcher(l, payout.NewLogRail(logger), authority, logger)
	rep := service.NewReputationLedger(l, authority, engineID, decimal.RequireFromString("10"), logger)
	pool := service.NewFundingPool(l, regRef, dispatcher, audit, nil, authority, engineID, service.PoolConfig{}, logger)
	engine := service.NewMarketEngine(l, regRef, rep, pool, dispatcher, authority, engineID, logger)

	s := NewServer(Config{
		Auth: middleware.AuthConfig{Trusted: true},
	}, Handlers{
		Health:     handler.NewHealthHandler("test", nil, logger),
		Markets:    handler.NewMarketHandler(engine, logger),
		Pool:       handler.NewPoolHandler(pool, logger),
		Reputation: handler.NewReputationHandler(rep, logger),
		Admin:      handler.NewAdminHandler(pool, engine, rep, dispatcher, audit, nil, authority, logger),
	}, nil, nil, logger)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testServer{t: t, srv: ts, registry: reg}
}

// do sends a request as who (zero address sends none) and decodes the JSON
// response into out when it is non-nil.
func (s *testServer) do(method, path string, who common.Address, body any, out any) int {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	if who != (common.Address{}) {
		req.Header.Set(middleware.HeaderAddress, who.Hex())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.registry.PutMilestone(domain.Milestone{ID: "ms-1", ProjectID: "p-1", DueAt: time.Now().Add(time.Hour)})

	var m domain.Market
	if code := s.do("POST", "/api/markets", authority, map[string]string{"milestone_id": "ms-1"}, &m); code != http.StatusCreated {
		t.Fatalf("create market: status %d", code)
	}
	if m.ID != 1 || m.Status != domain.MarketStatusOpen {
		t.Fatalf("unexpected market %+v", m)
	}

	var aliceBet domain.Bet
	if code := s.do("POST", "/api/markets/1/bets", alice, map[string]string{"side": "yes", "amount": "10"}, &aliceBet); code != http.StatusCreated {
		t.Fatalf("alice bet: status %d", code)
	}
	if code := s.do("POST", "/api/markets/1/bets", bob, map[string]string{"side": "no", "amount": "5"}, nil); code != http.StatusCreated {
		t.Fatalf("bob bet: status %d", code)
	}
	if code := s.do("POST", "/api/markets/1/bets", bob, map[string]string{"side": "no", "amount": "5"}, nil); code != http.StatusConflict && code != http.StatusUnprocessableEntity {
		t.Fatalf("second bet: status %d", code)
	}

	if code := s.do("POST", "/api/markets/1/close", authority, nil, nil); code != http.StatusOK {
		t.Fatalf("close: status %d", code)
	}
	if err := s.registry.Resolve("ms-1", true); err != nil {
		t.Fatalf("resolve milestone: %v", err)
	}
	if code := s.do("POST", "/api/markets/1/resolve", authority, map[string]bool{"outcome": true}, nil); code != http.StatusOK {
		t.Fatalf("resolve: status %d", code)
	}

	var claimable struct {
		Claimable decimal.Decimal `json:"claimable"`
	}
	path := "/api/bets/" + strconv.FormatUint(aliceBet.ID, 10)
	if code := s.do("GET", path+"/claimable", common.Address{}, nil, &claimable); code != http.StatusOK {
		t.Fatalf("claimable: status %d", code)
	}
	if !claimable.Claimable.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("claimable = %s, want 15", claimable.Claimable)
	}

	if code := s.do("POST", path+"/claim", bob, nil, nil); code != http.StatusForbidden {
		t.Fatalf("claim by non-owner: status %d, want 403", code)
	}
	var claim service.ClaimResult
	if code := s.do("POST", path+"/claim", alice, nil, &claim); code != http.StatusOK {
		t.Fatalf("claim: status %d", code)
	}
	if !claim.Bet.Claimed || !claim.Bet.Reward.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("unexpected claim %+v", claim.Bet)
	}
	if code := s.do("POST", path+"/claim", alice, nil, nil); code != http.StatusConflict {
		t.Fatalf("second claim: status %d, want 409", code)
	}

	var stats map[string]any
	if code := s.do("GET", "/api/users/"+alice.Hex()+"/stats", common.Address{}, nil, &stats); code != http.StatusOK {
		t.Fatalf("stats: status %d", code)
	}
	if stats["win_rate_bps"] != float64(10000) {
		t.Fatalf("win_rate_bps = %v, want 10000", stats["win_rate_bps"])
	}
}

func TestMutationsRequireCaller(t *testing.T) {
	s := newTestServer(t)
	if code := s.do("POST", "/api/markets", common.Address{}, map[string]string{"milestone_id": "ms-1"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous create: status %d, want 401", code)
	}
	if code := s.do("POST", "/api/admin/pause", alice, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("pause by non-authority: status %d, want 401", code)
	}
	if code := s.do("GET", "/api/admin/audit", alice, nil, nil); code != http.StatusForbidden && code != http.StatusUnauthorized {
		t.Fatalf("audit by non-authority: status %d", code)
	}
}

func TestPausedPoolAnswersLocked(t *testing.T) {
	s := newTestServer(t)
	if code := s.do("POST", "/api/admin/pause", authority, nil, nil); code != http.StatusOK {
		t.Fatalf("pause: status %d", code)
	}
	code := s.do("POST", "/api/pool/allocations", authority, map[string]string{"project_id": "p-1", "amount": "1"}, nil)
	if code != http.StatusLocked {
		t.Fatalf("allocate while paused: status %d, want 423", code)
	}
	var stats service.PoolStats
	if code := s.do("GET", "/api/pool/stats", common.Address{}, nil, &stats); code != http.StatusOK {
		t.Fatalf("stats: status %d", code)
	}
	if !stats.Paused {
		t.Fatal("pool stats should report paused")
	}
}

func TestUnknownRouteAndHealth(t *testing.T) {
	s := newTestServer(t)
	if code := s.do("GET", "/api/health", common.Address{}, nil, nil); code != http.StatusOK {
		t.Fatalf("health: status %d", code)
	}
	if code := s.do("GET", "/api/markets/99", common.Address{}, nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing market: status %d, want 404", code)
	}
	if code := s.do("GET", "/api/markets/abc", common.Address{}, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad id: status %d, want 400", code)
	}
}

func TestAdminReadsAreAuthorityOnly(t *testing.T) {
	s := newTestServer(t)

	if code := s.do("GET", "/api/admin/audit", alice, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("audit as alice: status %d", code)
	}
	var audit struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	if code := s.do("GET", "/api/admin/audit", authority, nil, &audit); code != http.StatusOK {
		t.Fatalf("audit as authority: status %d", code)
	}
	if code := s.do("GET", "/api/admin/archives/audit", alice, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("archives as alice: status %d", code)
	}
	if code := s.do("GET", "/api/admin/archives/audit", authority, nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("archives without s3: status %d", code)
	}
}
