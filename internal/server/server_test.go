package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/liquidity-gateway/internal/feed"
	"github.com/rickgao/liquidity-gateway/internal/metrics"
	"github.com/rickgao/liquidity-gateway/internal/model"
	"github.com/rickgao/liquidity-gateway/internal/store"
)

type fakePrices map[string]model.UsdPrice

func (f fakePrices) Quote(_ context.Context, name string) (model.UsdPrice, bool) {
	q, ok := f[name]
	return q, ok
}

type fakeTickers struct {
	tickers []model.Ticker
	err     error
}

func (f fakeTickers) Tickers(context.Context) ([]model.Ticker, error) { return f.tickers, f.err }

type fakeVolumes struct {
	from, to time.Time
	err      error
}

func (f *fakeVolumes) PairSwapVolumes(_ context.Context, from, to time.Time) ([]model.PairSwapVolume, error) {
	f.from, f.to = from, to
	if f.err != nil {
		return nil, f.err
	}
	return []model.PairSwapVolume{{Pool: "p1", Amount0In: decimal.NewFromInt(1), Amount1In: decimal.NewFromInt(2)}}, nil
}

type fakeFeed feed.Status

func (f fakeFeed) Status() feed.Status { return feed.Status(f) }

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func poolStore() *store.Store[string, model.Pool] {
	s := store.New[string, model.Pool]()
	s.Merge(model.Pool{ID: "p1", Token0: "a", Token1: "b", Reserves0: decimal.NewFromInt(100), Reserves1: decimal.NewFromInt(50), LastUpdateTimestamp: 10})
	return s
}

func TestPoolRoutes(t *testing.T) {
	srv := newTestServer(t, Options{Pools: poolStore()})

	resp, body := get(t, srv.URL+"/api/v1/pools", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var pools map[string]model.Pool
	if err := json.Unmarshal([]byte(body), &pools); err != nil {
		t.Fatalf("decode pools: %v", err)
	}
	if p, ok := pools["p1"]; !ok || p.LastUpdateTimestamp != 10 || !p.Reserves0.Equal(decimal.NewFromInt(100)) {
		t.Errorf("pools = %+v", pools)
	}

	resp, body = get(t, srv.URL+"/api/v1/pools/p1", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"id":"p1"`) {
		t.Errorf("GET pool = %d %s", resp.StatusCode, body)
	}

	resp, _ = get(t, srv.URL+"/api/v1/pools/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing pool status = %d, want 404", resp.StatusCode)
	}
}

func TestBalanceRoutes(t *testing.T) {
	balances := store.NewBalanceStore()
	balances.Merge(model.TokenBalance{Account: "A1", Token: "T1", Amount: decimal.NewFromInt(5), LastUpdateBlockHeight: 1})
	balances.Merge(model.TokenBalance{Account: "A1", Token: "T2", Amount: decimal.NewFromInt(7), LastUpdateBlockHeight: 2})

	srv := newTestServer(t, Options{Balances: balances})

	resp, body := get(t, srv.URL+"/api/v1/balances/A1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var tokens map[string]model.TokenBalance
	if err := json.Unmarshal([]byte(body), &tokens); err != nil {
		t.Fatalf("decode balances: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("tokens = %+v, want T1 and T2", tokens)
	}

	resp, body = get(t, srv.URL+"/api/v1/balances/A1/T2", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"token":"T2"`) {
		t.Errorf("GET balance = %d %s", resp.StatusCode, body)
	}

	for _, path := range []string{"/api/v1/balances/A2", "/api/v1/balances/A1/T3"} {
		if resp, _ := get(t, srv.URL+path, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestDisabledRoutesAreNotFound(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, path := range []string{"/api/v1/pools", "/api/v1/usd_price/azero", "/api/v1/coingecko/tickers"} {
		if resp, _ := get(t, srv.URL+path, nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestPriceRoutes(t *testing.T) {
	srv := newTestServer(t, Options{Prices: fakePrices{
		"azero": {Price: 0.5, LastUpdateTimestampSeconds: 1700000000},
	}})

	resp, body := get(t, srv.URL+"/api/v1/usd_price/azero", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, `"price":0.5`) || !strings.Contains(body, `"lastUpdateTimestampSeconds":1700000000`) {
		t.Errorf("body = %s", body)
	}

	_, body = get(t, srv.URL+"/azero_usd", nil)
	if !strings.Contains(body, `"lastUpdateTimestampMillis":1700000000000`) {
		t.Errorf("legacy body = %s", body)
	}

	if resp, _ := get(t, srv.URL+"/api/v1/usd_price/doge", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown price status = %d, want 404", resp.StatusCode)
	}
}

func TestTickersRoute(t *testing.T) {
	srv := newTestServer(t, Options{Tickers: fakeTickers{tickers: []model.Ticker{{TickerID: "p1", LastPrice: "0"}}}})
	resp, body := get(t, srv.URL+"/api/v1/coingecko/tickers", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ticker_id":"p1"`) {
		t.Errorf("tickers = %d %s", resp.StatusCode, body)
	}

	failing := newTestServer(t, Options{Tickers: fakeTickers{err: errors.New("boom")}})
	resp, body = get(t, failing.URL+"/api/v1/coingecko/tickers", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if strings.Contains(body, "boom") {
		t.Errorf("internal error leaked to client: %s", body)
	}
}

func TestSwapVolumesRoute(t *testing.T) {
	vols := &fakeVolumes{}
	srv := newTestServer(t, Options{Volumes: vols})

	resp, body := get(t, srv.URL+"/api/v1/swap_volumes?fromMillis=1000&toMillis=2000", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"pool":"p1"`) {
		t.Fatalf("swap volumes = %d %s", resp.StatusCode, body)
	}
	if vols.from.UnixMilli() != 1000 || vols.to.UnixMilli() != 2000 {
		t.Errorf("window = [%d, %d), want [1000, 2000)", vols.from.UnixMilli(), vols.to.UnixMilli())
	}

	tests := []struct {
		name  string
		query string
	}{
		{"bad from", "?fromMillis=abc"},
		{"bad to", "?toMillis=1.5"},
		{"inverted", "?fromMillis=5&toMillis=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp, _ := get(t, srv.URL+"/api/v1/swap_volumes"+tt.query, nil); resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		states     []feed.State
		wantStatus string
		wantCode   int
	}{
		{"no feeds", nil, "healthy", http.StatusOK},
		{"streaming", []feed.State{feed.StateStreaming, feed.StateStreaming}, "healthy", http.StatusOK},
		{"bootstrapping", []feed.State{feed.StateStreaming, feed.StateBootstrapping}, "degraded", http.StatusOK},
		{"failed", []feed.State{feed.StateBootstrapping, feed.StateFailed}, "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var feeds []StatusReporter
			for _, st := range tt.states {
				feeds = append(feeds, fakeFeed{Name: "pools", State: st})
			}
			srv := newTestServer(t, Options{Feeds: feeds})

			resp, body := get(t, srv.URL+"/health", nil)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var health struct {
				Status string `json:"status"`
				Feeds  []struct {
					State string `json:"state"`
				} `json:"feeds"`
			}
			if err := json.Unmarshal([]byte(body), &health); err != nil {
				t.Fatalf("decode health: %v", err)
			}
			if health.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", health.Status, tt.wantStatus)
			}
			if len(health.Feeds) != len(tt.states) {
				t.Errorf("feeds = %d, want %d", len(health.Feeds), len(tt.states))
			}
		})
	}
}

type fakeUpstream bool

func (u fakeUpstream) IsConnected() bool { return bool(u) }

func TestHealthReportsUpstream(t *testing.T) {
	tests := []struct {
		name         string
		connected    bool
		wantStatus   string
		wantUpstream string
	}{
		{"connected", true, "healthy", "connected"},
		{"disconnected", false, "degraded", "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Options{
				Feeds:    []StatusReporter{fakeFeed{Name: "pools", State: feed.StateStreaming}},
				Upstream: fakeUpstream(tt.connected),
			})

			resp, body := get(t, srv.URL+"/health", nil)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
			}
			var health struct {
				Status   string `json:"status"`
				Upstream string `json:"upstream"`
			}
			if err := json.Unmarshal([]byte(body), &health); err != nil {
				t.Fatalf("decode health: %v", err)
			}
			if health.Status != tt.wantStatus || health.Upstream != tt.wantUpstream {
				t.Errorf("health = %+v, want status %q upstream %q", health, tt.wantStatus, tt.wantUpstream)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, Options{
		Pools:       poolStore(),
		CORSOrigins: []*regexp.Regexp{regexp.MustCompile(`\.common\.fi$`), regexp.MustCompile(`^http://localhost:[0-9]*$`)},
	})

	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.common.fi", "https://app.common.fi"},
		{"http://localhost:5173", "http://localhost:5173"},
		{"https://evil.example", ""},
	}
	for _, tt := range tests {
		resp, _ := get(t, srv.URL+"/api/v1/pools", http.Header{"Origin": {tt.origin}})
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: Access-Control-Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/pools", nil)
	req.Header.Set("Origin", "https://app.common.fi")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "GET") {
		t.Errorf("Access-Control-Allow-Methods = %q", resp.Header.Get("Access-Control-Allow-Methods"))
	}
}

func TestMetricsInstrumentation(t *testing.T) {
	m := metrics.New(nil)
	srv := newTestServer(t, Options{Pools: poolStore(), Metrics: m})

	get(t, srv.URL+"/api/v1/pools/p1", nil)
	get(t, srv.URL+"/api/v1/pools/missing", nil)

	_, body := get(t, srv.URL+"/metrics", nil)
	for _, want := range []string{
		`gateway_http_requests_total{method="GET",route="/api/v1/pools/{id}",status="2xx"} 1`,
		`gateway_http_requests_total{method="GET",route="/api/v1/pools/{id}",status="4xx"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStreamRoutes(t *testing.T) {
	stream := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, name)
		})
	}
	streams := map[string]http.Handler{
		StreamPools:     stream("pools"),
		StreamTransfers: stream("transfers"),
	}

	ws := httptest.NewServer(New(Options{Streams: streams}).WSHandler())
	defer ws.Close()

	for path, want := range map[string]string{"/ws/pools": "pools", "/ws/transfers": "transfers", "/": "pools"} {
		if _, body := get(t, ws.URL+path, nil); body != want {
			t.Errorf("GET %s = %q, want %q", path, body, want)
		}
	}
	if resp, _ := get(t, ws.URL+"/ws/balances", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unconfigured stream status = %d, want 404", resp.StatusCode)
	}

	shared := newTestServer(t, Options{Streams: streams, SharedListener: true})
	if _, body := get(t, shared.URL+"/ws/pools", nil); body != "pools" {
		t.Errorf("shared GET /ws/pools = %q, want %q", body, "pools")
	}
	if resp, _ := get(t, shared.URL+"/", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("shared GET / status = %d, want 404", resp.StatusCode)
	}
}
