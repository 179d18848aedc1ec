package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/liquidity-gateway/internal/feed"
)

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Pools.Snapshot())
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	pool, ok := s.opts.Pools.Lookup(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	s.writeJSON(w, http.StatusOK, pool)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	tokens, ok := s.opts.Balances.Account(r.PathValue("account"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}
	s.writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, ok := s.opts.Balances.Lookup(r.PathValue("account"), r.PathValue("token"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "balance not found")
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleUsdPrice(w http.ResponseWriter, r *http.Request) {
	quote, ok := s.opts.Prices.Quote(r.Context(), r.PathValue("name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown price")
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// handleAzeroUsd serves the legacy AZERO quote with a millisecond timestamp.
func (s *Server) handleAzeroUsd(w http.ResponseWriter, r *http.Request) {
	quote, ok := s.opts.Prices.Quote(r.Context(), "azero")
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown price")
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Price                     float64 `json:"price"`
		LastUpdateTimestampMillis int64   `json:"lastUpdateTimestampMillis"`
	}{quote.Price, quote.LastUpdateTimestampSeconds * 1000})
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.opts.Tickers.Tickers(r.Context())
	if err != nil {
		s.logger.Warn("tickers failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "tickers unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, tickers)
}

func (s *Server) handleSwapVolumes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := s.now()
	from := to.Add(-24 * time.Hour)

	if v := q.Get("fromMillis"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "fromMillis must be an integer")
			return
		}
		from = time.UnixMilli(ms)
	}
	if v := q.Get("toMillis"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "toMillis must be an integer")
			return
		}
		to = time.UnixMilli(ms)
	}
	if from.After(to) {
		s.writeError(w, http.StatusBadRequest, "fromMillis must not be after toMillis")
		return
	}

	volumes, err := s.opts.Volumes.PairSwapVolumes(r.Context(), from, to)
	if err != nil {
		s.logger.Warn("swap volumes failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "swap volumes unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, volumes)
}

// healthResponse reports overall status and per-feed state. A failed feed
// makes the gateway unhealthy; a feed still bootstrapping or a lost indexer
// connection makes it degraded.
type healthResponse struct {
	Status   string        `json:"status"`
	Upstream string        `json:"upstream,omitempty"`
	Feeds    []feed.Status `json:"feeds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := healthResponse{Status: "healthy", Feeds: make([]feed.Status, 0, len(s.opts.Feeds))}

	for _, f := range s.opts.Feeds {
		st := f.Status()
		health.Feeds = append(health.Feeds, st)
		switch st.State {
		case feed.StateFailed:
			health.Status = "unhealthy"
		case feed.StateIdle, feed.StateBootstrapping:
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	if up := s.opts.Upstream; up != nil {
		health.Upstream = "connected"
		if !up.IsConnected() {
			health.Upstream = "disconnected"
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
