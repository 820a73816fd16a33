package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"memecoin-signal-lab/internal/aggregator"
	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/solana"
	"memecoin-signal-lab/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type coinsResponse struct {
	Coins []*domain.EnrichedCoin `json:"coins"`
	Count int                    `json:"count"`
}

type signalsResponse struct {
	Address string              `json:"address"`
	Signals []*domain.RawSignal `json:"signals"`
}

type factorsResponse struct {
	Address         string                     `json:"address"`
	ParseConfidence float64                    `json:"parse_confidence"`
	Weights         aggregator.Weights         `json:"weights"`
	Factors         aggregator.FactorBreakdown `json:"factors"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	names := make([]string, 0, len(s.opts.Pingers))
	for name := range s.opts.Pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := s.opts.Pingers[name].Ping(r.Context()); err != nil {
			s.log.Warn().Err(err).Str("check", name).Msg("health check failed")
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func (s *Server) listCoins(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	coins, err := s.opts.Coins.Top(r.Context(), limit)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if coins == nil {
		coins = []*domain.EnrichedCoin{}
	}
	writeJSON(w, http.StatusOK, coinsResponse{Coins: coins, Count: len(coins)})
}

func (s *Server) getCoin(w http.ResponseWriter, r *http.Request) {
	address, ok := addressVar(w, r)
	if !ok {
		return
	}
	coin, err := s.opts.Coins.GetByAddress(r.Context(), address)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coin)
}

func (s *Server) coinSignals(w http.ResponseWriter, r *http.Request) {
	if s.opts.Signals == nil {
		writeError(w, http.StatusNotFound, "signal store not configured")
		return
	}
	address, ok := addressVar(w, r)
	if !ok {
		return
	}
	signals, err := s.opts.Signals.GetByCoin(r.Context(), address)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if signals == nil {
		signals = []*domain.RawSignal{}
	}
	writeJSON(w, http.StatusOK, signalsResponse{Address: address, Signals: signals})
}

func (s *Server) coinFactors(w http.ResponseWriter, r *http.Request) {
	address, ok := addressVar(w, r)
	if !ok {
		return
	}
	coin, err := s.opts.Coins.GetByAddress(r.Context(), address)
	if err != nil {
		s.storageError(w, err)
		return
	}

	var parseConf float64
	if s.opts.Signals != nil {
		signals, err := s.opts.Signals.GetByCoin(r.Context(), address)
		if err != nil {
			s.storageError(w, err)
			return
		}
		if len(signals) > 0 {
			parseConf = signals[len(signals)-1].ParseConfidence
		}
	}

	writeJSON(w, http.StatusOK, factorsResponse{
		Address:         address,
		ParseConfidence: parseConf,
		Weights:         s.opts.Aggregator.Scoring().Weights,
		Factors:         s.opts.Aggregator.Factors(coin, parseConf),
	})
}

func addressVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := mux.Vars(r)["address"]
	if err := solana.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract address")
		return "", false
	}
	return address, true
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("storage query failed")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
