// Package httpapi is a gorilla/mux router with rs/cors wrapping,
// bearer-token auth, and handlers that do nothing but translate JSON
// to/from the core packages.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/recallnet/trading-simulator/internal/aggregator"
	"github.com/recallnet/trading-simulator/internal/chainaddr"
	"github.com/recallnet/trading-simulator/internal/config"
	"github.com/recallnet/trading-simulator/internal/portfolio"
	"github.com/recallnet/trading-simulator/internal/store"
	"github.com/recallnet/trading-simulator/internal/team"
	"github.com/recallnet/trading-simulator/internal/trade"
)

type ctxKey int

const teamCtxKey ctxKey = iota

var metricsHandler = promhttp.Handler()

type Server struct {
	cfg       *config.Config
	db        *store.Store
	agg       *aggregator.Aggregator
	engine    *trade.Engine
	valuator  *portfolio.Valuator
	registry  *team.Registry
	router    *mux.Router
}

func New(cfg *config.Config, db *store.Store, agg *aggregator.Aggregator, engine *trade.Engine, valuator *portfolio.Valuator, registry *team.Registry) *Server {
	s := &Server{cfg: cfg, db: db, agg: agg, engine: engine, valuator: valuator, registry: registry}
	s.router = s.buildRouter()
	return s
}

// Handler returns the fully wrapped (CORS + routing) http.Handler.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(s.router)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/teams/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	r.HandleFunc("/trade/execute", s.auth(s.handleExecuteTrade)).Methods(http.MethodPost)
	r.HandleFunc("/trade/quote", s.auth(s.handleQuote)).Methods(http.MethodGet)
	r.HandleFunc("/account/balances", s.auth(s.handleBalances)).Methods(http.MethodGet)
	r.HandleFunc("/account/portfolio", s.auth(s.handlePortfolio)).Methods(http.MethodGet)
	r.HandleFunc("/account/trades", s.auth(s.handleTrades)).Methods(http.MethodGet)
	r.HandleFunc("/price", s.auth(s.handlePrice)).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// auth resolves the Authorization: Bearer <token> header to a team and
// stashes it in the request context, returning 401 on any failure.
func (s *Server) auth(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := header[len(prefix):]
		t, err := s.registry.Authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), teamCtxKey, t)
		next(w, r.WithContext(ctx))
	}
}

func teamFromContext(r *http.Request) *store.Team {
	t, _ := r.Context().Value(teamCtxKey).(*store.Team)
	return t
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	t, err := s.registry.Register(body.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register team")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"teamId": t.ID, "apiToken": t.APIToken})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metricsHandler.ServeHTTP(w, r)
}

type tradeRequest struct {
	FromToken             string   `json:"fromToken"`
	ToToken               string   `json:"toToken"`
	Amount                float64  `json:"amount"`
	Reason                string   `json:"reason"`
	SlippageTolerance     *float64 `json:"slippageTolerance"`
	FromChain             string   `json:"fromChain"`
	ToChain               string   `json:"toChain"`
	FromSpecificChain     string   `json:"fromSpecificChain"`
	ToSpecificChain       string   `json:"toSpecificChain"`
}

func (req tradeRequest) chainOptions() trade.ChainOptions {
	return trade.ChainOptions{
		FromChain:         config.Chain(req.FromChain),
		ToChain:           config.Chain(req.ToChain),
		FromSpecificChain: config.SpecificChain(req.FromSpecificChain),
		ToSpecificChain:   config.SpecificChain(req.ToSpecificChain),
	}
}

func (s *Server) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	team := teamFromContext(r)
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	comp, err := s.db.GetActiveCompetition()
	if err != nil || comp == nil {
		writeError(w, http.StatusBadRequest, "no active competition")
		return
	}

	tr, err := s.engine.ExecuteTrade(r.Context(), trade.ExecuteParams{
		TeamID: team.ID, CompetitionID: comp.ID,
		FromToken: req.FromToken, ToToken: req.ToToken, FromAmount: req.Amount,
		Reason: req.Reason, SlippageToleranceCap: req.SlippageTolerance,
		ChainOptions: req.chainOptions(),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transaction": tr})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	team := teamFromContext(r)
	q := r.URL.Query()
	amount, _ := strconv.ParseFloat(q.Get("amount"), 64)

	res, err := s.engine.Quote(r.Context(), trade.QuoteParams{
		TeamID: team.ID, FromToken: q.Get("fromToken"), ToToken: q.Get("toToken"), FromAmount: amount,
		ChainOptions: trade.ChainOptions{
			FromChain: config.Chain(q.Get("fromChain")), ToChain: config.Chain(q.Get("toChain")),
			FromSpecificChain: config.SpecificChain(q.Get("fromSpecificChain")),
			ToSpecificChain:   config.SpecificChain(q.Get("toSpecificChain")),
		},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fromToken": res.FromToken, "toToken": res.ToToken, "fromAmount": res.FromAmount,
		"toAmount": res.ToAmount, "exchangeRate": res.ExchangeRate, "slippage": res.Slippage,
		"prices": map[string]float64{"fromToken": res.FromPriceUSD, "toToken": res.ToPriceUSD},
		"chains": map[string]config.Chain{"fromChain": res.FromChain, "toChain": res.ToChain},
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	team := teamFromContext(r)
	balances, err := s.db.GetBalances(team.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load balances")
		return
	}
	out := make([]map[string]interface{}, 0, len(balances))
	for _, b := range balances {
		out = append(out, map[string]interface{}{"token": b.TokenAddress, "amount": b.Amount})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "teamId": team.ID, "balances": out})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	team := teamFromContext(r)
	total, breakdown, err := s.valuator.ValueWithBreakdown(r.Context(), team.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to value portfolio")
		return
	}
	tokens := make([]map[string]interface{}, 0, len(breakdown))
	for _, b := range breakdown {
		tokens = append(tokens, map[string]interface{}{
			"token": b.TokenAddress, "amount": b.Amount, "price": b.PriceUSD, "value": b.ValueUSD,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"totalValue": total, "tokens": tokens})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	team := teamFromContext(r)
	trades, err := s.db.GetTradesForTeam(team.ID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	chainHint := config.Chain(q.Get("chain"))
	scHint := config.SpecificChain(q.Get("specificChain"))
	if chainHint == "" {
		chainHint = chainaddr.Classify(token)
	}

	res, err := s.agg.GetPrice(r.Context(), token, chainHint, scHint)
	if err != nil || res == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "token": token})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true, "price": res.PriceUSD, "chain": res.Chain, "specificChain": res.SpecificChain, "token": token,
	})
}
