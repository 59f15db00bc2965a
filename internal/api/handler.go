// Package api exposes the tick engine over HTTP: the manual trigger, tick
// history, on-demand net worth, the leaderboard, and operator audits.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marketsim/tick-engine/internal/audit"
	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/networth"
	"github.com/marketsim/tick-engine/internal/store"
	"github.com/marketsim/tick-engine/internal/tick"
)

// AdminTokenHeader carries the operator token on privileged routes.
const AdminTokenHeader = "X-Admin-Token"

const (
	defaultHistoryLimit     = 100
	maxHistoryLimit         = 1000
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	defaultBarLimit         = 100
	maxBarLimit             = 1000
)

// Handler serves the /api/v1 routes.
type Handler struct {
	engine     *tick.Engine
	store      store.Store
	calc       *networth.Calculator
	adminToken string
	pageSize   int
	logger     *slog.Logger
}

// NewHandler creates a Handler. An empty adminToken leaves the privileged
// routes open, which is only meant for local development.
func NewHandler(engine *tick.Engine, st store.Store, adminToken string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:     engine,
		store:      st,
		calc:       networth.NewCalculator(st),
		adminToken: adminToken,
		pageSize:   1000,
		logger:     logger,
	}
}

// Register mounts the handlers on r, which is expected to be the /api/v1
// sub-router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ticks", h.ListTicks)
	r.Get("/ticks/last", h.LastTick)
	r.Get("/players/{playerID}/net-worth", h.PlayerNetWorth)
	r.Get("/leaderboard", h.Leaderboard)
	r.Get("/prices/{kind}/{assetID}/bars", h.PriceBars)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/ticks", h.TriggerTick)
		r.Get("/audit/negative-balances", h.NegativeBalances)
	})
}

// --- Response types ---

// NetWorthResponse is the body of GET /players/{playerID}/net-worth.
type NetWorthResponse struct {
	PlayerID       string             `json:"player_id"`
	CachedNetWorth int64              `json:"cached_net_worth"`
	Breakdown      networth.Breakdown `json:"breakdown"`
}

// LeaderboardEntry is one row of GET /leaderboard.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	NetWorth int64  `json:"net_worth"`
}

// --- HTTP Handlers ---

// TriggerTick handles POST /api/v1/ticks.
func (h *Handler) TriggerTick(w http.ResponseWriter, r *http.Request) {
	// A tick must not stop half way because the caller hung up.
	ctx := context.WithoutCancel(r.Context())

	res, err := h.engine.RunTick(ctx)
	if errors.Is(err, tick.ErrTickInProgress) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error("manual tick failed", "err", err)
		writeError(w, "tick failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListTicks handles GET /api/v1/ticks?limit=N.
func (h *Handler) ListTicks(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		return
	}
	ticks, err := h.engine.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("tick history", "err", err)
		writeError(w, "failed to load tick history", http.StatusInternalServerError)
		return
	}
	if ticks == nil {
		ticks = []model.TickRecord{}
	}
	writeJSON(w, http.StatusOK, ticks)
}

// LastTick handles GET /api/v1/ticks/last. The body is null before the
// first tick.
func (h *Handler) LastTick(w http.ResponseWriter, r *http.Request) {
	last, err := h.engine.LastTick(r.Context())
	if err != nil {
		h.logger.Error("last tick", "err", err)
		writeError(w, "failed to load last tick", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// PlayerNetWorth handles GET /api/v1/players/{playerID}/net-worth.
func (h *Handler) PlayerNetWorth(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	player, b, err := h.calc.ForPlayer(r.Context(), playerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "player not found", http.StatusNotFound)
		return
	case errors.Is(err, networth.ErrOverflow):
		writeError(w, "net worth out of range", http.StatusUnprocessableEntity)
		return
	case err != nil:
		h.logger.Error("net worth", "player_id", playerID, "err", err)
		writeError(w, "failed to compute net worth", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, NetWorthResponse{
		PlayerID:       player.ID,
		CachedNetWorth: player.NetWorth,
		Breakdown:      b,
	})
}

// Leaderboard handles GET /api/v1/leaderboard?limit=N.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultLeaderboardLimit, maxLeaderboardLimit)
	if !ok {
		return
	}
	players, err := h.store.TopPlayersByNetWorth(r.Context(), limit)
	if err != nil {
		h.logger.Error("leaderboard", "err", err)
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}

	out := make([]LeaderboardEntry, len(players))
	for i, p := range players {
		out[i] = LeaderboardEntry{Rank: i + 1, PlayerID: p.ID, Name: p.Name, NetWorth: p.NetWorth}
	}
	writeJSON(w, http.StatusOK, out)
}

// PriceBars handles GET /api/v1/prices/{kind}/{assetID}/bars?limit=N.
func (h *Handler) PriceBars(w http.ResponseWriter, r *http.Request) {
	kind := model.AssetKind(chi.URLParam(r, "kind"))
	if kind != model.AssetStock && kind != model.AssetCrypto {
		writeError(w, "kind must be stock or crypto", http.StatusBadRequest)
		return
	}
	limit, ok := parseLimit(w, r, defaultBarLimit, maxBarLimit)
	if !ok {
		return
	}

	bars, err := h.store.ListPriceBars(r.Context(), kind, chi.URLParam(r, "assetID"), limit)
	if err != nil {
		h.logger.Error("price bars", "err", err)
		writeError(w, "failed to load price bars", http.StatusInternalServerError)
		return
	}
	if bars == nil {
		bars = []model.PriceBar{}
	}
	writeJSON(w, http.StatusOK, bars)
}

// NegativeBalances handles GET /api/v1/audit/negative-balances.
func (h *Handler) NegativeBalances(w http.ResponseWriter, r *http.Request) {
	out, err := audit.NegativeBalances(r.Context(), h.store, h.pageSize, h.logger)
	if err != nil {
		h.logger.Error("negative balance audit", "err", err)
		writeError(w, "audit failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Helpers ---

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken != "" {
			got := r.Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
				writeError(w, "admin token required", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request, def, maxLimit int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
