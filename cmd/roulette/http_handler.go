package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/configstore"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/ledger"
	"github.com/rahul3988/game-sub000/internal/scheduler"
	"github.com/rahul3988/game-sub000/internal/settlement"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/common/logger"
	"github.com/rahul3988/game-sub000/pkg/model"
)

const (
	userHeader  = "X-User-ID"
	adminHeader = "X-Admin-Token"
)

var validate = validator.New()

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Running   bool      `json:"scheduler_running"`
	Store     string    `json:"store"`
}

type APIErrorResponse struct {
	Status    string    `json:"status"`
	Code      string    `json:"code"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// RoundView is a round with its public fairness data. ServerSeed stays empty
// until the seed is revealed.
type RoundView struct {
	*model.Round
	ServerSeedHash string `json:"server_seed_hash,omitempty"`
	ServerSeed     string `json:"server_seed,omitempty"`
	ClientSeed     string `json:"client_seed,omitempty"`
	Nonce          int64  `json:"nonce"`
}

type CurrentRoundResponse struct {
	Round            RoundView          `json:"round"`
	RemainingSeconds int                `json:"remaining_seconds"`
	Distribution     *game.Distribution `json:"distribution,omitempty"`
}

type RoundDetailResponse struct {
	Round RoundView    `json:"round"`
	Bets  []*model.Bet `json:"bets"`
}

type RoundListResponse struct {
	Rounds []RoundView `json:"rounds"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type PlaceBetRequest struct {
	RoundID string `json:"round_id" validate:"omitempty,uuid"`
	Kind    string `json:"kind"     validate:"required"`
	Value   string `json:"value"    validate:"required"`
	Amount  string `json:"amount"   validate:"required,numeric"`
}

type DepositRequest struct {
	Amount    string `json:"amount"    validate:"required,numeric"`
	Reference string `json:"reference" validate:"omitempty,max=128"`
}

type EmergencyStopRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}

type HandlerOptions struct {
	Version     string
	Environment string
	AdminToken  string
	Store       store.Store
	Cache       cache.Cache
	Ledger      *ledger.BetLedger
	Engine      *settlement.Engine
	Scheduler   *scheduler.Scheduler
	Settings    *configstore.Store
	Hub         http.Handler
	Clock       clockwork.Clock
}

type RouletteHTTPHandler struct {
	version     string
	environment string
	adminToken  string
	store       store.Store
	cache       cache.Cache
	ledger      *ledger.BetLedger
	engine      *settlement.Engine
	scheduler   *scheduler.Scheduler
	settings    *configstore.Store
	hub         http.Handler
	clock       clockwork.Clock
}

func NewRouletteHTTPHandler(opts HandlerOptions) *RouletteHTTPHandler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &RouletteHTTPHandler{
		version:     opts.Version,
		environment: opts.Environment,
		adminToken:  opts.AdminToken,
		store:       opts.Store,
		cache:       opts.Cache,
		ledger:      opts.Ledger,
		engine:      opts.Engine,
		scheduler:   opts.Scheduler,
		settings:    opts.Settings,
		hub:         opts.Hub,
		clock:       opts.Clock,
	}
}

func (h *RouletteHTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", h.HandleHealth)
	if h.hub != nil {
		r.Handle("/ws", h.hub)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/rounds/current", h.HandleCurrentRound)
		r.Get("/rounds", h.HandleListRounds)
		r.Get("/rounds/{roundID}", h.HandleGetRound)
		r.Get("/rounds/{roundID}/verify", h.HandleVerifyRound)
		r.Get("/accounts/{userID}", h.HandleGetAccount)
		r.Post("/bets", h.HandlePlaceBet)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/status", h.HandleStatus)
			r.Post("/start", h.HandleStart)
			r.Post("/stop", h.HandleStop)
			r.Post("/emergency-stop", h.HandleEmergencyStop)
			r.Get("/config", h.HandleGetConfig)
			r.Put("/config", h.HandleUpdateConfig)
			r.Post("/accounts/{userID}/deposit", h.HandleDeposit)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireAdmin checks the admin token. Without a configured token the admin
// API is open outside production and closed in it.
func (h *RouletteHTTPHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			if h.environment == constant.EnvProduction {
				writeErrorJSON(w, http.StatusForbidden, "ADMIN_DISABLED", "admin api is disabled")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get(adminHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeErrorJSON(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *RouletteHTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Running:   h.scheduler.Running(),
		Store:     "ok",
	}
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status, resp.Store = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// --- public --- //

func (h *RouletteHTTPHandler) currentRound(ctx context.Context) (*model.Round, error) {
	round, err := h.cache.CurrentRound(ctx)
	if err == nil {
		return round, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		logger.Warn("Read cached round failed", "err", err)
	}
	return h.store.LatestRound(ctx)
}

func (h *RouletteHTTPHandler) HandleCurrentRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.currentRound(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := CurrentRoundResponse{
		Round:            h.view(r.Context(), round),
		RemainingSeconds: remainingSeconds(round, h.clock.Now()),
	}
	if !round.Phase.IsTerminal() {
		dist, err := h.ledger.GetDistribution(r.Context(), round.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Distribution = &dist
	}
	writeJSON(w, http.StatusOK, resp)
}

// remainingSeconds counts down to the end of the current timed phase.
func remainingSeconds(round *model.Round, now time.Time) int {
	var deadline time.Time
	switch round.Phase {
	case enum.PhaseBetting:
		deadline = round.BettingEnd
	case enum.PhaseSpinning:
		if round.SpinStart != nil {
			deadline = round.SpinStart.Add(round.SpinDuration)
		}
	}
	if deadline.IsZero() || !deadline.After(now) {
		return 0
	}
	return int((deadline.Sub(now) + time.Second - 1) / time.Second)
}

func (h *RouletteHTTPHandler) HandleListRounds(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRoundFilter(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	rounds, err := h.store.ListRounds(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RoundListResponse{
		Rounds: lo.Map(rounds, func(round *model.Round, _ int) RoundView { return h.view(r.Context(), round) }),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func parseRoundFilter(r *http.Request) (store.RoundFilter, error) {
	q := r.URL.Query()
	var filter store.RoundFilter

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return filter, fmt.Errorf("%s must be a non-negative integer", p.name)
		}
		*p.dst = v
	}

	if raw := strings.TrimSpace(q.Get("phase")); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			phase := enum.Phase(strings.ToUpper(strings.TrimSpace(p)))
			if !phase.IsValid() {
				return filter, fmt.Errorf("unknown phase %q", p)
			}
			filter.Phases = append(filter.Phases, phase)
		}
	}
	return filter.Normalize(), nil
}

func (h *RouletteHTTPHandler) HandleGetRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.store.GetRound(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, err)
		return
	}
	bets, err := h.store.RoundBets(r.Context(), round.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RoundDetailResponse{Round: h.view(r.Context(), round), Bets: bets})
}

func (h *RouletteHTTPHandler) HandleVerifyRound(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.VerifyRound(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		settlement.Verification
		Valid bool `json:"valid"`
	}{v, v.Valid()})
}

func (h *RouletteHTTPHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.store.GetAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// view attaches the round's fairness data. The server seed only appears once
// revealed.
func (h *RouletteHTTPHandler) view(ctx context.Context, round *model.Round) RoundView {
	v := RoundView{Round: round}
	seed, err := h.store.GetSeed(ctx, round.ID)
	if err != nil {
		if !errors.Is(err, store.ErrSeedNotFound) {
			logger.Warn("Load round seed failed", "round", round.Number, "err", err)
		}
		return v
	}
	v.ServerSeedHash = seed.ServerSeedHash
	v.ServerSeed = seed.Revealed()
	v.ClientSeed = seed.ClientSeed
	v.Nonce = seed.Nonce
	return v
}

// --- player --- //

func (h *RouletteHTTPHandler) HandlePlaceBet(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		writeErrorJSON(w, http.StatusUnauthorized, "MISSING_USER", userHeader+" header is required")
		return
	}

	var req PlaceBetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", game.ErrAmountOutOfRange, err))
		return
	}

	roundID := req.RoundID
	if roundID == "" {
		current, err := h.currentRound(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		roundID = current.ID
	}

	bet, err := h.ledger.PlaceBet(r.Context(), ledger.PlaceBetRequest{
		UserID:  userID,
		RoundID: roundID,
		Kind:    enum.BetKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		Value:   req.Value,
		Amount:  amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// --- admin --- //

func (h *RouletteHTTPHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *RouletteHTTPHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Start(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *RouletteHTTPHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if h.scheduler.Running() {
		h.scheduler.Stop()
	}
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *RouletteHTTPHandler) HandleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req EmergencyStopRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	report, err := h.scheduler.EmergencyStop(context.WithoutCancel(r.Context()), req.Reason)
	if err != nil {
		logger.Error("Emergency stop incomplete", "reason", req.Reason, "err", err)
		writeJSON(w, http.StatusInternalServerError, struct {
			scheduler.EmergencyReport
			Error string `json:"error"`
		}{report, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *RouletteHTTPHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Current())
}

func (h *RouletteHTTPHandler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch configstore.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	next, err := h.settings.Update(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (h *RouletteHTTPHandler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", game.ErrAmountOutOfRange, err))
		return
	}
	account, err := h.ledger.Deposit(r.Context(), chi.URLParam(r, "userID"), amount, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// --- helpers --- //

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case game.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, game.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, game.ErrRoundNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrBetNotFound),
		errors.Is(err, store.ErrSeedNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrBettingClosed), errors.Is(err, game.ErrPhaseViolation):
		return http.StatusConflict
	case errors.Is(err, game.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return "ACCOUNT_NOT_FOUND"
	case errors.Is(err, store.ErrBetNotFound):
		return "BET_NOT_FOUND"
	case errors.Is(err, store.ErrSeedNotFound):
		return "SEED_NOT_FOUND"
	default:
		return game.Code(err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "status", status, "err", err)
	}
	writeErrorJSON(w, status, errorCode(err), err.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "status", statusCode, "err", err)
	}
}

func writeErrorJSON(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, APIErrorResponse{
		Status:    "error",
		Code:      code,
		Error:     message,
		Timestamp: time.Now().UTC(),
	})
}
