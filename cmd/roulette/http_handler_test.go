package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/configstore"
	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/fairness"
	"github.com/rahul3988/game-sub000/internal/ledger"
	"github.com/rahul3988/game-sub000/internal/scheduler"
	"github.com/rahul3988/game-sub000/internal/settlement"
	"github.com/rahul3988/game-sub000/internal/store/memory"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/common/logger"
	"github.com/rahul3988/game-sub000/pkg/model"
)

type testServer struct {
	handler   http.Handler
	clock     *clockwork.FakeClock
	store     *memory.Store
	scheduler *scheduler.Scheduler
}

func newTestServer(t *testing.T, env, adminToken string) *testServer {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	st := memory.New()
	c := cache.NewMemory(clk.Now)
	bus := events.NewBus(clk.Now)

	settings, err := configstore.New(nil, configstore.Settings{
		BettingDuration:    30 * time.Second,
		SpinDuration:       10 * time.Second,
		ResultDuration:     5 * time.Second,
		MinBet:             decimal.NewFromInt(10),
		MaxBet:             decimal.NewFromInt(1000),
		PayoutMultiplier:   decimal.NewFromInt(9),
		CashbackPercentage: decimal.Zero,
		MaxExposure:        decimal.Zero,
		DigitSource:        enum.DigitSourceLeastWagered,
	}, logger.Discard())
	require.NoError(t, err)

	engine := settlement.NewEngine(settlement.Options{Store: st, Cache: c, Bus: bus, Clock: clk, Logger: logger.Discard()})
	led := ledger.New(ledger.Options{Store: st, Cache: c, Bus: bus, Clock: clk, CloseDelay: time.Second, Logger: logger.Discard()})
	sched := scheduler.New(scheduler.Options{
		Store:    st,
		Cache:    c,
		Bus:      bus,
		Clock:    clk,
		Settler:  engine,
		Settings: settings,
		Seeds:    fairness.NewOracle(),
		Logger:   logger.Discard(),
	})

	h := NewRouletteHTTPHandler(HandlerOptions{
		Version:     "test",
		Environment: env,
		AdminToken:  adminToken,
		Store:       st,
		Cache:       c,
		Ledger:      led,
		Engine:      engine,
		Scheduler:   sched,
		Settings:    settings,
		Clock:       clk,
	})
	return &testServer{handler: h.Routes(), clock: clk, store: st, scheduler: sched}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "dev", "")
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Store)
	assert.False(t, resp.Running)
}

func TestHealthReportsStoreOutage(t *testing.T) {
	s := newTestServer(t, "dev", "")
	s.store.FailNext("Ping", errors.New("connection refused"))

	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Store, "connection refused")

	rec = s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlaceBetFlow(t *testing.T) {
	s := newTestServer(t, "dev", "")

	rec := s.do(t, http.MethodPost, "/api/admin/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/admin/accounts/alice/deposit", DepositRequest{Amount: "100"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	user := map[string]string{userHeader: "alice"}

	rec = s.do(t, http.MethodPost, "/api/bets", PlaceBetRequest{Kind: "digit", Value: "3", Amount: "50"}, user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bet := decodeBody[model.Bet](t, rec)
	assert.Equal(t, enum.BetKindDigit, bet.Kind)
	assert.True(t, bet.PotentialPayout.Equal(decimal.NewFromInt(450)))

	rec = s.do(t, http.MethodGet, "/api/rounds/current", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeBody[CurrentRoundResponse](t, rec)
	assert.Equal(t, enum.PhaseBetting, current.Round.Phase)
	assert.Equal(t, 30, current.RemainingSeconds)
	assert.NotEmpty(t, current.Round.ServerSeedHash)
	assert.Empty(t, current.Round.ServerSeed)
	require.NotNil(t, current.Distribution)
	assert.True(t, current.Distribution.Digits[3].Amount.Equal(decimal.NewFromInt(50)))

	rec = s.do(t, http.MethodGet, "/api/accounts/alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	account := decodeBody[model.Account](t, rec)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(50)))
}

func TestPlaceBetRejections(t *testing.T) {
	s := newTestServer(t, "dev", "")
	s.do(t, http.MethodPost, "/api/admin/start", nil, nil)
	s.do(t, http.MethodPost, "/api/admin/accounts/bob/deposit", DepositRequest{Amount: "20"}, nil)
	user := map[string]string{userHeader: "bob"}

	tests := []struct {
		name   string
		req    PlaceBetRequest
		header map[string]string
		status int
		code   string
	}{
		{"missing user", PlaceBetRequest{Kind: "DIGIT", Value: "1", Amount: "10"}, nil, http.StatusUnauthorized, "MISSING_USER"},
		{"bad kind", PlaceBetRequest{Kind: "SUIT", Value: "1", Amount: "10"}, user, http.StatusBadRequest, "INVALID_BET_KIND"},
		{"bad value", PlaceBetRequest{Kind: "COLOR", Value: "green", Amount: "10"}, user, http.StatusBadRequest, "INVALID_BET_VALUE"},
		{"below min", PlaceBetRequest{Kind: "PARITY", Value: "odd", Amount: "5"}, user, http.StatusBadRequest, "AMOUNT_OUT_OF_RANGE"},
		{"insufficient", PlaceBetRequest{Kind: "PARITY", Value: "odd", Amount: "50"}, user, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"unknown round", PlaceBetRequest{RoundID: "5f0c6a3e-3c1f-4a53-9d7e-0b6a0b7d9a11", Kind: "DIGIT", Value: "1", Amount: "10"}, user, http.StatusNotFound, "ROUND_NOT_FOUND"},
		{"non numeric amount", PlaceBetRequest{Kind: "DIGIT", Value: "1", Amount: "ten"}, user, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/bets", tt.req, tt.header)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[APIErrorResponse](t, rec).Code)
		})
	}

	s.clock.Advance(31 * time.Second)
	rec := s.do(t, http.MethodPost, "/api/bets", PlaceBetRequest{Kind: "DIGIT", Value: "1", Amount: "10"}, user)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BETTING_CLOSED", decodeBody[APIErrorResponse](t, rec).Code)
}

func TestAdminToken(t *testing.T) {
	s := newTestServer(t, "prod", "s3cret")

	rec := s.do(t, http.MethodGet, "/api/admin/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/status", nil, map[string]string{adminHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	closed := newTestServer(t, "prod", "")
	rec = closed.do(t, http.MethodGet, "/api/admin/status", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateConfig(t *testing.T) {
	s := newTestServer(t, "dev", "")

	rec := s.do(t, http.MethodPut, "/api/admin/config", map[string]string{"betting_duration": "20s", "max_bet": "500"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settings := decodeBody[configstore.Settings](t, rec)
	assert.Equal(t, 20*time.Second, settings.BettingDuration)
	assert.True(t, settings.MaxBet.Equal(decimal.NewFromInt(500)))

	rec = s.do(t, http.MethodPut, "/api/admin/config", map[string]string{"max_bet": "1"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SETTINGS", decodeBody[APIErrorResponse](t, rec).Code)
}

func TestEmergencyStopEndpoint(t *testing.T) {
	s := newTestServer(t, "dev", "")
	s.do(t, http.MethodPost, "/api/admin/start", nil, nil)
	s.do(t, http.MethodPost, "/api/admin/accounts/carol/deposit", DepositRequest{Amount: "100"}, nil)
	s.do(t, http.MethodPost, "/api/bets", PlaceBetRequest{Kind: "COLOR", Value: "red", Amount: "40"}, map[string]string{userHeader: "carol"})

	rec := s.do(t, http.MethodPost, "/api/admin/emergency-stop", EmergencyStopRequest{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/emergency-stop", EmergencyStopRequest{Reason: "maintenance"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[scheduler.EmergencyReport](t, rec)
	require.Len(t, report.Rounds, 1)
	assert.Equal(t, 1, report.Rounds[0].Bets)
	assert.False(t, s.scheduler.Running())

	rec = s.do(t, http.MethodGet, "/api/accounts/carol", nil, nil)
	account := decodeBody[model.Account](t, rec)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(100)))

	rec = s.do(t, http.MethodGet, "/api/rounds?phase=cancelled", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[RoundListResponse](t, rec)
	require.Len(t, list.Rounds, 1)
	assert.Equal(t, "maintenance", list.Rounds[0].CancelReason)
}

func TestListRoundsBadQuery(t *testing.T) {
	s := newTestServer(t, "dev", "")
	for _, q := range []string{"?limit=x", "?offset=-1", "?phase=PAUSED"} {
		rec := s.do(t, http.MethodGet, "/api/rounds"+q, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	spin := now.Add(-2500 * time.Millisecond)

	assert.Equal(t, 30, remainingSeconds(&model.Round{Phase: enum.PhaseBetting, BettingEnd: now.Add(30 * time.Second)}, now))
	assert.Equal(t, 1, remainingSeconds(&model.Round{Phase: enum.PhaseBetting, BettingEnd: now.Add(time.Millisecond)}, now))
	assert.Equal(t, 8, remainingSeconds(&model.Round{Phase: enum.PhaseSpinning, SpinStart: &spin, SpinDuration: 10 * time.Second}, now))
	assert.Equal(t, 0, remainingSeconds(&model.Round{Phase: enum.PhaseCompleted}, now))
}
