package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/cashback"
	"github.com/rahul3988/game-sub000/internal/configstore"
	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/fairness"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/ledger"
	"github.com/rahul3988/game-sub000/internal/scheduler"
	"github.com/rahul3988/game-sub000/internal/settlement"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/internal/store/memory"
	"github.com/rahul3988/game-sub000/internal/store/postgres"
	"github.com/rahul3988/game-sub000/pkg/common/config"
	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/common/logger"
	"github.com/rahul3988/game-sub000/pkg/infra"
	"github.com/rahul3988/game-sub000/pkg/kvstore"
	"github.com/rahul3988/game-sub000/pkg/migrations"
	"github.com/rahul3988/game-sub000/pkg/ratelimiter"
	"github.com/rahul3988/game-sub000/pkg/retry"
)

const version = "1.0.0"

// --- CLI definitions --- //

type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Run the round engine and HTTP API."`
	Migrate MigrateCmd `cmd:"" help:"Apply or roll back the Postgres schema."`
	Verify  VerifyCmd  `cmd:"" help:"Check the fairness proof of a round."`
	Events  EventsCmd  `cmd:"" help:"Print round events from NATS."`
}

type ServeCmd struct {
	ConfigPath  string `help:"Path to config file." default:"configs/config.yaml" name:"config"`
	Debug       bool   `help:"Enable debug logs." name:"debug"`
	AutoMigrate bool   `help:"Apply pending migrations before starting." name:"migrate"`
	Paused      bool   `help:"Wait for an admin start instead of opening rounds at boot." name:"paused"`
}

type MigrateCmd struct {
	ConfigPath string `help:"Path to config file." default:"configs/config.yaml" name:"config"`
	Down       int    `help:"Roll back this many migrations instead of applying." name:"down"`
}

type VerifyCmd struct {
	ConfigPath string `help:"Path to config file, used with --round." default:"configs/config.yaml" name:"config"`
	RoundID    string `help:"Verify a stored round by id." name:"round"`
	Hash       string `help:"Published server seed hash." name:"hash"`
	ServerSeed string `help:"Revealed server seed." name:"server-seed"`
	ClientSeed string `help:"Client seed." name:"client-seed"`
	Nonce      int64  `help:"Round nonce." name:"nonce"`
	Digit      int    `help:"Claimed winning digit." name:"digit" default:"-1"`
}

type EventsCmd struct {
	ConfigPath string `help:"Path to config file." default:"configs/config.yaml" name:"config"`
	Consumer   string `help:"Durable consumer name." default:"roulette-printer" name:"consumer"`
	LogFile    string `help:"Also append events to this file." name:"log"`
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("roulette"),
		kong.Description("Five-number roulette round engine."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger.Init(&logger.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// --- serve --- //

func (c *ServeCmd) Run() error {
	initLogger(c.Debug)
	cfg, err := loadConfig(c.ConfigPath)
	if err != nil {
		return err
	}
	logger.Info("Config loaded", "env", cfg.Environment, "store", cfg.Services.Store.Type, "cache", cfg.Services.Cache.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, c.AutoMigrate)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx, !c.Paused)
}

type app struct {
	cfg       *config.Config
	clock     clockwork.Clock
	store     store.Store
	cache     cache.Cache
	kv        infra.KVStore
	nc        *nats.Conn
	queue     infra.MessageQueue
	bridge    *events.Bridge
	bus       *events.Bus
	settings  *configstore.Store
	ledger    *ledger.BetLedger
	engine    *settlement.Engine
	scheduler *scheduler.Scheduler
	server    *http.Server
}

func newApp(ctx context.Context, cfg *config.Config, autoMigrate bool) (_ *app, err error) {
	a := &app{cfg: cfg, clock: clockwork.NewRealClock()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = openStore(ctx, cfg, autoMigrate); err != nil {
		return nil, err
	}
	if a.cache, err = cache.NewFromConfig(cfg.Services.Cache); err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	if a.kv, err = kvstore.NewFromConfig(cfg.Services.KVS); err != nil {
		return nil, fmt.Errorf("create kvstore: %w", err)
	}

	boot, err := configstore.FromConfig(cfg.Game)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", game.ErrFatalConfig, err)
	}
	if a.settings, err = configstore.New(a.kv, boot, logger.Component("configstore")); err != nil {
		return nil, err
	}

	closeDelay := cfg.Scheduler.CloseDelay
	a.bus = events.NewBus(a.clock.Now)

	if cfg.Services.Nats.Enabled {
		if err := a.connectNATS(ctx); err != nil {
			return nil, err
		}
	}

	limiter := ratelimiter.NewKeyedLimiter(cfg.Game.Throttle.RPS, cfg.Game.Throttle.Burst).WithClock(a.clock.Now)
	a.ledger = ledger.New(ledger.Options{
		Store:      a.store,
		Cache:      a.cache,
		Bus:        a.bus,
		Clock:      a.clock,
		Limiter:    limiter,
		CloseDelay: closeDelay,
		Logger:     logger.Component("ledger"),
	})
	a.engine = settlement.NewEngine(settlement.Options{
		Store:    a.store,
		Cache:    a.cache,
		Bus:      a.bus,
		Clock:    a.clock,
		Cashback: cashback.NewProcessor(a.store, a.settings, a.clock, logger.Component("cashback")),
		Logger:   logger.Component("settlement"),
	})
	a.scheduler = scheduler.New(scheduler.Options{
		Store:            a.store,
		Cache:            a.cache,
		Bus:              a.bus,
		Clock:            a.clock,
		Settler:          a.engine,
		Settings:         a.settings,
		Seeds:            fairness.NewOracle(),
		Logger:           logger.Component("scheduler"),
		CloseDelay:       closeDelay,
		RecoveryInterval: cfg.Scheduler.RecoveryInterval,
	})

	handler := NewRouletteHTTPHandler(HandlerOptions{
		Version:     version,
		Environment: string(cfg.Environment),
		AdminToken:  cfg.Services.HTTP.AdminToken,
		Store:       a.store,
		Cache:       a.cache,
		Ledger:      a.ledger,
		Engine:      a.engine,
		Scheduler:   a.scheduler,
		Settings:    a.settings,
		Hub:         events.NewHub(a.bus, logger.Component("ws")),
		Clock:       a.clock,
	})
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.HTTP.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// connectRetry is the startup budget for reaching backing services.
var connectRetry = retry.ExponentialConfig{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxElapsedTime:  time.Minute,
	OnRetry: func(err error, next time.Duration) {
		logger.Warn("Connect failed, retrying", "err", err, "next", next)
	},
}

func openStore(ctx context.Context, cfg *config.Config, autoMigrate bool) (store.Store, error) {
	if cfg.Services.Store.Type != enum.StoreTypePostgres {
		logger.Warn("Using in-memory store; state is lost on exit")
		return memory.New(), nil
	}

	var st *postgres.Store
	err := retry.Exponential(ctx, func() error {
		db, err := infra.NewDBConnection(cfg.Services.Store.Postgres, string(cfg.Environment))
		if err != nil {
			return err
		}
		if autoMigrate {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			if err := migrations.Up(sqlDB); err != nil {
				return retry.Permanent(err)
			}
		}
		st = postgres.New(db)
		return nil
	}, connectRetry)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return st, nil
}

func (a *app) connectNATS(ctx context.Context) error {
	natsCfg := a.cfg.Services.Nats
	err := retry.Exponential(ctx, func() error {
		nc, err := infra.GetNATSConnection(natsCfg, string(a.cfg.Environment))
		if err != nil {
			return err
		}
		a.nc = nc
		return nil
	}, connectRetry)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}

	subjects := []string{natsCfg.SubjectPrefix + ".>"}
	a.queue, err = infra.NewJetStreamQueue(ctx, constant.EventStreamName, subjects, a.nc)
	if err != nil {
		return err
	}
	a.bridge = events.NewBridge(a.queue, natsCfg.SubjectPrefix, logger.Component("bridge"))
	logger.Info("Publishing events to NATS", "stream", constant.EventStreamName, "subjects", subjects)
	return nil
}

// Run blocks until ctx is cancelled or a component fails.
func (a *app) Run(ctx context.Context, autoStart bool) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.scheduler.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	opened, unsubscribe := a.ledger.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		a.ledger.Run(ctx, opened)
		return nil
	})
	if a.bridge != nil {
		envelopes, detach := a.bridge.Subscribe(a.bus)
		defer detach()
		g.Go(func() error {
			a.bridge.Run(ctx, envelopes)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("HTTP server started", "addr", a.server.Addr, "health_endpoint", "/health", "ws_endpoint", "/ws")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if autoStart {
		a.scheduler.Start(ctx)
	} else {
		logger.Info("Scheduler paused; POST /api/admin/start to open rounds")
	}

	logger.Info("Roulette engine is running... Press Ctrl+C to stop")
	err := g.Wait()
	if a.scheduler.Running() {
		a.scheduler.Stop()
	}
	return err
}

// Close releases resources in reverse dependency order. It is safe on a
// partially built app.
func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			logger.Warn("Drain NATS failed", "err", err)
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			logger.Warn("Close kvstore failed", "err", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("Close cache failed", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Close store failed", "err", err)
		}
	}
	logger.Info("Roulette engine stopped")
}

// --- migrate --- //

func (c *MigrateCmd) Run() error {
	initLogger(false)
	cfg, err := loadConfig(c.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.Services.Store.Type != enum.StoreTypePostgres {
		return errors.New("migrate needs store.type postgres")
	}

	db, err := infra.NewDBConnection(cfg.Services.Store.Postgres, string(cfg.Environment))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if c.Down > 0 {
		err = migrations.Down(sqlDB, c.Down)
	} else {
		err = migrations.Up(sqlDB)
	}
	if err != nil {
		return err
	}

	v, dirty, err := migrations.Version(sqlDB)
	if err != nil {
		return err
	}
	logger.Info("Schema migrated", "version", v, "dirty", dirty)
	return nil
}

// --- verify --- //

func (c *VerifyCmd) Run() error {
	initLogger(false)
	if c.RoundID != "" {
		return c.verifyStored()
	}

	if c.Hash == "" || c.ServerSeed == "" || c.ClientSeed == "" || c.Digit < 0 {
		return errors.New("either --round or all of --hash, --server-seed, --client-seed, --nonce and --digit are required")
	}
	if err := fairness.Verify(c.Hash, c.ServerSeed, c.ClientSeed, c.Nonce, c.Digit); err != nil {
		fmt.Printf("INVALID: %v\n", err)
		return err
	}
	fmt.Printf("VALID: digit %d matches seed reveal for nonce %d\n", c.Digit, c.Nonce)
	return nil
}

func (c *VerifyCmd) verifyStored() error {
	cfg, err := loadConfig(c.ConfigPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	round, err := st.GetRound(ctx, c.RoundID)
	if err != nil {
		return err
	}
	seed, err := st.GetSeed(ctx, round.ID)
	if err != nil {
		return err
	}
	v, err := settlement.Check(round, seed)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
	if !v.Valid() {
		return fmt.Errorf("round %d failed verification: %s", v.Number, v.Detail)
	}
	return nil
}

// --- events --- //

func (c *EventsCmd) Run() error {
	initLogger(false)
	cfg, err := loadConfig(c.ConfigPath)
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if c.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(c.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stdout, f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := infra.GetNATSConnection(cfg.Services.Nats, string(cfg.Environment))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	subject := cfg.Services.Nats.SubjectPrefix + ".>"
	queue, err := infra.NewJetStreamQueue(ctx, constant.EventStreamName, []string{subject}, nc)
	if err != nil {
		return err
	}
	defer queue.Close()

	err = queue.Dequeue(c.Consumer, func(subject string, message []byte) error {
		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logger.Error("Unmarshal event failed", "subject", subject, "err", err)
			return fmt.Errorf("%w: %w", infra.ErrPermanent, err)
		}
		payload, _ := json.Marshal(env.Payload)
		fmt.Fprintf(out, "%s %-22s %s\n", time.UnixMilli(env.Timestamp).UTC().Format(time.RFC3339), env.Type, payload)
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Subscribed to", "subject", subject, "consumer", c.Consumer)
	<-ctx.Done()
	return nil
}
