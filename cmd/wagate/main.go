package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wagate/internal/api"
	"wagate/internal/bridge"
	"wagate/internal/config"
	"wagate/internal/delivery"
	"wagate/internal/ledger"
	"wagate/internal/otel"
	"wagate/internal/session"
	"wagate/pkg/bus"
	"wagate/pkg/db"
)

const serviceName = "wagate"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	cleanup, err := otel.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init otel")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown otel")
		}
	}()

	pool, err := db.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open orm")
	}

	queue, err := bus.New(cfg.NATSUrl, nats.Name(serviceName))
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer queue.Close()

	if err := queue.EnsureStream("WAGATE", "wagate.messages.>"); err != nil {
		log.Fatal().Err(err).Msg("ensure stream")
	}

	store, err := session.NewGormStore(orm)
	if err != nil {
		log.Fatal().Err(err).Msg("init session store")
	}

	reg := session.NewRegistry()

	controller, err := session.NewController(log.Logger, store, reg, bridge.NewWhatsmeowClient, session.ControllerConfig{
		DataDir:     cfg.DataDir,
		BrowserPath: bridge.LocateBrowser(cfg.BrowserPath),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init session controller")
	}

	journal, err := ledger.New(pool)
	if err != nil {
		log.Fatal().Err(err).Msg("init message ledger")
	}

	worker, err := delivery.NewWorker(log.Logger, queue, reg, journal, delivery.Config{
		Subject: cfg.SendSubject,
		Durable: "wagate-delivery",
		Consumer: bus.ConsumerConfig{
			MaxDeliver: cfg.QueueMaxDeliver,
			BackOff:    cfg.QueueBackoff,
			AckWait:    cfg.QueueAckWait,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init delivery worker")
	}

	if err := controller.RestoreOnStartup(ctx, cfg.DefaultSession); err != nil {
		log.Fatal().Err(err).Msg("restore session state")
	}

	consumer, err := worker.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("start delivery worker")
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Error().Err(err).Msg("close delivery consumer")
		}
	}()

	service, err := api.New(log.Logger, controller, reg, journal, queue, api.Config{
		DefaultSession: cfg.DefaultSession,
		SendSubject:    cfg.SendSubject,
		Ready: func(ctx context.Context) error {
			return db.Ping(ctx, pool)
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           service.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting wagate")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
