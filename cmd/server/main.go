package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/ticket-reservation/internal/adapter/handler"
	"github.com/rl1809/ticket-reservation/internal/adapter/lock"
	"github.com/rl1809/ticket-reservation/internal/adapter/messaging"
	"github.com/rl1809/ticket-reservation/internal/adapter/storage"
	"github.com/rl1809/ticket-reservation/internal/config"
	"github.com/rl1809/ticket-reservation/internal/core/service"
	"github.com/rl1809/ticket-reservation/internal/metrics"
	"github.com/rl1809/ticket-reservation/internal/port"
	"github.com/rl1809/ticket-reservation/internal/tracing"
)

// store is the repository plus whatever has to be closed on shutdown.
type store struct {
	port.EventRepository
	closer io.Closer
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(cfg.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	repo, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("inventory store ready")

	locker, closeLocker, err := openLocker(cfg.Lock)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Lock.Driver).Msg("failed to open lock")
	}

	var publisher port.EventPublisher = messaging.NopPublisher{}
	var kafkaPublisher *messaging.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher = messaging.NewKafkaPublisher(messaging.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		publisher = kafkaPublisher
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing lifecycle events")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	manager := service.NewReservationManager(repo, locker,
		service.WithPublisher(publisher),
		service.WithMetrics(mt),
		service.WithLogger(log.With().Str("component", "reservation_manager").Logger()),
		service.WithMaxRetries(cfg.Reservation.MaxRetries),
	)
	scheduler := service.NewExpiryScheduler(manager, repo,
		service.WithSchedulerMetrics(mt),
		service.WithSchedulerLogger(log.With().Str("component", "expiry_scheduler").Logger()),
		service.WithRetryDelay(cfg.Reservation.RetryDelay),
		service.WithSweepInterval(cfg.Reservation.SweepInterval),
	)
	engine := service.NewEngine(manager, scheduler, repo, log.With().Str("component", "engine").Logger())

	// HTTP
	mux := http.NewServeMux()
	handler.NewHTTPHandler(engine).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.RequestLogger(log.Logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogger(log.Logger)))
	handler.RegisterReservationServer(grpcServer, handler.NewGRPCHandler(engine))
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPC.Addr).Msg("failed to listen")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.GRPC.Addr).Msg("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown")
		}
		log.Info().Msg("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info().Msg("gRPC server stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("expiry scheduler stopped")

	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close kafka writer")
		}
	}
	closeLocker()
	if repo.closer != nil {
		repo.closer.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tp.Shutdown(shutdownCtx)
	log.Info().Msg("connections closed")
}

func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store, error) {
	switch cfg.Driver {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return store{}, err
		}
		return store{EventRepository: storage.NewRedisAdapter(rdb), closer: rdb}, nil

	case config.StoreMySQL:
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return store{}, err
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return store{}, err
		}
		adapter := storage.NewMySQLAdapter(db)
		if cfg.MySQL.EnsureSchema {
			if err := adapter.EnsureSchema(ctx); err != nil {
				db.Close()
				return store{}, err
			}
		}
		return store{EventRepository: adapter, closer: db}, nil

	default:
		return store{EventRepository: storage.NewMemoryAdapter()}, nil
	}
}

func openLocker(cfg config.LockConfig) (port.Locker, func(), error) {
	if cfg.Driver != config.LockZooKeeper {
		return lock.NewKeyedMutex(), func() {}, nil
	}

	conn, err := lock.DialZooKeeper(cfg.ZKServers, cfg.SessionTimeout)
	if err != nil {
		return nil, nil, err
	}
	locker, err := lock.NewZooKeeperLocker(conn, cfg.ZKRoot)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	log.Info().Strs("servers", cfg.ZKServers).Str("root", cfg.ZKRoot).Msg("using zookeeper event lock")
	return locker, locker.Close, nil
}
