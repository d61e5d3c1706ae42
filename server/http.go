package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"live-ingest/config"
	"live-ingest/constant"
	"live-ingest/handler"
	"live-ingest/pkg/identity"
	"live-ingest/pkg/rabbitmq"
	"live-ingest/repository"
	"live-ingest/service"
)

const shutdownTimeout = 30 * time.Second

func RunHttp(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	redisClient, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("session store unreachable")
		return err
	}
	defer redisClient.Close()
	store := repository.NewRedisSessionStore(redisClient)

	var archiver service.Archiver
	if cfg.Archive {
		archiver = service.NewMinIOArchiver(cfg.Storage, cfg.MinIOBucket)
	}
	transcoder := service.NewTranscodeManager(cfg.FFmpeg.Bin, cfg.FFmpeg.KillTimeout, archiver)
	prober := service.NewProber(cfg.FFmpeg.ProbeBin, cfg.FFmpeg.ProbeTimeout, cfg.Quality)
	validator := identity.NewClient(cfg.Identity.URL, cfg.Identity.Timeout)

	sinks := []service.Sink{service.NewLogSink()}
	var publisher rabbitmq.Publisher
	if cfg.Queue != nil {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("event bus disabled")
		} else if publisher, err = rabbitmq.NewPublisher(ctx, conn, cfg.Queue); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("event bus disabled")
		} else {
			sinks = append(sinks, service.NewEventBusSink(publisher))
		}
	}
	var history repository.HistoryRepository
	if cfg.DB != nil {
		historyRepo, err := repository.NewHistoryRepo(cfg.DB)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("stream history disabled")
		} else {
			history = historyRepo
			sinks = append(sinks, service.NewHistorySink(historyRepo))
		}
	}
	notifier := service.NewNotifier(256, cfg.Server.Workers, sinks...)
	notifier.Start(ctx)

	gateway := service.NewGateway(service.GatewayConfig{
		Ingest:     cfg.Ingest,
		Limits:     cfg.Limits,
		OutputRoot: cfg.OutputRoot,
	}, store, validator, prober, transcoder, notifier)

	readiness, deep := healthChecks(cfg, store, transcoder)

	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(*zerolog.Ctx(ctx)))
	handler.New(handler.Dependencies{
		Gateway:    gateway,
		Store:      store,
		Transcoder: transcoder,
		History:    history,
		Readiness:  readiness,
		Deep:       deep,
	}).Register(r)

	httpServer := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zerolog.Ctx(ctx).Info().Str("addr", httpServer.Addr).Str("ingest", cfg.Ingest.Addr()).Msg("start http server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zerolog.Ctx(ctx).Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		// Encoders stop first; Close then drains whatever the notifier already queued.
		if err := transcoder.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("transcoder shutdown: %w", err))
		}
		notifier.Close()
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("publisher close: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("env", cfg.App.Environment).Msg("server stopped with error")
		return err
	}
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
	return nil
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
