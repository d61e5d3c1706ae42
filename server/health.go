package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"live-ingest/config"
	"live-ingest/handler"
	"live-ingest/repository"
	"live-ingest/service"
)

func healthChecks(cfg *config.Config, store repository.SessionStore, transcoder service.TranscodeManager) (readiness, deep []handler.Check) {
	readiness = []handler.Check{
		{Name: "session_store", Run: store.Ping},
		{Name: "ingest_server", Run: func(ctx context.Context) error {
			dialer := net.Dialer{Timeout: 2 * time.Second}
			conn, err := dialer.DialContext(ctx, "tcp", cfg.Ingest.Addr())
			if err != nil {
				return err
			}
			return conn.Close()
		}},
	}
	deep = []handler.Check{
		{Name: "ffprobe", Run: func(context.Context) error {
			_, err := exec.LookPath(cfg.FFmpeg.ProbeBin)
			return err
		}},
		{Name: "transcoder", Run: func(ctx context.Context) error {
			if !transcoder.HealthCheck(ctx) {
				return errors.New("synthetic encode failed")
			}
			return nil
		}},
	}
	return readiness, deep
}

// RunHealthcheck performs the deep check once and reports the result on the log.
func RunHealthcheck(cfg *config.Config) error {
	ctx := setupLogger(cfg)
	logger := zerolog.Ctx(ctx)

	redisClient, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error().Err(err).Msg("session store unreachable")
		return err
	}
	defer redisClient.Close()

	transcoder := service.NewTranscodeManager(cfg.FFmpeg.Bin, cfg.FFmpeg.KillTimeout, nil)
	readiness, deep := healthChecks(cfg, repository.NewRedisSessionStore(redisClient), transcoder)

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	results, healthy := handler.RunChecks(ctx, append(readiness, deep...))
	for name, result := range results {
		logger.Info().Str("check", name).Str("result", result).Send()
	}
	if !healthy {
		return fmt.Errorf("healthcheck failed")
	}
	logger.Info().Msg("healthy")
	return nil
}
