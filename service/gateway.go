package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"live-ingest/config"
	"live-ingest/constant"
	"live-ingest/dto"
	"live-ingest/entities"
	"live-ingest/pkg/identity"
	"live-ingest/repository"
)

var streamKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

var errSessionMissing = errors.New("session not yet visible")

// Gateway reacts to the media server's publish lifecycle hooks. Every error it returns is a
// *RejectionError.
type Gateway interface {
	PrePublish(ctx context.Context, hook dto.PublishHook) error
	PostPublish(ctx context.Context, hook dto.PublishHook) error
	DonePublish(ctx context.Context, hook dto.PublishHook) error
}

type GatewayConfig struct {
	Ingest     config.Ingest
	Limits     config.Limits
	OutputRoot string
	// LookupRetryDelay is how long post-publish waits before looking the session up again.
	LookupRetryDelay time.Duration
}

type gateway struct {
	cfg        GatewayConfig
	store      repository.SessionStore
	validator  identity.Validator
	prober     Prober
	transcoder TranscodeManager
	notifier   Notifier
	now        func() time.Time
}

func NewGateway(
	cfg GatewayConfig,
	store repository.SessionStore,
	validator identity.Validator,
	prober Prober,
	transcoder TranscodeManager,
	notifier Notifier,
) Gateway {
	if cfg.LookupRetryDelay <= 0 {
		cfg.LookupRetryDelay = 250 * time.Millisecond
	}
	return &gateway{
		cfg:        cfg,
		store:      store,
		validator:  validator,
		prober:     prober,
		transcoder: transcoder,
		notifier:   notifier,
		now:        time.Now,
	}
}

// streamKey extracts the credential from "/<app>/<streamKey>".
func (g *gateway) streamKey(hook dto.PublishHook) (string, error) {
	path := hook.Path()
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 2 || parts[0] != g.cfg.Ingest.App {
		return "", reject(CodeInvalidPath, "unexpected publish path %q", path)
	}
	if !streamKeyPattern.MatchString(parts[1]) {
		return "", reject(CodeInvalidPath, "malformed stream key")
	}
	return parts[1], nil
}

// maskKey keeps stream keys out of the logs.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

func recoverHook(ctx context.Context, hook string, err *error) {
	if r := recover(); r != nil {
		zerolog.Ctx(ctx).Error().Str("hook", hook).Interface("panic", r).Msg("hook handler panicked")
		*err = reject(CodeInternal, "%s failed", hook)
	}
}

func (g *gateway) PrePublish(ctx context.Context, hook dto.PublishHook) (err error) {
	defer recoverHook(ctx, "pre-publish", &err)

	key, err := g.streamKey(hook)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("client_ip", hook.ClientIP).Msg("publish rejected")
		return err
	}
	logger := zerolog.Ctx(ctx).With().Str("stream_key", maskKey(key)).Str("client_ip", hook.ClientIP).Logger()

	ident, err := g.validator.Validate(ctx, key)
	if err != nil {
		if errors.Is(err, identity.ErrRejected) {
			logger.Warn().Err(err).Msg("publish rejected: invalid credential")
			return reject(CodeInvalidCredential, "%s", err.Error())
		}
		logger.Error().Err(err).Msg("publish rejected: identity service unavailable")
		return reject(CodeIdentityUnavailable, "%s", err.Error())
	}
	logger = logger.With().Str("owner_id", ident.OwnerID).Logger()

	count, err := g.store.IncrementRateCounter(ctx, ident.OwnerID, g.cfg.Limits.RateLimitWindow)
	if err != nil {
		logger.Error().Err(err).Msg("publish rejected: rate counter unavailable")
		return reject(CodeStoreUnavailable, "%s", err.Error())
	}
	if count > int64(g.cfg.Limits.RateLimitMax) {
		logger.Warn().Int64("attempts", count).Int("max", g.cfg.Limits.RateLimitMax).Msg("publish rejected: rate limited")
		return reject(CodeRateLimited, "%d attempts in %s", count, g.cfg.Limits.RateLimitWindow)
	}

	existing, err := g.store.Get(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("publish rejected: session store unavailable")
		return reject(CodeStoreUnavailable, "%s", err.Error())
	}
	if existing != nil && existing.Status.Live() {
		logger.Warn().Str("session_id", existing.SessionID).Str("status", string(existing.Status)).Msg("publish rejected: stream key already live")
		return reject(CodeStreamAlreadyLive, "session %s is %s", existing.SessionID, existing.Status)
	}

	keys, err := g.store.ListActiveForOwner(ctx, ident.OwnerID)
	if err != nil {
		logger.Error().Err(err).Msg("publish rejected: session store unavailable")
		return reject(CodeStoreUnavailable, "%s", err.Error())
	}
	if len(keys) >= g.cfg.Limits.MaxStreamsPerOwner {
		logger.Warn().Int("live", len(keys)).Int("max", g.cfg.Limits.MaxStreamsPerOwner).Msg("publish rejected: over capacity")
		return reject(CodeOverCapacity, "%d of %d streams live", len(keys), g.cfg.Limits.MaxStreamsPerOwner)
	}

	now := g.now().UTC()
	session := &entities.StreamSession{
		SessionID:      uuid.NewString(),
		StreamKey:      key,
		OwnerID:        ident.OwnerID,
		OwnerName:      ident.OwnerName,
		Protocol:       constant.ProtocolRTMP,
		Status:         constant.SessionStatusConnecting,
		ClientIP:       hook.ClientIP,
		StartedAt:      now,
		LastActivityAt: now,
	}
	// Create only writes when no record exists, so two racing attempts cannot both win.
	if err := g.store.Create(ctx, key, session, g.cfg.Limits.SessionTTL); err != nil {
		if errors.Is(err, repository.ErrSessionExists) {
			logger.Warn().Msg("publish rejected: stream key already live")
			return reject(CodeStreamAlreadyLive, "a session for this stream key already exists")
		}
		logger.Error().Err(err).Msg("publish rejected: failed to store session")
		return reject(CodeStoreUnavailable, "%s", err.Error())
	}

	logger.Info().Str("session_id", session.SessionID).Msg("publish admitted")
	return nil
}

// lookup reads the session, waiting once for a pre-publish write that is not yet visible.
func (g *gateway) lookup(ctx context.Context, key string) (*entities.StreamSession, error) {
	operation := func() (*entities.StreamSession, error) {
		session, err := g.store.Get(ctx, key)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if session == nil {
			return nil, errSessionMissing
		}
		return session, nil
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(g.cfg.LookupRetryDelay)),
		backoff.WithMaxTries(2),
	)
}

func (g *gateway) PostPublish(ctx context.Context, hook dto.PublishHook) (err error) {
	defer recoverHook(ctx, "post-publish", &err)

	key, err := g.streamKey(hook)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("post-publish rejected")
		return err
	}
	logger := zerolog.Ctx(ctx).With().Str("stream_key", maskKey(key)).Logger()

	session, err := g.lookup(ctx, key)
	if err != nil {
		if errors.Is(err, errSessionMissing) {
			logger.Warn().Msg("post-publish rejected: no session")
			return reject(CodeSessionNotFound, "no session for stream")
		}
		logger.Error().Err(err).Msg("post-publish rejected: session store unavailable")
		return reject(CodeStoreUnavailable, "%s", err.Error())
	}
	logger = logger.With().Str("session_id", session.SessionID).Str("owner_id", session.OwnerID).Logger()
	ctx = logger.WithContext(ctx)

	if err := session.Transition(constant.SessionStatusActive, g.now().UTC()); err != nil {
		logger.Warn().Err(err).Msg("post-publish rejected")
		return reject(CodeSessionNotFound, "%s", err.Error())
	}

	inputURL := g.cfg.Ingest.InputURL(key)
	report := g.prober.Probe(ctx, inputURL)
	if report.Valid {
		session.ApplyMetrics(report.Metrics)
		if len(report.Warnings) > 0 {
			logger.Info().Strs("warnings", report.Warnings).Msg("input quality warnings")
		}
	} else {
		logger.Warn().Strs("reasons", report.Reasons).Msg("input below quality policy, keeping stream")
	}

	if err := g.transcoder.Start(ctx, session.OwnerID, inputURL, g.cfg.OutputRoot); err != nil {
		logger.Error().Err(err).Msg("transcoder failed to start, continuing with raw ingest")
	}

	if err := g.store.Put(ctx, key, session, g.cfg.Limits.ActiveSessionTTL); err != nil {
		logger.Error().Err(err).Msg("post-publish rejected: failed to persist session")
		// Without a record done-publish cannot find the owner, so tear down now.
		if stopErr := g.transcoder.Stop(ctx, session.OwnerID); stopErr != nil {
			logger.Error().Err(stopErr).Msg("failed to stop transcoder")
		}
		return reject(CodeStoreUnavailable, "%s", err.Error())
	}

	g.notifier.NotifyStarted(ctx, dto.StreamStartedEvent{
		SessionID:  session.SessionID,
		OwnerID:    session.OwnerID,
		OwnerName:  session.OwnerName,
		Bitrate:    session.Bitrate,
		Resolution: session.Resolution,
		FrameRate:  session.FrameRate,
		Codec:      session.Codec,
		StartedAt:  session.StartedAt,
	})

	logger.Info().Msg("stream live")
	return nil
}

// stopWithoutSession resolves the owner from the identity service when the session
// record cannot be read. If that fails too, the transcoder exits on input EOF and
// its watcher purges the output.
func (g *gateway) stopWithoutSession(ctx context.Context, key string) {
	logger := zerolog.Ctx(ctx).With().Str("stream_key", maskKey(key)).Logger()
	ident, err := g.validator.Validate(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("done-publish: owner unknown, transcoder left to exit on input eof")
		return
	}
	if err := g.transcoder.Stop(context.WithoutCancel(ctx), ident.OwnerID); err != nil {
		logger.Error().Err(err).Str("owner_id", ident.OwnerID).Msg("failed to stop transcoder")
		return
	}
	logger.Warn().Str("owner_id", ident.OwnerID).Msg("done-publish: transcoder stopped without session record")
}

func (g *gateway) DonePublish(ctx context.Context, hook dto.PublishHook) (err error) {
	defer recoverHook(ctx, "done-publish", &err)

	key, err := g.streamKey(hook)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("done-publish ignored")
		return err
	}
	logger := zerolog.Ctx(ctx).With().Str("stream_key", maskKey(key)).Logger()

	session, err := g.store.Get(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("done-publish: session store unavailable")
		g.stopWithoutSession(ctx, key)
		return reject(CodeStoreUnavailable, "%s", err.Error())
	}
	if session == nil {
		logger.Debug().Msg("done-publish: no session, nothing to clean up")
		return nil
	}
	logger = logger.With().Str("session_id", session.SessionID).Str("owner_id", session.OwnerID).Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if stopErr := g.transcoder.Stop(context.WithoutCancel(ctx), session.OwnerID); stopErr != nil {
			logger.Error().Err(stopErr).Msg("failed to stop transcoder")
		}
	}()

	now := g.now().UTC()
	duration := session.Duration(now)
	if tErr := session.Transition(constant.SessionStatusInactive, now); tErr != nil {
		logger.Warn().Err(tErr).Msg("unexpected session state at done-publish")
	}

	g.notifier.NotifyEnded(ctx, dto.StreamEndedEvent{
		SessionID:       session.SessionID,
		OwnerID:         session.OwnerID,
		DurationSeconds: duration.Seconds(),
		EndedAt:         now,
	})

	if err := g.store.Delete(ctx, key); err != nil {
		logger.Error().Err(err).Msg("failed to delete session, ttl will expire it")
		return reject(CodeStoreUnavailable, "%s", fmt.Errorf("delete session: %w", err).Error())
	}

	logger.Info().Dur("duration", duration).Msg("stream ended")
	return nil
}
