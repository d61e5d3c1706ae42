package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidOwner  = errors.New("invalid owner id")
	ErrManagerClosed = errors.New("transcode manager is shut down")
)

// TranscodeManager owns one ffmpeg process per owner.
type TranscodeManager interface {
	Start(ctx context.Context, owner, inputURL, outputRoot string) error
	Stop(ctx context.Context, owner string) error
	IsActive(owner string) bool
	ListActive() []string
	HealthCheck(ctx context.Context) bool
	Shutdown(ctx context.Context) error
}

type transcodeProcess struct {
	owner      string
	outputDir  string
	generation uint64
	startedAt  time.Time
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	done       chan struct{}
	stopping   atomic.Bool
	err        error
}

type transcodeManager struct {
	ffmpegBin   string
	killTimeout time.Duration
	archiver    Archiver

	locks      *keyedMutex
	mu         sync.RWMutex
	processes  map[string]*transcodeProcess
	generation atomic.Uint64
	// closed is guarded by mu so that no process registers after Shutdown takes its snapshot.
	closed bool
}

// NewTranscodeManager returns a manager launching ffmpegBin. archiver may be nil.
func NewTranscodeManager(ffmpegBin string, killTimeout time.Duration, archiver Archiver) TranscodeManager {
	if killTimeout <= 0 {
		killTimeout = 5 * time.Second
	}
	return &transcodeManager{
		ffmpegBin:   ffmpegBin,
		killTimeout: killTimeout,
		archiver:    archiver,
		locks:       newKeyedMutex(),
		processes:   make(map[string]*transcodeProcess),
	}
}

func (m *transcodeManager) Start(ctx context.Context, owner, inputURL, outputRoot string) error {
	if !validOwner(owner) {
		return fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}
	if m.isClosed() {
		return ErrManagerClosed
	}

	m.locks.Lock(owner)
	defer m.locks.Unlock(owner)
	if m.isClosed() {
		return ErrManagerClosed
	}

	logger := zerolog.Ctx(ctx).With().Str("owner_id", owner).Logger()

	if err := m.stopLocked(ctx, owner); err != nil {
		logger.Warn().Err(err).Msg("previous transcoder cleanup incomplete")
	}

	outputDir := filepath.Join(outputRoot, owner)
	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := writeMasterPlaylist(outputDir); err != nil {
		os.RemoveAll(outputDir)
		return fmt.Errorf("write master playlist: %w", err)
	}

	// The process outlives the hook request that started it.
	procCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	cmd := exec.CommandContext(procCtx, m.ffmpegBin, buildLiveTranscodeArgs(inputURL, outputDir)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = m.killTimeout
	cmd.Stdout = newLogWriter(&logger, owner, "stdout")
	cmd.Stderr = newLogWriter(&logger, owner, "stderr")

	if err := cmd.Start(); err != nil {
		cancel()
		os.RemoveAll(outputDir)
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	proc := &transcodeProcess{
		owner:      owner,
		outputDir:  outputDir,
		generation: m.generation.Add(1),
		startedAt:  time.Now(),
		cmd:        cmd,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		_ = cmd.Wait()
		os.RemoveAll(outputDir)
		logger.Warn().Msg("transcoder discarded, manager shut down while starting")
		return ErrManagerClosed
	}
	m.processes[owner] = proc
	m.mu.Unlock()

	logger.Info().Int("pid", cmd.Process.Pid).Str("output_dir", outputDir).Msg("transcoder started")
	go m.watch(procCtx, proc)
	return nil
}

// watch waits for the process to exit. An exit nobody asked for gets the same cleanup as Stop.
func (m *transcodeManager) watch(ctx context.Context, proc *transcodeProcess) {
	defer proc.cancel()
	proc.err = proc.cmd.Wait()
	close(proc.done)

	if proc.stopping.Load() {
		return
	}

	logger := zerolog.Ctx(ctx)
	if proc.err != nil {
		logger.Error().Err(proc.err).Uint64("generation", proc.generation).Msg("transcoder exited unexpectedly")
	} else {
		logger.Info().Uint64("generation", proc.generation).Msg("transcoder exited")
	}

	m.locks.Lock(proc.owner)
	defer m.locks.Unlock(proc.owner)

	m.mu.Lock()
	current, ok := m.processes[proc.owner]
	if !ok || current.generation != proc.generation {
		m.mu.Unlock()
		return
	}
	delete(m.processes, proc.owner)
	m.mu.Unlock()

	if err := m.purge(context.WithoutCancel(ctx), proc); err != nil {
		logger.Error().Err(err).Msg("failed to purge output after transcoder exit")
	}
}

func (m *transcodeManager) Stop(ctx context.Context, owner string) error {
	if !validOwner(owner) {
		return fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}
	m.locks.Lock(owner)
	defer m.locks.Unlock(owner)
	return m.stopLocked(ctx, owner)
}

// stopLocked must be called with the owner lock held.
func (m *transcodeManager) stopLocked(ctx context.Context, owner string) error {
	m.mu.Lock()
	proc, ok := m.processes[owner]
	if ok {
		delete(m.processes, owner)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	logger := zerolog.Ctx(ctx).With().Str("owner_id", owner).Logger()
	proc.stopping.Store(true)
	proc.cancel()

	// WaitDelay kills the process after killTimeout; the extra margin covers Wait returning.
	timer := time.NewTimer(m.killTimeout + time.Second)
	defer timer.Stop()
	select {
	case <-proc.done:
	case <-timer.C:
		logger.Warn().Int("pid", proc.cmd.Process.Pid).Msg("transcoder did not exit in time, killing")
		if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Error().Err(err).Msg("failed to kill transcoder")
		}
	}

	logger.Info().Dur("uptime", time.Since(proc.startedAt)).Msg("transcoder stopped")
	return m.purge(ctx, proc)
}

func (m *transcodeManager) purge(ctx context.Context, proc *transcodeProcess) error {
	if m.archiver != nil {
		if err := m.archiver.Archive(ctx, proc.owner, proc.outputDir); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("owner_id", proc.owner).Msg("failed to archive stream output")
		}
	}
	if err := os.RemoveAll(proc.outputDir); err != nil {
		return fmt.Errorf("remove output dir: %w", err)
	}
	return nil
}

func (m *transcodeManager) IsActive(owner string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.processes[owner]
	return ok
}

func (m *transcodeManager) ListActive() []string {
	m.mu.RLock()
	owners := make([]string, 0, len(m.processes))
	for owner := range m.processes {
		owners = append(owners, owner)
	}
	m.mu.RUnlock()
	sort.Strings(owners)
	return owners
}

// HealthCheck encodes a short synthetic clip to HLS to prove the toolchain works.
func (m *transcodeManager) HealthCheck(ctx context.Context) bool {
	logger := zerolog.Ctx(ctx)

	dir, err := os.MkdirTemp("", "ingest-healthcheck-")
	if err != nil {
		logger.Error().Err(err).Msg("healthcheck: failed to create temp dir")
		return false
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	playlist := filepath.Join(dir, "index.m3u8")
	cmd := exec.CommandContext(ctx, m.ffmpegBin,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=15",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=1",
		"-c:v", "libx264", "-preset", "ultrafast",
		"-c:a", "aac",
		"-f", "hls", "-hls_time", "1",
		playlist,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.Error().Err(err).Str("output", string(out)).Msg("healthcheck: synthetic encode failed")
		return false
	}
	if _, err := os.Stat(playlist); err != nil {
		logger.Error().Err(err).Msg("healthcheck: no playlist produced")
		return false
	}
	return true
}

func (m *transcodeManager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *transcodeManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	owners := make([]string, 0, len(m.processes))
	for owner := range m.processes {
		owners = append(owners, owner)
	}
	m.mu.Unlock()
	zerolog.Ctx(ctx).Info().Int("count", len(owners)).Msg("stopping all transcoders")

	var g errgroup.Group
	for _, owner := range owners {
		g.Go(func() error {
			return m.Stop(ctx, owner)
		})
	}
	return g.Wait()
}
