// Package supervisor owns the lifecycle of the Workers bound to one
// RunSession: spawning, restart-with-backoff, and graceful shutdown (§4.6).
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"

	"github.com/relaygrid/fleetsched/internal/adapter/observability"
	"github.com/relaygrid/fleetsched/internal/domain"
	"github.com/relaygrid/fleetsched/internal/runsession"
	"github.com/relaygrid/fleetsched/internal/worker"
)

// WorkerFactory builds one Worker bound to profile, ready to Run under
// run_id. Kept as a func so Supervisor does not need to know how a Worker
// wires its Store/TaskQueue/ProxyRegistry/Driver dependencies together.
type WorkerFactory func(profile domain.Profile, runID string) *worker.Worker

// Config bundles the Supervisor's own lifecycle knobs, narrow copies of the
// equivalent config.Config fields.
type Config struct {
	WorkerCount        int
	StaleClaimGrace    time.Duration
	ShutdownGrace      time.Duration
	RestartBackoffBase time.Duration
	RestartBackoffCap  time.Duration
}

// Supervisor runs N Workers against one Group under one RunSession.
type Supervisor struct {
	GroupID  string
	Cfg      Config
	Tasks    domain.TaskQueue
	Profiles domain.ProfileSource
	NewWorker WorkerFactory
	Log      *slog.Logger
}

// Start mints a fresh run_id, reclaims any stale in-progress tasks, and
// spawns a Worker per eligible profile (capped at Cfg.WorkerCount), honoring
// restart policy until ctx is cancelled (§4.6). It blocks until ctx is
// cancelled, then waits for the Workers to exit for at most
// Cfg.ShutdownGrace and runs a final ResetStale before returning.
func (s *Supervisor) Start(ctx context.Context) error {
	tracer := otel.Tracer("supervisor")
	ctx, span := tracer.Start(ctx, "supervisor.Start")
	defer span.End()

	run := runsession.New()
	log := s.Log.With(slog.String("run_id", run.RunID), slog.String("group_id", s.GroupID))
	log.Info("starting run")

	if n, err := s.Tasks.ResetStale(ctx, s.Cfg.StaleClaimGrace); err != nil {
		return err
	} else if n > 0 {
		observability.RecordStaleReclaim(n)
		log.Info("reclaimed stale tasks", slog.Int("count", n))
	}

	profiles, err := s.Profiles.ListProfiles(ctx, s.GroupID)
	if err != nil {
		return err
	}
	eligible := make([]domain.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.Eligible() {
			eligible = append(eligible, p)
		}
	}
	n := s.Cfg.WorkerCount
	if n <= 0 || n > len(eligible) {
		n = len(eligible)
	}
	if n == 0 {
		log.Warn("no eligible profiles, nothing to start")
		return nil
	}
	eligible = eligible[:n]

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range eligible {
		wg.Add(1)
		go func(profile domain.Profile) {
			defer wg.Done()
			// Worker.Run already recovers panics from the state machine
			// itself; this second recover guards runWithRestart and
			// NewWorker, so a construction-time panic for one profile can
			// never take down the whole supervised group (§4.6, §9).
			defer func() {
				if r := recover(); r != nil {
					log.Error("worker goroutine panicked, profile will not be restarted this run",
						slog.String("profile_id", profile.ProfileID), slog.Any("panic", r))
				}
			}()
			s.runWithRestart(shutdownCtx, profile, run.RunID, log)
		}(p)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, waiting for workers", slog.Duration("grace", s.Cfg.ShutdownGrace))
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.Cfg.ShutdownGrace):
		log.Warn("shutdown grace period elapsed with workers still running")
	}

	if n, err := s.Tasks.ResetStale(context.WithoutCancel(ctx), 0); err != nil {
		log.Error("final ResetStale failed", slog.Any("error", err))
	} else if n > 0 {
		log.Info("released still-claimed tasks on shutdown", slog.Int("count", n))
	}
	return nil
}

// runWithRestart runs one Worker repeatedly, applying the exponential
// restart backoff min(base*2^k, cap) where k is profile's consecutive
// failure count, until ctx is cancelled or the Worker signals
// do-not-restart (§4.6).
func (s *Supervisor) runWithRestart(ctx context.Context, profile domain.Profile, runID string, log *slog.Logger) {
	wlog := log.With(slog.String("profile_id", profile.ProfileID))
	k := 0
	for {
		if ctx.Err() != nil {
			return
		}
		w := s.NewWorker(profile, runID)
		w.Log = wlog
		result := w.Run(ctx)

		switch {
		case result.Success:
			k = 0
		case result.Code != worker.ExitNormal:
			k++
		}

		switch result.Code {
		case worker.ExitNormal:
			wlog.Info("worker exited normally")
			return
		case worker.ExitDoNotRestart:
			wlog.Warn("worker exited do-not-restart", slog.Any("error", result.Err))
			return
		case worker.ExitConfigError:
			wlog.Error("worker exited with configuration error, not restarting", slog.Any("error", result.Err))
			return
		default:
			backoff := s.backoff(k)
			observability.RecordWorkerRestart(profile.ProfileID)
			observability.RecordWorkerExit("transient")
			wlog.Warn("worker exited transiently, restarting", slog.Any("error", result.Err), slog.Duration("backoff", backoff), slog.Int("consecutive_failures", k))
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
	}
}

// backoff computes min(base*2^k, cap) via a fresh cenkalti/backoff
// ExponentialBackOff advanced k steps, with jitter disabled so the restart
// delay matches §4.6's formula exactly (useful for tests; an operator who
// wants jitter can still get it from the pacing delay computed elsewhere).
func (s *Supervisor) backoff(k int) time.Duration {
	base := s.Cfg.RestartBackoffBase
	if base <= 0 {
		base = time.Second
	}
	ceiling := s.Cfg.RestartBackoffCap
	if ceiling <= 0 {
		ceiling = 2 * time.Minute
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = ceiling
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	d := eb.NextBackOff()
	for i := 0; i < k; i++ {
		d = eb.NextBackOff()
	}
	if d == backoff.Stop || d > ceiling {
		return ceiling
	}
	return d
}
