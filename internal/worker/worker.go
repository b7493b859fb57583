// Package worker implements the per-Profile state machine that drives one
// Driver session through repeated claim/send/record/pace cycles (§4.5).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"

	"github.com/relaygrid/fleetsched/internal/adapter/observability"
	"github.com/relaygrid/fleetsched/internal/domain"
)

// Exit codes, per §6's control-surface contract.
const (
	ExitNormal        = 0
	ExitTransient      = 1
	ExitDoNotRestart   = 3
	ExitConfigError    = 2
)

// ExitResult is what a Worker's Run reports back to its Supervisor.
type ExitResult struct {
	Code    int
	Err     error
	Success bool // true if Run completed at least one successful iteration this invocation
}

// Config bundles the pacing/timeout knobs a Worker needs from
// config.Config, kept narrow so worker does not import the config package
// directly.
type Config struct {
	CycleDelay             time.Duration
	MaxMessagesPerHour     int
	DelayRandomness        float64
	PageLoadTimeout        time.Duration
	SearchTimeout          time.Duration
	SendTimeout            time.Duration
	LaunchMaxRetries       int
	LaunchBackoffBase      time.Duration
}

// Worker binds one Profile, one RunSession, and handles to every port the
// state machine needs (§4.5).
type Worker struct {
	GroupID   string
	Profile   domain.Profile
	RunID     string
	Cfg       Config

	Store     domain.Store
	Tasks     domain.TaskQueue
	Proxies   domain.ProxyRegistry
	Messages  domain.MessageRepository
	Profiles  domain.ProfileRepository
	Classifier domain.ErrorClassifier
	Driver    domain.Driver
	Clock     domain.Clock

	Log *slog.Logger

	// pendingTask/pendingOutcome/pendingMessage carry state across the
	// CLAIMING/SENDING/RECORDING/PACING transitions of Run's loop.
	pendingTask    *domain.Task
	pendingOutcome *domain.Outcome
	pendingMessage string
}

// state names the Worker's current position in the §4.5 state machine.
type state string

const (
	stateInit         state = "init"
	stateResolveProxy state = "resolve_proxy"
	stateLaunch       state = "launch"
	stateReady        state = "ready"
	stateClaiming     state = "claiming"
	stateSending      state = "sending"
	stateRecording    state = "recording"
	statePacing       state = "pacing"
	stateFatal        state = "fatal"
	stateShutdown     state = "shutdown"
	stateTerminal     state = "terminal"
)

// Run drives the state machine until it exits: SHUTDOWN (no work left),
// FATAL (configuration error), TERMINAL (account frozen, do-not-restart),
// or ctx cancellation (cooperative shutdown, §4.5's cancellation rules). A
// panic anywhere in the cycle (most plausibly from a Driver implementation
// misbehaving) is recovered here and reported as ExitTransient rather than
// unwinding into the goroutine Supervisor spawned for this Worker — a crash
// in one profile's session must never take a peer profile's Worker down
// with it (§4.6, §9).
func (w *Worker) Run(ctx context.Context) (result ExitResult) {
	defer func() {
		if r := recover(); r != nil {
			if w.Log != nil {
				w.Log.Error("worker panicked, treating as transient exit",
					slog.String("profile_id", w.Profile.ProfileID),
					slog.Any("panic", r))
			}
			result = ExitResult{Code: ExitTransient, Err: fmt.Errorf("worker panic: %v", r)}
		}
	}()
	return w.run(ctx)
}

func (w *Worker) run(ctx context.Context) ExitResult {
	tracer := otel.Tracer("worker")
	ctx, span := tracer.Start(ctx, "worker.Run")
	defer span.End()

	log := w.Log.With(slog.String("profile_id", w.Profile.ProfileID), slog.String("run_id", w.RunID))

	var session domain.Session
	var proxyURL string
	st := stateInit
	succeeded := false

	defer func() {
		if session != nil {
			if err := w.Driver.Close(context.WithoutCancel(ctx), session); err != nil {
				log.Warn("driver close failed", slog.Any("error", err))
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			log.Info("worker cancelled", slog.String("state", string(st)))
			return ExitResult{Code: ExitNormal, Success: succeeded}
		}

		switch st {
		case stateInit:
			st = stateResolveProxy

		case stateResolveProxy:
			url, ok, err := w.Proxies.Resolve(ctx, w.Profile.ProfileID)
			if err != nil || !ok {
				log.Error("no proxy available for profile", slog.Any("error", err))
				return ExitResult{Code: ExitConfigError, Err: fmt.Errorf("op=worker.resolve_proxy: %w", domain.ErrNoProxyAvailable), Success: succeeded}
			}
			proxyURL = url
			st = stateLaunch

		case stateLaunch:
			s, err := w.launchWithRetry(ctx, proxyURL)
			if err != nil {
				log.Error("launch failed after retries", slog.Any("error", err))
				return ExitResult{Code: ExitConfigError, Err: err, Success: succeeded}
			}
			session = s
			st = stateReady

		case stateReady:
			st = stateClaiming

		case stateClaiming:
			task, ok, err := w.claim(ctx)
			if err != nil {
				log.Error("claim failed", slog.Any("error", err))
				return ExitResult{Code: ExitTransient, Err: err, Success: succeeded}
			}
			if !ok {
				hasWork, err := w.Tasks.HasPendingWork(ctx, w.GroupID)
				if err != nil {
					log.Error("has-pending-work check failed", slog.Any("error", err))
					return ExitResult{Code: ExitTransient, Err: err, Success: succeeded}
				}
				if !hasWork {
					log.Info("group drained, shutting down")
					st = stateShutdown
					continue
				}
				if !w.sleepCancellable(ctx, w.Cfg.CycleDelay) {
					return ExitResult{Code: ExitNormal, Success: succeeded}
				}
				continue
			}
			w.pendingTask = &task
			st = stateSending

		case stateSending:
			outcome, err := w.send(ctx, session, *w.pendingTask)
			if err != nil {
				log.Error("send failed", slog.Any("error", err))
				outcome = domain.Outcome{Kind: domain.OutcomeUnexpectedError, Detail: err.Error()}
			}
			w.pendingOutcome = &outcome
			st = stateRecording

		case stateRecording:
			decision, err := w.record(ctx, *w.pendingTask, *w.pendingOutcome)
			if err != nil {
				log.Error("record failed", slog.Any("error", err))
				return ExitResult{Code: ExitTransient, Err: err, Success: succeeded}
			}
			succeeded = succeeded || w.pendingOutcome.Kind == domain.OutcomeSuccess
			w.pendingTask = nil
			if decision.Worker == domain.WorkerExitDoNotRestart {
				st = stateTerminal
				continue
			}
			st = statePacing

		case statePacing:
			delay := w.paceDelay(*w.pendingOutcome)
			w.pendingOutcome = nil
			w.pendingMessage = ""
			if !w.sleepCancellable(ctx, delay) {
				return ExitResult{Code: ExitNormal, Success: succeeded}
			}
			st = stateClaiming

		case stateTerminal:
			log.Warn("account frozen, exiting do-not-restart")
			return ExitResult{Code: ExitDoNotRestart, Success: succeeded}

		case stateShutdown:
			return ExitResult{Code: ExitNormal, Success: succeeded}

		case stateFatal:
			return ExitResult{Code: ExitConfigError, Success: succeeded}
		}
	}
}

func (w *Worker) launchWithRetry(ctx context.Context, proxyURL string) (domain.Session, error) {
	retries := w.Cfg.LaunchMaxRetries
	if retries <= 0 {
		retries = 1
	}
	base := w.Cfg.LaunchBackoffBase
	if base <= 0 {
		base = time.Second
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			if !w.sleepCancellable(ctx, eb.NextBackOff()) {
				return nil, context.Canceled
			}
		}
		sess, err := w.Driver.Open(ctx, w.Profile, proxyURL)
		if err == nil {
			return sess, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("op=worker.launch: %w", lastErr)
}

func (w *Worker) claim(ctx context.Context) (domain.Task, bool, error) {
	started := w.Clock.Now()
	task, ok, err := w.Tasks.ClaimNext(ctx, w.GroupID, w.Profile.ProfileID, w.RunID)
	result := "claimed"
	if err != nil {
		result = "error"
	} else if !ok {
		result = "empty"
	}
	observability.RecordClaim(result, w.Clock.Now().Sub(started))
	return task, ok, err
}

func (w *Worker) send(ctx context.Context, session domain.Session, task domain.Task) (domain.Outcome, error) {
	timeout := w.Cfg.PageLoadTimeout + w.Cfg.SearchTimeout + w.Cfg.SendTimeout
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, ok, err := w.Messages.RandomActive(sendCtx, w.GroupID)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("op=worker.send.message: %w", err)
	}
	if !ok {
		return domain.Outcome{}, fmt.Errorf("op=worker.send.message: %w: no active message for group", domain.ErrNotFound)
	}
	w.pendingMessage = msg.Text
	return w.Driver.SendAction(sendCtx, session, task.ChatRef, msg.Text)
}

// record applies the classifier's Decision inside one Store transaction and
// returns it so the caller can react to Worker-level directives (§4.5
// RECORDING).
func (w *Worker) record(ctx context.Context, task domain.Task, outcome domain.Outcome) (domain.Decision, error) {
	decision := w.Classifier.Classify(outcome)
	observability.RecordAttempt(string(attemptStatus(outcome.Kind)), string(outcome.Kind))

	err := w.Store.WithTx(ctx, domain.TxReadWrite, func(ctx domain.Context) error {
		cycleNumber := task.CompletedCycles + 1
		if outcome.Kind == domain.OutcomeSuccess {
			if err := w.Tasks.RecordSuccess(ctx, task, w.Profile.ProfileID, w.RunID, cycleNumber, w.pendingMessage); err != nil {
				return err
			}
		} else {
			if err := w.Tasks.RecordFailure(ctx, task, w.Profile.ProfileID, w.RunID, cycleNumber, outcome.Kind, outcome.WaitSeconds, decision); err != nil {
				return err
			}
		}
		if err := w.Proxies.ObserveOutcome(ctx, w.Profile.ProfileID, outcome.Kind); err != nil {
			return err
		}
		if decision.Profile == domain.ProfileActionBlock {
			if err := w.Profiles.Block(ctx, w.Profile.ProfileID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Decision{}, fmt.Errorf("op=worker.record: %w", err)
	}
	return decision, nil
}

// paceDelay returns how long to sleep before the next CLAIMING attempt,
// given the outcome just recorded. slow_mode already released its own
// next_available_at server-side; the Worker still backs off locally so it
// does not hammer ClaimNext in the meantime.
func (w *Worker) paceDelay(outcome domain.Outcome) time.Duration {
	if outcome.Kind == domain.OutcomeSlowMode && outcome.WaitSeconds > 0 {
		return time.Duration(outcome.WaitSeconds) * time.Second
	}
	if w.Cfg.MaxMessagesPerHour <= 0 {
		return w.Cfg.CycleDelay
	}
	base := 3600.0 / float64(w.Cfg.MaxMessagesPerHour)
	randomness := w.Cfg.DelayRandomness
	if randomness < 0 {
		randomness = 0
	}
	if randomness > 1 {
		randomness = 1
	}
	factor := 1 - randomness + rand.Float64()*2*randomness
	return time.Duration(base*factor*float64(time.Second)) + 0
}

// sleepCancellable sleeps for d or returns false early if ctx is cancelled
// first (§4.5's cancellation rule (a): "breaks out of any sleep").
func (w *Worker) sleepCancellable(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func attemptStatus(kind domain.OutcomeKind) domain.AttemptStatus {
	if kind == domain.OutcomeSuccess {
		return domain.AttemptSuccess
	}
	return domain.AttemptFailed
}
