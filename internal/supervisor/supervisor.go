package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platewatch/platewatch/internal/runner"
	"github.com/platewatch/platewatch/pkg/logging"
	"github.com/platewatch/platewatch/pkg/models"
)

// maxTransitionHistory bounds the transition log kept for /status
const maxTransitionHistory = 64

// Supervisor drives one service through the lifecycle state machine:
// launch, start period, sequential health probes, failure threshold,
// restart policy. A single goroutine owns the loop; operator stop and
// start arrive over channels so they serialize with probe handling.
type Supervisor struct {
	cfg     *Config
	log     *logging.Logger
	prober  *Prober
	backoff *models.RestartBackoff

	mu                  sync.Mutex
	state               models.ServiceState
	proc                *runner.Process
	transitions         []models.StateTransition
	consecutiveFailures int
	probesTotal         int64
	probeFailuresTotal  int64
	restarts            int
	restartStreak       int
	lastProbe           *models.ProbeResult
	lastExitCode        *int
	stopRequested       bool

	stopCh  chan chan struct{}
	startCh chan chan error
}

// New creates a supervisor for the configured service
func New(cfg *Config, log *logging.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		log:     log.WithField("service", cfg.Service.Name),
		prober:  NewProber(cfg.Port, cfg.Timeout),
		backoff: models.DefaultRestartBackoff(),
		state:   models.StateStarting,
		stopCh:  make(chan chan struct{}),
		startCh: make(chan chan error),
	}
}

// Run drives the lifecycle loop until ctx is cancelled. A stopped
// service parks the loop until an operator start arrives.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info("supervisor starting", map[string]interface{}{
		"probe_url":    s.prober.URL(),
		"interval":     s.cfg.Interval.String(),
		"timeout":      s.cfg.Timeout.String(),
		"start_period": s.cfg.StartPeriod.String(),
		"retries":      s.cfg.Retries,
		"restart":      string(s.cfg.Policy),
	})

	for {
		if ctx.Err() != nil {
			return nil
		}

		if s.State() == models.StateStopped {
			select {
			case <-ctx.Done():
				return nil
			case reply := <-s.stopCh:
				reply <- struct{}{} // stop is idempotent
				continue
			case reply := <-s.startCh:
				s.setStopRequested(false)
				s.transition(models.StateStarting, "operator start")
				reply <- nil
			}
		}

		if s.generation(ctx) {
			return nil
		}
	}
}

// generation runs one process lifetime: launch, start period, probe
// loop, and the post-exit restart decision. Returns true when the
// supervisor context was cancelled.
func (s *Supervisor) generation(ctx context.Context) bool {
	proc, err := runner.Start(s.cfg.Service, runner.Options{
		Limits: s.cfg.Limits,
		Log:    s.log,
	})
	if err != nil {
		s.log.Error("launch failed", map[string]interface{}{"error": err.Error()})
		s.transition(models.StateUnhealthy, "launch failed")
		return s.decide(ctx, 1)
	}

	s.setProc(proc)
	s.log.Info("service launched", map[string]interface{}{
		"pid":         proc.PID(),
		"enforcement": proc.Enforcement(),
	})

	// fresh process, fresh failure count
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()

	// start period: probes are not issued, failures cannot accumulate
	startTimer := time.NewTimer(s.cfg.StartPeriod)
	defer startTimer.Stop()

	select {
	case <-ctx.Done():
		s.shutdownChild(proc)
		return true
	case reply := <-s.stopCh:
		s.operatorStop(proc, reply)
		return false
	case exit := <-proc.ExitCh():
		s.recordExit(exit)
		s.transition(models.StateUnhealthy, fmt.Sprintf("process exited during start period (%s)", exit.Reason))
		return s.decide(ctx, exit.Code)
	case <-startTimer.C:
	}

	s.transition(models.StateProbing, "start period elapsed")

	// sequential probes: one in flight, first fires immediately
	for {
		probeCtx, probeCancel := context.WithCancel(ctx)
		probeCh := make(chan models.ProbeResult, 1)
		go func() {
			probeCh <- s.prober.Probe(probeCtx)
		}()

		var result models.ProbeResult
		select {
		case <-ctx.Done():
			probeCancel()
			s.shutdownChild(proc)
			return true
		case reply := <-s.stopCh:
			probeCancel()
			s.operatorStop(proc, reply)
			return false
		case exit := <-proc.ExitCh():
			probeCancel()
			s.recordExit(exit)
			s.transition(models.StateUnhealthy, fmt.Sprintf("process exited (%s)", exit.Reason))
			return s.decide(ctx, exit.Code)
		case result = <-probeCh:
		}
		probeCancel()

		if s.recordProbe(result) {
			s.transition(models.StateUnhealthy, "failure threshold reached")
			exit := s.reap(proc)
			s.recordExit(exit)
			return s.decide(ctx, exit.Code)
		}

		select {
		case <-ctx.Done():
			s.shutdownChild(proc)
			return true
		case reply := <-s.stopCh:
			s.operatorStop(proc, reply)
			return false
		case exit := <-proc.ExitCh():
			s.recordExit(exit)
			s.transition(models.StateUnhealthy, fmt.Sprintf("process exited (%s)", exit.Reason))
			return s.decide(ctx, exit.Code)
		case <-time.After(s.cfg.Interval):
		}
	}
}

// recordProbe updates counters and the healthy/probing edge. Returns
// true when the consecutive-failure threshold is reached. A single
// success resets the count and the restart backoff schedule.
func (s *Supervisor) recordProbe(result models.ProbeResult) bool {
	s.mu.Lock()
	s.probesTotal++
	r := result
	s.lastProbe = &r

	if result.Success {
		s.consecutiveFailures = 0
		s.restartStreak = 0
		becameHealthy := s.state != models.StateHealthy
		s.mu.Unlock()

		if becameHealthy {
			s.transition(models.StateHealthy, "probe succeeded")
		}
		return false
	}

	s.probeFailuresTotal++
	s.consecutiveFailures++
	failures := s.consecutiveFailures
	wasHealthy := s.state == models.StateHealthy
	s.mu.Unlock()

	s.log.Warn("probe failed", map[string]interface{}{
		"failures": failures,
		"retries":  s.cfg.Retries,
		"error":    result.Error,
	})

	if wasHealthy {
		s.transition(models.StateProbing, "probe failed")
	}

	return failures >= s.cfg.Retries
}

// decide applies the restart policy after the service left the healthy
// path. Returns true when the supervisor context was cancelled.
func (s *Supervisor) decide(ctx context.Context, exitCode int) bool {
	s.clearProc()

	s.mu.Lock()
	stopRequested := s.stopRequested
	streak := s.restartStreak
	s.mu.Unlock()

	if !s.cfg.Policy.ShouldRestart(exitCode, stopRequested) {
		s.transition(models.StateStopped, "restart policy declined")
		return false
	}
	if s.cfg.MaxRestarts > 0 && streak >= s.cfg.MaxRestarts {
		s.log.Error("restart attempts exhausted", map[string]interface{}{
			"attempts": streak,
			"max":      s.cfg.MaxRestarts,
		})
		s.transition(models.StateStopped, "restart attempts exhausted")
		return false
	}

	s.transition(models.StateRestarting, "restart policy")

	delay := s.backoff.Delay(streak)
	s.log.Info("restarting after backoff", map[string]interface{}{
		"delay":     delay.String(),
		"attempt":   streak + 1,
		"exit_code": exitCode,
	})

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case reply := <-s.stopCh:
		s.setStopRequested(true)
		s.transition(models.StateStopped, "operator stop")
		reply <- struct{}{}
		return false
	case <-timer.C:
	}

	s.mu.Lock()
	s.restartStreak++
	s.restarts++
	s.mu.Unlock()

	s.transition(models.StateStarting, "backoff elapsed")
	return false
}

// operatorStop terminates the process and parks the service
func (s *Supervisor) operatorStop(proc *runner.Process, reply chan struct{}) {
	s.setStopRequested(true)
	s.log.Info("operator stop requested", map[string]interface{}{"pid": proc.PID()})

	exit := s.reap(proc)
	s.recordExit(exit)
	s.clearProc()
	s.transition(models.StateStopped, "operator stop")
	reply <- struct{}{}
}

// shutdownChild stops the process because the supervisor itself is
// exiting. No state transition: the daemon is going away.
func (s *Supervisor) shutdownChild(proc *runner.Process) {
	s.log.Info("supervisor shutting down, stopping service", map[string]interface{}{"pid": proc.PID()})
	s.reap(proc)
	s.clearProc()
}

// reap terminates the process group and collects its exit
func (s *Supervisor) reap(proc *runner.Process) runner.Exit {
	graceful := proc.Stop(s.cfg.StopGrace)
	if !graceful {
		s.log.Warn("service did not stop within grace period, killed", map[string]interface{}{
			"pid":   proc.PID(),
			"grace": s.cfg.StopGrace.String(),
		})
	}

	select {
	case exit := <-proc.ExitCh():
		return exit
	case <-time.After(5 * time.Second):
		return runner.Exit{Code: -1, Reason: runner.ExitReasonUnknown, At: time.Now()}
	}
}

// OperatorStop requests a stop and waits for the service to be down.
// Stopped is terminal for the restart policy: no relaunch until an
// explicit OperatorStart.
func (s *Supervisor) OperatorStop(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	select {
	case s.stopCh <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OperatorStart relaunches a stopped service
func (s *Supervisor) OperatorStart(ctx context.Context) error {
	if st := s.State(); st != models.StateStopped {
		return fmt.Errorf("service is %s, start only applies to a stopped service", st)
	}

	reply := make(chan error, 1)
	select {
	case s.startCh <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state
func (s *Supervisor) State() models.ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a point-in-time snapshot for the admin API
func (s *Supervisor) Status() models.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := models.ServiceStatus{
		Name:                s.cfg.Service.Name,
		State:               s.state,
		Restarts:            s.restarts,
		ConsecutiveFailures: s.consecutiveFailures,
		ProbesTotal:         s.probesTotal,
		ProbeFailuresTotal:  s.probeFailuresTotal,
		MemoryLimitBytes:    s.cfg.Limits.MemoryMaxBytes,
	}

	if s.lastProbe != nil {
		lp := *s.lastProbe
		st.LastProbe = &lp
	}
	if s.lastExitCode != nil {
		c := *s.lastExitCode
		st.LastExitCode = &c
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
		started := s.proc.StartedAt()
		st.StartedAt = &started
		st.UptimeSeconds = int64(time.Since(started).Seconds())
		st.MemoryRSSBytes = s.proc.RSS()
	}

	st.Transitions = append([]models.StateTransition(nil), s.transitions...)
	return st
}

// transition applies a state change, recording it for /status
func (s *Supervisor) transition(to models.ServiceState, reason string) {
	s.mu.Lock()
	from := s.state
	if err := models.ValidateTransition(from, to); err != nil {
		s.mu.Unlock()
		s.log.Error("refused state transition", map[string]interface{}{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
			"error":  err.Error(),
		})
		return
	}

	s.state = to
	s.transitions = append(s.transitions, models.StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	if len(s.transitions) > maxTransitionHistory {
		s.transitions = s.transitions[len(s.transitions)-maxTransitionHistory:]
	}
	s.mu.Unlock()

	s.log.Info("state transition", map[string]interface{}{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
}

func (s *Supervisor) setProc(proc *runner.Process) {
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
}

func (s *Supervisor) clearProc() {
	s.mu.Lock()
	s.proc = nil
	s.mu.Unlock()
}

func (s *Supervisor) setStopRequested(v bool) {
	s.mu.Lock()
	s.stopRequested = v
	s.mu.Unlock()
}

func (s *Supervisor) recordExit(exit runner.Exit) {
	s.mu.Lock()
	code := exit.Code
	s.lastExitCode = &code
	s.mu.Unlock()

	s.log.Info("service exited", map[string]interface{}{
		"exit_code": exit.Code,
		"reason":    string(exit.Reason),
		"signal":    exit.Signal,
	})
}
