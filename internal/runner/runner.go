// Package runner spawns and terminates the supervised service process.
// The child runs in its own process group so supervisor restarts never
// orphan-kill it and group signals never reach the supervisor itself.
package runner

import (
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/platewatch/platewatch/internal/cgroups"
	"github.com/platewatch/platewatch/pkg/logging"
)

// Spec describes the command to supervise
type Spec struct {
	Name    string
	Command []string
	Workdir string
	Env     map[string]string
}

// ExitReason describes why the service process terminated
type ExitReason string

const (
	ExitReasonSuccess ExitReason = "success" // exit code 0
	ExitReasonError   ExitReason = "error"   // exit code != 0
	ExitReasonOOM     ExitReason = "oom"     // SIGKILL / exit 137
	ExitReasonKilled  ExitReason = "killed"  // SIGTERM / exit 143
	ExitReasonSignal  ExitReason = "signal"  // any other signal
	ExitReasonUnknown ExitReason = "unknown"
)

// Exit is delivered on ExitCh when the process terminates
type Exit struct {
	Code   int
	Reason ExitReason
	Signal string
	At     time.Time
}

// Options tunes limit enforcement for a started process
type Options struct {
	Limits           cgroups.Limits
	WatchdogInterval time.Duration // RSS sampling cadence when cgroups are unavailable
	Log              *logging.Logger
}

// Process is a started service process
type Process struct {
	name        string
	cmd         *exec.Cmd
	pid         int
	startedAt   time.Time
	enforcement string // "cgroup", "watchdog" or "none"

	done      chan struct{}
	exitCh    chan Exit
	oomKilled atomic.Bool
	log       *logging.Logger
}

// Start spawns the service in its own process group and applies memory
// limits. Cgroup failures degrade to the RSS watchdog, never block startup.
func Start(spec Spec, opts Options) (*Process, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	log := opts.Log
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Workdir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// New process group so group signals stop the whole service tree
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}

	p := &Process{
		name:        spec.Name,
		cmd:         cmd,
		pid:         cmd.Process.Pid,
		startedAt:   time.Now(),
		enforcement: "none",
		done:        make(chan struct{}),
		exitCh:      make(chan Exit, 1),
		log:         log,
	}

	cgroupPath := p.applyLimits(opts.Limits)

	if p.enforcement == "watchdog" {
		go p.watchRSS(opts.Limits.MemoryMaxBytes, opts.WatchdogInterval)
	}

	go p.wait(cgroupPath)

	return p, nil
}

// PID returns the process ID of the service
func (p *Process) PID() int {
	return p.pid
}

// StartedAt returns when the process was spawned
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// ExitCh delivers exactly one Exit when the process terminates
func (p *Process) ExitCh() <-chan Exit {
	return p.exitCh
}

// Done is closed once the process has been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Enforcement reports how the memory limit is enforced
func (p *Process) Enforcement() string {
	return p.enforcement
}

// RSS returns the current resident set size of the process, 0 when gone
func (p *Process) RSS() uint64 {
	proc, err := process.NewProcess(int32(p.pid))
	if err != nil {
		return 0
	}
	mi, err := proc.MemoryInfo()
	if err != nil {
		return 0
	}
	return mi.RSS
}

// Stop terminates the process group: SIGTERM, grace, SIGKILL.
// Returns true when the process exited within the grace period.
func (p *Process) Stop(grace time.Duration) bool {
	select {
	case <-p.done:
		return true // already gone
	default:
	}
	return p.killGroup(grace)
}

// applyLimits creates and populates the service cgroup. Returns the
// cgroup path for cleanup; sets the enforcement mode as a side effect.
func (p *Process) applyLimits(limits cgroups.Limits) string {
	if limits.MemoryMaxBytes == 0 && limits.MemoryLowBytes == 0 {
		return ""
	}

	fallback := func() string {
		if limits.MemoryMaxBytes > 0 {
			p.enforcement = "watchdog"
		}
		return ""
	}

	mgr := cgroups.New()
	path, err := mgr.Create(p.name)
	if err != nil || path == "" {
		p.log.Warn("cgroup unavailable, using RSS watchdog", map[string]interface{}{
			"service": p.name,
		})
		return fallback()
	}

	if err := mgr.Join(path, p.pid); err != nil {
		p.log.Warn("cannot join cgroup, using RSS watchdog", map[string]interface{}{
			"service": p.name,
			"error":   err.Error(),
		})
		mgr.Delete(path)
		return fallback()
	}

	if err := mgr.Apply(path, limits); err != nil {
		p.log.Warn("cannot apply cgroup limits, using RSS watchdog", map[string]interface{}{
			"service": p.name,
			"error":   err.Error(),
		})
		// pid already joined: keep the path so the cgroup is removed on exit
		if limits.MemoryMaxBytes > 0 {
			p.enforcement = "watchdog"
		}
		return path
	}

	p.enforcement = "cgroup"
	return path
}

// wait reaps the process, classifies the exit and delivers it
func (p *Process) wait(cgroupPath string) {
	err := p.cmd.Wait()

	exit := Exit{Code: 0, Reason: ExitReasonSuccess, At: time.Now()}
	if err != nil {
		exit.Code, exit.Reason, exit.Signal = -1, ExitReasonUnknown, ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				exit.Code, exit.Reason, exit.Signal = classifyWaitStatus(ws)
			} else {
				exit.Code, exit.Reason = exitErr.ExitCode(), ExitReasonError
			}
		}
	}

	if p.oomKilled.Load() {
		exit.Reason = ExitReasonOOM
	}

	close(p.done)

	if cgroupPath != "" {
		cgroups.New().Delete(cgroupPath)
	}

	p.exitCh <- exit
}

// watchRSS samples the resident set size and kills the process group
// when it exceeds the limit. Only runs when cgroups are unavailable.
func (p *Process) watchRSS(limitBytes int64, interval time.Duration) {
	if limitBytes <= 0 {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	proc, err := process.NewProcess(int32(p.pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			mi, err := proc.MemoryInfo()
			if err != nil {
				return // process gone
			}
			if int64(mi.RSS) > limitBytes {
				p.log.Warn("memory limit exceeded, killing process group", map[string]interface{}{
					"service":     p.name,
					"pid":         p.pid,
					"rss_bytes":   mi.RSS,
					"limit_bytes": limitBytes,
				})
				p.oomKilled.Store(true)
				p.killGroup(2 * time.Second)
				return
			}
		}
	}
}

// killGroup signals the whole process group: SIGTERM, grace, SIGKILL.
// Returns true when the group exited before escalation.
func (p *Process) killGroup(grace time.Duration) bool {
	pgid, err := syscall.Getpgid(p.pid)
	if err != nil {
		return true // already reaped
	}

	syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-p.done:
		return true
	case <-time.After(grace):
	}

	syscall.Kill(-pgid, syscall.SIGKILL)
	return false
}

// classifyWaitStatus maps a wait status onto an exit code and reason.
// Signaled exits use the 128+signal convention of container runtimes,
// so SIGKILL surfaces as 137 and SIGTERM as 143.
func classifyWaitStatus(ws syscall.WaitStatus) (int, ExitReason, string) {
	if ws.Exited() {
		code := ws.ExitStatus()
		switch code {
		case 0:
			return 0, ExitReasonSuccess, ""
		case 137:
			return code, ExitReasonOOM, ""
		case 143:
			return code, ExitReasonKilled, ""
		default:
			return code, ExitReasonError, ""
		}
	}

	if ws.Signaled() {
		sig := ws.Signal()
		code := 128 + int(sig)
		switch sig {
		case syscall.SIGKILL:
			return code, ExitReasonOOM, SignalName(sig)
		case syscall.SIGTERM, syscall.SIGINT:
			return code, ExitReasonKilled, SignalName(sig)
		default:
			return code, ExitReasonSignal, SignalName(sig)
		}
	}

	return -1, ExitReasonUnknown, ""
}

// SignalName returns the conventional name for a signal number
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	default:
		return fmt.Sprintf("SIG%d", sig)
	}
}

// IsFailure reports whether the exit should count as a service failure
func (r ExitReason) IsFailure() bool {
	return r != ExitReasonSuccess
}
