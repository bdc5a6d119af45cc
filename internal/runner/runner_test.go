package runner

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func waitExit(t *testing.T, p *Process) Exit {
	t.Helper()
	select {
	case exit := <-p.ExitCh():
		return exit
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for process exit")
		return Exit{}
	}
}

func TestStartCleanExit(t *testing.T) {
	p, err := Start(Spec{
		Name:    "clean",
		Command: []string{"sh", "-c", "exit 0"},
	}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	exit := waitExit(t, p)
	if exit.Code != 0 {
		t.Errorf("exit code = %d, want 0", exit.Code)
	}
	if exit.Reason != ExitReasonSuccess {
		t.Errorf("reason = %s, want %s", exit.Reason, ExitReasonSuccess)
	}
}

func TestStartNonZeroExit(t *testing.T) {
	p, err := Start(Spec{
		Name:    "fail",
		Command: []string{"sh", "-c", "exit 3"},
	}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	exit := waitExit(t, p)
	if exit.Code != 3 {
		t.Errorf("exit code = %d, want 3", exit.Code)
	}
	if exit.Reason != ExitReasonError {
		t.Errorf("reason = %s, want %s", exit.Reason, ExitReasonError)
	}
}

func TestStartInvalidCommand(t *testing.T) {
	if _, err := Start(Spec{Name: "bad", Command: []string{"/nonexistent/binary"}}, Options{}); err == nil {
		t.Error("Start should fail for a nonexistent binary")
	}
	if _, err := Start(Spec{Name: "empty"}, Options{}); err == nil {
		t.Error("Start should fail for an empty command")
	}
}

func TestStopTerminatesProcess(t *testing.T) {
	p, err := Start(Spec{
		Name:    "long",
		Command: []string{"sleep", "30"},
	}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	graceful := p.Stop(5 * time.Second)
	if !graceful {
		t.Error("sleep should terminate gracefully on SIGTERM")
	}

	exit := waitExit(t, p)
	if exit.Reason != ExitReasonKilled {
		t.Errorf("reason = %s, want %s", exit.Reason, ExitReasonKilled)
	}
	if exit.Code != 143 {
		t.Errorf("exit code = %d, want 143", exit.Code)
	}
	if exit.Signal != "SIGTERM" {
		t.Errorf("signal = %q, want SIGTERM", exit.Signal)
	}
}

func TestStopAfterExitIsNoop(t *testing.T) {
	p, err := Start(Spec{
		Name:    "short",
		Command: []string{"sh", "-c", "exit 0"},
	}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-p.Done()

	if graceful := p.Stop(time.Second); !graceful {
		t.Error("Stop after exit should report graceful")
	}
}

func TestEnvAndWorkdir(t *testing.T) {
	dir := t.TempDir()

	p, err := Start(Spec{
		Name:    "envtest",
		Command: []string{"sh", "-c", `printf "%s" "$PROBE_TARGET" > out.txt`},
		Workdir: dir,
		Env:     map[string]string{"PROBE_TARGET": "localhost:8000"},
	}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	exit := waitExit(t, p)
	if exit.Code != 0 {
		t.Fatalf("exit code = %d, want 0", exit.Code)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "localhost:8000" {
		t.Errorf("child env = %q, want %q", string(data), "localhost:8000")
	}
}

func TestRSSReportsMemory(t *testing.T) {
	p, err := Start(Spec{
		Name:    "rss",
		Command: []string{"sleep", "5"},
	}, Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(time.Second)

	// give the process a moment to map its pages
	time.Sleep(200 * time.Millisecond)

	if rss := p.RSS(); rss == 0 {
		t.Error("RSS() = 0 for a live process")
	}
}

func TestClassifyWaitStatusExitCodes(t *testing.T) {
	tests := []struct {
		name       string
		cmd        string
		wantCode   int
		wantReason ExitReason
	}{
		{"propagated oom code", "exit 137", 137, ExitReasonOOM},
		{"propagated term code", "exit 143", 143, ExitReasonKilled},
		{"ordinary failure", "exit 7", 7, ExitReasonError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Start(Spec{Name: "classify", Command: []string{"sh", "-c", tt.cmd}}, Options{})
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			exit := waitExit(t, p)
			if exit.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", exit.Code, tt.wantCode)
			}
			if exit.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", exit.Reason, tt.wantReason)
			}
		})
	}
}

func TestSignalName(t *testing.T) {
	if got := SignalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("SignalName(SIGTERM) = %q", got)
	}
	if got := SignalName(syscall.Signal(64)); got != "SIG64" {
		t.Errorf("SignalName(64) = %q", got)
	}
}

func TestExitReasonIsFailure(t *testing.T) {
	if ExitReasonSuccess.IsFailure() {
		t.Error("success should not be a failure")
	}
	for _, r := range []ExitReason{ExitReasonError, ExitReasonOOM, ExitReasonKilled, ExitReasonSignal} {
		if !r.IsFailure() {
			t.Errorf("%s should be a failure", r)
		}
	}
}
