package models

import (
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ServiceState
		to      ServiceState
		wantErr bool
	}{
		// Valid transitions
		{"Starting to Probing", StateStarting, StateProbing, false},
		{"Starting to Unhealthy", StateStarting, StateUnhealthy, false},
		{"Starting to Stopped", StateStarting, StateStopped, false},
		{"Probing to Healthy", StateProbing, StateHealthy, false},
		{"Probing to Unhealthy", StateProbing, StateUnhealthy, false},
		{"Healthy to Probing", StateHealthy, StateProbing, false},
		{"Healthy to Unhealthy", StateHealthy, StateUnhealthy, false},
		{"Healthy to Stopped", StateHealthy, StateStopped, false},
		{"Unhealthy to Restarting", StateUnhealthy, StateRestarting, false},
		{"Unhealthy to Stopped", StateUnhealthy, StateStopped, false},
		{"Restarting to Starting", StateRestarting, StateStarting, false},
		{"Stopped to Starting", StateStopped, StateStarting, false},

		// Invalid transitions
		{"Starting to Healthy", StateStarting, StateHealthy, true},
		{"Starting to Restarting", StateStarting, StateRestarting, true},
		{"Probing to Restarting", StateProbing, StateRestarting, true},
		{"Healthy to Starting", StateHealthy, StateStarting, true},
		{"Unhealthy to Healthy", StateUnhealthy, StateHealthy, true},
		{"Restarting to Healthy", StateRestarting, StateHealthy, true},
		{"Stopped to Healthy", StateStopped, StateHealthy, true},
		{"Unknown source state", ServiceState("bogus"), StateHealthy, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    ServiceState
		expected bool
	}{
		{"Stopped is terminal", StateStopped, true},
		{"Starting is not terminal", StateStarting, false},
		{"Probing is not terminal", StateProbing, false},
		{"Healthy is not terminal", StateHealthy, false},
		{"Unhealthy is not terminal", StateUnhealthy, false},
		{"Restarting is not terminal", StateRestarting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsTerminalState(tt.state)
			if result != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, result, tt.expected)
			}
		})
	}
}

func TestIsActiveState(t *testing.T) {
	tests := []struct {
		name     string
		state    ServiceState
		expected bool
	}{
		{"Starting is active", StateStarting, true},
		{"Probing is active", StateProbing, true},
		{"Healthy is active", StateHealthy, true},
		{"Unhealthy is not active", StateUnhealthy, false},
		{"Restarting is not active", StateRestarting, false},
		{"Stopped is not active", StateStopped, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsActiveState(tt.state)
			if result != tt.expected {
				t.Errorf("IsActiveState(%v) = %v, want %v", tt.state, result, tt.expected)
			}
		})
	}
}

func TestParseRestartPolicy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected RestartPolicy
		wantErr  bool
	}{
		{"empty defaults to unless-stopped", "", RestartUnlessStopped, false},
		{"no", "no", RestartNo, false},
		{"none alias", "none", RestartNo, false},
		{"always", "always", RestartAlways, false},
		{"on-failure", "on-failure", RestartOnFailure, false},
		{"on_failure alias", "on_failure", RestartOnFailure, false},
		{"unless-stopped", "unless-stopped", RestartUnlessStopped, false},
		{"mixed case", "Always", RestartAlways, false},
		{"surrounding whitespace", "  no  ", RestartNo, false},
		{"unknown policy", "sometimes", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseRestartPolicy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRestartPolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if result != tt.expected {
				t.Errorf("ParseRestartPolicy(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseRestartSpec(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPolicy RestartPolicy
		wantMax    int
		wantErr    bool
	}{
		{"bare policy has no cap", "on-failure", RestartOnFailure, 0, false},
		{"on-failure with cap", "on-failure:5", RestartOnFailure, 5, false},
		{"on-failure with cap of one", "on-failure:1", RestartOnFailure, 1, false},
		{"empty defaults to unless-stopped", "", RestartUnlessStopped, 0, false},
		{"cap on always rejected", "always:3", "", 0, true},
		{"cap on unless-stopped rejected", "unless-stopped:3", "", 0, true},
		{"zero cap rejected", "on-failure:0", "", 0, true},
		{"negative cap rejected", "on-failure:-1", "", 0, true},
		{"non-numeric cap rejected", "on-failure:lots", "", 0, true},
		{"unknown policy", "sometimes:3", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, max, err := ParseRestartSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRestartSpec(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if policy != tt.wantPolicy || max != tt.wantMax {
				t.Errorf("ParseRestartSpec(%q) = (%v, %d), want (%v, %d)",
					tt.input, policy, max, tt.wantPolicy, tt.wantMax)
			}
		})
	}
}

func TestShouldRestart(t *testing.T) {
	tests := []struct {
		name          string
		policy        RestartPolicy
		exitCode      int
		stopRequested bool
		expected      bool
	}{
		{"no never restarts", RestartNo, 1, false, false},
		{"always restarts on clean exit", RestartAlways, 0, false, true},
		{"always restarts on failure", RestartAlways, 137, false, true},
		{"on-failure skips clean exit", RestartOnFailure, 0, false, false},
		{"on-failure restarts on nonzero exit", RestartOnFailure, 2, false, true},
		{"on-failure restarts after health kill", RestartOnFailure, -1, false, true},
		{"unless-stopped restarts on clean exit", RestartUnlessStopped, 0, false, true},
		{"unless-stopped restarts after health kill", RestartUnlessStopped, -1, false, true},
		{"operator stop wins over always", RestartAlways, 1, true, false},
		{"operator stop wins over unless-stopped", RestartUnlessStopped, 1, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.policy.ShouldRestart(tt.exitCode, tt.stopRequested)
			if result != tt.expected {
				t.Errorf("%v.ShouldRestart(%d, %v) = %v, want %v",
					tt.policy, tt.exitCode, tt.stopRequested, result, tt.expected)
			}
		})
	}
}

func TestRestartBackoffDelay(t *testing.T) {
	backoff := DefaultRestartBackoff()

	tests := []struct {
		name         string
		restartCount int
		expected     time.Duration
	}{
		{"first restart", 0, 1 * time.Second},
		{"second restart", 1, 2 * time.Second},
		{"third restart", 2, 4 * time.Second},
		{"fourth restart", 3, 8 * time.Second},
		{"seventh restart capped", 6, 60 * time.Second},
		{"many restarts capped", 20, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := backoff.Delay(tt.restartCount)
			if result != tt.expected {
				t.Errorf("Delay(%d) = %v, want %v", tt.restartCount, result, tt.expected)
			}
		})
	}
}

func TestRestartBackoffResetSchedule(t *testing.T) {
	backoff := DefaultRestartBackoff()

	// A service that climbed the schedule and then recovered starts over.
	if d := backoff.Delay(5); d != 32*time.Second {
		t.Fatalf("Delay(5) = %v, want 32s", d)
	}
	if d := backoff.Delay(0); d != 1*time.Second {
		t.Errorf("Delay(0) after reset = %v, want 1s", d)
	}
}
