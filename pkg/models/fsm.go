package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Strict service states for the lifecycle FSM
const (
	StateStarting   ServiceState = "starting"   // Process launched, inside the start period
	StateProbing    ServiceState = "probing"    // Start period over, probe failures count
	StateHealthy    ServiceState = "healthy"    // Most recent probe succeeded
	StateUnhealthy  ServiceState = "unhealthy"  // Failure threshold reached or process exited
	StateRestarting ServiceState = "restarting" // Waiting out restart backoff before relaunch
	StateStopped    ServiceState = "stopped"    // Halted; only an operator start leaves this state
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[ServiceState]map[ServiceState]bool{
	StateStarting: {
		StateProbing:   true, // Starting → Probing (start period elapsed)
		StateUnhealthy: true, // Starting → Unhealthy (process exited during start period)
		StateStopped:   true, // Starting → Stopped (operator stop)
	},
	StateProbing: {
		StateHealthy:   true, // Probing → Healthy (probe succeeded)
		StateUnhealthy: true, // Probing → Unhealthy (failure threshold or process exit)
		StateStopped:   true, // Probing → Stopped (operator stop)
	},
	StateHealthy: {
		StateProbing:   true, // Healthy → Probing (probe failed, threshold not yet reached)
		StateUnhealthy: true, // Healthy → Unhealthy (failure threshold or process exit)
		StateStopped:   true, // Healthy → Stopped (operator stop)
	},
	StateUnhealthy: {
		StateRestarting: true, // Unhealthy → Restarting (policy grants another launch)
		StateStopped:    true, // Unhealthy → Stopped (policy forbids restart, or operator)
	},
	StateRestarting: {
		StateStarting: true, // Restarting → Starting (backoff elapsed, relaunch)
		StateStopped:  true, // Restarting → Stopped (operator stop during backoff)
	},
	StateStopped: {
		StateStarting: true, // Stopped → Starting (operator start)
	},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to ServiceState) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the supervise loop halts in this state.
// Stopped is only left again by an explicit operator start.
func IsTerminalState(state ServiceState) bool {
	return state == StateStopped
}

// IsActiveState returns true while the supervised process is expected to
// be alive (probes may or may not be counting yet).
func IsActiveState(state ServiceState) bool {
	return state == StateStarting || state == StateProbing || state == StateHealthy
}

// RestartPolicy controls whether a service is relaunched after leaving
// the healthy path.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// ParseRestartPolicy normalizes a policy string from configuration.
// The empty string selects unless-stopped.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RestartUnlessStopped, nil
	case "no", "none":
		return RestartNo, nil
	case "always":
		return RestartAlways, nil
	case "on-failure", "on_failure":
		return RestartOnFailure, nil
	case "unless-stopped", "unless_stopped":
		return RestartUnlessStopped, nil
	default:
		return "", fmt.Errorf("unknown restart policy: %q", s)
	}
}

// ParseRestartSpec parses a policy with an optional attempt cap in the
// compose form "on-failure:5". A cap of 0 means unlimited; the cap is
// only meaningful for on-failure.
func ParseRestartSpec(s string) (RestartPolicy, int, error) {
	mode, capStr, found := strings.Cut(strings.TrimSpace(s), ":")

	policy, err := ParseRestartPolicy(mode)
	if err != nil {
		return "", 0, err
	}
	if !found {
		return policy, 0, nil
	}

	if policy != RestartOnFailure {
		return "", 0, fmt.Errorf("restart policy %q does not take an attempt cap", policy)
	}
	max, err := strconv.Atoi(capStr)
	if err != nil || max < 1 {
		return "", 0, fmt.Errorf("invalid restart attempt cap: %q", capStr)
	}
	return policy, max, nil
}

// ShouldRestart reports whether the policy grants another launch.
// An operator stop always wins. exitCode carries the last process exit
// status; -1 means the supervisor killed the process after failed probes,
// which counts as a failure.
func (p RestartPolicy) ShouldRestart(exitCode int, stopRequested bool) bool {
	if stopRequested {
		return false
	}

	switch p {
	case RestartAlways, RestartUnlessStopped:
		return true
	case RestartOnFailure:
		return exitCode != 0
	default:
		return false
	}
}

// RestartBackoff defines the delay schedule between restart attempts
type RestartBackoff struct {
	Initial    time.Duration // Delay before the first relaunch
	Max        time.Duration // Ceiling for the exponential schedule
	Multiplier float64       // Growth factor per consecutive restart
}

// DefaultRestartBackoff returns the stock 1s doubling schedule capped at 60s
func DefaultRestartBackoff() *RestartBackoff {
	return &RestartBackoff{
		Initial:    1 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
	}
}

// Delay calculates the backoff before the next launch for a given count
// of consecutive restarts. The count resets once a service reaches
// healthy, so a recovering service starts the schedule over.
func (rb *RestartBackoff) Delay(restartCount int) time.Duration {
	if restartCount <= 0 {
		return rb.Initial
	}

	// Exponential backoff: initial * (multiplier ^ restartCount)
	backoff := float64(rb.Initial)
	for i := 0; i < restartCount; i++ {
		backoff *= rb.Multiplier
	}

	duration := time.Duration(backoff)
	if duration > rb.Max {
		return rb.Max
	}
	return duration
}
