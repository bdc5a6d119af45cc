package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platewatch/platewatch/internal/cgroups"
	"github.com/platewatch/platewatch/internal/runner"
	"github.com/platewatch/platewatch/pkg/models"
)

// FileConfig is the raw YAML shape of a service definition
type FileConfig struct {
	Service struct {
		Name        string            `yaml:"name"`
		Command     []string          `yaml:"command"`
		Workdir     string            `yaml:"workdir"`
		Environment map[string]string `yaml:"environment"`
	} `yaml:"service"`

	Port int `yaml:"port"`

	Healthcheck struct {
		Interval    string `yaml:"interval"`     // e.g. "30s"
		Timeout     string `yaml:"timeout"`      // e.g. "10s"
		StartPeriod string `yaml:"start_period"` // e.g. "40s"
		Retries     int    `yaml:"retries"`
	} `yaml:"healthcheck"`

	Restart string `yaml:"restart"`

	Resources struct {
		MemoryLimitMB       int `yaml:"memory_limit_mb"`
		MemoryReservationMB int `yaml:"memory_reservation_mb"`
	} `yaml:"resources"`

	Admin struct {
		Listen     string `yaml:"listen"`
		APIKeyHash string `yaml:"api_key_hash"`
	} `yaml:"admin"`

	StopGrace string `yaml:"stop_grace"` // e.g. "10s"
}

// Config is the parsed supervisor configuration
type Config struct {
	Service     runner.Spec
	Port        int
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
	Policy      models.RestartPolicy
	MaxRestarts int // on-failure attempt cap, 0 = unlimited
	Limits      cgroups.Limits
	StopGrace   time.Duration
	AdminListen string
	APIKeyHash  string
}

// LoadConfig loads a service definition from a YAML file. An empty path
// yields the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	var fc FileConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&fc)

	return fc.ToConfig()
}

// applyDefaults fills unset fields. Probe defaults follow the image
// contract (interval 30s, timeout 30s, start period 60s, 3 retries);
// a service file overrides them.
func applyDefaults(fc *FileConfig) {
	if len(fc.Service.Command) == 0 {
		fc.Service.Command = []string{"/usr/local/bin/lprd"}
	}
	if fc.Service.Name == "" {
		fc.Service.Name = filepath.Base(fc.Service.Command[0])
	}
	if fc.Service.Environment == nil {
		fc.Service.Environment = make(map[string]string)
	}

	if fc.Healthcheck.Interval == "" {
		fc.Healthcheck.Interval = "30s"
	}
	if fc.Healthcheck.Timeout == "" {
		fc.Healthcheck.Timeout = "30s"
	}
	if fc.Healthcheck.StartPeriod == "" {
		fc.Healthcheck.StartPeriod = "60s"
	}
	if fc.Healthcheck.Retries == 0 {
		fc.Healthcheck.Retries = 3
	}

	if fc.Resources.MemoryLimitMB == 0 {
		fc.Resources.MemoryLimitMB = 2048
	}
	if fc.Resources.MemoryReservationMB == 0 {
		fc.Resources.MemoryReservationMB = 1024
	}

	if fc.Admin.Listen == "" {
		fc.Admin.Listen = ":9400"
	}
	if fc.StopGrace == "" {
		fc.StopGrace = "10s"
	}
}

// ToConfig parses durations, resolves the port and applies environment
// overrides. Port resolution: explicit config > PORT env > 8000. The
// resolved port is always injected into the child environment so the
// probe target and the bind port agree.
func (fc *FileConfig) ToConfig() (*Config, error) {
	interval, err := time.ParseDuration(fc.Healthcheck.Interval)
	if err != nil {
		return nil, fmt.Errorf("invalid healthcheck interval: %w", err)
	}
	timeout, err := time.ParseDuration(fc.Healthcheck.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid healthcheck timeout: %w", err)
	}
	startPeriod, err := time.ParseDuration(fc.Healthcheck.StartPeriod)
	if err != nil {
		return nil, fmt.Errorf("invalid healthcheck start_period: %w", err)
	}
	stopGrace, err := time.ParseDuration(fc.StopGrace)
	if err != nil {
		return nil, fmt.Errorf("invalid stop_grace: %w", err)
	}

	if fc.Healthcheck.Retries < 1 {
		return nil, fmt.Errorf("healthcheck retries must be >= 1, got %d", fc.Healthcheck.Retries)
	}

	policy, maxRestarts, err := models.ParseRestartSpec(fc.Restart)
	if err != nil {
		return nil, err
	}

	port := fc.Port
	if port == 0 {
		if env := os.Getenv("PORT"); env != "" {
			port, err = strconv.Atoi(env)
			if err != nil {
				return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
			}
		} else {
			port = 8000
		}
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("port out of range: %d", port)
	}

	env := make(map[string]string, len(fc.Service.Environment)+2)
	for k, v := range fc.Service.Environment {
		env[k] = v
	}
	env["PORT"] = strconv.Itoa(port)
	if _, ok := env["MODEL_PATH"]; !ok {
		if mp := os.Getenv("MODEL_PATH"); mp != "" {
			env["MODEL_PATH"] = mp
		} else {
			env["MODEL_PATH"] = "yolov8best.pt"
		}
	}

	apiKeyHash := fc.Admin.APIKeyHash
	if h := os.Getenv("PLATEWATCH_API_KEY_HASH"); h != "" {
		apiKeyHash = h
	}

	return &Config{
		Service: runner.Spec{
			Name:    fc.Service.Name,
			Command: fc.Service.Command,
			Workdir: fc.Service.Workdir,
			Env:     env,
		},
		Port:        port,
		Interval:    interval,
		Timeout:     timeout,
		StartPeriod: startPeriod,
		Retries:     fc.Healthcheck.Retries,
		Policy:      policy,
		MaxRestarts: maxRestarts,
		Limits: cgroups.Limits{
			MemoryMaxBytes: int64(fc.Resources.MemoryLimitMB) * 1024 * 1024,
			MemoryLowBytes: int64(fc.Resources.MemoryReservationMB) * 1024 * 1024,
		},
		StopGrace:   stopGrace,
		AdminListen: fc.Admin.Listen,
		APIKeyHash:  apiKeyHash,
	}, nil
}

// Example configuration as a string
const ExampleConfig = `# platewatchd service definition

service:
  name: lprd
  command: ["/usr/local/bin/lprd"]
  workdir: /app
  environment:
    MODEL_PATH: yolov8best.pt

# Port the service binds and the health probe targets.
# Falls back to the PORT environment variable, then 8000.
port: 8000

healthcheck:
  interval: 30s      # time between probes
  timeout: 10s       # per-probe HTTP timeout
  start_period: 40s  # no probes are issued before this elapses
  retries: 3         # consecutive failures before unhealthy

# no | always | on-failure[:max-attempts] | unless-stopped (default)
restart: unless-stopped

resources:
  memory_limit_mb: 2048       # hard ceiling, enforced via cgroups
  memory_reservation_mb: 1024 # protected from reclaim

admin:
  listen: :9400
  # bcrypt hash gating POST /stop and /start; generate with
  # "platectl keygen". GET endpoints stay open.
  api_key_hash: ""

# SIGTERM-to-SIGKILL grace on stop and restart
stop_grace: 10s
`
