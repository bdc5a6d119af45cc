package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/platewatch/platewatch/internal/supervisor"
	"github.com/platewatch/platewatch/pkg/logging"
	"github.com/platewatch/platewatch/pkg/models"
	"github.com/platewatch/platewatch/pkg/shutdown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		port        int
		interval    time.Duration
		timeout     time.Duration
		startPeriod time.Duration
		retries     int
		restart     string
		adminListen string
		logLevel    string
		logJSON     bool
	)

	root := &cobra.Command{
		Use:   "platewatchd",
		Short: "Health-gated lifecycle supervisor for the plate recognition service",
		Long: `platewatchd launches the license plate recognition service, enforces
its memory ceiling, probes /health on a fixed schedule and restarts the
process per the configured policy. Operators reach it over a small admin
API: status, metrics, stop and start.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := supervisor.LoadConfig(configPath)
			if err != nil {
				return err
			}

			// Flags are the outermost configuration layer: they override
			// the service file, which overrides the built-in defaults.
			flags := cmd.Flags()
			if flags.Changed("port") {
				if port < 1 || port > 65535 {
					return fmt.Errorf("port out of range: %d", port)
				}
				cfg.Port = port
				cfg.Service.Env["PORT"] = strconv.Itoa(port)
			}
			if flags.Changed("interval") {
				cfg.Interval = interval
			}
			if flags.Changed("timeout") {
				cfg.Timeout = timeout
			}
			if flags.Changed("start-period") {
				cfg.StartPeriod = startPeriod
			}
			if flags.Changed("retries") {
				if retries < 1 {
					return fmt.Errorf("retries must be >= 1, got %d", retries)
				}
				cfg.Retries = retries
			}
			if flags.Changed("restart") {
				policy, maxRestarts, err := models.ParseRestartSpec(restart)
				if err != nil {
					return err
				}
				cfg.Policy = policy
				cfg.MaxRestarts = maxRestarts
			}
			if flags.Changed("admin-listen") {
				cfg.AdminListen = adminListen
			}

			return run(cfg, logLevel, logJSON)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "service definition YAML (built-in defaults when empty)")
	root.Flags().IntVar(&port, "port", 0, "service port override (probe target and child PORT)")
	root.Flags().DurationVar(&interval, "interval", 0, "probe interval override")
	root.Flags().DurationVar(&timeout, "timeout", 0, "per-probe timeout override")
	root.Flags().DurationVar(&startPeriod, "start-period", 0, "start period override")
	root.Flags().IntVar(&retries, "retries", 0, "consecutive probe failure threshold override")
	root.Flags().StringVar(&restart, "restart", "", "restart policy override: no, always, on-failure[:max], unless-stopped")
	root.Flags().StringVar(&adminListen, "admin-listen", "", "admin API listen address override")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.Flags().BoolVar(&logJSON, "log-json", false, "log in JSON format")

	root.AddCommand(&cobra.Command{
		Use:   "example-config",
		Short: "Print an annotated example service definition",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(supervisor.ExampleConfig)
		},
	})

	return root
}

func run(cfg *supervisor.Config, logLevel string, logJSON bool) error {
	log, err := logging.NewFileLogger("platewatchd", logging.ParseLevel(logLevel), logJSON)
	if err != nil {
		log = logging.NewLogger(logging.ParseLevel(logLevel), logJSON)
		log.Warn("file logging unavailable, logging to stdout only", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sup := supervisor.New(cfg, log)
	admin := supervisor.NewAdminServer(sup, cfg.APIKeyHash, log)
	adminSrv := admin.Server(cfg.AdminListen)

	go func() {
		log.Info("admin API listening", map[string]interface{}{"addr": cfg.AdminListen})
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A signal cancels the run loop; the supervisor reaps its child
	// before returning, then the admin server is stopped.
	sd := shutdown.New(15 * time.Second)
	sd.Register(shutdown.StopHTTPServer(adminSrv, "admin"))
	go func() {
		sd.Wait()
		cancel()
	}()

	err = sup.Run(ctx)
	sd.Shutdown()
	log.Info("platewatchd stopped")
	return err
}
